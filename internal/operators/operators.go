// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package operators resolves the human operators who receive escalations
// and notifies them by SMS.
//
// Operators are CRM contacts. They can be listed explicitly by contact ID,
// looked up by e-mail, or auto-discovered from the location's users. In
// every mode the exclude list is applied last.
package operators

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/models"
)

// Operator is a contact that receives escalation messages.
type Operator struct {
	ContactID string
	Name      string
	Email     string
}

// Config selects the operators for a location.
type Config struct {
	ContactIDs   []string
	Emails       []string
	Exclude      []string
	AutoDiscover bool
}

// Directory is the part of the CRM client used for resolution.
type Directory interface {
	FindContactByEmail(ctx context.Context, email string) (*models.Contact, error)
	ListUsers(ctx context.Context) ([]crm.User, error)
}

// Resolve returns the operators for a location.
//
// Hybrid strategy:
//   - If contact IDs or e-mails are configured, only those are used.
//   - Otherwise, when AutoDiscover is set, every location user with an
//     e-mail is matched to a contact.
//   - Exclusions match contact IDs or e-mails, case-insensitively.
func Resolve(ctx context.Context, dir Directory, locationID string, cfg Config) ([]Operator, error) {
	excludeSet := make(map[string]bool, len(cfg.Exclude))
	for _, e := range cfg.Exclude {
		excludeSet[strings.ToLower(strings.TrimSpace(e))] = true
	}

	var ops []Operator
	seen := make(map[string]bool)
	add := func(op Operator) {
		if op.ContactID == "" || seen[op.ContactID] {
			return
		}
		if excludeSet[strings.ToLower(op.ContactID)] || (op.Email != "" && excludeSet[strings.ToLower(op.Email)]) {
			slog.Debug("excluding operator", "contact_id", op.ContactID, "location", locationID)
			return
		}
		seen[op.ContactID] = true
		ops = append(ops, op)
	}

	if len(cfg.ContactIDs) > 0 || len(cfg.Emails) > 0 {
		slog.Info("using explicit operator list",
			"location", locationID,
			"contact_ids", len(cfg.ContactIDs),
			"emails", len(cfg.Emails),
		)
		for _, id := range cfg.ContactIDs {
			add(Operator{ContactID: strings.TrimSpace(id)})
		}
		for _, email := range cfg.Emails {
			if excludeSet[strings.ToLower(email)] {
				continue
			}
			if op, ok := lookup(ctx, dir, locationID, email, ""); ok {
				add(op)
			}
		}
		return ops, nil
	}

	if !cfg.AutoDiscover {
		slog.Warn("no operators configured, escalations will only be logged", "location", locationID)
		return nil, nil
	}

	slog.Info("auto-discovering operators", "location", locationID)

	users, err := dir.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list location users: %w", err)
	}
	for _, u := range users {
		// Users without an e-mail cannot be matched to a contact
		if u.Email == "" {
			continue
		}
		if excludeSet[strings.ToLower(u.Email)] {
			slog.Debug("excluding user", "email", u.Email, "location", locationID)
			continue
		}
		if op, ok := lookup(ctx, dir, locationID, u.Email, u.Name); ok {
			add(op)
		}
	}

	slog.Info("operator discovery complete",
		"location", locationID,
		"users", len(users),
		"operators", len(ops),
	)
	return ops, nil
}

func lookup(ctx context.Context, dir Directory, locationID, email, name string) (Operator, bool) {
	contact, err := dir.FindContactByEmail(ctx, email)
	if err != nil {
		slog.Warn("operator lookup failed",
			"location", locationID,
			"email", email,
			"error", err,
		)
		return Operator{}, false
	}
	if contact == nil {
		slog.Warn("no contact for operator e-mail", "location", locationID, "email", email)
		return Operator{}, false
	}
	if name == "" {
		name = contact.DisplayName()
	}
	return Operator{ContactID: contact.ID, Name: name, Email: email}, true
}

// ContactIDs returns the contact IDs of ops.
func ContactIDs(ops []Operator) []string {
	ids := make([]string, len(ops))
	for i, op := range ops {
		ids[i] = op.ContactID
	}
	return ids
}
