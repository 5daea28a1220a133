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

// Package gate decides whether a contact may be engaged automatically.
//
// A contact is eligible when it carries the permission tag, no human agent
// has taken the conversation over, and its interaction counter is below the
// configured ceiling. The first time a contact hits the ceiling the
// operators are notified and the ceiling tag is set, so later events for
// the same contact are blocked silently.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/models"
)

// Reasons reported in a Decision.
const (
	ReasonEligible        = "eligible"
	ReasonNoPermission    = "no_permission"
	ReasonAgentEngaged    = "agent_engaged"
	ReasonCeilingReached  = "ceiling_reached"
	ReasonCeilingNotified = "ceiling_notified"
)

// Tagger adds tags to contacts.
type Tagger interface {
	AddTag(ctx context.Context, contact *models.Contact, tag string) error
}

// Notifier delivers an escalation message to the human operators.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Config holds the tag names and limits the gate enforces.
type Config struct {
	PermissionTag    string
	AgentEngagedTag  string
	CeilingTag       string
	MaxInteractions  int
	InteractionField string

	// BlockOnAgentEngaged stops automated replies once a human has sent
	// an outbound message to the contact.
	BlockOnAgentEngaged bool
}

// Decision is the outcome of an eligibility check.
type Decision struct {
	Eligible     bool
	Reason       string
	Interactions int
}

// Gate is the eligibility and rate gate.
type Gate struct {
	cfg      Config
	tagger   Tagger
	notifier Notifier
}

// New creates a gate.
func New(cfg Config, tagger Tagger, notifier Notifier) *Gate {
	return &Gate{cfg: cfg, tagger: tagger, notifier: notifier}
}

// Check evaluates the contact. An ineligible contact is not an error; the
// error return is reserved for failures reading or escalating.
func (g *Gate) Check(ctx context.Context, contact *models.Contact, fields crm.FieldMap) (Decision, error) {
	if !contact.HasTag(g.cfg.PermissionTag) {
		slog.Debug("contact lacks permission tag",
			"contact_id", contact.ID,
			"tag", g.cfg.PermissionTag,
		)
		return Decision{Reason: ReasonNoPermission}, nil
	}

	if g.cfg.AgentEngagedTag != "" && contact.HasTag(g.cfg.AgentEngagedTag) {
		slog.Info("human agent engaged with contact",
			"contact_id", contact.ID,
			"blocking", g.cfg.BlockOnAgentEngaged,
		)
		if g.cfg.BlockOnAgentEngaged {
			return Decision{Reason: ReasonAgentEngaged}, nil
		}
	}

	if _, err := fields.ID(g.cfg.InteractionField); err != nil {
		return Decision{}, fmt.Errorf("check interaction ceiling: %w", err)
	}
	count := InteractionCount(contact, fields, g.cfg.InteractionField)

	if count < g.cfg.MaxInteractions {
		return Decision{Eligible: true, Reason: ReasonEligible, Interactions: count}, nil
	}

	if contact.HasTag(g.cfg.CeilingTag) {
		slog.Debug("interaction ceiling already escalated",
			"contact_id", contact.ID,
			"interactions", count,
		)
		return Decision{Reason: ReasonCeilingReached, Interactions: count}, nil
	}

	slog.Info("interaction ceiling reached, escalating",
		"contact_id", contact.ID,
		"interactions", count,
		"max", g.cfg.MaxInteractions,
	)

	msg := fmt.Sprintf("Lead %s (%s) has reached the maximum of %d automated interactions. Please follow up manually.",
		contact.DisplayName(), contact.ID, g.cfg.MaxInteractions)
	if err := g.notifier.Notify(ctx, msg); err != nil {
		// Leave the tag unset so the next event retries the escalation.
		return Decision{Reason: ReasonCeilingReached, Interactions: count}, fmt.Errorf("notify operators: %w", err)
	}
	if err := g.tagger.AddTag(ctx, contact, g.cfg.CeilingTag); err != nil {
		return Decision{Reason: ReasonCeilingNotified, Interactions: count}, fmt.Errorf("set ceiling tag: %w", err)
	}

	return Decision{Reason: ReasonCeilingNotified, Interactions: count}, nil
}

// InteractionCount reads the interaction counter. Unset or unparseable
// values count as zero.
func InteractionCount(contact *models.Contact, fields crm.FieldMap, key string) int {
	raw := strings.TrimSpace(fields.Value(contact, key))
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil && f >= 0 {
		return int(f)
	}
	slog.Warn("unparseable interaction counter, treating as 0",
		"contact_id", contact.ID,
		"value", raw,
	)
	return 0
}
