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

package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avasales/engage/internal/models"
)

// Locker serialises work on one contact across processes.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// Router dispatches queued webhook events to the orchestrator of their
// location.
type Router struct {
	sessions map[string]*Orchestrator
	locker   Locker
}

// NewRouter creates a router over the given sessions. locker may be nil.
func NewRouter(locker Locker, sessions ...*Orchestrator) *Router {
	m := make(map[string]*Orchestrator, len(sessions))
	for _, s := range sessions {
		m[s.LocationID()] = s
	}
	return &Router{sessions: m, locker: locker}
}

// Session returns the orchestrator for a location.
func (r *Router) Session(locationID string) (*Orchestrator, bool) {
	s, ok := r.sessions[locationID]
	return s, ok
}

// Handle processes one event. Only inbound messages drive the
// orchestrator; a human-sent outbound SMS marks the contact as taken over.
func (r *Router) Handle(ctx context.Context, ev models.Event) error {
	session, ok := r.sessions[ev.LocationID]
	if !ok {
		slog.Warn("no session for location, dropping event",
			"location", ev.LocationID,
			"type", ev.Type,
			"contact_id", ev.ContactID,
		)
		return nil
	}

	switch ev.Type {
	case models.EventInboundMessage:
		return r.withContactLock(ctx, ev, func() error {
			res := session.HandleInbound(ctx, ev)
			slog.Info("inbound event processed",
				"location", ev.LocationID,
				"contact_id", ev.ContactID,
				"message_id", ev.MessageID,
				"outcome", res.Outcome,
				"reason", res.Reason,
			)
			return res.Err
		})

	case models.EventOutboundMessage:
		if !isSMS(ev.MessageType) || ev.UserID == "" {
			slog.Debug("ignoring outbound event",
				"contact_id", ev.ContactID,
				"message_type", ev.MessageType,
			)
			return nil
		}
		return r.withContactLock(ctx, ev, func() error {
			return session.MarkAgentEngaged(ctx, ev)
		})

	default:
		slog.Info("ignoring event", "type", ev.Type, "contact_id", ev.ContactID)
		return nil
	}
}

func (r *Router) withContactLock(ctx context.Context, ev models.Event, fn func() error) error {
	if r.locker == nil {
		return fn()
	}
	release, err := r.locker.Acquire(ctx, ev.LocationID+":"+ev.ContactID)
	if err != nil {
		return fmt.Errorf("lock contact %s: %w", ev.ContactID, err)
	}
	defer release()
	return fn()
}

// isSMS accepts both the webhook's short name and the conversations API
// enum.
func isSMS(messageType string) bool {
	return strings.EqualFold(messageType, "SMS") || messageType == string(models.TypeSMS)
}
