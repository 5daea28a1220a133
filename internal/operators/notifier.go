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

package operators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/avasales/engage/internal/models"
)

// Sender sends a message to a contact.
type Sender interface {
	SendMessage(ctx context.Context, contactID, body string, channel models.Channel) error
}

// Notifier sends escalation messages by SMS to every operator.
type Notifier struct {
	sender     Sender
	contactIDs []string
	location   string
}

// NewNotifier creates a notifier for the given operator contacts.
func NewNotifier(sender Sender, location string, contactIDs []string) *Notifier {
	return &Notifier{sender: sender, contactIDs: contactIDs, location: location}
}

// Notify sends message to each operator. A failed send is logged and the
// rest still go out; an error is returned only when no operator could be
// reached.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if len(n.contactIDs) == 0 {
		slog.Warn("escalation with no operators configured",
			"location", n.location,
			"message", message,
		)
		return nil
	}

	var errs []error
	for _, id := range n.contactIDs {
		if err := n.sender.SendMessage(ctx, id, message, models.ChannelSMS); err != nil {
			slog.Error("failed to notify operator",
				"location", n.location,
				"contact_id", id,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		slog.Info("operator notified", "location", n.location, "contact_id", id)
	}

	if len(errs) == len(n.contactIDs) {
		return fmt.Errorf("notify %d operators: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
