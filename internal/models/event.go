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

package models

import "time"

// Webhook event types delivered by the CRM.
const (
	EventInboundMessage   = "InboundMessage"
	EventOutboundMessage  = "OutboundMessage"
	EventContactTagUpdate = "ContactTagUpdate"
)

// Event is a normalized CRM webhook event. MessageType carries the
// webhook's short channel name ("SMS", "Email"), not the TYPE_* enum
// used by the conversations API.
type Event struct {
	Type           string    `json:"type"`
	LocationID     string    `json:"locationId"`
	ContactID      string    `json:"contactId"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageID      string    `json:"messageId,omitempty"`
	Body           string    `json:"body,omitempty"`
	MessageType    string    `json:"messageType,omitempty"`
	Direction      Direction `json:"direction,omitempty"`
	UserID         string    `json:"userId,omitempty"`
	DateAdded      time.Time `json:"dateAdded,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}
