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

// Package models defines the data structures shared across the engagement service.
package models

import (
	"sort"
	"time"
)

// MessageType is the CRM channel a message was exchanged on.
type MessageType string

const (
	TypeCall      MessageType = "TYPE_CALL"
	TypeSMS       MessageType = "TYPE_SMS"
	TypeEmail     MessageType = "TYPE_EMAIL"
	TypeFacebook  MessageType = "TYPE_FACEBOOK"
	TypeGMB       MessageType = "TYPE_GMB"
	TypeInstagram MessageType = "TYPE_INSTAGRAM"
	TypeWhatsApp  MessageType = "TYPE_WHATSAPP"
	TypeLiveChat  MessageType = "TYPE_LIVE_CHAT"

	TypeActivityAppointment MessageType = "TYPE_ACTIVITY_APPOINTMENT"
	TypeActivityContact     MessageType = "TYPE_ACTIVITY_CONTACT"
	TypeActivityInvoice     MessageType = "TYPE_ACTIVITY_INVOICE"
	TypeActivityOpportunity MessageType = "TYPE_ACTIVITY_OPPORTUNITY"
	TypeActivityPayment     MessageType = "TYPE_ACTIVITY_PAYMENT"
)

// Direction is inbound (from the lead) or outbound (from the business).
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Status is the delivery status reported by the CRM.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusSent        Status = "sent"
	StatusDelivered   Status = "delivered"
	StatusRead        Status = "read"
	StatusUndelivered Status = "undelivered"
	StatusConnected   Status = "connected"
	StatusFailed      Status = "failed"
	StatusOpened      Status = "opened"
)

// Message is one entry of a CRM conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId,omitempty"`
	ContactID      string      `json:"contactId,omitempty"`
	Direction      Direction   `json:"direction"`
	Status         Status      `json:"status"`
	MessageType    MessageType `json:"messageType"`
	Body           string      `json:"body"`
	ContentType    string      `json:"contentType,omitempty"`
	DateAdded      time.Time   `json:"dateAdded"`
	Attachments    []string    `json:"attachments,omitempty"`
	UserID         string      `json:"userId,omitempty"`
	Source         string      `json:"source,omitempty"`
}

// Role is the speaker of a generation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single entry of the structured history handed to the
// generation backend.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SortByDate orders messages ascending by DateAdded. Messages with equal
// timestamps keep their relative order.
func SortByDate(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].DateAdded.Before(messages[j].DateAdded)
	})
}

// FilterByType returns the messages whose type is one of types, in their
// original order.
func FilterByType(messages []Message, types ...MessageType) []Message {
	allowed := make(map[MessageType]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	var out []Message
	for _, m := range messages {
		if allowed[m.MessageType] {
			out = append(out, m)
		}
	}
	return out
}

// undeliveredStatuses never reached the lead and are left out of the history.
var undeliveredStatuses = map[Status]bool{
	StatusScheduled:   true,
	StatusUndelivered: true,
	StatusFailed:      true,
}

// ToTurns converts messages into generation turns. Outbound messages become
// assistant turns and everything else user turns.
func ToTurns(messages []Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		if undeliveredStatuses[m.Status] {
			continue
		}
		role := RoleUser
		if m.Direction == Outbound {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Body})
	}
	return turns
}
