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

import (
	"errors"
	"testing"
	"time"
)

func msg(id string, typ MessageType, dir Direction, minute int) Message {
	return Message{
		ID:          id,
		MessageType: typ,
		Direction:   dir,
		Status:      StatusDelivered,
		Body:        "body " + id,
		DateAdded:   time.Date(2024, 7, 28, 13, minute, 0, 0, time.UTC),
	}
}

// TestFilterByType_SubsequenceSorted verifies that filtering a sorted
// history keeps only the requested type, in ascending order.
func TestFilterByType_SubsequenceSorted(t *testing.T) {
	messages := []Message{
		msg("4", TypeSMS, Inbound, 40),
		msg("1", TypeSMS, Inbound, 10),
		msg("3", TypeEmail, Inbound, 30),
		msg("2", TypeSMS, Outbound, 20),
		msg("5", TypeCall, Inbound, 50),
	}

	SortByDate(messages)
	got := FilterByType(messages, TypeSMS)

	if len(got) != 3 {
		t.Fatalf("expected 3 SMS messages, got %d", len(got))
	}
	wantIDs := []string{"1", "2", "4"}
	for i, m := range got {
		if m.ID != wantIDs[i] {
			t.Errorf("got[%d].ID = %q, want %q", i, m.ID, wantIDs[i])
		}
		if m.MessageType != TypeSMS {
			t.Errorf("got[%d] has type %s", i, m.MessageType)
		}
		if i > 0 && got[i-1].DateAdded.After(m.DateAdded) {
			t.Errorf("result not sorted at index %d", i)
		}
	}
}

// TestFilterByType_NoMatch verifies an empty result for absent types.
func TestFilterByType_NoMatch(t *testing.T) {
	got := FilterByType([]Message{msg("1", TypeSMS, Inbound, 1)}, TypeWhatsApp)
	if len(got) != 0 {
		t.Errorf("expected no messages, got %d", len(got))
	}
}

// TestToTurns_DropsUndelivered verifies role mapping and that messages
// which never reached the lead are left out.
func TestToTurns_DropsUndelivered(t *testing.T) {
	failed := msg("3", TypeSMS, Outbound, 3)
	failed.Status = StatusFailed
	scheduled := msg("4", TypeSMS, Outbound, 4)
	scheduled.Status = StatusScheduled

	turns := ToTurns([]Message{
		msg("1", TypeSMS, Inbound, 1),
		msg("2", TypeSMS, Outbound, 2),
		failed,
		scheduled,
	})

	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("roles = %s, %s; want user, assistant", turns[0].Role, turns[1].Role)
	}
	if turns[1].Content != "body 2" {
		t.Errorf("content = %q", turns[1].Content)
	}
}

// TestChannelFor covers the closed channel mapping.
func TestChannelFor(t *testing.T) {
	tests := []struct {
		typ     MessageType
		want    Channel
		wantErr bool
	}{
		{TypeSMS, ChannelSMS, false},
		{TypeFacebook, ChannelFacebook, false},
		{TypeGMB, ChannelGMB, false},
		{TypeInstagram, ChannelInstagram, false},
		{TypeWhatsApp, ChannelWhatsApp, false},
		{TypeLiveChat, ChannelLiveChat, false},
		{TypeCall, "", true},
		{TypeEmail, "", true},
		{TypeActivityAppointment, "", true},
		{MessageType("TYPE_SOMETHING_NEW"), "", true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := ChannelFor(tt.typ)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedChannel) {
					t.Errorf("expected ErrUnsupportedChannel, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ChannelFor(%s) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestChannelSendable(t *testing.T) {
	if ChannelCustom.Sendable() {
		t.Error("custom channel must not be sendable")
	}
	if !ChannelSMS.Sendable() {
		t.Error("SMS must be sendable")
	}
	if Channel("Call").Sendable() {
		t.Error("unknown channel must not be sendable")
	}
}
