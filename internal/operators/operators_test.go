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
	"strings"
	"sync"
	"testing"

	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/models"
)

// --- Mocks ---

type mockDirectory struct {
	mu        sync.Mutex
	contacts  map[string]*models.Contact // by lower-case e-mail
	users     []crm.User
	usersErr  error
	lookups   []string
	listCalls int
}

func (m *mockDirectory) FindContactByEmail(_ context.Context, email string) (*models.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups = append(m.lookups, email)
	if email == "broken@example.com" {
		return nil, errors.New("HTTP 500")
	}
	return m.contacts[strings.ToLower(email)], nil
}

func (m *mockDirectory) ListUsers(_ context.Context) ([]crm.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	return m.users, m.usersErr
}

func newDirectory() *mockDirectory {
	return &mockDirectory{
		contacts: map[string]*models.Contact{
			"alice@example.com": {ID: "c-alice", FirstName: "Alice"},
			"bob@example.com":   {ID: "c-bob", FirstName: "Bob"},
			"carol@example.com": {ID: "c-carol", FirstName: "Carol"},
		},
		users: []crm.User{
			{ID: "u1", Name: "Alice Admin", Email: "alice@example.com"},
			{ID: "u2", Name: "Bob Sales", Email: "Bob@Example.com"},
			{ID: "u3", Name: "No Mail"},
			{ID: "u4", Name: "Ghost", Email: "ghost@example.com"},
		},
	}
}

type mockSender struct {
	mu   sync.Mutex
	sent map[string]string
	fail map[string]bool
}

func (m *mockSender) SendMessage(_ context.Context, contactID, body string, channel models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if channel != models.ChannelSMS {
		return errors.New("unexpected channel")
	}
	if m.fail[contactID] {
		return errors.New("send failed")
	}
	if m.sent == nil {
		m.sent = make(map[string]string)
	}
	m.sent[contactID] = body
	return nil
}

// --- Resolve ---

// TestResolve_ExplicitContactIDs verifies that explicit IDs are used as-is
// without touching the CRM.
func TestResolve_ExplicitContactIDs(t *testing.T) {
	dir := newDirectory()

	ops, err := Resolve(context.Background(), dir, "loc-1", Config{
		ContactIDs: []string{"c-1", "c-2", "c-1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := ContactIDs(ops); len(got) != 2 || got[0] != "c-1" || got[1] != "c-2" {
		t.Errorf("unexpected operators: %v", got)
	}
	if dir.listCalls != 0 || len(dir.lookups) != 0 {
		t.Error("CRM should NOT be queried for explicit contact IDs")
	}
}

func TestResolve_ExplicitEmails(t *testing.T) {
	dir := newDirectory()

	ops, err := Resolve(context.Background(), dir, "loc-1", Config{
		Emails:  []string{"alice@example.com", "missing@example.com", "broken@example.com", "carol@example.com"},
		Exclude: []string{"CAROL@example.com"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ops) != 1 || ops[0].ContactID != "c-alice" || ops[0].Name != "Alice" {
		t.Errorf("unexpected operators: %+v", ops)
	}
	if dir.listCalls != 0 {
		t.Error("users should not be listed in explicit mode")
	}
}

func TestResolve_AutoDiscover(t *testing.T) {
	dir := newDirectory()

	ops, err := Resolve(context.Background(), dir, "loc-1", Config{
		AutoDiscover: true,
		Exclude:      []string{"c-alice"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// alice excluded by contact ID, u3 has no e-mail, ghost has no contact
	if len(ops) != 1 || ops[0].ContactID != "c-bob" {
		t.Fatalf("unexpected operators: %+v", ops)
	}
	if ops[0].Name != "Bob Sales" {
		t.Errorf("user name should win over contact name, got %q", ops[0].Name)
	}
}

func TestResolve_AutoDiscoverError(t *testing.T) {
	dir := newDirectory()
	dir.usersErr = &crm.Error{Op: "list users", StatusCode: 403}

	if _, err := Resolve(context.Background(), dir, "loc-1", Config{AutoDiscover: true}); err == nil {
		t.Fatal("expected error when users cannot be listed")
	}
}

func TestResolve_NothingConfigured(t *testing.T) {
	dir := newDirectory()

	ops, err := Resolve(context.Background(), dir, "loc-1", Config{})
	if err != nil || len(ops) != 0 {
		t.Errorf("Resolve() = %v, %v; want no operators", ops, err)
	}
	if dir.listCalls != 0 {
		t.Error("users should not be listed without auto-discovery")
	}
}

// --- Notifier ---

func TestNotify_SkipsFailedOperators(t *testing.T) {
	sender := &mockSender{fail: map[string]bool{"op-2": true}}
	n := NewNotifier(sender, "loc-1", []string{"op-1", "op-2", "op-3"})

	if err := n.Notify(context.Background(), "lead needs attention"); err != nil {
		t.Fatalf("partial failure should not be an error: %v", err)
	}
	if len(sender.sent) != 2 || sender.sent["op-3"] != "lead needs attention" {
		t.Errorf("unexpected sends: %v", sender.sent)
	}
}

func TestNotify_AllFailed(t *testing.T) {
	sender := &mockSender{fail: map[string]bool{"op-1": true, "op-2": true}}
	n := NewNotifier(sender, "loc-1", []string{"op-1", "op-2"})

	if err := n.Notify(context.Background(), "msg"); err == nil {
		t.Fatal("expected error when every operator fails")
	}
}

func TestNotify_NoOperators(t *testing.T) {
	n := NewNotifier(&mockSender{}, "loc-1", nil)
	if err := n.Notify(context.Background(), "msg"); err != nil {
		t.Errorf("no operators should only log, got %v", err)
	}
}
