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

package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/avasales/engage/internal/models"
)

var _ Client = (*LeadConnector)(nil)

// --- Fakes ---

type staticCreds struct {
	mu        sync.Mutex
	token     string
	refreshed int
}

func (s *staticCreds) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *staticCreds) Refresh(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshed++
	s.token = "refreshed"
	return s.token, nil
}

type memTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	saves  int
}

func (m *memTokenStore) Load(_ context.Context, locationID string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokens[locationID], nil
}

func (m *memTokenStore) Save(_ context.Context, locationID string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[locationID] = tok
	m.saves++
	return nil
}

func newTestClient(t *testing.T, handler http.Handler) (*LeadConnector, *staticCreds) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	creds := &staticCreds{token: "initial"}
	return NewLeadConnector(LeadConnectorConfig{
		BaseURL:     server.URL,
		LocationID:  "loc-1",
		Credentials: creds,
		HTTPClient:  server.Client(),
	}), creds
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// --- Tests ---

// TestDo_RefreshesOnceOn401 verifies a single refresh and retry after an
// authorization failure, with the retried request carrying the new token.
func TestDo_RefreshesOnceOn401(t *testing.T) {
	var calls int
	client, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Version") != apiVersion {
			t.Errorf("Version header = %q", r.Header.Get("Version"))
		}
		if r.Header.Get("Authorization") != "Bearer refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"contact": map[string]any{"id": "c-1", "tags": []string{"sunny"}}})
	}))

	contact, err := client.GetContact(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.ID != "c-1" || !contact.HasTag("sunny") {
		t.Errorf("unexpected contact: %+v", contact)
	}
	if calls != 2 {
		t.Errorf("expected 2 requests, got %d", calls)
	}
	if creds.refreshed != 1 {
		t.Errorf("expected 1 refresh, got %d", creds.refreshed)
	}
}

// TestDo_PersistentUnauthorizedIsCrmError verifies that a second 401 is
// surfaced instead of looping.
func TestDo_PersistentUnauthorizedIsCrmError(t *testing.T) {
	var calls int
	client, creds := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"Invalid JWT"}`))
	}))

	_, err := client.GetContact(context.Background(), "c-1")

	var crmErr *Error
	if !errors.As(err, &crmErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if crmErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", crmErr.StatusCode)
	}
	if calls != 2 || creds.refreshed != 1 {
		t.Errorf("calls = %d, refreshes = %d; want 2, 1", calls, creds.refreshed)
	}
}

// TestAuthenticator_RefreshPersistsToken runs the real oauth2 refresh flow
// against a fake token endpoint.
func TestAuthenticator_RefreshPersistsToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "rt-1" {
			t.Errorf("unexpected token request: %v", r.Form)
		}
		if r.Form.Get("client_id") != "client" {
			t.Errorf("client_id not sent in params: %v", r.Form)
		}
		writeJSON(w, map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"token_type":    "Bearer",
			"expires_in":    86399,
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store := &memTokenStore{tokens: map[string]*oauth2.Token{
		"loc-1": {AccessToken: "at-1", RefreshToken: "rt-1", Expiry: time.Now().Add(time.Hour)},
	}}
	auth := NewAuthenticator(OAuthConfig(server.URL, "client", "secret", "", nil), store, "loc-1")

	tok, err := auth.Token(context.Background())
	if err != nil || tok != "at-1" {
		t.Fatalf("Token() = %q, %v; want stored token", tok, err)
	}

	tok, err = auth.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if tok != "at-2" {
		t.Errorf("refreshed token = %q, want at-2", tok)
	}
	if store.saves != 1 || store.tokens["loc-1"].RefreshToken != "rt-2" {
		t.Errorf("refreshed token not persisted: saves=%d", store.saves)
	}
}

func TestAuthenticator_NoStoredToken(t *testing.T) {
	store := &memTokenStore{tokens: map[string]*oauth2.Token{}}
	auth := NewAuthenticator(OAuthConfig("http://unused", "c", "s", "", nil), store, "loc-x")

	_, err := auth.Token(context.Background())
	if !errors.Is(err, ErrNoCredentials) {
		t.Errorf("expected ErrNoCredentials, got %v", err)
	}
}

// TestGetOrCreateConversation covers the zero, one and many cases.
func TestGetOrCreateConversation(t *testing.T) {
	tests := []struct {
		name        string
		found       []string
		wantID      string
		wantCreated bool
	}{
		{name: "none creates", found: nil, wantID: "new-conv", wantCreated: true},
		{name: "single", found: []string{"conv-1"}, wantID: "conv-1"},
		{name: "multiple uses first", found: []string{"conv-1", "conv-2"}, wantID: "conv-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := false
			mux := http.NewServeMux()
			mux.HandleFunc("GET /conversations/search", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("contactId") != "c-1" || r.URL.Query().Get("locationId") != "loc-1" {
					t.Errorf("unexpected query: %s", r.URL.RawQuery)
				}
				convs := []map[string]string{}
				for _, id := range tt.found {
					convs = append(convs, map[string]string{"id": id})
				}
				writeJSON(w, map[string]any{"conversations": convs})
			})
			mux.HandleFunc("POST /conversations/", func(w http.ResponseWriter, r *http.Request) {
				created = true
				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["contactId"] != "c-1" || body["locationId"] != "loc-1" {
					t.Errorf("unexpected create body: %v", body)
				}
				writeJSON(w, map[string]any{"conversation": map[string]string{"id": "new-conv"}})
			})

			client, _ := newTestClient(t, mux)
			id, err := client.GetOrCreateConversation(context.Background(), "c-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID {
				t.Errorf("id = %q, want %q", id, tt.wantID)
			}
			if created != tt.wantCreated {
				t.Errorf("created = %v, want %v", created, tt.wantCreated)
			}
		})
	}
}

func TestFindConversation_NoneDoesNotCreate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversations/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"conversations": []any{}})
	})
	mux.HandleFunc("POST /conversations/", func(w http.ResponseWriter, r *http.Request) {
		t.Error("FindConversation must not create a conversation")
	})

	client, _ := newTestClient(t, mux)
	id, err := client.FindConversation(context.Background(), "c-1")
	if err != nil || id != "" {
		t.Errorf("FindConversation() = %q, %v; want empty id", id, err)
	}
}

// TestFindContactByEmail_ExactMatchOnly verifies that fuzzy search hits
// with a different address are skipped.
func TestFindContactByEmail_ExactMatchOnly(t *testing.T) {
	tests := []struct {
		name     string
		contacts []map[string]string
		wantID   string
	}{
		{
			name: "first hit is a longer address",
			contacts: []map[string]string{
				{"id": "lead-9", "email": "rob@acme.com.au"},
				{"id": "op-1", "email": "Rob@Acme.com"},
			},
			wantID: "op-1",
		},
		{
			name:     "no exact match",
			contacts: []map[string]string{{"id": "lead-9", "email": "rob@acme.com.au"}},
		},
		{
			name: "none found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/contacts/" || r.URL.Query().Get("query") != "rob@acme.com" {
					t.Errorf("unexpected request: %s?%s", r.URL.Path, r.URL.RawQuery)
				}
				contacts := tt.contacts
				if contacts == nil {
					contacts = []map[string]string{}
				}
				writeJSON(w, map[string]any{"contacts": contacts})
			}))

			contact, err := client.FindContactByEmail(context.Background(), "rob@acme.com")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			switch {
			case tt.wantID == "" && contact != nil:
				t.Errorf("expected no contact, got %s (%s)", contact.ID, contact.Email)
			case tt.wantID != "" && (contact == nil || contact.ID != tt.wantID):
				t.Errorf("expected contact %s, got %+v", tt.wantID, contact)
			}
		})
	}
}

// TestListMessages_SortedAndNextPageTolerated verifies ascending order and
// that a further page is not an error.
func TestListMessages_SortedAndNextPageTolerated(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/conversations/conv-1/messages" || r.URL.Query().Get("limit") != "50" {
			t.Errorf("unexpected request: %s", r.URL)
		}
		writeJSON(w, map[string]any{
			"messages": map[string]any{
				"nextPage": true,
				"messages": []map[string]any{
					{"id": "m2", "direction": "outbound", "messageType": "TYPE_SMS", "body": "second", "dateAdded": "2024-07-28T13:31:00.000Z"},
					{"id": "m1", "direction": "inbound", "messageType": "TYPE_SMS", "body": "first", "dateAdded": "2024-07-28T13:30:00.000Z"},
				},
			},
		})
	}))

	msgs, err := client.ListMessages(context.Background(), "conv-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages not sorted ascending: %+v", msgs)
	}
	if msgs[0].MessageType != models.TypeSMS || msgs[1].Direction != models.Outbound {
		t.Errorf("fields not decoded: %+v", msgs)
	}
}

// TestSendMessage_ChannelValidation verifies invalid and custom channels
// are rejected without any request.
func TestSendMessage_ChannelValidation(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		body, _ := io.ReadAll(r.Body)
		var req map[string]string
		json.Unmarshal(body, &req)
		if req["type"] != "SMS" || req["message"] != "hi" || req["contactId"] != "c-1" {
			t.Errorf("unexpected send body: %s", body)
		}
		writeJSON(w, map[string]string{"messageId": "m-9"})
	}))
	ctx := context.Background()

	if err := client.SendMessage(ctx, "c-1", "hi", models.Channel("Call")); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
	if err := client.SendMessage(ctx, "c-1", "hi", models.ChannelCustom); !errors.Is(err, models.ErrUnsupportedChannel) {
		t.Errorf("expected ErrUnsupportedChannel, got %v", err)
	}
	if err := client.SendMessage(ctx, "c-1", "  ", models.ChannelSMS); err == nil {
		t.Error("expected error for empty body")
	}
	if calls != 0 {
		t.Fatalf("rejected sends must not reach the CRM, got %d calls", calls)
	}

	if err := client.SendMessage(ctx, "c-1", "hi", models.ChannelSMS); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

// TestAddTag_Idempotent verifies no request is made for a present tag.
func TestAddTag_Idempotent(t *testing.T) {
	var calls int
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method != http.MethodPost || r.URL.Path != "/contacts/c-1/tags" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		writeJSON(w, map[string]any{"tags": []string{"sunny", "ava-interacted"}})
	}))

	contact := &models.Contact{ID: "c-1", Tags: []string{"sunny"}}
	ctx := context.Background()

	if err := client.AddTag(ctx, contact, "sunny"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 0 {
		t.Fatalf("present tag must not trigger a request, got %d", calls)
	}

	if err := client.AddTag(ctx, contact, "AVA-Interacted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := client.AddTag(ctx, contact, "AVA-Interacted"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected exactly 1 request, got %d", calls)
	}
}

func TestFieldMap(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/locations/loc-1/customFields" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeJSON(w, map[string]any{"customFields": []map[string]string{
			{"id": "f-1", "name": "Number of interactions", "fieldKey": "contact.number_of_interactions"},
			{"id": "f-2", "name": "Lead state", "fieldKey": "contact.lead_state"},
		}})
	}))

	fields, err := client.FieldMap(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, err := fields.ID("contact.lead_state")
	if err != nil || id != "f-2" {
		t.Errorf("ID() = %q, %v", id, err)
	}
	if _, err := fields.ID("contact.unknown"); !errors.Is(err, ErrFieldNotFound) {
		t.Errorf("expected ErrFieldNotFound, got %v", err)
	}

	contact := &models.Contact{CustomFields: []models.CustomFieldValue{{ID: "f-1", Value: float64(7)}}}
	if v := fields.Value(contact, "contact.number_of_interactions"); v != "7" {
		t.Errorf("Value() = %q, want 7", v)
	}
}

func TestDo_ServerErrorIsCrmError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	}))

	err := client.DeleteConversation(context.Background(), "conv-1")
	var crmErr *Error
	if !errors.As(err, &crmErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if crmErr.StatusCode != http.StatusBadGateway || crmErr.Body != "upstream down" {
		t.Errorf("unexpected error fields: %+v", crmErr)
	}
}
