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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avasales/engage/internal/models"
)

const (
	// DefaultBaseURL is the LeadConnector API root.
	DefaultBaseURL = "https://services.leadconnectorhq.com"

	// DefaultMessageLimit is the page size used when listing messages.
	DefaultMessageLimit = 50

	apiVersion = "2021-04-15"
)

// Credentials supplies bearer tokens for CRM requests.
type Credentials interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// LeadConnector is a Client for one LeadConnector location.
type LeadConnector struct {
	baseURL    string
	locationID string
	creds      Credentials
	httpClient *http.Client
}

// LeadConnectorConfig holds dependencies for the LeadConnector client.
type LeadConnectorConfig struct {
	BaseURL     string
	LocationID  string
	Credentials Credentials
	HTTPClient  *http.Client
}

// NewLeadConnector creates a client scoped to a single location.
func NewLeadConnector(cfg LeadConnectorConfig) *LeadConnector {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &LeadConnector{
		baseURL:    baseURL,
		locationID: cfg.LocationID,
		creds:      cfg.Credentials,
		httpClient: httpClient,
	}
}

// LocationID returns the location this client is scoped to.
func (c *LeadConnector) LocationID() string { return c.locationID }

// GetContact fetches a contact record.
func (c *LeadConnector) GetContact(ctx context.Context, contactID string) (*models.Contact, error) {
	if contactID == "" {
		return nil, errors.New("get contact: empty contact id")
	}

	var resp struct {
		Contact *models.Contact `json:"contact"`
	}
	if err := c.do(ctx, "get contact", http.MethodGet, "/contacts/"+url.PathEscape(contactID), nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Contact == nil {
		return nil, fmt.Errorf("get contact %s: response has no contact", contactID)
	}
	return resp.Contact, nil
}

// FindContactByEmail returns the contact whose e-mail equals email
// (case-insensitively), or nil if there is none. The search endpoint is a
// fuzzy match, so hits with a different address are ignored.
func (c *LeadConnector) FindContactByEmail(ctx context.Context, email string) (*models.Contact, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("query", email)

	var resp struct {
		Contacts []models.Contact `json:"contacts"`
	}
	if err := c.do(ctx, "search contacts", http.MethodGet, "/contacts/", q, nil, &resp); err != nil {
		return nil, err
	}
	want := strings.TrimSpace(email)
	for i := range resp.Contacts {
		if strings.EqualFold(strings.TrimSpace(resp.Contacts[i].Email), want) {
			return &resp.Contacts[i], nil
		}
	}
	return nil, nil
}

// GetOrCreateConversation returns the contact's conversation id, creating
// a conversation when none exists. If several exist the first is used.
func (c *LeadConnector) GetOrCreateConversation(ctx context.Context, contactID string) (string, error) {
	id, err := c.FindConversation(ctx, contactID)
	if err != nil || id != "" {
		return id, err
	}
	return c.createConversation(ctx, contactID)
}

// FindConversation returns the contact's conversation id, or "" when the
// contact has none. If several exist the first is used.
func (c *LeadConnector) FindConversation(ctx context.Context, contactID string) (string, error) {
	if contactID == "" {
		return "", errors.New("get conversation: empty contact id")
	}

	q := url.Values{}
	q.Set("locationId", c.locationID)
	q.Set("contactId", contactID)

	var search struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	if err := c.do(ctx, "search conversations", http.MethodGet, "/conversations/search", q, nil, &search); err != nil {
		return "", err
	}

	switch n := len(search.Conversations); {
	case n == 0:
		return "", nil
	case n > 1:
		slog.Warn("multiple conversations found for contact, using the first",
			"contact_id", contactID,
			"count", n,
		)
	}

	id := search.Conversations[0].ID
	if id == "" {
		return "", fmt.Errorf("search conversations: empty conversation id for contact %s", contactID)
	}
	return id, nil
}

func (c *LeadConnector) createConversation(ctx context.Context, contactID string) (string, error) {
	body := map[string]string{
		"locationId": c.locationID,
		"contactId":  contactID,
	}

	var resp struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
	}
	if err := c.do(ctx, "create conversation", http.MethodPost, "/conversations/", nil, body, &resp); err != nil {
		return "", err
	}
	if resp.Conversation.ID == "" {
		return "", fmt.Errorf("create conversation: empty id for contact %s", contactID)
	}

	slog.Info("created conversation",
		"contact_id", contactID,
		"conversation_id", resp.Conversation.ID,
	)
	return resp.Conversation.ID, nil
}

// ListMessages returns up to limit messages of a conversation, oldest
// first. Only the first page is read; a further page is logged.
func (c *LeadConnector) ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	if conversationID == "" {
		return nil, errors.New("list messages: empty conversation id")
	}
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))

	var resp struct {
		Messages struct {
			LastMessageID string           `json:"lastMessageId"`
			NextPage      bool             `json:"nextPage"`
			Messages      []models.Message `json:"messages"`
		} `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, "list messages", http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}

	if resp.Messages.NextPage {
		slog.Warn("conversation has more messages than the first page",
			"conversation_id", conversationID,
			"limit", limit,
			"last_message_id", resp.Messages.LastMessageID,
		)
	}

	messages := resp.Messages.Messages
	models.SortByDate(messages)
	return messages, nil
}

// SendMessage sends body to the contact on channel.
func (c *LeadConnector) SendMessage(ctx context.Context, contactID, body string, channel models.Channel) error {
	if channel == models.ChannelCustom {
		slog.Warn("custom channel cannot carry messages, nothing sent", "contact_id", contactID)
		return fmt.Errorf("send message: %w", models.ErrUnsupportedChannel)
	}
	if !channel.Sendable() {
		return fmt.Errorf("send message: %w: %q", ErrInvalidChannel, channel)
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("send message: empty body")
	}
	if contactID == "" {
		return errors.New("send message: empty contact id")
	}

	req := map[string]string{
		"type":      string(channel),
		"contactId": contactID,
		"message":   body,
	}
	var resp struct {
		MessageID      string `json:"messageId"`
		ConversationID string `json:"conversationId"`
	}
	if err := c.do(ctx, "send message", http.MethodPost, "/conversations/messages", nil, req, &resp); err != nil {
		return err
	}

	slog.Info("message sent",
		"contact_id", contactID,
		"channel", channel,
		"message_id", resp.MessageID,
	)
	return nil
}

// DeleteConversation deletes a conversation and its messages.
func (c *LeadConnector) DeleteConversation(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return errors.New("delete conversation: empty conversation id")
	}
	path := "/conversations/" + url.PathEscape(conversationID)
	if err := c.do(ctx, "delete conversation", http.MethodDelete, path, nil, nil, nil); err != nil {
		return err
	}
	slog.Info("conversation deleted", "conversation_id", conversationID)
	return nil
}

// AddTag adds tag to the contact unless it is already present.
func (c *LeadConnector) AddTag(ctx context.Context, contact *models.Contact, tag string) error {
	if contact.HasTag(tag) {
		return nil
	}

	body := map[string][]string{"tags": {tag}}
	path := "/contacts/" + url.PathEscape(contact.ID) + "/tags"
	if err := c.do(ctx, "add tag", http.MethodPost, path, nil, body, nil); err != nil {
		return err
	}

	contact.Tags = append(contact.Tags, tag)
	slog.Info("contact tagged", "contact_id", contact.ID, "tag", tag)
	return nil
}

// FieldMap fetches the location's custom field definitions.
func (c *LeadConnector) FieldMap(ctx context.Context) (FieldMap, error) {
	var resp struct {
		CustomFields []models.CustomField `json:"customFields"`
	}
	path := "/locations/" + url.PathEscape(c.locationID) + "/customFields"
	if err := c.do(ctx, "list custom fields", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return NewFieldMap(resp.CustomFields), nil
}

// SetCustomField overwrites a custom field value on the contact.
func (c *LeadConnector) SetCustomField(ctx context.Context, contactID, fieldID, value string) error {
	if contactID == "" || fieldID == "" {
		return errors.New("set custom field: contact id and field id are required")
	}

	body := map[string]any{
		"customFields": []map[string]string{
			{"id": fieldID, "value": value},
		},
	}
	return c.do(ctx, "update contact", http.MethodPut, "/contacts/"+url.PathEscape(contactID), nil, body, nil)
}

// ListUsers returns the staff users of the location.
func (c *LeadConnector) ListUsers(ctx context.Context) ([]User, error) {
	q := url.Values{}
	q.Set("locationId", c.locationID)

	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, "list users", http.MethodGet, "/users/", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// do performs an authenticated request. A 401 triggers one credential
// refresh and a single retry. Non-2xx results become *Error.
func (c *LeadConnector) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	resp, err := c.send(ctx, method, endpoint, payload, token)
	if err != nil {
		return &Error{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		slog.Debug("crm rejected access token, refreshing", "op", op)
		token, err = c.creds.Refresh(ctx)
		if err != nil {
			return &Error{Op: op, StatusCode: http.StatusUnauthorized, Err: err}
		}
		resp, err = c.send(ctx, method, endpoint, payload, token)
		if err != nil {
			return &Error{Op: op, Err: err}
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &Error{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func (c *LeadConnector) send(ctx context.Context, method, endpoint string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Version", apiVersion)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}
