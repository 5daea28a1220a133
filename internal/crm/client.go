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

// Package crm provides the CRM boundary used by the engagement flow and a
// LeadConnector (GoHighLevel) REST implementation of it.
package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/avasales/engage/internal/models"
)

var (
	// ErrInvalidChannel is returned by SendMessage for channels the CRM
	// has no outbound mapping for.
	ErrInvalidChannel = errors.New("invalid message channel")

	// ErrNoCredentials means no OAuth token has been stored for the location.
	ErrNoCredentials = errors.New("no stored credentials for location")

	// ErrFieldNotFound means a custom field key is not defined on the location.
	ErrFieldNotFound = errors.New("custom field not defined")
)

// Client is the set of CRM operations the engagement flow depends on.
type Client interface {
	GetContact(ctx context.Context, contactID string) (*models.Contact, error)
	FindContactByEmail(ctx context.Context, email string) (*models.Contact, error)

	GetOrCreateConversation(ctx context.Context, contactID string) (string, error)
	// FindConversation returns "" when the contact has no conversation.
	FindConversation(ctx context.Context, contactID string) (string, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	SendMessage(ctx context.Context, contactID, body string, channel models.Channel) error
	DeleteConversation(ctx context.Context, conversationID string) error

	// AddTag tags the contact unless it already carries the tag, in which
	// case no request is made. The contact's Tags are updated in place.
	AddTag(ctx context.Context, contact *models.Contact, tag string) error

	FieldMap(ctx context.Context) (FieldMap, error)
	SetCustomField(ctx context.Context, contactID, fieldID, value string) error

	ListUsers(ctx context.Context) ([]User, error)
}

// Error is a failed CRM call: a non-2xx response after the one permitted
// credential refresh, or a transport failure.
type Error struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crm %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("crm %s: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// User is a CRM staff user belonging to a location.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// FieldMap resolves custom field keys (e.g. "contact.lead_state") to the
// location-specific field ids.
type FieldMap map[string]string

// NewFieldMap indexes field definitions by key.
func NewFieldMap(fields []models.CustomField) FieldMap {
	m := make(FieldMap, len(fields))
	for _, f := range fields {
		m[f.FieldKey] = f.ID
	}
	return m
}

// ID returns the field id for key.
func (m FieldMap) ID(key string) (string, error) {
	id, ok := m[key]
	if !ok || id == "" {
		return "", fmt.Errorf("%w: %s", ErrFieldNotFound, key)
	}
	return id, nil
}

// Value returns the contact's value for the field identified by key, or ""
// when the field is undefined or unset.
func (m FieldMap) Value(contact *models.Contact, key string) string {
	id, ok := m[key]
	if !ok {
		return ""
	}
	return contact.FieldValue(id)
}
