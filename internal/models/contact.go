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
	"fmt"
	"strconv"
	"strings"
)

// Contact is a CRM lead record.
type Contact struct {
	ID           string             `json:"id"`
	LocationID   string             `json:"locationId,omitempty"`
	ContactName  string             `json:"contactName,omitempty"`
	FirstName    string             `json:"firstName,omitempty"`
	LastName     string             `json:"lastName,omitempty"`
	Email        string             `json:"email,omitempty"`
	Phone        string             `json:"phone,omitempty"`
	Address1     string             `json:"address1,omitempty"`
	City         string             `json:"city,omitempty"`
	State        string             `json:"state,omitempty"`
	Country      string             `json:"country,omitempty"`
	PostalCode   string             `json:"postalCode,omitempty"`
	Timezone     string             `json:"timezone,omitempty"`
	Tags         []string           `json:"tags"`
	CustomFields []CustomFieldValue `json:"customFields,omitempty"`
}

// CustomFieldValue is a value stored against a custom field id. The CRM
// returns strings, numbers or lists depending on the field's data type.
type CustomFieldValue struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// CustomField is a location-level custom field definition.
type CustomField struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FieldKey string `json:"fieldKey"`
	DataType string `json:"dataType,omitempty"`
}

// HasTag reports whether the contact carries tag. CRM tags are stored
// lowercase, so the comparison ignores case.
func (c *Contact) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// DisplayName returns the best available name for the contact.
func (c *Contact) DisplayName() string {
	if c.ContactName != "" {
		return c.ContactName
	}
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// FieldValue returns the value stored for a custom field id as a string,
// or "" if the contact has no value for it.
func (c *Contact) FieldValue(fieldID string) string {
	for _, f := range c.CustomFields {
		if f.ID != fieldID || f.Value == nil {
			continue
		}
		switch v := f.Value.(type) {
		case string:
			return v
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprint(p))
			}
			return strings.Join(parts, ", ")
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}
