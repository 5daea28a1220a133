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

// Package assembler builds the system context and history handed to the
// generation backend for one engagement.
//
// Two modes exist. In fresh-reply mode the lead spoke last and the history
// is passed through as structured turns. In follow-up mode we spoke last,
// so the most recent turns are rendered into the system text as a
// transcript with a follow-up directive and the structured history is
// cleared; the model never sees its own last message as new input.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/models"
)

const (
	notProvided     = "not provided"
	timeUnavailable = "unavailable"
	noPrequal       = "No pre-qualification information available."

	// DefaultFollowUpWindow is how many recent turns a follow-up transcript
	// includes.
	DefaultFollowUpWindow = 5

	followUpDirective = "The lead has not replied to your last message. Compose a short follow-up " +
		"that continues the conversation naturally. Do not repeat your previous message."
)

// Geocoder resolves a city name to an IANA timezone.
type Geocoder interface {
	Timezone(ctx context.Context, city string) (string, error)
}

// PrequalField maps a pre-qualification question label to the contact
// custom field that stores the answer.
type PrequalField struct {
	Label    string
	FieldKey string
}

// Config holds the static parts of the context.
type Config struct {
	BasePrompt     string
	Prequal        []PrequalField
	FollowUpWindow int
	Geocoder       Geocoder

	// Now defaults to time.Now.
	Now func() time.Time
}

// Input is everything known about one engagement.
type Input struct {
	Contact   *models.Contact
	Fields    crm.FieldMap
	LeadState models.LeadState
	History   []models.Turn
}

// Context is the assembled generation input.
type Context struct {
	System   string
	History  []models.Turn
	FollowUp bool
}

// Assembler builds generation contexts.
type Assembler struct {
	basePrompt string
	prequal    []PrequalField
	window     int
	geocoder   Geocoder
	now        func() time.Time
}

// New creates an assembler.
func New(cfg Config) *Assembler {
	window := cfg.FollowUpWindow
	if window <= 0 {
		window = DefaultFollowUpWindow
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		basePrompt: strings.TrimSpace(cfg.BasePrompt),
		prequal:    cfg.Prequal,
		window:     window,
		geocoder:   cfg.Geocoder,
		now:        now,
	}
}

// IsFollowUp reports whether we sent the most recent turn.
func IsFollowUp(history []models.Turn) bool {
	return len(history) > 0 && history[len(history)-1].Role == models.RoleAssistant
}

// Build assembles the context. Lookup failures degrade to placeholders and
// never fail the build.
func (a *Assembler) Build(ctx context.Context, in Input) *Context {
	tz := a.resolveTimezone(ctx, in.Contact)

	var b strings.Builder
	if a.basePrompt != "" {
		b.WriteString(a.basePrompt)
		b.WriteString("\n\n")
	}

	a.writeProfile(&b, in.Contact, tz)
	writeLeadState(&b, in.LeadState)
	a.writePrequal(&b, in.Contact, in.Fields)

	b.WriteString("## Local time\n")
	b.WriteString(a.localTime(tz))
	b.WriteString("\n")

	out := &Context{}
	if IsFollowUp(in.History) {
		out.FollowUp = true
		recent := in.History
		if len(recent) > a.window {
			recent = recent[len(recent)-a.window:]
		}
		b.WriteString("\n## Recent conversation\n")
		for _, t := range recent {
			speaker := "Lead"
			if t.Role == models.RoleAssistant {
				speaker = "You"
			}
			fmt.Fprintf(&b, "%s: %s\n", speaker, t.Content)
		}
		b.WriteString("\n")
		b.WriteString(followUpDirective)
		b.WriteString("\n")
	} else {
		out.History = in.History
	}

	out.System = b.String()
	return out
}

func (a *Assembler) writeProfile(b *strings.Builder, c *models.Contact, tz string) {
	b.WriteString("## About the lead\n")
	field(b, "Name", c.DisplayName())
	field(b, "Address", c.Address1)
	field(b, "City", c.City)
	field(b, "State", c.State)
	field(b, "Timezone", tz)
	field(b, "Phone", c.Phone)
	field(b, "Email", c.Email)
	b.WriteString("\n")
}

func writeLeadState(b *strings.Builder, state models.LeadState) {
	b.WriteString("## Lead state\n")
	label := notProvided
	if state != "" {
		label = state.Label()
	}
	fmt.Fprintf(b, "Current lead state: %s\n", label)
	b.WriteString("Possible lead states:\n")
	for _, info := range models.LeadStates {
		fmt.Fprintf(b, "- %s: %s\n", info.State.Label(), info.Description)
	}
	b.WriteString("\n")
}

func (a *Assembler) writePrequal(b *strings.Builder, c *models.Contact, fields crm.FieldMap) {
	b.WriteString("## Pre-qualification\n")

	answers := make([]string, len(a.prequal))
	answered := false
	for i, p := range a.prequal {
		answers[i] = strings.TrimSpace(fields.Value(c, p.FieldKey))
		if answers[i] != "" {
			answered = true
		}
	}

	if !answered {
		b.WriteString(noPrequal)
		b.WriteString("\n\n")
		return
	}
	for i, p := range a.prequal {
		field(b, p.Label, answers[i])
	}
	b.WriteString("\n")
}

func field(b *strings.Builder, name, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		value = notProvided
	}
	fmt.Fprintf(b, "%s: %s\n", name, value)
}

// resolveTimezone returns the contact's timezone, falling back to a
// geocoded lookup of its city. Empty means unknown.
func (a *Assembler) resolveTimezone(ctx context.Context, c *models.Contact) string {
	if c.Timezone != "" {
		return c.Timezone
	}
	if c.City == "" || a.geocoder == nil {
		return ""
	}

	tz, err := a.geocoder.Timezone(ctx, c.City)
	if err != nil {
		slog.Warn("timezone lookup failed",
			"contact_id", c.ID,
			"city", c.City,
			"error", err,
		)
		return ""
	}
	return tz
}

func (a *Assembler) localTime(tz string) string {
	if tz == "" {
		return timeUnavailable
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		slog.Warn("unknown timezone", "timezone", tz, "error", err)
		return timeUnavailable
	}
	return FormatLocalTime(a.now().In(loc))
}

// FormatLocalTime renders t as "1:30 PM CDT, 28th July 2024".
func FormatLocalTime(t time.Time) string {
	return fmt.Sprintf("%s, %d%s %s", t.Format("3:04 PM MST"), t.Day(), ordinal(t.Day()), t.Format("January 2006"))
}

func ordinal(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}
