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

// Package orchestrator runs one engagement decision per event: gate the
// contact, build the generation context, generate a reply and apply the
// CRM side effects. Failures while generating or delivering are escalated
// to the operators instead of being retried.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/avasales/engage/internal/assembler"
	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/gate"
	"github.com/avasales/engage/internal/metrics"
	"github.com/avasales/engage/internal/models"
)

// Outcome is the terminal state of one event.
type Outcome string

const (
	OutcomeReset              Outcome = "reset"
	OutcomeBlocked            Outcome = "blocked"
	OutcomeNoMessages         Outcome = "no_messages"
	OutcomeUnsupportedChannel Outcome = "unsupported_channel"
	OutcomeEscalated          Outcome = "escalated"
	OutcomeDelivered          Outcome = "delivered"
	OutcomeFailed             Outcome = "failed"
	OutcomeIgnored            Outcome = "ignored"
)

// Result reports what happened to one event. Err is set when the outcome
// is failed.
type Result struct {
	Outcome        Outcome
	ContactID      string
	ConversationID string
	Channel        models.Channel
	Reason         string
	LeadState      models.LeadState
	Sent           int
	Err            error
}

// Generator produces replies and lead-state assessments.
type Generator interface {
	Complete(ctx context.Context, system string, history []models.Turn) (string, error)
	DetermineLeadState(ctx context.Context, history []models.Turn) (models.LeadState, error)
}

// Augmenter adds objection-handling examples to a system context.
type Augmenter interface {
	Augment(ctx context.Context, system string, history []models.Turn) string
}

// Config wires one location's session. Fields is resolved once when the
// session is built and shared by every event.
type Config struct {
	LocationID string
	CRM        crm.Client
	Fields     crm.FieldMap
	Gate       *gate.Gate
	Assembler  *assembler.Assembler
	Augmenter  Augmenter
	Generator  Generator
	Notifier   gate.Notifier
	Metrics    *metrics.Recorder

	ResetCode        string
	InteractedTag    string
	AgentEngagedTag  string
	InteractionField string
	LeadStateField   string
	MessageLimit     int
}

// Orchestrator handles events for one location.
type Orchestrator struct {
	cfg Config
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.MessageLimit <= 0 {
		cfg.MessageLimit = crm.DefaultMessageLimit
	}
	return &Orchestrator{cfg: cfg}
}

// LocationID returns the location this orchestrator serves.
func (o *Orchestrator) LocationID() string { return o.cfg.LocationID }

// HandleInbound processes an inbound message from a lead.
func (o *Orchestrator) HandleInbound(ctx context.Context, ev models.Event) Result {
	res := o.handleInbound(ctx, ev)
	o.record(ctx, res)
	return res
}

func (o *Orchestrator) handleInbound(ctx context.Context, ev models.Event) Result {
	res := Result{ContactID: ev.ContactID, ConversationID: ev.ConversationID}

	if o.cfg.ResetCode != "" && ev.Body == o.cfg.ResetCode {
		return o.reset(ctx, res)
	}

	contact, decision, err := o.checkEligibility(ctx, ev.ContactID)
	if err != nil {
		return failed(res, err)
	}
	res.Reason = decision.Reason
	if !decision.Eligible {
		return withOutcome(res, OutcomeBlocked)
	}

	if res.ConversationID == "" {
		id, err := o.cfg.CRM.GetOrCreateConversation(ctx, contact.ID)
		if err != nil {
			return failed(res, fmt.Errorf("resolve conversation: %w", err))
		}
		res.ConversationID = id
	}

	messages, err := o.cfg.CRM.ListMessages(ctx, res.ConversationID, o.cfg.MessageLimit)
	if err != nil {
		return failed(res, fmt.Errorf("list messages: %w", err))
	}
	models.SortByDate(messages)
	if len(messages) == 0 {
		slog.Info("no messages in conversation",
			"contact_id", contact.ID,
			"conversation_id", res.ConversationID,
		)
		return withOutcome(res, OutcomeNoMessages)
	}

	latest := messages[len(messages)-1].MessageType
	channel, err := models.ChannelFor(latest)
	if err != nil {
		slog.Info("latest message is on an unsupported channel",
			"contact_id", contact.ID,
			"message_type", latest,
		)
		return withOutcome(res, OutcomeUnsupportedChannel)
	}
	res.Channel = channel

	turns := models.ToTurns(models.FilterByType(messages, latest))
	return o.respond(ctx, res, contact, decision.Interactions, turns)
}

// Engage starts or continues a conversation with a contact without an
// inbound message. A contact with no history is engaged over SMS.
func (o *Orchestrator) Engage(ctx context.Context, contactID string) Result {
	res := o.engage(ctx, contactID)
	o.record(ctx, res)
	return res
}

func (o *Orchestrator) engage(ctx context.Context, contactID string) Result {
	res := Result{ContactID: contactID}

	contact, decision, err := o.checkEligibility(ctx, contactID)
	if err != nil {
		return failed(res, err)
	}
	res.Reason = decision.Reason
	if !decision.Eligible {
		return withOutcome(res, OutcomeBlocked)
	}

	id, err := o.cfg.CRM.GetOrCreateConversation(ctx, contact.ID)
	if err != nil {
		return failed(res, fmt.Errorf("resolve conversation: %w", err))
	}
	res.ConversationID = id

	messages, err := o.cfg.CRM.ListMessages(ctx, id, o.cfg.MessageLimit)
	if err != nil {
		return failed(res, fmt.Errorf("list messages: %w", err))
	}

	var turns []models.Turn
	res.Channel = models.ChannelSMS
	if len(messages) > 0 {
		models.SortByDate(messages)
		latest := messages[len(messages)-1].MessageType
		channel, err := models.ChannelFor(latest)
		if err != nil {
			return withOutcome(res, OutcomeUnsupportedChannel)
		}
		res.Channel = channel
		turns = models.ToTurns(models.FilterByType(messages, latest))
	}

	return o.respond(ctx, res, contact, decision.Interactions, turns)
}

// MarkAgentEngaged tags the contact of a human-sent outbound message so
// automated replies stop.
func (o *Orchestrator) MarkAgentEngaged(ctx context.Context, ev models.Event) error {
	if o.cfg.AgentEngagedTag == "" {
		return nil
	}
	contact, err := o.cfg.CRM.GetContact(ctx, ev.ContactID)
	if err != nil {
		return fmt.Errorf("get contact: %w", err)
	}
	if contact.HasTag(o.cfg.AgentEngagedTag) {
		return nil
	}
	if err := o.cfg.CRM.AddTag(ctx, contact, o.cfg.AgentEngagedTag); err != nil {
		return fmt.Errorf("set agent engaged tag: %w", err)
	}
	slog.Info("human agent took over conversation",
		"contact_id", contact.ID,
		"user_id", ev.UserID,
	)
	return nil
}

func (o *Orchestrator) reset(ctx context.Context, res Result) Result {
	id := res.ConversationID
	if id == "" {
		var err error
		id, err = o.cfg.CRM.FindConversation(ctx, res.ContactID)
		if err != nil {
			return failed(res, fmt.Errorf("resolve conversation for reset: %w", err))
		}
		if id == "" {
			slog.Info("reset requested but contact has no conversation", "contact_id", res.ContactID)
			return withOutcome(res, OutcomeReset)
		}
		res.ConversationID = id
	}
	if err := o.cfg.CRM.DeleteConversation(ctx, id); err != nil {
		return failed(res, fmt.Errorf("delete conversation: %w", err))
	}
	slog.Info("conversation reset",
		"contact_id", res.ContactID,
		"conversation_id", id,
	)
	return withOutcome(res, OutcomeReset)
}

func (o *Orchestrator) checkEligibility(ctx context.Context, contactID string) (*models.Contact, gate.Decision, error) {
	contact, err := o.cfg.CRM.GetContact(ctx, contactID)
	if err != nil {
		return nil, gate.Decision{}, fmt.Errorf("get contact: %w", err)
	}
	decision, err := o.cfg.Gate.Check(ctx, contact, o.cfg.Fields)
	if err != nil {
		return nil, decision, fmt.Errorf("eligibility check: %w", err)
	}
	if decision.Reason == gate.ReasonCeilingNotified {
		o.cfg.Metrics.Escalation(ctx, o.cfg.LocationID, "ceiling")
	}
	return contact, decision, nil
}

// respond runs GENERATE and DELIVER. Any error from here on is escalated.
func (o *Orchestrator) respond(ctx context.Context, res Result, contact *models.Contact, interactions int, turns []models.Turn) Result {
	state := o.leadState(ctx, contact, turns)
	res.LeadState = state

	if state == models.LeadReadyForAppointment {
		msg := fmt.Sprintf("Lead %s (%s) is ready for appointment, please schedule.", contact.DisplayName(), contact.ID)
		if err := o.cfg.Notifier.Notify(ctx, msg); err != nil {
			return failed(res, fmt.Errorf("notify ready for appointment: %w", err))
		}
		o.cfg.Metrics.Escalation(ctx, o.cfg.LocationID, "ready_for_appointment")
		slog.Info("lead ready for appointment, escalated",
			"contact_id", contact.ID,
			"conversation_id", res.ConversationID,
		)
		return withOutcome(res, OutcomeEscalated)
	}

	genCtx := o.cfg.Assembler.Build(ctx, assembler.Input{
		Contact:   contact,
		Fields:    o.cfg.Fields,
		LeadState: state,
		History:   turns,
	})
	system := genCtx.System
	if o.cfg.Augmenter != nil {
		system = o.cfg.Augmenter.Augment(ctx, system, turns)
	}

	start := time.Now()
	reply, err := o.cfg.Generator.Complete(ctx, system, genCtx.History)
	o.cfg.Metrics.Generation(ctx, o.cfg.LocationID, time.Since(start), err == nil)
	if err != nil {
		return o.escalateFailure(ctx, res, contact, err)
	}

	parts := SplitReply(reply)
	for _, part := range parts {
		if err := o.cfg.CRM.SendMessage(ctx, contact.ID, part, res.Channel); err != nil {
			return o.escalateFailure(ctx, res, contact, fmt.Errorf("send message %d of %d: %w", res.Sent+1, len(parts), err))
		}
		res.Sent++
	}

	if err := o.recordInteraction(ctx, contact, interactions, state); err != nil {
		return o.escalateFailure(ctx, res, contact, err)
	}

	slog.Info("reply delivered",
		"contact_id", contact.ID,
		"conversation_id", res.ConversationID,
		"channel", res.Channel,
		"messages", res.Sent,
		"follow_up", genCtx.FollowUp,
		"lead_state", state,
	)
	return withOutcome(res, OutcomeDelivered)
}

func (o *Orchestrator) recordInteraction(ctx context.Context, contact *models.Contact, interactions int, state models.LeadState) error {
	if o.cfg.InteractedTag != "" {
		if err := o.cfg.CRM.AddTag(ctx, contact, o.cfg.InteractedTag); err != nil {
			return fmt.Errorf("set interacted tag: %w", err)
		}
	}

	counterID, err := o.cfg.Fields.ID(o.cfg.InteractionField)
	if err != nil {
		return err
	}
	if err := o.cfg.CRM.SetCustomField(ctx, contact.ID, counterID, strconv.Itoa(interactions+1)); err != nil {
		return fmt.Errorf("increment interaction counter: %w", err)
	}

	stateID, err := o.cfg.Fields.ID(o.cfg.LeadStateField)
	if err != nil {
		slog.Warn("lead state field not defined, skipping write-back",
			"location", o.cfg.LocationID,
			"field", o.cfg.LeadStateField,
		)
		return nil
	}
	if err := o.cfg.CRM.SetCustomField(ctx, contact.ID, stateID, state.Label()); err != nil {
		return fmt.Errorf("write lead state: %w", err)
	}
	return nil
}

// leadState asks the generator for the current state, falling back to the
// stored value and then to cold.
func (o *Orchestrator) leadState(ctx context.Context, contact *models.Contact, turns []models.Turn) models.LeadState {
	if len(turns) > 0 {
		state, err := o.cfg.Generator.DetermineLeadState(ctx, turns)
		if err == nil {
			return state
		}
		slog.Warn("lead state determination failed, using stored value",
			"contact_id", contact.ID,
			"error", err,
		)
	}
	if stored, ok := models.ParseLeadState(o.cfg.Fields.Value(contact, o.cfg.LeadStateField)); ok {
		return stored
	}
	return models.LeadCold
}

func (o *Orchestrator) escalateFailure(ctx context.Context, res Result, contact *models.Contact, cause error) Result {
	slog.Error("engagement failed, escalating",
		"contact_id", contact.ID,
		"conversation_id", res.ConversationID,
		"sent", res.Sent,
		"error", cause,
	)

	reason := "failure"
	var crmErr *crm.Error
	if errors.As(cause, &crmErr) {
		reason = "crm_error"
	}
	msg := fmt.Sprintf("Automated reply to lead %s (%s) failed: %v. Please follow up manually.",
		contact.DisplayName(), contact.ID, cause)
	if err := o.cfg.Notifier.Notify(ctx, msg); err != nil {
		slog.Error("failed to escalate engagement failure",
			"contact_id", contact.ID,
			"error", err,
		)
	} else {
		o.cfg.Metrics.Escalation(ctx, o.cfg.LocationID, reason)
	}
	return failed(res, cause)
}

func (o *Orchestrator) record(ctx context.Context, res Result) {
	o.cfg.Metrics.Outcome(ctx, o.cfg.LocationID, string(res.Outcome))
	if res.Err != nil {
		slog.Error("event processing failed",
			"location", o.cfg.LocationID,
			"contact_id", res.ContactID,
			"outcome", res.Outcome,
			"error", res.Err,
		)
	}
}

// SplitReply splits a reply into separate messages on blank lines.
func SplitReply(reply string) []string {
	var parts []string
	for _, p := range strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func withOutcome(res Result, outcome Outcome) Result {
	res.Outcome = outcome
	return res
}

func failed(res Result, err error) Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	return res
}
