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

// Package session builds the per-location orchestrators from config.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/avasales/engage/internal/assembler"
	"github.com/avasales/engage/internal/config"
	"github.com/avasales/engage/internal/crm"
	"github.com/avasales/engage/internal/gate"
	"github.com/avasales/engage/internal/llm"
	"github.com/avasales/engage/internal/metrics"
	"github.com/avasales/engage/internal/operators"
	"github.com/avasales/engage/internal/orchestrator"
)

// Deps are the process-wide dependencies shared by every location.
type Deps struct {
	Tokens     crm.TokenStore
	Generator  orchestrator.Generator
	Augmenter  orchestrator.Augmenter
	Geocoder   assembler.Geocoder
	Metrics    *metrics.Recorder
	HTTPClient *http.Client
}

// NewLLM creates the LLM backend client from config.
func NewLLM(cfg *config.Config) *llm.Client {
	return llm.NewClient(llm.Config{
		Provider:       cfg.LLM.Provider,
		BaseURL:        cfg.LLM.BaseURL,
		APIKey:         cfg.LLM.APIKey,
		APIVersion:     cfg.LLM.APIVersion,
		ChatModel:      cfg.LLM.ChatModel,
		AnalysisModel:  cfg.LLM.AnalysisModel,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Temperature:    cfg.LLM.Temperature,
		Timeout:        cfg.LLM.Timeout,
	})
}

// NewClient creates an authenticated CRM client for locationID.
func NewClient(cfg *config.Config, tokens crm.TokenStore, locationID string, rec *metrics.Recorder, httpClient *http.Client) *crm.LeadConnector {
	oauth := crm.OAuthConfig(cfg.CRM.BaseURL, cfg.CRM.ClientID, cfg.CRM.ClientSecret, cfg.CRM.RedirectURL, cfg.CRM.Scopes)
	auth := crm.NewAuthenticator(oauth, tokens, locationID)
	auth.OnRefresh = func() {
		rec.TokenRefresh(context.Background(), locationID)
	}

	if httpClient == nil && cfg.CRM.Timeout > 0 {
		httpClient = &http.Client{Timeout: cfg.CRM.Timeout}
	}
	return crm.NewLeadConnector(crm.LeadConnectorConfig{
		BaseURL:     cfg.CRM.BaseURL,
		LocationID:  locationID,
		Credentials: auth,
		HTTPClient:  httpClient,
	})
}

// Build resolves the location's custom fields and operators and returns
// its orchestrator.
func Build(ctx context.Context, cfg *config.Config, loc config.LocationConfig, deps Deps) (*orchestrator.Orchestrator, error) {
	client := NewClient(cfg, deps.Tokens, loc.ID, deps.Metrics, deps.HTTPClient)
	eng := cfg.Engagement

	fields, err := client.FieldMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load custom fields for %s: %w", loc.ID, err)
	}

	ops, err := operators.Resolve(ctx, client, loc.ID, operators.Config{
		ContactIDs:   eng.Operators.ContactIDs,
		Emails:       eng.Operators.Emails,
		Exclude:      eng.Operators.Exclude,
		AutoDiscover: eng.Operators.AutoDiscover,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve operators for %s: %w", loc.ID, err)
	}
	notifier := operators.NewNotifier(client, loc.ID, operators.ContactIDs(ops))

	g := gate.New(gate.Config{
		PermissionTag:       eng.PermissionTag,
		AgentEngagedTag:     eng.AgentEngagedTag,
		CeilingTag:          eng.CeilingTag,
		MaxInteractions:     eng.MaxInteractions,
		InteractionField:    eng.InteractionField,
		BlockOnAgentEngaged: eng.BlockOnAgentEngaged,
	}, client, notifier)

	prequal := make([]assembler.PrequalField, 0, len(eng.Prequalification))
	for _, f := range eng.Prequalification {
		prequal = append(prequal, assembler.PrequalField{Label: f.Label, FieldKey: f.FieldKey})
	}
	asm := assembler.New(assembler.Config{
		BasePrompt:     eng.BasePrompt,
		Prequal:        prequal,
		FollowUpWindow: eng.FollowUpWindow,
		Geocoder:       deps.Geocoder,
	})

	slog.Info("location session ready",
		"location", loc.ID,
		"alias", loc.Alias,
		"custom_fields", len(fields),
		"operators", len(ops),
	)

	return orchestrator.New(orchestrator.Config{
		LocationID:       loc.ID,
		CRM:              client,
		Fields:           fields,
		Gate:             g,
		Assembler:        asm,
		Augmenter:        deps.Augmenter,
		Generator:        deps.Generator,
		Notifier:         notifier,
		Metrics:          deps.Metrics,
		ResetCode:        eng.ResetCode,
		InteractedTag:    eng.InteractedTag,
		AgentEngagedTag:  eng.AgentEngagedTag,
		InteractionField: eng.InteractionField,
		LeadStateField:   eng.LeadStateField,
		MessageLimit:     cfg.CRM.MessageLimit,
	}), nil
}

// BuildAll builds every configured location. A location that fails is
// logged and skipped; an error is returned only when none could be built.
func BuildAll(ctx context.Context, cfg *config.Config, deps Deps) ([]*orchestrator.Orchestrator, error) {
	var sessions []*orchestrator.Orchestrator
	for _, loc := range cfg.Locations {
		o, err := Build(ctx, cfg, loc, deps)
		if err != nil {
			slog.Error("skipping location", "location", loc.ID, "error", err)
			continue
		}
		sessions = append(sessions, o)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no location could be initialised")
	}
	return sessions, nil
}
