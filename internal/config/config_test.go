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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
}

const minimalConfig = `
locations:
  - id: loc-1
    alias: austin
crm:
  client_id: ${TEST_CRM_CLIENT_ID}
  client_secret: secret
`

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TEST_CRM_CLIENT_ID", "client-abc")
	writeConfig(t, minimalConfig)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.CRM.ClientID != "client-abc" {
		t.Errorf("env expansion failed: client_id = %q", cfg.CRM.ClientID)
	}
	if cfg.CRM.BaseURL != "https://services.leadconnectorhq.com" || cfg.CRM.MessageLimit != 50 {
		t.Errorf("unexpected CRM defaults: %+v", cfg.CRM)
	}

	e := cfg.Engagement
	if e.PermissionTag != "sunny" || e.InteractedTag != "AVA-Interacted" || e.CeilingTag != "AVA-MaxSMSConvoReached" {
		t.Errorf("unexpected tag defaults: %+v", e)
	}
	if e.MaxInteractions != 15 || e.ResetCode != "*RESET#" {
		t.Errorf("max = %d, reset = %q", e.MaxInteractions, e.ResetCode)
	}
	if e.InteractionField != "contact.number_of_interactions" || e.LeadStateField != "contact.lead_state" {
		t.Errorf("unexpected field keys: %q %q", e.InteractionField, e.LeadStateField)
	}
	if !e.BlockOnAgentEngaged {
		t.Error("agent-engaged blocking should default on")
	}
	if len(e.Prequalification) != 5 || e.Prequalification[0].FieldKey != "contact.how_old_is_your_roof" {
		t.Errorf("unexpected prequalification defaults: %+v", e.Prequalification)
	}
	if e.BasePrompt != DefaultBasePrompt {
		t.Error("expected default base prompt")
	}
	if cfg.Objections.Threshold != 0.5 || cfg.Objections.Enabled {
		t.Errorf("unexpected objection defaults: %+v", cfg.Objections)
	}
	if cfg.LLM.Temperature != 0.7 || cfg.LLM.Provider != "openai" {
		t.Errorf("unexpected llm defaults: %+v", cfg.LLM)
	}
}

func TestLoad_Overrides(t *testing.T) {
	dir := t.TempDir()
	promptPath := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(promptPath, []byte("Custom prompt"), 0o600); err != nil {
		t.Fatal(err)
	}

	writeConfig(t, `
locations:
  - id: loc-1
  - id: ""
crm:
  client_id: id
  client_secret: secret
  message_limit: 20
engagement:
  max_interactions: 8
  block_on_agent_engaged: false
  prompt_path: `+promptPath+`
  prequalification:
    - label: Roof age
      field_key: contact.roof
  operators:
    emails: [ops@example.com]
    exclude: [bot@example.com]
llm:
  provider: azure
  temperature: 0
objections:
  enabled: true
  threshold: 0.7
  top_k: 5
`)
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Locations) != 1 || cfg.Locations[0].Alias != "loc-1" {
		t.Errorf("locations = %+v", cfg.Locations)
	}
	if cfg.CRM.MessageLimit != 20 || cfg.Engagement.MaxInteractions != 8 {
		t.Errorf("limits not applied: %d %d", cfg.CRM.MessageLimit, cfg.Engagement.MaxInteractions)
	}
	if cfg.Engagement.BlockOnAgentEngaged {
		t.Error("block_on_agent_engaged: false not honoured")
	}
	if cfg.Engagement.BasePrompt != "Custom prompt" {
		t.Errorf("prompt = %q", cfg.Engagement.BasePrompt)
	}
	if len(cfg.Engagement.Prequalification) != 1 {
		t.Errorf("prequalification = %+v", cfg.Engagement.Prequalification)
	}
	if cfg.LLM.Provider != "azure" || cfg.LLM.Temperature != 0 {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if !cfg.Objections.Enabled || cfg.Objections.Threshold != 0.7 || cfg.Objections.TopK != 5 {
		t.Errorf("objections = %+v", cfg.Objections)
	}
	if cfg.Port != 9090 {
		t.Errorf("port = %d", cfg.Port)
	}
}

func TestLoad_ZeroThresholdKept(t *testing.T) {
	t.Setenv("TEST_CRM_CLIENT_ID", "x")
	writeConfig(t, minimalConfig+"objections:\n  threshold: 0\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Objections.Threshold != 0 {
		t.Errorf("threshold = %v, want 0", cfg.Objections.Threshold)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no locations",
			content: "crm:\n  client_id: a\n  client_secret: b\n",
			wantErr: "no locations",
		},
		{
			name:    "missing credentials",
			content: "locations:\n  - id: loc-1\n",
			wantErr: "client_id",
		},
		{
			name:    "bad provider",
			content: minimalConfig + "llm:\n  provider: llama\n",
			wantErr: "llm provider",
		},
		{
			name:    "threshold out of range",
			content: minimalConfig + "objections:\n  threshold: 1.5\n",
			wantErr: "threshold",
		},
		{
			name:    "bad yaml",
			content: "locations: [",
			wantErr: "parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_CRM_CLIENT_ID", "x")
			t.Setenv("CRM_CLIENT_ID", "")
			t.Setenv("CRM_CLIENT_SECRET", "")
			writeConfig(t, tt.content)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLocationLookup(t *testing.T) {
	cfg := &Config{Locations: []LocationConfig{{ID: "loc-1", Alias: "Austin"}, {ID: "loc-2", Alias: "dallas"}}}

	if l, ok := cfg.Location("austin"); !ok || l.ID != "loc-1" {
		t.Errorf("alias lookup failed: %+v %v", l, ok)
	}
	if _, ok := cfg.Location("houston"); ok {
		t.Error("unknown location should not resolve")
	}
	if ids := cfg.LocationIDs(); len(ids) != 2 || ids[1] != "loc-2" {
		t.Errorf("ids = %v", ids)
	}
}
