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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultBasePrompt is used when no prompt file is configured.
const DefaultBasePrompt = `You are Ava, a friendly sales assistant texting with a homeowner about solar.
Keep replies short and conversational, ask one question at a time, and work towards booking an appointment.`

// LocationConfig identifies a CRM location (sub-account) served by this
// deployment.
type LocationConfig struct {
	ID    string
	Alias string
}

// CRMConfig holds the LeadConnector API and OAuth app settings.
type CRMConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	MessageLimit int
	Timeout      time.Duration
}

// PrequalField maps a pre-qualification question to a contact field key.
type PrequalField struct {
	Label    string
	FieldKey string
}

// OperatorsConfig selects who receives escalations.
type OperatorsConfig struct {
	ContactIDs   []string
	Emails       []string
	Exclude      []string
	AutoDiscover bool
}

// EngagementConfig holds the tags, limits and field keys of the engagement
// flow.
type EngagementConfig struct {
	PermissionTag       string
	AgentEngagedTag     string
	InteractedTag       string
	CeilingTag          string
	MaxInteractions     int
	BlockOnAgentEngaged bool
	ResetCode           string
	InteractionField    string
	LeadStateField      string
	FollowUpWindow      int
	BasePrompt          string
	Prequalification    []PrequalField
	Operators           OperatorsConfig
}

// LLMConfig selects the generation backend.
type LLMConfig struct {
	Provider       string // "openai" or "azure"
	BaseURL        string
	APIKey         string
	APIVersion     string
	ChatModel      string
	AnalysisModel  string
	EmbeddingModel string
	Temperature    float64
	Timeout        time.Duration
}

// ObjectionConfig tunes objection augmentation.
type ObjectionConfig struct {
	Enabled   bool
	Threshold float64
	TopK      int
	SeedPath  string
}

// Config holds all configuration for the engagement service.
type Config struct {
	Locations  []LocationConfig
	CRM        CRMConfig
	Engagement EngagementConfig
	LLM        LLMConfig
	Objections ObjectionConfig

	GeocodeURL string

	// Redis
	RedisURL    string
	EventsQueue string
	DedupTTL    time.Duration
	LockTTL     time.Duration
	LockWait    time.Duration

	// Postgres (credentials + objection examples)
	DatabaseURL string

	// Outreach pacing, engagements per second
	OutreachRate float64

	// Server
	Port       int
	HealthPort int
	LogLevel   string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Locations []struct {
		ID    string `yaml:"id"`
		Alias string `yaml:"alias"`
	} `yaml:"locations"`
	CRM struct {
		BaseURL      string   `yaml:"base_url"`
		ClientID     string   `yaml:"client_id"`
		ClientSecret string   `yaml:"client_secret"`
		RedirectURL  string   `yaml:"redirect_url"`
		Scopes       []string `yaml:"scopes"`
		MessageLimit int      `yaml:"message_limit"`
	} `yaml:"crm"`
	Engagement struct {
		PermissionTag       string `yaml:"permission_tag"`
		AgentEngagedTag     string `yaml:"agent_engaged_tag"`
		InteractedTag       string `yaml:"interacted_tag"`
		CeilingTag          string `yaml:"ceiling_tag"`
		MaxInteractions     int    `yaml:"max_interactions"`
		BlockOnAgentEngaged *bool  `yaml:"block_on_agent_engaged"`
		ResetCode           string `yaml:"reset_code"`
		Fields              struct {
			Interactions string `yaml:"interactions"`
			LeadState    string `yaml:"lead_state"`
		} `yaml:"fields"`
		FollowUpWindow   int    `yaml:"follow_up_window"`
		PromptPath       string `yaml:"prompt_path"`
		Prequalification []struct {
			Label    string `yaml:"label"`
			FieldKey string `yaml:"field_key"`
		} `yaml:"prequalification"`
		Operators struct {
			ContactIDs   []string `yaml:"contact_ids"`
			Emails       []string `yaml:"emails"`
			Exclude      []string `yaml:"exclude"`
			AutoDiscover bool     `yaml:"auto_discover"`
		} `yaml:"operators"`
	} `yaml:"engagement"`
	LLM struct {
		Provider       string   `yaml:"provider"`
		BaseURL        string   `yaml:"base_url"`
		APIKey         string   `yaml:"api_key"`
		APIVersion     string   `yaml:"api_version"`
		ChatModel      string   `yaml:"chat_model"`
		AnalysisModel  string   `yaml:"analysis_model"`
		EmbeddingModel string   `yaml:"embedding_model"`
		Temperature    *float64 `yaml:"temperature"`
	} `yaml:"llm"`
	Objections struct {
		Enabled   bool     `yaml:"enabled"`
		Threshold *float64 `yaml:"threshold"`
		TopK      int      `yaml:"top_k"`
		SeedPath  string   `yaml:"seed_path"`
	} `yaml:"objections"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// defaultPrequalification are the questions asked by the solar funnel.
var defaultPrequalification = []PrequalField{
	{Label: "Roof age", FieldKey: "contact.how_old_is_your_roof"},
	{Label: "Credit score above 640", FieldKey: "contact.is_your_credit_more_than_640"},
	{Label: "Average monthly electric bill", FieldKey: "contact.what_is_your_average_electricity_bill"},
	{Label: "Annual household income", FieldKey: "contact.household_income"},
	{Label: "Homeowner", FieldKey: "contact.are_your_a_homeowner"},
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings. A .env file in the working
// directory is loaded first if present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		GeocodeURL:   envOrDefault("GEOCODE_URL", ""),
		RedisURL:     firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:  firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "engage:events")),
		DedupTTL:     envOrDefaultDuration("DEDUP_TTL", 24*time.Hour),
		LockTTL:      envOrDefaultDuration("LOCK_TTL", 2*time.Minute),
		LockWait:     envOrDefaultDuration("LOCK_WAIT", 30*time.Second),
		DatabaseURL:  firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),
		OutreachRate: envOrDefaultFloat("OUTREACH_RATE", 0.5),
		Port:         envOrDefaultInt("PORT", 8080),
		HealthPort:   envOrDefaultInt("HEALTH_PORT", 8081),
		LogLevel:     envOrDefault("LOG_LEVEL", "info"),
	}

	for _, l := range raw.Locations {
		id := strings.TrimSpace(l.ID)
		if id == "" {
			// Skip locations left empty in YAML
			continue
		}
		alias := l.Alias
		if alias == "" {
			alias = id
		}
		cfg.Locations = append(cfg.Locations, LocationConfig{ID: id, Alias: alias})
	}
	if len(cfg.Locations) == 0 {
		return nil, fmt.Errorf("no locations configured: check config.yaml and environment variables")
	}

	cfg.CRM = CRMConfig{
		BaseURL:      firstNonEmpty(raw.CRM.BaseURL, envOrDefault("CRM_BASE_URL", "https://services.leadconnectorhq.com")),
		ClientID:     firstNonEmpty(raw.CRM.ClientID, os.Getenv("CRM_CLIENT_ID")),
		ClientSecret: firstNonEmpty(raw.CRM.ClientSecret, os.Getenv("CRM_CLIENT_SECRET")),
		RedirectURL:  firstNonEmpty(raw.CRM.RedirectURL, os.Getenv("CRM_REDIRECT_URL")),
		Scopes:       raw.CRM.Scopes,
		MessageLimit: raw.CRM.MessageLimit,
		Timeout:      envOrDefaultDuration("CRM_TIMEOUT", 30*time.Second),
	}
	if cfg.CRM.MessageLimit <= 0 {
		cfg.CRM.MessageLimit = 50
	}
	if cfg.CRM.ClientID == "" || cfg.CRM.ClientSecret == "" {
		return nil, fmt.Errorf("crm client_id and client_secret are required")
	}

	e := raw.Engagement
	cfg.Engagement = EngagementConfig{
		PermissionTag:       firstNonEmpty(e.PermissionTag, "sunny"),
		AgentEngagedTag:     firstNonEmpty(e.AgentEngagedTag, "AVA-Engaged"),
		InteractedTag:       firstNonEmpty(e.InteractedTag, "AVA-Interacted"),
		CeilingTag:          firstNonEmpty(e.CeilingTag, "AVA-MaxSMSConvoReached"),
		MaxInteractions:     e.MaxInteractions,
		BlockOnAgentEngaged: e.BlockOnAgentEngaged == nil || *e.BlockOnAgentEngaged,
		ResetCode:           firstNonEmpty(e.ResetCode, "*RESET#"),
		InteractionField:    firstNonEmpty(e.Fields.Interactions, "contact.number_of_interactions"),
		LeadStateField:      firstNonEmpty(e.Fields.LeadState, "contact.lead_state"),
		FollowUpWindow:      e.FollowUpWindow,
		BasePrompt:          DefaultBasePrompt,
		Operators: OperatorsConfig{
			ContactIDs:   e.Operators.ContactIDs,
			Emails:       e.Operators.Emails,
			Exclude:      e.Operators.Exclude,
			AutoDiscover: e.Operators.AutoDiscover,
		},
	}
	if cfg.Engagement.MaxInteractions <= 0 {
		cfg.Engagement.MaxInteractions = 15
	}
	if e.PromptPath != "" {
		prompt, err := os.ReadFile(e.PromptPath)
		if err != nil {
			return nil, fmt.Errorf("read prompt file %s: %w", e.PromptPath, err)
		}
		cfg.Engagement.BasePrompt = string(prompt)
	}
	for _, p := range e.Prequalification {
		if p.FieldKey == "" {
			continue
		}
		cfg.Engagement.Prequalification = append(cfg.Engagement.Prequalification, PrequalField{
			Label:    firstNonEmpty(p.Label, p.FieldKey),
			FieldKey: p.FieldKey,
		})
	}
	if len(cfg.Engagement.Prequalification) == 0 {
		cfg.Engagement.Prequalification = defaultPrequalification
	}

	l := raw.LLM
	cfg.LLM = LLMConfig{
		Provider:       firstNonEmpty(l.Provider, envOrDefault("LLM_PROVIDER", "openai")),
		BaseURL:        firstNonEmpty(l.BaseURL, os.Getenv("LLM_BASE_URL")),
		APIKey:         firstNonEmpty(l.APIKey, os.Getenv("OPENAI_API_KEY"), os.Getenv("AZURE_OPENAI_API_KEY")),
		APIVersion:     l.APIVersion,
		ChatModel:      firstNonEmpty(l.ChatModel, envOrDefault("LLM_CHAT_MODEL", "gpt-4o")),
		AnalysisModel:  l.AnalysisModel,
		EmbeddingModel: firstNonEmpty(l.EmbeddingModel, "text-embedding-3-small"),
		Temperature:    0.7,
		Timeout:        envOrDefaultDuration("LLM_TIMEOUT", 120*time.Second),
	}
	if l.Temperature != nil {
		cfg.LLM.Temperature = *l.Temperature
	}
	if cfg.LLM.Provider != "openai" && cfg.LLM.Provider != "azure" {
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	cfg.Objections = ObjectionConfig{
		Enabled:   raw.Objections.Enabled,
		Threshold: 0.5,
		TopK:      raw.Objections.TopK,
		SeedPath:  raw.Objections.SeedPath,
	}
	if t := raw.Objections.Threshold; t != nil {
		if *t < 0 || *t > 1 {
			return nil, fmt.Errorf("objections threshold %v must be between 0 and 1", *t)
		}
		cfg.Objections.Threshold = *t
	}

	return cfg, nil
}

// LocationIDs returns the IDs of all configured locations.
func (c *Config) LocationIDs() []string {
	ids := make([]string, len(c.Locations))
	for i, l := range c.Locations {
		ids[i] = l.ID
	}
	return ids
}

// Location returns the location with the given ID or alias.
func (c *Config) Location(idOrAlias string) (LocationConfig, bool) {
	for _, l := range c.Locations {
		if l.ID == idOrAlias || strings.EqualFold(l.Alias, idOrAlias) {
			return l, true
		}
	}
	return LocationConfig{}, false
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
