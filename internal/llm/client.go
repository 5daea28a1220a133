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

// Package llm talks to an OpenAI-compatible chat completions backend
// (OpenAI itself or an Azure OpenAI deployment) under a JSON-object
// output contract.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"

	defaultOpenAIBase   = "https://api.openai.com/v1"
	defaultAzureVersion = "2024-02-01"
)

// Config selects the backend and models.
type Config struct {
	Provider   string
	BaseURL    string
	APIKey     string
	APIVersion string

	// ChatModel generates replies. On Azure it names the deployment.
	ChatModel string
	// AnalysisModel runs classification and lead-state calls.
	AnalysisModel  string
	EmbeddingModel string

	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is a chat completions client.
type Client struct {
	provider       string
	baseURL        string
	apiKey         string
	apiVersion     string
	chatModel      string
	analysisModel  string
	embeddingModel string
	temperature    float64
	client         *http.Client
}

// NewClient creates a generation client.
func NewClient(cfg Config) *Client {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderOpenAI
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" && provider == ProviderOpenAI {
		base = defaultOpenAIBase
	}
	version := cfg.APIVersion
	if version == "" {
		version = defaultAzureVersion
	}
	analysis := cfg.AnalysisModel
	if analysis == "" {
		analysis = cfg.ChatModel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		provider:       provider,
		baseURL:        base,
		apiKey:         cfg.APIKey,
		apiVersion:     version,
		chatModel:      cfg.ChatModel,
		analysisModel:  analysis,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		client:         httpClient,
	}
}

// HTTPError is a non-200 backend response.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model,omitempty"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatJSON runs a chat completion constrained to a JSON object and returns
// the raw message content.
func (c *Client) chatJSON(ctx context.Context, model string, messages []chatMessage, temperature float64, maxTokens int) (string, error) {
	req := chatRequest{
		Messages:       messages,
		ResponseFormat: &responseFormat{Type: "json_object"},
		Temperature:    temperature,
		MaxTokens:      maxTokens,
	}
	if c.provider != ProviderAzure {
		req.Model = model
	}

	var resp chatResponse
	if err := c.post(ctx, model, "/chat/completions", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, model, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(model, path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderAzure {
		req.Header.Set("api-key", c.apiKey)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", c.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.provider, err)
	}
	return nil
}

func (c *Client) endpoint(model, path string) string {
	if c.provider != ProviderAzure {
		return c.baseURL + path
	}
	return fmt.Sprintf("%s/openai/deployments/%s%s?api-version=%s",
		c.baseURL, url.PathEscape(model), path, url.QueryEscape(c.apiVersion))
}
