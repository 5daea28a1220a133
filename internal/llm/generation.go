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

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/avasales/engage/internal/models"
)

const responseInstruction = `Respond with a JSON object that has exactly one field, "response", ` +
	`whose value is the message to send to the lead. Example: {"response": "your message here"}`

const objectionInstruction = `You classify sales conversations. Decide whether the lead's latest ` +
	`message raises an objection (a concern, hesitation or reason not to proceed). ` +
	`Respond with a JSON object of the form {"is_objection": true} or {"is_objection": false}.`

const leadStatePrompt = `Analyze the following conversation history and determine the lead's current state.
The possible states are:
%s
Conversation history:
%s

Respond with a JSON object in the following format:
{"lead_state": "STATE_NAME"}
Where STATE_NAME is one of the states listed above.`

// GenerationError is a failed or malformed reply generation. A reply that
// fails validation is never sent.
type GenerationError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Complete generates the next reply for the lead.
func (c *Client) Complete(ctx context.Context, system string, history []models.Turn) (string, error) {
	messages := make([]chatMessage, 0, len(history)+1)
	messages = append(messages, chatMessage{Role: "system", Content: system + "\n\n" + responseInstruction})
	for _, t := range history {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}

	raw, err := c.chatJSON(ctx, c.chatModel, messages, c.temperature, 0)
	if err != nil {
		return "", &GenerationError{Reason: "backend call", Err: err}
	}

	var out struct {
		Response *string `json:"response"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", &GenerationError{Reason: "reply is not a JSON object", Raw: raw, Err: err}
	}
	if out.Response == nil || strings.TrimSpace(*out.Response) == "" {
		return "", &GenerationError{Reason: `reply has no "response" field`, Raw: raw}
	}
	return strings.TrimSpace(*out.Response), nil
}

// IsObjection classifies the latest exchange. Callers decide how to treat
// errors; the bool is only meaningful when err is nil.
func (c *Client) IsObjection(ctx context.Context, recent []models.Turn) (bool, error) {
	messages := []chatMessage{
		{Role: "system", Content: objectionInstruction},
		{Role: "user", Content: transcript(recent)},
	}

	raw, err := c.chatJSON(ctx, c.analysisModel, messages, 0, 20)
	if err != nil {
		return false, fmt.Errorf("classify objection: %w", err)
	}

	var out struct {
		IsObjection *bool `json:"is_objection"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return false, fmt.Errorf("parse objection classification %q: %w", raw, err)
	}
	if out.IsObjection == nil {
		return false, fmt.Errorf("objection classification has no is_objection field: %q", raw)
	}
	return *out.IsObjection, nil
}

// DetermineLeadState asks the backend where the lead stands.
func (c *Client) DetermineLeadState(ctx context.Context, history []models.Turn) (models.LeadState, error) {
	var states strings.Builder
	for _, info := range models.LeadStates {
		fmt.Fprintf(&states, "- %s: %s\n", info.State.Label(), info.Description)
	}
	prompt := fmt.Sprintf(leadStatePrompt, states.String(), transcript(history))

	raw, err := c.chatJSON(ctx, c.analysisModel, []chatMessage{{Role: "user", Content: prompt}}, 0, 50)
	if err != nil {
		return "", fmt.Errorf("determine lead state: %w", err)
	}

	var out struct {
		LeadState string `json:"lead_state"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", fmt.Errorf("parse lead state %q: %w", raw, err)
	}
	state, ok := models.ParseLeadState(out.LeadState)
	if !ok {
		return "", fmt.Errorf("invalid lead state returned: %q", out.LeadState)
	}
	return state, nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := struct {
		Model string `json:"model,omitempty"`
		Input string `json:"input"`
	}{Input: text}
	if c.provider != ProviderAzure {
		req.Model = c.embeddingModel
	}

	var resp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, c.embeddingModel, "/embeddings", req, &resp); err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embed: empty embedding in response")
	}
	return resp.Data[0].Embedding, nil
}

func transcript(turns []models.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}
