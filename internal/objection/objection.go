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

// Package objection augments a generation context with example rebuttals
// when the lead's latest message is an objection.
package objection

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avasales/engage/internal/models"
)

const (
	// DefaultThreshold is the minimum similarity (0 to 1) an example needs.
	DefaultThreshold = 0.5
	// DefaultTopK is how many examples are retrieved.
	DefaultTopK = 3
	// classifyWindow is how many recent turns the classifier sees.
	classifyWindow = 3
)

// Example is an objection with its rebuttal. Score is the similarity to the
// query, set by retrieval.
type Example struct {
	Objection string  `yaml:"objection"`
	Rebuttal  string  `yaml:"rebuttal"`
	Score     float64 `yaml:"-"`
}

// Classifier decides whether recent turns end in an objection.
type Classifier interface {
	IsObjection(ctx context.Context, recent []models.Turn) (bool, error)
}

// Retriever returns examples ranked by similarity to query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Example, error)
}

// Config tunes retrieval. A nil Threshold means DefaultThreshold; zero
// keeps every retrieved example.
type Config struct {
	Threshold *float64
	TopK      int
}

// Augmenter appends rebuttal examples to a system context.
type Augmenter struct {
	classifier Classifier
	retriever  Retriever
	threshold  float64
	topK       int
}

// NewAugmenter creates an augmenter.
func NewAugmenter(classifier Classifier, retriever Retriever, cfg Config) *Augmenter {
	threshold := DefaultThreshold
	if cfg.Threshold != nil && *cfg.Threshold >= 0 {
		threshold = *cfg.Threshold
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Augmenter{
		classifier: classifier,
		retriever:  retriever,
		threshold:  threshold,
		topK:       topK,
	}
}

// Augment returns system with an objection block appended, or system
// unchanged. Classification and retrieval failures never block the reply.
func (a *Augmenter) Augment(ctx context.Context, system string, history []models.Turn) string {
	if len(history) == 0 || strings.TrimSpace(history[len(history)-1].Content) == "" {
		return system
	}

	recent := history
	if len(recent) > classifyWindow {
		recent = recent[len(recent)-classifyWindow:]
	}

	isObjection, err := a.classifier.IsObjection(ctx, recent)
	if err != nil {
		slog.Warn("objection classification failed, treating as no objection", "error", err)
		return system
	}
	if !isObjection {
		return system
	}

	query := lastUserMessage(history)
	if query == "" {
		return system
	}

	examples, err := a.retriever.Retrieve(ctx, query, a.topK)
	if err != nil {
		slog.Warn("objection retrieval failed", "error", err)
		return system
	}

	var kept []Example
	for _, ex := range examples {
		if ex.Score >= a.threshold {
			kept = append(kept, ex)
		}
	}

	slog.Info("objection detected",
		"retrieved", len(examples),
		"kept", len(kept),
		"threshold", a.threshold,
	)

	if len(kept) == 0 {
		return system
	}
	return system + "\n" + FormatExamples(kept)
}

// FormatExamples renders examples as a numbered objection/rebuttal block.
func FormatExamples(examples []Example) string {
	var b strings.Builder
	b.WriteString("## Objection handling\nThe lead raised an objection. These similar objections and rebuttals may help:\n\n")
	for i, ex := range examples {
		fmt.Fprintf(&b, "Objection %d: %s\nRebuttal: %s\n\n", i+1, strings.TrimSpace(ex.Objection), strings.TrimSpace(ex.Rebuttal))
	}
	return b.String()
}

func lastUserMessage(history []models.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return strings.TrimSpace(history[i].Content)
		}
	}
	return ""
}
