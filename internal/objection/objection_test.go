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

package objection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/avasales/engage/internal/models"
)

// --- Mocks ---

type mockClassifier struct {
	result bool
	err    error
	seen   []models.Turn
	calls  int
}

func (m *mockClassifier) IsObjection(_ context.Context, recent []models.Turn) (bool, error) {
	m.calls++
	m.seen = recent
	return m.result, m.err
}

type mockRetriever struct {
	examples []Example
	err      error
	query    string
	calls    int
}

func (m *mockRetriever) Retrieve(_ context.Context, query string, _ int) ([]Example, error) {
	m.calls++
	m.query = query
	return m.examples, m.err
}

var objectionHistory = []models.Turn{
	{Role: models.RoleAssistant, Content: "Hi! Interested in solar?"},
	{Role: models.RoleUser, Content: "Maybe"},
	{Role: models.RoleAssistant, Content: "Great, we can save you money."},
	{Role: models.RoleUser, Content: "It sounds too expensive for us."},
}

// --- Tests ---

func TestAugment_AppendsExamplesAboveThreshold(t *testing.T) {
	classifier := &mockClassifier{result: true}
	retriever := &mockRetriever{examples: []Example{
		{Objection: "It's too expensive", Rebuttal: "Most customers pay nothing upfront.", Score: 0.91},
		{Objection: "I can't afford it", Rebuttal: "Financing starts below your current bill.", Score: 0.62},
		{Objection: "I rent my home", Rebuttal: "irrelevant", Score: 0.31},
	}}
	a := NewAugmenter(classifier, retriever, Config{})

	got := a.Augment(context.Background(), "BASE", objectionHistory)

	if !strings.HasPrefix(got, "BASE\n") {
		t.Errorf("base context must be preserved, got %q", got)
	}
	if !strings.Contains(got, "Objection 1: It's too expensive\nRebuttal: Most customers pay nothing upfront.") {
		t.Errorf("first example missing:\n%s", got)
	}
	if !strings.Contains(got, "Objection 2: I can't afford it") {
		t.Errorf("second example missing:\n%s", got)
	}
	if strings.Contains(got, "I rent my home") {
		t.Error("example below the similarity floor must be dropped")
	}
	if len(classifier.seen) != 3 {
		t.Errorf("classifier should see the last 3 turns, saw %d", len(classifier.seen))
	}
	if retriever.query != "It sounds too expensive for us." {
		t.Errorf("retrieval query = %q, want last user message", retriever.query)
	}
}

// TestAugment_ClassifierFailureIsNotObjection verifies fail-closed
// classification.
func TestAugment_ClassifierFailureIsNotObjection(t *testing.T) {
	retriever := &mockRetriever{}
	a := NewAugmenter(&mockClassifier{err: errors.New("parse objection classification \"??\"")}, retriever, Config{})

	got := a.Augment(context.Background(), "BASE", objectionHistory)
	if got != "BASE" {
		t.Errorf("context must be unchanged, got %q", got)
	}
	if retriever.calls != 0 {
		t.Error("retrieval must not run after a failed classification")
	}
}

func TestAugment_Unchanged(t *testing.T) {
	tests := []struct {
		name       string
		history    []models.Turn
		classifier *mockClassifier
		retriever  *mockRetriever
		wantClass  int
	}{
		{
			name:       "empty history",
			classifier: &mockClassifier{result: true},
			retriever:  &mockRetriever{},
		},
		{
			name:       "empty latest message",
			history:    []models.Turn{{Role: models.RoleUser, Content: "  "}},
			classifier: &mockClassifier{result: true},
			retriever:  &mockRetriever{},
		},
		{
			name:       "not an objection",
			history:    objectionHistory,
			classifier: &mockClassifier{result: false},
			retriever:  &mockRetriever{},
			wantClass:  1,
		},
		{
			name:       "all below threshold",
			history:    objectionHistory,
			classifier: &mockClassifier{result: true},
			retriever:  &mockRetriever{examples: []Example{{Objection: "x", Rebuttal: "y", Score: 0.49}}},
			wantClass:  1,
		},
		{
			name:       "retrieval error",
			history:    objectionHistory,
			classifier: &mockClassifier{result: true},
			retriever:  &mockRetriever{err: errors.New("db down")},
			wantClass:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAugmenter(tt.classifier, tt.retriever, Config{})
			if got := a.Augment(context.Background(), "BASE", tt.history); got != "BASE" {
				t.Errorf("expected unchanged context, got %q", got)
			}
			if tt.classifier.calls != tt.wantClass {
				t.Errorf("classifier calls = %d, want %d", tt.classifier.calls, tt.wantClass)
			}
		})
	}
}

func TestNewAugmenter_Threshold(t *testing.T) {
	zero, strict, negative := 0.0, 0.9, -1.0
	tests := []struct {
		name string
		cfg  Config
		want float64
	}{
		{name: "unset uses default", cfg: Config{}, want: DefaultThreshold},
		{name: "zero keeps everything", cfg: Config{Threshold: &zero}, want: 0},
		{name: "explicit", cfg: Config{Threshold: &strict}, want: 0.9},
		{name: "negative uses default", cfg: Config{Threshold: &negative}, want: DefaultThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewAugmenter(&mockClassifier{}, &mockRetriever{}, tt.cfg).threshold; got != tt.want {
				t.Errorf("threshold = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAugment_ZeroThresholdKeepsLowScores(t *testing.T) {
	zero := 0.0
	retriever := &mockRetriever{examples: []Example{{Objection: "I rent my home", Rebuttal: "Community solar works for renters.", Score: 0.1}}}
	a := NewAugmenter(&mockClassifier{result: true}, retriever, Config{Threshold: &zero})

	got := a.Augment(context.Background(), "BASE", objectionHistory)
	if !strings.Contains(got, "Objection 1: I rent my home") {
		t.Errorf("low-score example should be kept with a zero threshold:\n%s", got)
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := vectorLiteral([]float32{0.5, -1, 0.25}); got != "[0.5,-1,0.25]" {
		t.Errorf("vectorLiteral = %q", got)
	}
	if got := vectorLiteral(nil); got != "[]" {
		t.Errorf("vectorLiteral(nil) = %q", got)
	}
}

func TestLoadExamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objections.yaml")
	content := `objections:
  - objection: "It's too expensive"
    rebuttal: "Most customers pay nothing upfront."
  - objection: "I need to talk to my spouse"
    rebuttal: "Happy to set a time when you're both available."
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	examples, err := LoadExamples(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(examples) != 2 || examples[1].Objection != "I need to talk to my spouse" {
		t.Errorf("unexpected examples: %+v", examples)
	}
}
