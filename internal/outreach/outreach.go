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

// Package outreach starts conversations with a list of contacts, pacing
// the sends so the CRM and the generation backend are not flooded.
package outreach

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/avasales/engage/internal/orchestrator"
	"golang.org/x/time/rate"
)

// Engager starts an engagement with one contact.
type Engager interface {
	Engage(ctx context.Context, contactID string) orchestrator.Result
}

// Request defines the scope of an outreach run.
type Request struct {
	LocationID string
	ContactIDs []string
}

// Result summarises a completed run.
type Result struct {
	LocationID string
	Contacts   []ContactResult
	Delivered  int
	Blocked    int
	Failed     int
	Skipped    int
	Elapsed    time.Duration
}

// ContactResult is the outcome for one contact.
type ContactResult struct {
	ContactID string
	Outcome   orchestrator.Outcome
	Reason    string
	Err       error
}

// RunnerConfig holds dependencies for the outreach runner.
type RunnerConfig struct {
	Engager Engager
	// Locker, when set, serialises with the webhook consumer.
	Locker orchestrator.Locker
	// PerSecond is the sustained engagement rate. Defaults to 1.
	PerSecond float64
	Burst     int
}

// Runner performs outreach runs.
type Runner struct {
	engager Engager
	locker  orchestrator.Locker
	limiter *rate.Limiter
}

// NewRunner creates an outreach runner.
func NewRunner(cfg RunnerConfig) *Runner {
	perSecond := cfg.PerSecond
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Runner{
		engager: cfg.Engager,
		locker:  cfg.Locker,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Run engages every contact in the request. A cancelled ctx stops the run
// and returns the partial result with ctx's error.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	slog.Info("starting outreach",
		"location", req.LocationID,
		"contacts", len(req.ContactIDs),
	)

	result := &Result{LocationID: req.LocationID}
	seen := make(map[string]bool, len(req.ContactIDs))

	for _, id := range req.ContactIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			result.Skipped++
			continue
		}
		seen[id] = true

		if err := r.limiter.Wait(ctx); err != nil {
			result.Elapsed = time.Since(start)
			return result, err
		}

		cr := r.engageOne(ctx, req.LocationID, id)
		result.Contacts = append(result.Contacts, cr)
		switch cr.Outcome {
		case orchestrator.OutcomeDelivered, orchestrator.OutcomeEscalated:
			result.Delivered++
		case orchestrator.OutcomeFailed:
			result.Failed++
		default:
			result.Blocked++
		}
	}

	result.Elapsed = time.Since(start)

	slog.Info("outreach complete",
		"location", req.LocationID,
		"delivered", result.Delivered,
		"blocked", result.Blocked,
		"failed", result.Failed,
		"skipped", result.Skipped,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

func (r *Runner) engageOne(ctx context.Context, locationID, contactID string) ContactResult {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, locationID+":"+contactID)
		if err != nil {
			slog.Warn("could not lock contact for outreach",
				"contact_id", contactID,
				"error", err,
			)
			return ContactResult{ContactID: contactID, Outcome: orchestrator.OutcomeFailed, Err: err}
		}
		defer release()
	}

	res := r.engager.Engage(ctx, contactID)
	slog.Info("contact engaged",
		"location", locationID,
		"contact_id", contactID,
		"outcome", res.Outcome,
		"reason", res.Reason,
	)
	return ContactResult{
		ContactID: contactID,
		Outcome:   res.Outcome,
		Reason:    res.Reason,
		Err:       res.Err,
	}
}
