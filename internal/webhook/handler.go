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

// Package webhook receives LeadConnector conversation webhooks. Accepted
// events are deduplicated by message ID and queued for the engagement
// consumer; the HTTP response never waits on engagement itself.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/avasales/engage/internal/metrics"
	"github.com/avasales/engage/internal/models"
)

// maxBodyBytes caps webhook payloads.
const maxBodyBytes = 1 << 20

// Path is where the CRM delivers webhooks.
const Path = "/webhook/leadconnector"

// Publisher enqueues accepted events.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) (string, error)
}

// Deduper remembers message IDs that were already accepted.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
	Forget(ctx context.Context, messageID string) error
}

// Handler processes CRM webhook deliveries.
type Handler struct {
	publisher Publisher
	filter    Deduper
	accepted  map[string]bool
	metrics   *metrics.Recorder
}

// NewHandler creates a webhook handler. An empty acceptedLocations list
// accepts every location.
func NewHandler(publisher Publisher, filter Deduper, acceptedLocations []string, rec *metrics.Recorder) *Handler {
	accepted := make(map[string]bool, len(acceptedLocations))
	for _, id := range acceptedLocations {
		accepted[strings.TrimSpace(id)] = true
	}
	return &Handler{
		publisher: publisher,
		filter:    filter,
		accepted:  accepted,
		metrics:   rec,
	}
}

// ServeWebhook handles one delivery.
//
// Responses:
//   - 200 {"status":"accepted"}: queued for processing
//   - 200 {"status":"rejected"}: location not served here
//   - 200 {"status":"duplicate"}: message ID already accepted
//   - 400 {"status":"invalid"}: body is not an event
//   - 503 {"status":"error"}: could not queue, the CRM should retry
func (h *Handler) ServeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read webhook body", "error", err)
		h.respond(r.Context(), w, http.StatusBadRequest, "invalid")
		return
	}

	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil || event.Type == "" {
		slog.Info("webhook body is not an event",
			"body_len", len(body),
		)
		h.respond(r.Context(), w, http.StatusBadRequest, "invalid")
		return
	}

	if len(h.accepted) > 0 && !h.accepted[event.LocationID] {
		slog.Info("rejecting event for unaccepted location",
			"location", event.LocationID,
			"type", event.Type,
		)
		h.respond(r.Context(), w, http.StatusOK, "rejected")
		return
	}

	ctx := r.Context()
	if event.MessageID != "" {
		isNew, err := h.filter.IsNew(ctx, event.MessageID)
		if err != nil {
			slog.Warn("dedup check failed, proceeding", "error", err)
		} else if !isNew {
			slog.Debug("skipping duplicate message", "message_id", event.MessageID)
			h.respond(ctx, w, http.StatusOK, "duplicate")
			return
		}
	}

	if _, err := h.publisher.Publish(ctx, event); err != nil {
		slog.Error("publish failed",
			"message_id", event.MessageID,
			"contact_id", event.ContactID,
			"error", err,
		)
		if event.MessageID != "" {
			if err := h.filter.Forget(ctx, event.MessageID); err != nil {
				slog.Warn("failed to clear dedup key", "message_id", event.MessageID, "error", err)
			}
		}
		h.respond(ctx, w, http.StatusServiceUnavailable, "error")
		return
	}

	h.respond(ctx, w, http.StatusOK, "accepted")
}

func (h *Handler) respond(ctx context.Context, w http.ResponseWriter, code int, status string) {
	h.metrics.WebhookEvent(ctx, status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

// Serve starts the webhook HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, handler.ServeWebhook)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind webhook port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("webhook server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("webhook server listening", "port", port, "path", Path)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("webhook server error", "error", err)
		}
	}()

	return ready, nil
}
