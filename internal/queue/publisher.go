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

// Package queue carries webhook events from the HTTP handler to the single
// engagement consumer through a Redis list. Producers LPUSH and the
// consumer BRPOPs, so events are handled in arrival order, one at a time.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/avasales/engage/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list events are pushed to.
const DefaultQueueName = "engage:events"

// Envelope wraps an event on the queue.
type Envelope struct {
	ID         string       `json:"id"`
	Event      models.Event `json:"event"`
	EnqueuedAt time.Time    `json:"enqueued_at"`
}

// Publisher pushes events onto the queue.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates a new Redis publisher targeting the specified queue.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// Publish enqueues an event and returns the envelope id.
func (p *Publisher) Publish(ctx context.Context, event models.Event) (string, error) {
	env := Envelope{
		ID:         uuid.New().String(),
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal event envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, data).Err(); err != nil {
		return "", fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published event to queue",
		"envelope_id", env.ID,
		"type", event.Type,
		"location", event.LocationID,
		"contact_id", event.ContactID,
		"message_id", event.MessageID,
		"queue", p.queueName,
	)

	return env.ID, nil
}

// Depth returns the number of events waiting on the queue.
func (p *Publisher) Depth(ctx context.Context) (int64, error) {
	return p.rdb.LLen(ctx, p.queueName).Result()
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

// decodeEnvelope parses a queued payload.
func decodeEnvelope(payload string) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event envelope: %w", err)
	}
	if env.Event.Type == "" || env.Event.LocationID == "" {
		return Envelope{}, fmt.Errorf("decode event envelope: missing event type or location")
	}
	return env, nil
}
