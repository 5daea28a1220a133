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

package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avasales/engage/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	// popTimeout bounds each BRPOP so shutdown is noticed promptly.
	popTimeout = 5 * time.Second
	// errorBackoff is the pause after a Redis failure.
	errorBackoff = 2 * time.Second
)

// HandlerFunc processes one event. A returned error is logged; the event
// is not requeued.
type HandlerFunc func(ctx context.Context, event models.Event) error

// Consumer pops events and hands them to a handler one at a time.
type Consumer struct {
	rdb       *redis.Client
	queueName string
	handler   HandlerFunc
}

// NewConsumer creates a consumer for the queue.
func NewConsumer(rdb *redis.Client, queueName string, handler HandlerFunc) *Consumer {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	return &Consumer{rdb: rdb, queueName: queueName, handler: handler}
}

// Run consumes until ctx is cancelled. The event being handled when ctx
// is cancelled runs to completion.
func (c *Consumer) Run(ctx context.Context) {
	slog.Info("queue consumer started", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue consumer stopped", "queue", c.queueName)
			return
		default:
		}

		result, err := c.rdb.BRPop(ctx, popTimeout, c.queueName).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			slog.Error("redis BRPOP failed", "queue", c.queueName, "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(errorBackoff):
			}
			continue
		}

		// BRPOP returns [key, value]
		if len(result) != 2 {
			continue
		}
		c.dispatch(context.WithoutCancel(ctx), result[1])
	}
}

func (c *Consumer) dispatch(ctx context.Context, payload string) {
	env, err := decodeEnvelope(payload)
	if err != nil {
		slog.Error("dropping malformed queue entry", "error", err, "payload_len", len(payload))
		return
	}

	slog.Debug("event dequeued",
		"envelope_id", env.ID,
		"queued_for", time.Since(env.EnqueuedAt).String(),
	)

	if err := c.handler(ctx, env.Event); err != nil {
		slog.Error("event handling failed",
			"envelope_id", env.ID,
			"type", env.Event.Type,
			"contact_id", env.Event.ContactID,
			"error", err,
		)
	}
}
