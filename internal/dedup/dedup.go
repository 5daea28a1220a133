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

// Package dedup keeps CRM webhook retries from being processed twice and
// serialises work on a single contact across service replicas.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long an accepted message ID is remembered. The CRM
	// gives up retrying a webhook delivery well within a day.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "engage:seen:"
)

// Filter drops webhook redeliveries of a message that was already queued.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a Filter. A non-positive ttl means DefaultTTL.
func NewFilter(rdb *redis.Client, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Filter{rdb: rdb, ttl: ttl}
}

// IsNew claims messageID for this delivery. It reports false when an
// earlier delivery of the same message already claimed it, in which case
// the webhook acknowledges without queueing the event again.
func (f *Filter) IsNew(ctx context.Context, messageID string) (bool, error) {
	claimed, err := f.rdb.SetNX(ctx, keyPrefix+messageID, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim message %s: %w", messageID, err)
	}
	return claimed, nil
}

// Forget releases the claim on messageID so the CRM's next retry is
// accepted. The webhook calls it when the event could not be queued.
func (f *Filter) Forget(ctx context.Context, messageID string) error {
	if err := f.rdb.Del(ctx, keyPrefix+messageID).Err(); err != nil {
		return fmt.Errorf("release message %s: %w", messageID, err)
	}
	return nil
}
