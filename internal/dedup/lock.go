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

package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a contact lock could not be acquired
// within the wait period.
var ErrLockTimeout = errors.New("timed out waiting for contact lock")

const lockPrefix = "engage:lock:"

// unlockScript deletes the lock only if we still own it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lock only if we still own it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// LockerConfig tunes the contact lock.
type LockerConfig struct {
	// TTL bounds how long a crashed holder can block the contact. A live
	// holder renews the lock every TTL/3, so work may outlast it.
	TTL time.Duration
	// Wait is how long Acquire polls before giving up.
	Wait time.Duration
	// Poll is the retry interval while waiting.
	Poll time.Duration
}

// Locker is a per-key Redis lock (SET NX PX with an owner token).
type Locker struct {
	rdb  *redis.Client
	ttl  time.Duration
	wait time.Duration
	poll time.Duration
}

// NewLocker creates a locker.
func NewLocker(rdb *redis.Client, cfg LockerConfig) *Locker {
	l := &Locker{rdb: rdb, ttl: cfg.TTL, wait: cfg.Wait, poll: cfg.Poll}
	if l.ttl <= 0 {
		l.ttl = 2 * time.Minute
	}
	if l.wait <= 0 {
		l.wait = 30 * time.Second
	}
	if l.poll <= 0 {
		l.poll = 100 * time.Millisecond
	}
	return l
}

// Acquire blocks until the lock for key is held, ctx is done, or the wait
// period expires. The lock is kept alive until the returned release func
// is called; calling it more than once is a no-op.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := lockPrefix + key
	token := uuid.New().String()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, lockKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock SETNX: %w", err)
		}
		if ok {
			stop := make(chan struct{})
			stopped := make(chan struct{})
			go l.keepAlive(lockKey, token, stop, stopped)

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-stopped
					l.release(lockKey, token)
				})
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.poll):
		}
	}
}

// keepAlive extends the lock until stop is closed or ownership is lost.
func (l *Locker) keepAlive(lockKey, token string, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(renewInterval(l.ttl))
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		n, err := renewScript.Run(ctx, l.rdb, []string{lockKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		if err != nil {
			// Transient; the next tick retries before the TTL runs out.
			slog.Warn("failed to renew contact lock", "key", lockKey, "error", err)
			continue
		}
		if n == 0 {
			slog.Error("contact lock lost before release", "key", lockKey)
			return
		}
	}
}

func renewInterval(ttl time.Duration) time.Duration {
	if d := ttl / 3; d > 0 {
		return d
	}
	return time.Millisecond
}

func (l *Locker) release(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := unlockScript.Run(ctx, l.rdb, []string{lockKey}, token).Err(); err != nil {
		slog.Warn("failed to release contact lock", "key", lockKey, "error", err)
	}
}
