package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter throttles failed logins per username: MaxAttempts failures
// inside Window lock the account out for the remainder of the window.
type LoginLimiter interface {
	// Allowed reports whether a login attempt may proceed.
	Allowed(ctx context.Context, username string) (bool, error)
	// RecordFailure counts one failed attempt.
	RecordFailure(ctx context.Context, username string) error
	// Clear resets the counter after a successful login.
	Clear(ctx context.Context, username string) error
}

const (
	MaxAttempts = 5
	Window      = 5 * time.Minute
)

// RedisLimiter shares lockout state across replicas.
type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func rlKey(username string) string { return "alibi:login_fail:" + username }

func (l *RedisLimiter) Allowed(ctx context.Context, username string) (bool, error) {
	n, err := l.rdb.Get(ctx, rlKey(username)).Int()
	if err == redis.Nil {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("ratelimit redis: %w", err)
	}
	return n < MaxAttempts, nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, username string) error {
	key := rlKey(username)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ratelimit redis: %w", err)
	}
	_ = incr
	return nil
}

func (l *RedisLimiter) Clear(ctx context.Context, username string) error {
	return l.rdb.Del(ctx, rlKey(username)).Err()
}

// MemoryLimiter is the single-process fallback.
type MemoryLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{failures: map[string][]time.Time{}, now: time.Now}
}

func (l *MemoryLimiter) Allowed(_ context.Context, username string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(username)) < MaxAttempts, nil
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[username] = append(l.prune(username), l.now())
	return nil
}

func (l *MemoryLimiter) Clear(_ context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, username)
	return nil
}

func (l *MemoryLimiter) prune(username string) []time.Time {
	cutoff := l.now().Add(-Window)
	var kept []time.Time
	for _, t := range l.failures[username] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.failures[username] = kept
	return kept
}
