// Package ratelimit implements a fixed-window request limiter backed by
// Redis counters. Buckets are keyed by caller identity (usually client IP)
// and the window start, so replicas share one budget without coordination.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/starpay-service/starpay_service/pkg/logger"
)

// Store is the counter surface the limiter needs
type Store interface {
	IncrBy(ctx context.Context, key string, value int64) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) error
}

// Config tunes one limiter
type Config struct {
	Limit  int64
	Window time.Duration
}

// Result describes one admission decision
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per bucket. Redis being unreachable
// never rejects traffic; the limiter fails open like the risk counters do.
type Limiter struct {
	store  Store
	config Config
	logger *logger.Logger
	now    func() time.Time
}

// NewLimiter creates a limiter
func NewLimiter(store Store, config Config, logger *logger.Logger) *Limiter {
	return &Limiter{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// Allow counts one request against the bucket's current window
func (l *Limiter) Allow(ctx context.Context, bucket string) Result {
	if l.config.Limit <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	now := l.now().UTC()
	windowStart := now.Truncate(l.config.Window)
	key := fmt.Sprintf("ratelimit:%s:%d", bucket, windowStart.Unix())

	count, err := l.store.IncrBy(ctx, key, 1)
	if err != nil {
		l.logger.Warn("Rate limit store unavailable, admitting request",
			"bucket", bucket,
			"error", err,
		)
		return Result{Allowed: true, Remaining: -1}
	}
	if count == 1 {
		// Keyed by window start, so the TTL only needs to cover cleanup.
		if err := l.store.Expire(ctx, key, l.config.Window*2); err != nil {
			l.logger.Warn("Failed to set rate limit key TTL", "key", key, "error", err)
		}
	}

	remaining := l.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	if count > l.config.Limit {
		return Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: windowStart.Add(l.config.Window).Sub(now),
		}
	}
	return Result{Allowed: true, Remaining: remaining}
}
