// Package ratelimit throttles dependency reports per client across one or
// more collector instances.
package ratelimit

import (
	"context"
	"time"
)

// Store keeps fixed-window counters.
//   - memory: single instance
//   - postgres: shares the usage database between instances
//   - redis: any Redis-compatible server
type Store interface {
	// Get returns the current count for key and when its window ends
	Get(ctx context.Context, key string) (int64, time.Time, error)

	// Increment bumps the counter for key, opening a window of the given
	// length when none is active, and returns the new count
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	// Reset drops the counter for key
	Reset(ctx context.Context, key string) error

	// Close releases resources held by the store
	Close() error
}

// Result is the outcome of a single Check
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	Limit     int64
}

// Check counts one hit against key and reports whether it fits in limit
func Check(ctx context.Context, store Store, key string, limit int64, window time.Duration) (*Result, error) {
	count, err := store.Increment(ctx, key, window)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Allowed:   count <= limit,
		Remaining: limit - count,
		Limit:     limit,
		ResetAt:   time.Now().Add(window),
	}
	if _, resetAt, err := store.Get(ctx, key); err == nil && !resetAt.IsZero() {
		result.ResetAt = resetAt
	}

	if result.Remaining < 0 {
		result.Remaining = 0
	}

	return result, nil
}
