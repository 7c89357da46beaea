// Package quota tracks free attempts consumed since the last daily reset.
// The reset is lazy: it happens as a side effect of the first access check
// that observes a stale last_reset_at, at most once per calendar day.
package quota

import (
	"context"
	"fmt"

	"github.com/mediagate-bot/mediagate/internal/domain"
)

// DefaultDailyLimit is the free attempts allowed per quota period.
const DefaultDailyLimit = 5

// Result is the outcome of one quota consumption.
type Result struct {
	Allowed bool
	Used    int
	Limit   int
}

// Counter enforces the daily free-attempt limit.
type Counter struct {
	store domain.EntitlementStore
	clock domain.Clock
	limit int
}

// NewCounter creates a quota counter. limit <= 0 falls back to the default.
func NewCounter(store domain.EntitlementStore, clock domain.Clock, limit int) *Counter {
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	return &Counter{store: store, clock: clock, limit: limit}
}

// Limit returns the configured daily limit.
func (c *Counter) Limit() int { return c.limit }

// Consume spends one free attempt if any remain today. Denied checks do not
// mutate state, so repeated denials never push the counter past the limit.
// A store fault propagates as-is; the caller treats it as deny (fail closed).
func (c *Counter) Consume(ctx context.Context, userID string) (Result, error) {
	now := c.clock.Now()
	if _, err := c.store.Ensure(ctx, userID, now); err != nil {
		return Result{}, fmt.Errorf("ensure user: %w", err)
	}

	today := c.clock.DayStart(now)
	if err := c.store.ResetQuotaIfStale(ctx, userID, today); err != nil {
		return Result{}, fmt.Errorf("daily reset: %w", err)
	}

	used, allowed, err := c.store.ConsumeAttempt(ctx, userID, c.limit)
	if err != nil {
		return Result{}, fmt.Errorf("consume attempt: %w", err)
	}
	return Result{Allowed: allowed, Used: used, Limit: c.limit}, nil
}

// Peek reports today's usage without consuming an attempt. The lazy daily
// reset still applies, so a stale counter reads as zero.
func (c *Counter) Peek(ctx context.Context, userID string) (Result, error) {
	now := c.clock.Now()
	rec, err := c.store.Ensure(ctx, userID, now)
	if err != nil {
		return Result{}, fmt.Errorf("ensure user: %w", err)
	}

	used := rec.FreeAttemptsUsed
	if rec.LastResetAt.Before(c.clock.DayStart(now)) {
		used = 0
	}
	return Result{Allowed: used < c.limit, Used: used, Limit: c.limit}, nil
}
