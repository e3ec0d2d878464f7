// Package quota enforces the per-account daily call cap.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/internal/kvstore"
)

// Checker counts upstream-bound calls per account and UTC day in a shared Store
type Checker struct {
	store kvstore.Store
	limit int64
	now   func() time.Time
}

// NewChecker creates a checker. A limit <= 0 disables the cap.
func NewChecker(store kvstore.Store, limit int) *Checker {
	return &Checker{
		store: store,
		limit: int64(limit),
		now:   time.Now,
	}
}

// WithClock replaces the clock used to pick the day bucket
func (c *Checker) WithClock(now func() time.Time) *Checker {
	c.now = now
	return c
}

// CheckAndIncrement counts one call and reports whether it is within the
// account's daily limit, together with the new count and the limit.
// Calls answered from the cache are always allowed and never counted.
func (c *Checker) CheckAndIncrement(ctx context.Context, accountID string, usedCache bool) (bool, int64, int64, error) {
	if usedCache {
		return true, 0, c.limit, nil
	}

	now := c.now().UTC()
	key := fmt.Sprintf("quota:upstream:%s:%s", accountID, now.Format("2006-01-02"))
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)

	current, err := c.store.Incr(ctx, key, midnight.Sub(now))
	if err != nil {
		return false, 0, c.limit, fmt.Errorf("failed to increment quota: %w", err)
	}
	if c.limit <= 0 {
		return true, current, c.limit, nil
	}
	return current <= c.limit, current, c.limit, nil
}
