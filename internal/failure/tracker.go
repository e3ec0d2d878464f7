// Package failure counts failed fetches per metering point and date and
// quarantines dates that keep failing.
package failure

import (
	"context"
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/internal/kvstore"
	"github.com/septivank/metering-gateway/internal/metering"
	"go.uber.org/zap"
)

const (
	DefaultThreshold = 5
	DefaultTTL       = 24 * time.Hour
)

// Tracker keeps fail counters and blacklist markers in a shared Store.
// Counters rely on the store's atomic Incr, so many requests can record
// failures for the same date concurrently.
type Tracker struct {
	store        kvstore.Store
	threshold    int64
	failTTL      time.Duration
	blacklistTTL time.Duration
	logger       *zap.Logger
}

// Config holds tracker thresholds
type Config struct {
	// Threshold is the count that must be exceeded before a date is blacklisted
	Threshold    int
	FailTTL      time.Duration
	BlacklistTTL time.Duration
}

// NewTracker creates a tracker, filling zero config fields with defaults
func NewTracker(store kvstore.Store, cfg Config, logger *zap.Logger) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.FailTTL <= 0 {
		cfg.FailTTL = DefaultTTL
	}
	if cfg.BlacklistTTL <= 0 {
		cfg.BlacklistTTL = DefaultTTL
	}
	return &Tracker{
		store:        store,
		threshold:    int64(cfg.Threshold),
		failTTL:      cfg.FailTTL,
		blacklistTTL: cfg.BlacklistTTL,
		logger:       logger,
	}
}

func failKey(kind metering.Kind, pointID string, date time.Time) string {
	return fmt.Sprintf("failure:%s:%s:%s", kind, pointID, metering.FormatDate(date))
}

func blacklistKey(kind metering.Kind, pointID string, date time.Time) string {
	return fmt.Sprintf("blacklist:%s:%s:%s", kind, pointID, metering.FormatDate(date))
}

// RecordFailure increments the counter of a date and returns the new count.
// The date is blacklisted once the count exceeds the threshold.
func (t *Tracker) RecordFailure(ctx context.Context, kind metering.Kind, pointID string, date time.Time) (int64, error) {
	count, err := t.store.Incr(ctx, failKey(kind, pointID, date), t.failTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	if count > t.threshold {
		if err := t.Blacklist(ctx, kind, pointID, date); err != nil {
			return count, err
		}
		t.logger.Warn("date blacklisted after repeated failures",
			zap.String("point_id", pointID),
			zap.String("kind", string(kind)),
			zap.String("date", metering.FormatDate(date)),
			zap.Int64("failures", count),
		)
	}
	return count, nil
}

// Blacklist excludes a date from fetch attempts until the marker expires
func (t *Tracker) Blacklist(ctx context.Context, kind metering.Kind, pointID string, date time.Time) error {
	if err := t.store.Set(ctx, blacklistKey(kind, pointID, date), []byte("1"), t.blacklistTTL); err != nil {
		return fmt.Errorf("failed to blacklist date: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether a live blacklist marker exists
func (t *Tracker) IsBlacklisted(ctx context.Context, kind metering.Kind, pointID string, date time.Time) (bool, error) {
	ok, err := t.store.Exists(ctx, blacklistKey(kind, pointID, date))
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return ok, nil
}

// FailureCount returns the live counter value for a date
func (t *Tracker) FailureCount(ctx context.Context, kind metering.Kind, pointID string, date time.Time) (int64, error) {
	raw, ok, err := t.store.Get(ctx, failKey(kind, pointID, date))
	if err != nil {
		return 0, fmt.Errorf("failed to read failure count: %w", err)
	}
	if !ok {
		return 0, nil
	}
	var n int64
	if _, err := fmt.Sscan(string(raw), &n); err != nil {
		return 0, fmt.Errorf("failed to parse failure count: %w", err)
	}
	return n, nil
}

// Threshold returns the count a date must exceed to be blacklisted
func (t *Tracker) Threshold() int {
	return int(t.threshold)
}
