package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/septivank/metering-gateway/internal/kvstore"
	"github.com/septivank/metering-gateway/internal/metering"
	"go.uber.org/zap"
)

// DefaultCompleteness is the share of expected readings a day needs to count as complete
const DefaultCompleteness = 0.9

// Status classifies a cache lookup
type Status int

const (
	Absent Status = iota
	Partial
	Complete
)

func (s Status) String() string {
	switch s {
	case Complete:
		return "complete"
	case Partial:
		return "partial"
	default:
		return "miss"
	}
}

// DayBucket holds every reading of one point on one calendar day
type DayBucket struct {
	PointID        string             `json:"point_id"`
	Kind           metering.Kind      `json:"kind"`
	Date           string             `json:"date"`
	Readings       []metering.Reading `json:"readings"`
	ExpectedCount  int                `json:"expected_count"`
	IntervalLength metering.Interval  `json:"interval_length"`
	StoredAt       time.Time          `json:"stored_at"`
}

// DayBucketCache stores one encrypted entry per (kind, point, date)
type DayBucketCache struct {
	store        kvstore.Store
	completeness float64
	logger       *zap.Logger
	now          func() time.Time
}

// NewDayBucketCache creates a cache over store. completeness <= 0 selects DefaultCompleteness.
func NewDayBucketCache(store kvstore.Store, completeness float64, logger *zap.Logger) *DayBucketCache {
	if completeness <= 0 || completeness > 1 {
		completeness = DefaultCompleteness
	}
	return &DayBucketCache{store: store, completeness: completeness, logger: logger, now: time.Now}
}

// Key returns the cache key of a day bucket
func Key(kind metering.Kind, pointID string, date time.Time) string {
	return fmt.Sprintf("metering:%s:%s:%s", kind, pointID, metering.FormatDate(date))
}

// Status reports whether a bucket is complete or partial
func (c *DayBucketCache) Status(b *DayBucket) Status {
	if b == nil {
		return Absent
	}
	expected := b.ExpectedCount
	if expected <= 0 {
		expected = 1
	}
	if float64(len(b.Readings)) >= c.completeness*float64(expected) {
		return Complete
	}
	return Partial
}

// Get returns the bucket for a date, or nil when absent. A value that cannot
// be opened with encryptionKey counts as absent.
func (c *DayBucketCache) Get(ctx context.Context, kind metering.Kind, pointID string, date time.Time, encryptionKey string) (*DayBucket, error) {
	key := Key(kind, pointID, date)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read day bucket: %w", err)
	}
	if !ok {
		return nil, nil
	}

	plain, err := open(encryptionKey, raw)
	if err != nil {
		if errors.Is(err, errUnsealed) {
			c.logger.Warn("day bucket could not be decrypted, treating as miss", zap.String("key", key))
			return nil, nil
		}
		return nil, err
	}

	var bucket DayBucket
	if err := json.Unmarshal(plain, &bucket); err != nil {
		c.logger.Warn("day bucket is corrupt, treating as miss", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	return &bucket, nil
}

// Put overwrites the bucket for a date. The interval length is taken from the
// first reading carrying one, falling back to defaultInterval.
func (c *DayBucketCache) Put(ctx context.Context, kind metering.Kind, pointID string, date time.Time, readings []metering.Reading, defaultInterval time.Duration, encryptionKey string) (*DayBucket, error) {
	interval := DetectInterval(readings, defaultInterval)

	sorted := make([]metering.Reading, len(readings))
	copy(sorted, readings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	bucket := &DayBucket{
		PointID:        pointID,
		Kind:           kind,
		Date:           metering.FormatDate(date),
		Readings:       sorted,
		ExpectedCount:  ExpectedCount(interval),
		IntervalLength: metering.Interval(interval),
		StoredAt:       c.now().UTC(),
	}

	plain, err := json.Marshal(bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal day bucket: %w", err)
	}
	sealed, err := seal(encryptionKey, plain)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, Key(kind, pointID, date), sealed, 0); err != nil {
		return nil, fmt.Errorf("failed to write day bucket: %w", err)
	}
	return bucket, nil
}

// ClearPoint deletes every cached day of a point across all kinds
func (c *DayBucketCache) ClearPoint(ctx context.Context, pointID string) (int, error) {
	n, err := c.store.DeletePattern(ctx, fmt.Sprintf("metering:*:%s:*", pointID))
	if err != nil {
		return n, fmt.Errorf("failed to clear cache for point: %w", err)
	}
	return n, nil
}

// DetectInterval returns the interval of the first reading carrying one
func DetectInterval(readings []metering.Reading, fallback time.Duration) time.Duration {
	for _, r := range readings {
		if r.IntervalLength > 0 {
			return r.IntervalLength.Duration()
		}
	}
	if fallback <= 0 {
		return 30 * time.Minute
	}
	return fallback
}

// ExpectedCount is the number of readings a full day holds at the given interval
func ExpectedCount(interval time.Duration) int {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	n := int(math.Round(float64(24*time.Hour) / float64(interval)))
	if n < 1 {
		return 1
	}
	return n
}
