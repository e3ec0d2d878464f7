package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/septivank/metering-gateway/internal/cache"
	"github.com/septivank/metering-gateway/internal/chunk"
	"github.com/septivank/metering-gateway/internal/failure"
	"github.com/septivank/metering-gateway/internal/logging"
	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/metrics"
	"github.com/septivank/metering-gateway/internal/mq"
	"github.com/septivank/metering-gateway/internal/upstream"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds window advances per sub-chunk
const DefaultMaxRetries = 7

// Accounts resolves ownership and the cache encryption key
type Accounts interface {
	IsOwner(ctx context.Context, pointID, accountID string) (bool, error)
	AccountCacheKey(ctx context.Context, accountID string) (string, error)
}

// Points stores each point's oldest-available-data boundary
type Points interface {
	OldestDataDate(ctx context.Context, pointID string) (time.Time, error)
	AdvanceOldestDataDate(ctx context.Context, pointID string, date time.Time) (bool, error)
}

// QuotaChecker is the account-facing daily cap
type QuotaChecker interface {
	CheckAndIncrement(ctx context.Context, accountID string, usedCache bool) (bool, int64, int64, error)
}

// TokenSource hands out the shared upstream bearer token
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Limiter bounds outbound call volume
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Publisher receives retrieval events. Failures are logged, never returned.
type Publisher interface {
	PublishRetrievalCompleted(ctx context.Context, event mq.RetrievalCompletedEvent) error
	PublishBoundaryUpdated(ctx context.Context, event mq.BoundaryUpdatedEvent) error
}

// Request identifies one retrieval
type Request struct {
	RequestID string
	AccountID string
	PointID   string
	Kind      metering.Kind
	Start     time.Time
	End       time.Time
}

// Result is the assembled response plus what happened on the way
type Result struct {
	metering.Response
	UpstreamCalls int
	Skipped       []chunk.Chunk
	Blacklisted   []time.Time
	MissingDates  []time.Time
}

// RetrievalConfig holds orchestration parameters
type RetrievalConfig struct {
	MaxRetries    int
	MaxWindowDays int
}

// RetrievalService is the entry point of the retrieval engine: it merges the
// day cache with upstream fetches for an arbitrary date range.
type RetrievalService struct {
	accounts  Accounts
	points    Points
	quota     QuotaChecker
	tokens    TokenSource
	limiter   Limiter
	fetcher   upstream.Fetcher
	cache     *cache.DayBucketCache
	tracker   *failure.Tracker
	publisher Publisher
	cfg       RetrievalConfig
	logger    *zap.Logger
	now       func() time.Time
}

// Deps groups the collaborators of a RetrievalService
type Deps struct {
	Accounts  Accounts
	Points    Points
	Quota     QuotaChecker
	Tokens    TokenSource
	Limiter   Limiter
	Fetcher   upstream.Fetcher
	Cache     *cache.DayBucketCache
	Tracker   *failure.Tracker
	Publisher Publisher
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(deps Deps, cfg RetrievalConfig, logger *zap.Logger) *RetrievalService {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.MaxWindowDays <= 0 || cfg.MaxWindowDays > chunk.MaxWindowDays {
		cfg.MaxWindowDays = chunk.MaxWindowDays
	}
	return &RetrievalService{
		accounts:  deps.Accounts,
		points:    deps.Points,
		quota:     deps.Quota,
		tokens:    deps.Tokens,
		limiter:   deps.Limiter,
		fetcher:   deps.Fetcher,
		cache:     deps.Cache,
		tracker:   deps.Tracker,
		publisher: deps.Publisher,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to find today
func (s *RetrievalService) WithClock(now func() time.Time) *RetrievalService {
	s.now = now
	return s
}

// run carries the state of one orchestration
type run struct {
	req      Request
	cacheKey string
	logger   *zap.Logger

	// notBefore is the first date the provider may hold data for
	notBefore time.Time

	days   map[time.Time][]metering.Reading
	result *Result
}

// Retrieve returns every reading of req's range that the cache or the provider
// can supply. Only PointNotFound, UpstreamUnavailable on token acquisition,
// an exhausted quota and NoDataAvailable are returned as errors; anything
// else degrades to a PARTIAL_DATA warning.
func (s *RetrievalService) Retrieve(ctx context.Context, req Request) (*Result, error) {
	req.Start, req.End = metering.Day(req.Start), metering.Day(req.End)
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: start %s is after end %s", metering.ErrInvalidRequest,
			metering.FormatDate(req.Start), metering.FormatDate(req.End))
	}

	r := &run{
		req: req,
		logger: logging.WithRequestID(s.logger, req.RequestID).With(
			zap.String("point_id", req.PointID),
			zap.String("kind", string(req.Kind)),
		),
		days:   make(map[time.Time][]metering.Reading),
		result: &Result{},
	}

	owned, err := s.accounts.IsOwner(ctx, req.PointID, req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check ownership: %w", err)
	}
	if !owned {
		return nil, metering.ErrPointNotFound
	}
	if r.cacheKey, err = s.accounts.AccountCacheKey(ctx, req.AccountID); err != nil {
		return nil, err
	}

	missing := s.readCache(ctx, r)
	missing = s.filterMissing(ctx, r, missing)
	r.result.MissingDates = missing

	if len(missing) > 0 {
		if err := s.fetchMissing(ctx, r, missing); err != nil {
			return nil, err
		}
	}

	return s.assemble(ctx, r)
}

// readCache collects cached readings and returns the dates still to fetch.
// Partial days are both collected and marked missing.
func (s *RetrievalService) readCache(ctx context.Context, r *run) []time.Time {
	var missing []time.Time
	for _, day := range metering.DaysBetween(r.req.Start, r.req.End) {
		bucket, err := s.cache.Get(ctx, r.req.Kind, r.req.PointID, day, r.cacheKey)
		if err != nil {
			r.logger.Warn("cache read failed, treating day as missing", zap.String("date", metering.FormatDate(day)), zap.Error(err))
		}
		status := s.cache.Status(bucket)
		metrics.CacheLookups.WithLabelValues(string(r.req.Kind), status.String()).Inc()

		switch status {
		case cache.Complete:
			r.days[day] = bucket.Readings
		case cache.Partial:
			r.days[day] = bucket.Readings
			missing = append(missing, day)
		default:
			missing = append(missing, day)
		}
	}
	return missing
}

// filterMissing drops dates before the point's activation boundary and
// blacklisted dates. Neither is attempted nor reported as an error.
func (s *RetrievalService) filterMissing(ctx context.Context, r *run, missing []time.Time) []time.Time {
	if len(missing) == 0 {
		return missing
	}

	boundary, err := s.points.OldestDataDate(ctx, r.req.PointID)
	if err != nil {
		r.logger.Warn("failed to load oldest data date", zap.Error(err))
	}
	r.notBefore = boundary

	kept := missing[:0]
	for _, day := range missing {
		if !boundary.IsZero() && day.Before(boundary) {
			continue
		}
		blacklisted, err := s.tracker.IsBlacklisted(ctx, r.req.Kind, r.req.PointID, day)
		if err != nil {
			r.logger.Warn("blacklist check failed", zap.String("date", metering.FormatDate(day)), zap.Error(err))
		}
		if blacklisted {
			continue
		}
		kept = append(kept, day)
	}
	return kept
}

// fetchMissing consumes quota, acquires the token once and drives every
// sub-chunk in date order.
func (s *RetrievalService) fetchMissing(ctx context.Context, r *run, missing []time.Time) error {
	allowed, current, limit, err := s.quota.CheckAndIncrement(ctx, r.req.AccountID, false)
	if err != nil {
		r.logger.Warn("quota check failed, allowing request", zap.Error(err))
	} else if !allowed {
		metrics.QuotaRejections.Inc()
		return &metering.QuotaExceededError{AccountID: r.req.AccountID, Current: current, Limit: limit}
	}

	accessToken, err := s.tokens.GetValidToken(ctx)
	if err != nil {
		if errors.Is(err, metering.ErrUpstreamUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", metering.ErrUpstreamUnavailable, err)
	}

	plan := chunk.Plan(missing, s.cfg.MaxWindowDays)
	for i, c := range plan {
		if ctx.Err() != nil {
			r.logger.Info("request cancelled, not starting remaining chunks", zap.Int("remaining", len(plan)-i))
			r.result.Skipped = append(r.result.Skipped, plan[i:]...)
			return nil
		}
		s.processChunk(ctx, r, c, accessToken)
	}
	return nil
}

// processChunk drives one sub-chunk through its attempts until it settles
func (s *RetrievalService) processChunk(ctx context.Context, r *run, c chunk.Chunk, accessToken string) {
	start := c.Start
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if start.After(c.End) {
			s.skip(r, c, "window exhausted")
			return
		}
		if attempt > 0 && ctx.Err() != nil {
			s.skip(r, c, "cancelled")
			return
		}

		out := s.attempt(ctx, r, chunk.Chunk{Start: start, End: c.End}, accessToken)
		switch out.state {
		case stateSuccess:
			for day, readings := range out.days {
				r.days[day] = readings
			}
			return
		case stateBlacklisted:
			r.result.Blacklisted = append(r.result.Blacklisted, out.dates...)
			return
		case stateSkipped:
			s.skip(r, c, out.reason)
			return
		case stateRetry:
			start = out.next
		}
	}
	s.skip(r, c, "retries exhausted")
}

func (s *RetrievalService) skip(r *run, c chunk.Chunk, reason string) {
	metrics.SkippedChunks.WithLabelValues(string(r.req.Kind)).Inc()
	r.logger.Warn("skipping chunk", zap.String("chunk", c.String()), zap.String("reason", reason))
	r.result.Skipped = append(r.result.Skipped, c)
}

// attempt issues one upstream call for sub and classifies the answer
func (s *RetrievalService) attempt(ctx context.Context, r *run, sub chunk.Chunk, accessToken string) chunkOutcome {
	winStart, winEnd, ok := chunk.UpstreamWindow(sub, r.notBefore, metering.Day(s.now()))
	if !ok {
		return skipped("no upstream window before today")
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return skipped("cancelled while rate limited")
	}

	// In-flight calls are allowed to finish after cancellation; their
	// results are still worth caching.
	callCtx := context.WithoutCancel(ctx)
	res := s.fetcher.Fetch(callCtx, r.req.Kind, r.req.PointID, winStart, winEnd, accessToken)
	r.result.UpstreamCalls++
	metrics.UpstreamCalls.WithLabelValues(string(r.req.Kind), res.Outcome.String()).Inc()
	r.logger.Debug("upstream call",
		zap.String("window", metering.FormatDate(winStart)+".."+metering.FormatDate(winEnd)),
		zap.String("outcome", res.Outcome.String()),
		zap.Int("readings", len(res.Readings)),
	)

	switch res.Outcome {
	case upstream.OK:
		return success(s.storeReadings(callCtx, r, sub, res.Readings))

	case upstream.NoData:
		dates := sub.Dates()
		for _, day := range dates {
			if err := s.tracker.Blacklist(callCtx, r.req.Kind, r.req.PointID, day); err != nil {
				r.logger.Warn("failed to blacklist date", zap.String("date", metering.FormatDate(day)), zap.Error(err))
			}
		}
		metrics.BlacklistedDates.WithLabelValues(string(r.req.Kind), "no_data").Add(float64(len(dates)))
		r.logger.Info("provider has no data for window, blacklisting", zap.String("chunk", sub.String()))
		return blacklisted(dates)

	case upstream.MeterActivation:
		s.advanceBoundary(callCtx, r, winStart)
		next := sub.Start
		if !next.After(winStart) {
			next = metering.AddDays(winStart, 1)
		}
		return retry(next)

	default:
		for _, day := range sub.Dates() {
			count, err := s.tracker.RecordFailure(callCtx, r.req.Kind, r.req.PointID, day)
			if err != nil {
				r.logger.Warn("failed to record failure", zap.String("date", metering.FormatDate(day)), zap.Error(err))
				continue
			}
			if count == int64(s.failureThreshold())+1 {
				metrics.BlacklistedDates.WithLabelValues(string(r.req.Kind), "failures").Inc()
			}
		}
		r.logger.Warn("upstream call failed", zap.String("chunk", sub.String()), zap.String("error", res.Message))
		return retry(metering.AddDays(sub.Start, 1))
	}
}

func (s *RetrievalService) failureThreshold() int {
	return s.tracker.Threshold()
}

// advanceBoundary records that the provider holds nothing before windowStart
func (s *RetrievalService) advanceBoundary(ctx context.Context, r *run, windowStart time.Time) {
	if floor := metering.AddDays(windowStart, 1); floor.After(r.notBefore) {
		r.notBefore = floor
	}

	changed, err := s.points.AdvanceOldestDataDate(ctx, r.req.PointID, windowStart)
	if err != nil {
		r.logger.Warn("failed to update oldest data date", zap.Error(err))
		return
	}
	if !changed {
		return
	}
	r.logger.Info("oldest data date advanced", zap.String("oldest_data_date", metering.FormatDate(windowStart)))
	if s.publisher == nil {
		return
	}
	event := mq.BoundaryUpdatedEvent{PointID: r.req.PointID, OldestDataDate: metering.FormatDate(windowStart)}
	if err := s.publisher.PublishBoundaryUpdated(ctx, event); err != nil {
		r.logger.Error("failed to publish boundary event", zap.Error(err))
	}
}

// storeReadings groups fresh readings per day, keeps only the days of sub and
// writes each into the cache. Days outside sub come from window widening.
func (s *RetrievalService) storeReadings(ctx context.Context, r *run, sub chunk.Chunk, readings []metering.Reading) map[time.Time][]metering.Reading {
	byDay := make(map[time.Time][]metering.Reading)
	for _, reading := range readings {
		day := reading.Day()
		if !sub.Contains(day) {
			continue
		}
		byDay[day] = append(byDay[day], reading)
	}

	for day, dayReadings := range byDay {
		bucket, err := s.cache.Put(ctx, r.req.Kind, r.req.PointID, day, dayReadings, r.req.Kind.DefaultInterval(), r.cacheKey)
		if err != nil {
			r.logger.Warn("failed to cache day", zap.String("date", metering.FormatDate(day)), zap.Error(err))
			continue
		}
		if s.cache.Status(bucket) == cache.Partial {
			r.logger.Debug("fetched day is partial",
				zap.String("date", metering.FormatDate(day)),
				zap.Int("readings", len(bucket.Readings)),
				zap.Int("expected", bucket.ExpectedCount),
			)
		}
	}
	return byDay
}

// assemble merges every collected day into one ascending, de-duplicated series
func (s *RetrievalService) assemble(ctx context.Context, r *run) (*Result, error) {
	byTimestamp := make(map[time.Time]metering.Reading)
	emptyDays := 0
	for _, day := range metering.DaysBetween(r.req.Start, r.req.End) {
		readings := r.days[day]
		if len(readings) == 0 {
			emptyDays++
			continue
		}
		for _, reading := range readings {
			byTimestamp[reading.Timestamp] = reading
		}
	}

	if len(byTimestamp) == 0 {
		s.publishCompleted(ctx, r)
		return nil, metering.ErrNoDataAvailable
	}

	out := make([]metering.Reading, 0, len(byTimestamp))
	for _, reading := range byTimestamp {
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	r.result.Readings = out
	if emptyDays > 0 || len(r.result.Skipped) > 0 {
		warning := metering.WarningPartialData
		r.result.Warning = &warning
	}

	r.logger.Info("retrieval completed",
		zap.Int("readings", len(out)),
		zap.Int("upstream_calls", r.result.UpstreamCalls),
		zap.Int("missing_dates", len(r.result.MissingDates)),
		zap.Int("skipped_chunks", len(r.result.Skipped)),
		zap.Int("empty_days", emptyDays),
	)
	s.publishCompleted(ctx, r)
	return r.result, nil
}

func (s *RetrievalService) publishCompleted(ctx context.Context, r *run) {
	if s.publisher == nil || r.result.UpstreamCalls == 0 {
		return
	}
	event := mq.RetrievalCompletedEvent{
		RequestID:     r.req.RequestID,
		PointID:       r.req.PointID,
		Kind:          string(r.req.Kind),
		Start:         metering.FormatDate(r.req.Start),
		End:           metering.FormatDate(r.req.End),
		Readings:      len(r.result.Readings),
		UpstreamCalls: r.result.UpstreamCalls,
		MissingDates:  len(r.result.MissingDates),
	}
	if r.result.Warning != nil {
		event.Warning = *r.result.Warning
	}
	for _, c := range r.result.Skipped {
		event.SkippedChunks = append(event.SkippedChunks, c.String())
	}
	for _, d := range r.result.Blacklisted {
		event.Blacklisted = append(event.Blacklisted, metering.FormatDate(d))
	}
	if err := s.publisher.PublishRetrievalCompleted(context.WithoutCancel(ctx), event); err != nil {
		r.logger.Error("failed to publish retrieval event", zap.Error(err))
	}
}

// ClearCache deletes every cached day of a point the account owns
func (s *RetrievalService) ClearCache(ctx context.Context, accountID, pointID string) (int, error) {
	owned, err := s.accounts.IsOwner(ctx, pointID, accountID)
	if err != nil {
		return 0, fmt.Errorf("failed to check ownership: %w", err)
	}
	if !owned {
		return 0, metering.ErrPointNotFound
	}

	deleted, err := s.cache.ClearPoint(ctx, pointID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("point cache cleared", zap.String("point_id", pointID), zap.Int("deleted", deleted))
	return deleted, nil
}
