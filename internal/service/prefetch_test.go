package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/mq"
	"github.com/septivank/metering-gateway/internal/service"
	"github.com/septivank/metering-gateway/internal/upstream"
	"github.com/septivank/metering-gateway/internal/validator"
	"go.uber.org/zap"
)

func newPrefetchHandler(h *harness) *service.PrefetchHandler {
	v := validator.NewValidator(0).WithClock(func() time.Time { return date(6, 1) })
	return service.NewPrefetchHandler(h.svc, v, zap.NewNop())
}

func prefetchJob(kind metering.Kind, start, end time.Time) mq.PrefetchJob {
	return mq.PrefetchJob{
		JobID:     "job-1",
		AccountID: testAccount,
		PointID:   testPoint,
		Kind:      string(kind),
		Start:     metering.FormatDate(start),
		End:       metering.FormatDate(end),
	}
}

func TestPrefetch_WarmsCache(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	kind := metering.ConsumptionDetail

	if err := newPrefetchHandler(h).Handle(ctx, prefetchJob(kind, date(3, 1), date(3, 3))); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	calls := len(h.fetcher.windows())
	if calls == 0 {
		t.Fatal("Expected the job to reach upstream")
	}

	result, err := h.svc.Retrieve(ctx, request(kind, date(3, 1), date(3, 3)))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if extra := len(h.fetcher.windows()) - calls; extra != 0 {
		t.Errorf("Expected prefetched days to be served from cache, got %d calls", extra)
	}
	if got := len(result.Readings); got != 3*48 {
		t.Errorf("Expected %d readings, got %d", 3*48, got)
	}
}

func TestPrefetch_NoDataCompletesJob(t *testing.T) {
	h := newHarness(t, 0)
	h.fetcher.respond = func(n int, start, end time.Time) *upstream.Result {
		return &upstream.Result{Outcome: upstream.NoData, Message: upstream.CodeNoDataFound}
	}

	if err := newPrefetchHandler(h).Handle(context.Background(), prefetchJob(metering.ProductionDaily, date(2, 1), date(2, 3))); err != nil {
		t.Errorf("Expected a range without data to complete the job, got %v", err)
	}
	if len(h.fetcher.windows()) == 0 {
		t.Error("Expected the job to reach upstream")
	}
}

func TestPrefetch_InvalidJob(t *testing.T) {
	tests := []struct {
		name string
		edit func(job *mq.PrefetchJob)
	}{
		{"bad kind", func(job *mq.PrefetchJob) { job.Kind = "gas" }},
		{"short point id", func(job *mq.PrefetchJob) { job.PointID = "123" }},
		{"reversed range", func(job *mq.PrefetchJob) { job.Start, job.End = job.End, job.Start }},
		{"future end", func(job *mq.PrefetchJob) { job.End = "2024-06-02" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			job := prefetchJob(metering.ConsumptionDaily, date(1, 1), date(1, 5))
			tt.edit(&job)

			err := newPrefetchHandler(h).Handle(context.Background(), job)
			if !errors.Is(err, metering.ErrInvalidRequest) {
				t.Errorf("Expected ErrInvalidRequest, got %v", err)
			}
			if calls := len(h.fetcher.windows()); calls != 0 {
				t.Errorf("Expected no upstream calls, got %d", calls)
			}
		})
	}
}

func TestPrefetch_PointOfAnotherAccount(t *testing.T) {
	h := newHarness(t, 0)
	job := prefetchJob(metering.ConsumptionDaily, date(1, 1), date(1, 5))
	job.AccountID = "someone-else"

	err := newPrefetchHandler(h).Handle(context.Background(), job)
	if !errors.Is(err, metering.ErrPointNotFound) {
		t.Errorf("Expected ErrPointNotFound, got %v", err)
	}
	if calls := len(h.fetcher.windows()); calls != 0 {
		t.Errorf("Expected no upstream calls, got %d", calls)
	}
}

func TestPrefetch_UpstreamUnavailableIsReturned(t *testing.T) {
	h := newHarness(t, 0)
	h.tokens.err = errors.New("connection refused")

	err := newPrefetchHandler(h).Handle(context.Background(), prefetchJob(metering.ConsumptionDaily, date(1, 1), date(1, 5)))
	if !errors.Is(err, metering.ErrUpstreamUnavailable) {
		t.Errorf("Expected ErrUpstreamUnavailable, got %v", err)
	}
}
