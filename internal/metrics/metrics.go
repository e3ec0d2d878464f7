package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// UpstreamCalls counts provider calls by data kind and outcome
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_upstream_calls_total",
			Help: "Total number of upstream provider calls",
		},
		[]string{"kind", "outcome"},
	)

	// CacheLookups counts day bucket lookups by result
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_cache_lookups_total",
			Help: "Day bucket cache lookups by result (complete, partial, miss)",
		},
		[]string{"kind", "result"},
	)

	// BlacklistedDates counts dates put in quarantine
	BlacklistedDates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_blacklisted_dates_total",
			Help: "Dates blacklisted after repeated failures or a no-data answer",
		},
		[]string{"kind", "reason"},
	)

	// SkippedChunks counts sub-chunks given up on
	SkippedChunks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "metering_skipped_chunks_total",
			Help: "Upstream windows skipped after exhausting retries",
		},
		[]string{"kind"},
	)

	// QuotaRejections counts requests refused by the account quota
	QuotaRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "metering_quota_rejections_total",
			Help: "Retrievals refused because the account exhausted its daily quota",
		},
	)

	// RateLimitWait observes how long callers sleep in the rate limiter
	RateLimitWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "metering_ratelimit_wait_seconds",
			Help:    "Time spent waiting for rate limiter capacity",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2},
		},
	)
)

func init() {
	// Register metrics with the default registry
	prometheus.MustRegister(UpstreamCalls)
	prometheus.MustRegister(CacheLookups)
	prometheus.MustRegister(BlacklistedDates)
	prometheus.MustRegister(SkippedChunks)
	prometheus.MustRegister(QuotaRejections)
	prometheus.MustRegister(RateLimitWait)
}
