package ratelimit

import (
	"context"
	"time"
)

// Limiter bounds outbound calls to maxCalls per rolling timeFrame.
// Acquisitions serialize through a one-slot semaphore, held through the wait,
// so concurrent callers never collectively exceed the ceiling. Callers queued
// for the semaphore still observe their context.
type Limiter struct {
	maxCalls  int
	timeFrame time.Duration

	sem   chan struct{}
	calls []time.Time

	now    func() time.Time
	onWait func(time.Duration)
	onCall func(time.Time)
}

// Option customises a Limiter
type Option func(*Limiter)

// WithClock replaces the wall clock, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithWaitObserver is called with every computed sleep duration
func WithWaitObserver(fn func(time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// WithCallObserver is called, under the limiter lock, with every recorded call time
func WithCallObserver(fn func(time.Time)) Option {
	return func(l *Limiter) { l.onCall = fn }
}

// NewLimiter creates a new rolling window limiter
func NewLimiter(maxCalls int, timeFrame time.Duration, opts ...Option) *Limiter {
	if maxCalls <= 0 {
		maxCalls = 1
	}
	l := &Limiter{
		maxCalls:  maxCalls,
		timeFrame: timeFrame,
		sem:       make(chan struct{}, 1),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Acquire blocks until a call can be issued without exceeding the window, then
// records it. It returns ctx.Err() if the context ends while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.sem }()

	for {
		now := l.now()
		l.prune(now)
		if len(l.calls) < l.maxCalls {
			l.calls = append(l.calls, now)
			if l.onCall != nil {
				l.onCall(now)
			}
			return nil
		}

		sleep := l.timeFrame - now.Sub(l.calls[0])
		if sleep <= 0 {
			continue
		}
		if l.onWait != nil {
			l.onWait(sleep)
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// InFlight returns the number of calls recorded in the current window
func (l *Limiter) InFlight() int {
	l.sem <- struct{}{}
	defer func() { <-l.sem }()
	l.prune(l.now())
	return len(l.calls)
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.timeFrame)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}
