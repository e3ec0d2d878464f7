package service

import (
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
)

type chunkState int

const (
	stateSuccess chunkState = iota
	stateRetry
	stateSkipped
	stateBlacklisted
)

// chunkOutcome is the tagged result of one sub-chunk attempt
type chunkOutcome struct {
	state chunkState
	// days holds fresh readings on success
	days map[time.Time][]metering.Reading
	// next is the new window start on retry
	next time.Time
	// reason explains a skip
	reason string
	// dates lists blacklisted dates
	dates []time.Time
}

func success(days map[time.Time][]metering.Reading) chunkOutcome {
	return chunkOutcome{state: stateSuccess, days: days}
}

func retry(next time.Time) chunkOutcome {
	return chunkOutcome{state: stateRetry, next: next}
}

func skipped(reason string) chunkOutcome {
	return chunkOutcome{state: stateSkipped, reason: reason}
}

func blacklisted(dates []time.Time) chunkOutcome {
	return chunkOutcome{state: stateBlacklisted, dates: dates}
}
