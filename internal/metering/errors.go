package metering

import (
	"errors"
	"fmt"
)

var (
	// ErrPointNotFound is returned when the account does not own the point
	ErrPointNotFound = errors.New("metering point not found")
	// ErrUpstreamUnavailable is returned when the provider cannot be reached or refuses to issue a token
	ErrUpstreamUnavailable = errors.New("upstream provider unavailable, retry later")
	// ErrNoDataAvailable is returned when a range yields no reading at all
	ErrNoDataAvailable = errors.New("no data available for the requested period")
	// ErrInvalidRequest wraps every validation failure
	ErrInvalidRequest = errors.New("invalid request")
)

// QuotaExceededError reports an exhausted account quota
type QuotaExceededError struct {
	AccountID string
	Current   int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded for account %s: %d/%d", e.AccountID, e.Current, e.Limit)
}
