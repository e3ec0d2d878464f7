package metering

import (
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/tools/timeparser"
)

// Interval is a reading granularity serialised as an ISO-8601 duration
type Interval time.Duration

// Duration converts the interval to a time.Duration
func (i Interval) Duration() time.Duration {
	return time.Duration(i)
}

// MarshalText encodes the interval as PT30M, P1D etc. A zero interval encodes empty.
func (i Interval) MarshalText() ([]byte, error) {
	if i == 0 {
		return []byte{}, nil
	}
	return []byte(timeparser.FormatISODuration(time.Duration(i))), nil
}

// UnmarshalText accepts ISO-8601 durations and Go duration strings
func (i *Interval) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*i = 0
		return nil
	}
	d, err := timeparser.ParseISODuration(string(b))
	if err != nil {
		if gd, gerr := time.ParseDuration(string(b)); gerr == nil {
			*i = Interval(gd)
			return nil
		}
		return fmt.Errorf("invalid interval length: %w", err)
	}
	*i = Interval(d)
	return nil
}
