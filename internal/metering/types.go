package metering

import (
	"fmt"
	"regexp"
	"time"
)

// Kind identifies one of the upstream data series
type Kind string

const (
	ConsumptionDaily  Kind = "consumption_daily"
	ConsumptionDetail Kind = "consumption_detail"
	ProductionDaily   Kind = "production_daily"
	ProductionDetail  Kind = "production_detail"
)

// Kinds lists every supported data kind
var Kinds = []Kind{ConsumptionDaily, ConsumptionDetail, ProductionDaily, ProductionDetail}

// ParseKind validates a kind coming from a request path or a queue message
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown data kind %q", ErrInvalidRequest, s)
}

// Detailed reports whether the kind carries sub-daily load curve readings
func (k Kind) Detailed() bool {
	return k == ConsumptionDetail || k == ProductionDetail
}

// DefaultInterval is the granularity assumed when upstream omits interval_length
func (k Kind) DefaultInterval() time.Duration {
	if k.Detailed() {
		return 30 * time.Minute
	}
	return 24 * time.Hour
}

var pointIDPattern = regexp.MustCompile(`^[0-9]{14}$`)

// ValidPointID reports whether id is a 14-digit metering point identifier
func ValidPointID(id string) bool {
	return pointIDPattern.MatchString(id)
}

// Reading is a single consumption or production value
type Reading struct {
	Timestamp      time.Time `json:"date"`
	Value          float64   `json:"value"`
	IntervalLength Interval  `json:"interval_length"`
}

// Day returns the calendar day the reading belongs to. Sub-daily readings are
// stamped with the end of their interval, so the midnight reading closes the
// previous day.
func (r Reading) Day() time.Time {
	iv := r.IntervalLength.Duration()
	if iv > 0 && iv < 24*time.Hour {
		return Day(r.Timestamp.Add(-iv))
	}
	return Day(r.Timestamp)
}

// Warning values attached to a Response
const (
	WarningPartialData = "PARTIAL_DATA"
)

// Response is what a retrieval returns to its caller
type Response struct {
	Readings []Reading `json:"readings"`
	Warning  *string   `json:"warning"`
}

// Partial reports whether the response carries the partial-data warning
func (r *Response) Partial() bool {
	return r.Warning != nil && *r.Warning == WarningPartialData
}
