package upstream

import (
	"context"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
)

// Provider error codes handled specially by the retrieval engine
const (
	CodeMeterActivation = "ADAM-ERR0123"
	CodeNoDataFound     = "no_data_found"
)

// Outcome tags a fetch result
type Outcome int

const (
	// OK carries readings
	OK Outcome = iota
	// MeterActivation means the window starts before the meter was activated
	MeterActivation
	// NoData means the provider holds no data for the window
	NoData
	// Failed is any other error, treated as transient
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case MeterActivation:
		return "meter_activation"
	case NoData:
		return "no_data"
	default:
		return "failed"
	}
}

// ReadingType describes the unit of a series
type ReadingType struct {
	Unit            string `json:"unit"`
	MeasurementKind string `json:"measurement_kind"`
	Aggregate       string `json:"aggregate"`
	MeasuringPeriod string `json:"measuring_period,omitempty"`
}

// Result is the outcome of one upstream call
type Result struct {
	Outcome     Outcome
	Readings    []metering.Reading
	ReadingType *ReadingType
	// Message holds the provider error code or transport error for non-OK outcomes
	Message string
}

// Fetcher retrieves one window of readings
type Fetcher interface {
	Fetch(ctx context.Context, kind metering.Kind, pointID string, start, end time.Time, accessToken string) Result
}
