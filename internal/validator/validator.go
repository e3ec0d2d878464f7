// Package validator checks retrieval requests before they reach the engine.
package validator

import (
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
)

// DefaultMaxRangeDays caps a single request to three years of data
const DefaultMaxRangeDays = 1095

// RangeRequest is a validated retrieval range
type RangeRequest struct {
	PointID string
	Kind    metering.Kind
	Start   time.Time
	End     time.Time
}

// Validator handles request validation with configurable parameters
type Validator struct {
	maxRangeDays int
	now          func() time.Time
}

// NewValidator creates a validator. maxRangeDays <= 0 uses DefaultMaxRangeDays.
func NewValidator(maxRangeDays int) *Validator {
	if maxRangeDays <= 0 {
		maxRangeDays = DefaultMaxRangeDays
	}
	return &Validator{maxRangeDays: maxRangeDays, now: time.Now}
}

// WithClock replaces the clock used to find today
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// ValidateRange parses and checks the raw request fields. Every error wraps
// metering.ErrInvalidRequest.
func (v *Validator) ValidateRange(pointID, kind, start, end string) (RangeRequest, error) {
	var req RangeRequest

	if !metering.ValidPointID(pointID) {
		return req, fmt.Errorf("%w: point id must be 14 digits", metering.ErrInvalidRequest)
	}
	req.PointID = pointID

	k, err := metering.ParseKind(kind)
	if err != nil {
		return req, err
	}
	req.Kind = k

	if req.Start, err = metering.ParseDate(start); err != nil {
		return req, err
	}
	if req.End, err = metering.ParseDate(end); err != nil {
		return req, err
	}

	if req.End.Before(req.Start) {
		return req, fmt.Errorf("%w: start %s is after end %s", metering.ErrInvalidRequest, start, end)
	}
	if today := metering.Day(v.now()); req.End.After(today) {
		return req, fmt.Errorf("%w: end %s is in the future", metering.ErrInvalidRequest, end)
	}
	if days := metering.SpanDays(req.Start, req.End); days > v.maxRangeDays {
		return req, fmt.Errorf("%w: range of %d days exceeds %d", metering.ErrInvalidRequest, days, v.maxRangeDays)
	}
	return req, nil
}
