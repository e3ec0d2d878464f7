package metering

import (
	"fmt"
	"time"
)

// DateLayout is the wire format of calendar dates
const DateLayout = "2006-01-02"

// Day truncates t to its calendar date. Provider clock times are local wall
// clock times carried in UTC, so the date is taken from the UTC fields.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, s)
	}
	return t, nil
}

// FormatDate renders d as YYYY-MM-DD
func FormatDate(d time.Time) string {
	return d.UTC().Format(DateLayout)
}

// AddDays moves a calendar date by n days
func AddDays(d time.Time, n int) time.Time {
	return Day(d).AddDate(0, 0, n)
}

// DaysBetween enumerates every calendar date in [start, end]
func DaysBetween(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// SpanDays returns the number of calendar days in [start, end]
func SpanDays(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours()/24) + 1
}
