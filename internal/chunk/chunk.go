// Package chunk splits missing dates into upstream request windows.
package chunk

import (
	"fmt"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
)

// MaxWindowDays is the widest window the provider accepts in one call
const MaxWindowDays = 7

// Chunk is an inclusive run of calendar dates
type Chunk struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of dates covered
func (c Chunk) Days() int {
	return metering.SpanDays(c.Start, c.End)
}

// Dates enumerates the covered dates
func (c Chunk) Dates() []time.Time {
	return metering.DaysBetween(c.Start, c.End)
}

// Contains reports whether d falls in the chunk
func (c Chunk) Contains(d time.Time) bool {
	d = metering.Day(d)
	return !d.Before(c.Start) && !d.After(c.End)
}

func (c Chunk) String() string {
	return fmt.Sprintf("%s..%s", metering.FormatDate(c.Start), metering.FormatDate(c.End))
}

// Runs groups sorted, distinct dates into maximal runs of consecutive days.
// Non-adjacent dates never share a run.
func Runs(dates []time.Time) []Chunk {
	var chunks []Chunk
	for _, d := range dates {
		d = metering.Day(d)
		if n := len(chunks); n > 0 && metering.AddDays(chunks[n-1].End, 1).Equal(d) {
			chunks[n-1].End = d
			continue
		}
		chunks = append(chunks, Chunk{Start: d, End: d})
	}
	return chunks
}

// Split cuts a chunk into consecutive pieces of at most maxDays dates
func Split(c Chunk, maxDays int) []Chunk {
	if maxDays <= 0 {
		maxDays = MaxWindowDays
	}
	var out []Chunk
	for start := c.Start; !start.After(c.End); start = metering.AddDays(start, maxDays) {
		end := metering.AddDays(start, maxDays-1)
		if end.After(c.End) {
			end = c.End
		}
		out = append(out, Chunk{Start: start, End: end})
	}
	return out
}

// Plan chunks missing dates and sub-splits every run wider than maxDays
func Plan(dates []time.Time, maxDays int) []Chunk {
	var out []Chunk
	for _, run := range Runs(dates) {
		out = append(out, Split(run, maxDays)...)
	}
	return out
}

// UpstreamWindow returns the window to ask the provider for. Start and end must
// differ, so a single-day chunk is widened one day backward, or forward when
// the day before is earlier than notBefore. The widening only affects the call,
// never what gets cached or returned. ok is false when neither direction fits:
// the forward day would pass notAfter, usually today.
func UpstreamWindow(c Chunk, notBefore, notAfter time.Time) (start, end time.Time, ok bool) {
	if !c.Start.Equal(c.End) {
		return c.Start, c.End, true
	}
	prev := metering.AddDays(c.Start, -1)
	if notBefore.IsZero() || !prev.Before(metering.Day(notBefore)) {
		return prev, c.End, true
	}
	next := metering.AddDays(c.End, 1)
	if !notAfter.IsZero() && next.After(metering.Day(notAfter)) {
		return time.Time{}, time.Time{}, false
	}
	return c.Start, next, true
}
