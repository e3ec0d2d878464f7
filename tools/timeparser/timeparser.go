package timeparser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseMeterTimestamp attempts to parse provider timestamps with multiple formats
func ParseMeterTimestamp(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02 15:04:05", // load curve readings
		"2006-01-02",          // daily readings
		time.RFC3339,          // Standard RFC3339
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// ParseISODuration parses the subset of ISO-8601 durations used for interval
// lengths: PnD, PTnH, PTnM, PTnS and combinations of them.
func ParseISODuration(s string) (time.Duration, error) {
	if len(s) < 3 || s[0] != 'P' {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}

	var total time.Duration
	inTime := false
	num := ""
	for _, c := range s[1:] {
		switch {
		case c == 'T':
			inTime = true
		case c >= '0' && c <= '9':
			num += string(c)
		default:
			if num == "" {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
			}
			n, err := strconv.Atoi(num)
			if err != nil {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
			}
			num = ""
			unit, err := isoUnit(c, inTime)
			if err != nil {
				return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", s, err)
			}
			total += time.Duration(n) * unit
		}
	}
	if num != "" || total == 0 {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	return total, nil
}

func isoUnit(c rune, inTime bool) (time.Duration, error) {
	switch {
	case c == 'D' && !inTime:
		return 24 * time.Hour, nil
	case c == 'H' && inTime:
		return time.Hour, nil
	case c == 'M' && inTime:
		return time.Minute, nil
	case c == 'S' && inTime:
		return time.Second, nil
	}
	return 0, fmt.Errorf("unsupported unit %q", c)
}

// FormatISODuration renders d the way the provider does (P1D, PT30M, PT1H)
func FormatISODuration(d time.Duration) string {
	var b strings.Builder
	b.WriteString("P")
	if days := d / (24 * time.Hour); days > 0 {
		b.WriteString(strconv.Itoa(int(days)))
		b.WriteString("D")
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		return b.String()
	}
	b.WriteString("T")
	if h := d / time.Hour; h > 0 {
		b.WriteString(strconv.Itoa(int(h)) + "H")
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		b.WriteString(strconv.Itoa(int(m)) + "M")
		d -= m * time.Minute
	}
	if s := d / time.Second; s > 0 {
		b.WriteString(strconv.Itoa(int(s)) + "S")
	}
	return b.String()
}
