package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/metering-gateway/tools/timeparser"
)

func TestParseMeterTimestamp_LoadCurve(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("2024-01-01 00:30:00")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_Daily(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("2024-01-05")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_RFC3339(t *testing.T) {
	result, err := timeparser.ParseMeterTimestamp("2025-12-29T10:30:45Z")
	if err != nil {
		t.Fatalf("Failed to parse timestamp: %v", err)
	}

	expected := time.Date(2025, 12, 29, 10, 30, 45, 0, time.UTC)
	if !result.Equal(expected) {
		t.Errorf("Expected %v, got %v", expected, result)
	}
}

func TestParseMeterTimestamp_Invalid(t *testing.T) {
	if _, err := timeparser.ParseMeterTimestamp("invalid-date-string"); err == nil {
		t.Error("Expected error for invalid timestamp")
	}
}

func TestParseISODuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT30M":  30 * time.Minute,
		"PT10M":  10 * time.Minute,
		"PT15M":  15 * time.Minute,
		"PT1H":   time.Hour,
		"P1D":    24 * time.Hour,
		"P1DT2H": 26 * time.Hour,
	}
	for in, want := range cases {
		got, err := timeparser.ParseISODuration(in)
		if err != nil {
			t.Errorf("ParseISODuration(%q) returned error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseISODuration(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseISODuration_Invalid(t *testing.T) {
	for _, in := range []string{"", "30M", "PT", "PT30", "P5M", "PTxM"} {
		if _, err := timeparser.ParseISODuration(in); err == nil {
			t.Errorf("Expected error for %q", in)
		}
	}
}

func TestFormatISODuration(t *testing.T) {
	cases := map[time.Duration]string{
		30 * time.Minute: "PT30M",
		time.Hour:        "PT1H",
		24 * time.Hour:   "P1D",
		90 * time.Minute: "PT1H30M",
	}
	for in, want := range cases {
		if got := timeparser.FormatISODuration(in); got != want {
			t.Errorf("FormatISODuration(%v) = %q, want %q", in, got, want)
		}
	}
}
