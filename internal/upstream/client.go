// Package upstream talks to the metering data provider.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/tools/timeparser"
)

var kindPaths = map[metering.Kind]string{
	metering.ConsumptionDaily:  "/metering_data_dc/v5/daily_consumption",
	metering.ConsumptionDetail: "/metering_data_clc/v5/consumption_load_curve",
	metering.ProductionDaily:   "/metering_data_dp/v5/daily_production",
	metering.ProductionDetail:  "/metering_data_plc/v5/production_load_curve",
}

// Client is the HTTP adapter for the four data kinds
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates an adapter. timeout is the provider call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type intervalReading struct {
	Value          string `json:"value"`
	Date           string `json:"date"`
	IntervalLength string `json:"interval_length"`
}

type meterReading struct {
	UsagePointID    string            `json:"usage_point_id"`
	Start           string            `json:"start"`
	End             string            `json:"end"`
	ReadingType     *ReadingType      `json:"reading_type"`
	IntervalReading []intervalReading `json:"interval_reading"`
}

type response struct {
	MeterReading     *meterReading `json:"meter_reading"`
	Error            string        `json:"error"`
	ErrorDescription string        `json:"error_description"`
}

// Fetch calls the provider for [start, end]. Transport failures, timeouts and
// unexpected bodies come back as Failed.
func (c *Client) Fetch(ctx context.Context, kind metering.Kind, pointID string, start, end time.Time, accessToken string) Result {
	path, ok := kindPaths[kind]
	if !ok {
		return Result{Outcome: Failed, Message: fmt.Sprintf("unsupported kind %s", kind)}
	}

	q := url.Values{
		"usage_point_id": {pointID},
		"start":          {metering.FormatDate(start)},
		"end":            {metering.FormatDate(end)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Result{Outcome: Failed, Message: fmt.Sprintf("failed to read body: %v", err)}
	}

	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{Outcome: Failed, Message: fmt.Sprintf("status %d: undecodable body: %v", resp.StatusCode, err)}
	}

	if parsed.Error != "" {
		return classifyError(parsed.Error, parsed.ErrorDescription)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{Outcome: Failed, Message: fmt.Sprintf("status %d", resp.StatusCode)}
	}
	if parsed.MeterReading == nil {
		return Result{Outcome: Failed, Message: "response has no meter_reading"}
	}

	readings, err := parseReadings(parsed.MeterReading)
	if err != nil {
		return Result{Outcome: Failed, Message: err.Error()}
	}
	return Result{Outcome: OK, Readings: readings, ReadingType: parsed.MeterReading.ReadingType}
}

func classifyError(code, description string) Result {
	msg := code
	if description != "" {
		msg = code + ": " + description
	}
	switch code {
	case CodeMeterActivation:
		return Result{Outcome: MeterActivation, Message: msg}
	case CodeNoDataFound:
		return Result{Outcome: NoData, Message: msg}
	default:
		return Result{Outcome: Failed, Message: msg}
	}
}

func parseReadings(mr *meterReading) ([]metering.Reading, error) {
	var fallback time.Duration
	if mr.ReadingType != nil && mr.ReadingType.MeasuringPeriod != "" {
		if d, err := timeparser.ParseISODuration(mr.ReadingType.MeasuringPeriod); err == nil {
			fallback = d
		}
	}

	readings := make([]metering.Reading, 0, len(mr.IntervalReading))
	for _, ir := range mr.IntervalReading {
		ts, err := timeparser.ParseMeterTimestamp(ir.Date)
		if err != nil {
			return nil, err
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(ir.Value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid reading value %q: %w", ir.Value, err)
		}
		interval := fallback
		if ir.IntervalLength != "" {
			d, err := timeparser.ParseISODuration(ir.IntervalLength)
			if err != nil {
				return nil, err
			}
			interval = d
		}
		readings = append(readings, metering.Reading{
			Timestamp:      ts,
			Value:          value,
			IntervalLength: metering.Interval(interval),
		})
	}
	return readings, nil
}
