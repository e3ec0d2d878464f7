package httpapi_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/septivank/metering-gateway/internal/httpapi"
	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/service"
	"github.com/septivank/metering-gateway/internal/validator"
	"go.uber.org/zap"
)

const (
	testSecret = "test-secret"
	testPoint  = "12345678901234"
)

type fakeRetriever struct {
	err     error
	last    service.Request
	cleared string
}

func (f *fakeRetriever) Retrieve(ctx context.Context, req service.Request) (*service.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	warning := metering.WarningPartialData
	return &service.Result{Response: metering.Response{
		Readings: []metering.Reading{{
			Timestamp:      time.Date(2024, 1, 1, 0, 30, 0, 0, time.UTC),
			Value:          12.5,
			IntervalLength: metering.Interval(30 * time.Minute),
		}},
		Warning: &warning,
	}}, nil
}

func (f *fakeRetriever) ClearCache(ctx context.Context, accountID, pointID string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cleared = pointID
	return 3, nil
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func newServer(retriever *fakeRetriever) http.Handler {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	v := validator.NewValidator(0).WithClock(func() time.Time { return now })
	return httpapi.NewServer(retriever, v, testSecret, zap.NewNop()).Routes()
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetReadings(t *testing.T) {
	retriever := &fakeRetriever{}
	h := newServer(retriever)
	token := signedToken(t, jwt.MapClaims{"account_id": "acc-1"})

	rec := do(t, h, http.MethodGet, "/v1/points/"+testPoint+"/consumption_detail?start=2024-01-01&end=2024-01-02", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(httpapi.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}

	var body struct {
		Readings []struct {
			Date           string  `json:"date"`
			Value          float64 `json:"value"`
			IntervalLength string  `json:"interval_length"`
		} `json:"readings"`
		Warning *string `json:"warning"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(body.Readings) != 1 || body.Readings[0].IntervalLength != "PT30M" {
		t.Errorf("unexpected readings: %+v", body.Readings)
	}
	if body.Warning == nil || *body.Warning != "PARTIAL_DATA" {
		t.Errorf("expected PARTIAL_DATA warning, got %v", body.Warning)
	}

	if retriever.last.AccountID != "acc-1" || retriever.last.Kind != metering.ConsumptionDetail {
		t.Errorf("unexpected request: %+v", retriever.last)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	retriever := &fakeRetriever{}
	h := newServer(retriever)

	req := httptest.NewRequest(http.MethodGet, "/v1/points/"+testPoint+"/production_daily?start=2024-01-01&end=2024-01-02", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwt.MapClaims{"account_id": "acc-1"}))
	req.Header.Set(httpapi.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if retriever.last.RequestID != "req-42" {
		t.Errorf("expected req-42, got %q", retriever.last.RequestID)
	}
}

func TestAuthentication(t *testing.T) {
	h := newServer(&fakeRetriever{})
	target := "/v1/points/" + testPoint + "/consumption_daily?start=2024-01-01&end=2024-01-02"

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"no account claim", signedToken(t, jwt.MapClaims{"sub": "x"})},
		{"expired", signedToken(t, jwt.MapClaims{"account_id": "acc-1", "exp": time.Now().Add(-time.Hour).Unix()})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(t, h, http.MethodGet, target, tt.token); rec.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rec.Code)
			}
		})
	}
}

func TestErrorMapping(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"account_id": "acc-1"})
	target := "/v1/points/" + testPoint + "/consumption_daily?start=2024-01-01&end=2024-01-02"

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{metering.ErrPointNotFound, http.StatusNotFound, "point_not_found"},
		{metering.ErrNoDataAvailable, http.StatusNotFound, "no_data_available"},
		{fmt.Errorf("%w: token endpoint down", metering.ErrUpstreamUnavailable), http.StatusServiceUnavailable, "upstream_unavailable"},
		{&metering.QuotaExceededError{AccountID: "acc-1", Current: 11, Limit: 10}, http.StatusTooManyRequests, "quota_exceeded"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := do(t, newServer(&fakeRetriever{err: tt.err}), http.MethodGet, target, token)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid body: %v", err)
			}
			if body["error"] != tt.code {
				t.Errorf("expected code %s, got %v", tt.code, body["error"])
			}
		})
	}
}

func TestQuotaBodyCarriesCounts(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"account_id": "acc-1"})
	h := newServer(&fakeRetriever{err: &metering.QuotaExceededError{AccountID: "acc-1", Current: 11, Limit: 10}})

	rec := do(t, h, http.MethodGet, "/v1/points/"+testPoint+"/consumption_daily?start=2024-01-01&end=2024-01-02", token)
	var body struct {
		Current int64 `json:"current"`
		Limit   int64 `json:"limit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Current != 11 || body.Limit != 10 {
		t.Errorf("expected 11/10, got %d/%d", body.Current, body.Limit)
	}
}

func TestInvalidRequests(t *testing.T) {
	token := signedToken(t, jwt.MapClaims{"account_id": "acc-1"})
	retriever := &fakeRetriever{}
	h := newServer(retriever)

	targets := []string{
		"/v1/points/123/consumption_daily?start=2024-01-01&end=2024-01-02",
		"/v1/points/" + testPoint + "/consumption_weekly?start=2024-01-01&end=2024-01-02",
		"/v1/points/" + testPoint + "/consumption_daily?start=2024-01-03&end=2024-01-02",
		"/v1/points/" + testPoint + "/consumption_daily?start=2024-01-01",
		"/v1/points/" + testPoint + "/consumption_daily?start=2024-06-01&end=2024-06-02",
	}
	for _, target := range targets {
		if rec := do(t, h, http.MethodGet, target, token); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", target, rec.Code)
		}
	}
	if retriever.last.PointID != "" {
		t.Error("expected invalid requests to never reach the engine")
	}
}

func TestClearCache(t *testing.T) {
	retriever := &fakeRetriever{}
	h := newServer(retriever)
	token := signedToken(t, jwt.MapClaims{"account_id": "acc-1"})

	rec := do(t, h, http.MethodDelete, "/v1/points/"+testPoint+"/cache", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Deleted int `json:"deleted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body.Deleted != 3 || retriever.cleared != testPoint {
		t.Errorf("unexpected clear result: %d for %q", body.Deleted, retriever.cleared)
	}
}

func TestHealthz(t *testing.T) {
	if rec := do(t, newServer(&fakeRetriever{}), http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
