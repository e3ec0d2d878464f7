package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/septivank/metering-gateway/internal/logging"
	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/service"
	"go.uber.org/zap"
)

type errorResp struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Current *int64 `json:"current,omitempty"`
	Limit   *int64 `json:"limit,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResp{Error: code, Message: message})
}

// writeEngineError maps engine errors onto statuses
func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	var quotaErr *metering.QuotaExceededError
	switch {
	case errors.Is(err, metering.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, metering.ErrPointNotFound):
		writeError(w, http.StatusNotFound, "point_not_found", err.Error())
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, errorResp{
			Error:   "quota_exceeded",
			Message: err.Error(),
			Current: &quotaErr.Current,
			Limit:   &quotaErr.Limit,
		})
	case errors.Is(err, metering.ErrUpstreamUnavailable):
		writeError(w, http.StatusServiceUnavailable, "upstream_unavailable", err.Error())
	case errors.Is(err, metering.ErrNoDataAvailable):
		writeError(w, http.StatusNotFound, "no_data_available", err.Error())
	default:
		logging.WithRequestID(s.Logger, RequestIDFromContext(r.Context())).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) GetReadings(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountIDFromContext(r.Context())
	q := r.URL.Query()

	rng, err := s.Validator.ValidateRange(chi.URLParam(r, "pointID"), chi.URLParam(r, "kind"), q.Get("start"), q.Get("end"))
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	result, err := s.Retrieval.Retrieve(r.Context(), service.Request{
		RequestID: RequestIDFromContext(r.Context()),
		AccountID: accountID,
		PointID:   rng.PointID,
		Kind:      rng.Kind,
		Start:     rng.Start,
		End:       rng.End,
	})
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result.Response)
}

func (s *Server) ClearCache(w http.ResponseWriter, r *http.Request) {
	accountID, _ := AccountIDFromContext(r.Context())
	pointID := chi.URLParam(r, "pointID")
	if !metering.ValidPointID(pointID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "point id must be 14 digits")
		return
	}

	deleted, err := s.Retrieval.ClearCache(r.Context(), accountID, pointID)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}
