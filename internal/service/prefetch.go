package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/septivank/metering-gateway/internal/metering"
	"github.com/septivank/metering-gateway/internal/mq"
	"github.com/septivank/metering-gateway/internal/validator"
	"go.uber.org/zap"
)

// PrefetchHandler warms the day cache from queued jobs
type PrefetchHandler struct {
	retrieval *RetrievalService
	validator *validator.Validator
	logger    *zap.Logger
}

// NewPrefetchHandler creates a new prefetch handler
func NewPrefetchHandler(retrieval *RetrievalService, v *validator.Validator, logger *zap.Logger) *PrefetchHandler {
	return &PrefetchHandler{retrieval: retrieval, validator: v, logger: logger}
}

// Handle runs one job through the retrieval engine. A range with no data is
// a completed job; anything the caller could retry is returned as an error so
// the message is dead-lettered.
func (h *PrefetchHandler) Handle(ctx context.Context, job mq.PrefetchJob) error {
	rng, err := h.validator.ValidateRange(job.PointID, job.Kind, job.Start, job.End)
	if err != nil {
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	result, err := h.retrieval.Retrieve(ctx, Request{
		RequestID: job.JobID,
		AccountID: job.AccountID,
		PointID:   rng.PointID,
		Kind:      rng.Kind,
		Start:     rng.Start,
		End:       rng.End,
	})
	if errors.Is(err, metering.ErrNoDataAvailable) {
		h.logger.Info("prefetch found no data", zap.String("job_id", job.JobID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("job %s: %w", job.JobID, err)
	}

	h.logger.Info("prefetch completed",
		zap.String("job_id", job.JobID),
		zap.Int("readings", len(result.Readings)),
		zap.Int("upstream_calls", result.UpstreamCalls),
		zap.Bool("partial", result.Partial()),
	)
	return nil
}
