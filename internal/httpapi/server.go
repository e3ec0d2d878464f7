package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/metering-gateway/internal/service"
	"github.com/septivank/metering-gateway/internal/validator"
	"go.uber.org/zap"
)

// Retriever is the engine behind the API
type Retriever interface {
	Retrieve(ctx context.Context, req service.Request) (*service.Result, error)
	ClearCache(ctx context.Context, accountID, pointID string) (int, error)
}

type Server struct {
	Retrieval Retriever
	Validator *validator.Validator
	JWTSecret string
	Logger    *zap.Logger
}

func NewServer(retrieval Retriever, v *validator.Validator, jwtSecret string, logger *zap.Logger) *Server {
	return &Server{Retrieval: retrieval, Validator: v, JWTSecret: jwtSecret, Logger: logger}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)

	r.Route("/v1/points/{pointID}", func(r chi.Router) {
		r.Use(RequireAccount(s.JWTSecret))
		r.Get("/{kind}", s.GetReadings)
		r.Delete("/cache", s.ClearCache)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Handle("/metrics", promhttp.Handler())
	return r
}
