package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/septivank/metering-gateway/internal/cache"
	"github.com/septivank/metering-gateway/internal/config"
	"github.com/septivank/metering-gateway/internal/db"
	"github.com/septivank/metering-gateway/internal/failure"
	"github.com/septivank/metering-gateway/internal/httpapi"
	"github.com/septivank/metering-gateway/internal/kvstore"
	"github.com/septivank/metering-gateway/internal/metrics"
	"github.com/septivank/metering-gateway/internal/mq"
	"github.com/septivank/metering-gateway/internal/quota"
	"github.com/septivank/metering-gateway/internal/ratelimit"
	"github.com/septivank/metering-gateway/internal/repository"
	"github.com/septivank/metering-gateway/internal/service"
	"github.com/septivank/metering-gateway/internal/token"
	"github.com/septivank/metering-gateway/internal/upstream"
	"github.com/septivank/metering-gateway/internal/validator"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProvideDBPool creates a new database pool instance
func ProvideDBPool(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*pgxpool.Pool, error) {
	return db.NewPool(lc, logger, cfg.Database.URL)
}

// ProvideRepository creates a new repository instance
func ProvideRepository(pool *pgxpool.Pool) *repository.Repository {
	return repository.NewRepository(pool)
}

// ProvideTokenStore creates the Postgres token store
func ProvideTokenStore(pool *pgxpool.Pool) *repository.TokenStore {
	return repository.NewTokenStore(pool)
}

// ProvideRedisClient creates the Redis client backing the day cache
func ProvideRedisClient(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*redis.Client, error) {
	return kvstore.NewRedisClient(lc, logger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
}

// ProvideKVStore exposes Redis as the shared key-value store
func ProvideKVStore(client *redis.Client) kvstore.Store {
	return kvstore.NewRedisStore(client)
}

// ProvideDayBucketCache creates the day bucket cache
func ProvideDayBucketCache(store kvstore.Store, cfg *config.Config, logger *zap.Logger) *cache.DayBucketCache {
	return cache.NewDayBucketCache(store, cfg.Retrieval.Completeness, logger)
}

// ProvideFailureTracker creates the fail counter and blacklist
func ProvideFailureTracker(store kvstore.Store, cfg *config.Config, logger *zap.Logger) *failure.Tracker {
	return failure.NewTracker(store, failure.Config{
		Threshold:    cfg.Retrieval.FailureThreshold,
		FailTTL:      cfg.Retrieval.FailureTTL,
		BlacklistTTL: cfg.Retrieval.BlacklistTTL,
	}, logger)
}

// ProvideQuotaChecker creates the account quota checker
func ProvideQuotaChecker(store kvstore.Store, cfg *config.Config) *quota.Checker {
	return quota.NewChecker(store, cfg.Quota.DailyUpstream)
}

// ProvideTokenManager creates the shared upstream token manager
func ProvideTokenManager(store *repository.TokenStore, cfg *config.Config, logger *zap.Logger) *token.Manager {
	issuer := token.NewClientCredentials(cfg.Upstream.TokenURL, cfg.Upstream.ClientID, cfg.Upstream.ClientSecret, cfg.Upstream.Timeout)
	return token.NewManager(store, issuer, logger)
}

// ProvideLimiter creates the process-wide outbound rate limiter
func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.NewLimiter(cfg.RateLimit.MaxCalls, cfg.RateLimit.TimeFrame,
		ratelimit.WithWaitObserver(func(d time.Duration) {
			metrics.RateLimitWait.Observe(d.Seconds())
		}),
	)
}

// ProvideUpstreamClient creates the provider HTTP client
func ProvideUpstreamClient(cfg *config.Config) *upstream.Client {
	return upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Timeout)
}

// ProvideValidator creates a new validator instance
func ProvideValidator(cfg *config.Config) *validator.Validator {
	return validator.NewValidator(cfg.Retrieval.MaxRangeDays)
}

// ProvideMQConnection creates a new RabbitMQ connection instance
func ProvideMQConnection(lc fx.Lifecycle, logger *zap.Logger, cfg *config.Config) (*mq.Connection, error) {
	return mq.NewConnection(lc, logger, cfg.RabbitMQ.URL)
}

// ProvidePublisher creates the event publisher
func ProvidePublisher(lc fx.Lifecycle, conn *mq.Connection, cfg *config.Config, logger *zap.Logger) (*mq.Publisher, error) {
	publisher, err := mq.NewPublisher(conn, cfg.RabbitMQ.EventsExchange, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

// ProvideRetrievalService wires the retrieval engine
func ProvideRetrievalService(
	repo *repository.Repository,
	checker *quota.Checker,
	tokens *token.Manager,
	limiter *ratelimit.Limiter,
	client *upstream.Client,
	dayCache *cache.DayBucketCache,
	tracker *failure.Tracker,
	publisher *mq.Publisher,
	cfg *config.Config,
	logger *zap.Logger,
) *service.RetrievalService {
	return service.NewRetrievalService(service.Deps{
		Accounts:  repo,
		Points:    repo,
		Quota:     checker,
		Tokens:    tokens,
		Limiter:   limiter,
		Fetcher:   client,
		Cache:     dayCache,
		Tracker:   tracker,
		Publisher: publisher,
	}, service.RetrievalConfig{
		MaxRetries:    cfg.Retrieval.MaxRetries,
		MaxWindowDays: cfg.Retrieval.MaxWindowDays,
	}, logger)
}

// ProvidePrefetchHandler creates the queue job handler
func ProvidePrefetchHandler(svc *service.RetrievalService, v *validator.Validator, logger *zap.Logger) *service.PrefetchHandler {
	return service.NewPrefetchHandler(svc, v, logger)
}

// ProvideHTTPServer creates the API server
func ProvideHTTPServer(svc *service.RetrievalService, v *validator.Validator, cfg *config.Config, logger *zap.Logger) *http.Server {
	api := httpapi.NewServer(svc, v, cfg.Auth.JWTSecret, logger)
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startConsumer(lc fx.Lifecycle, conn *mq.Connection, handler *service.PrefetchHandler, cfg *config.Config, logger *zap.Logger) (*mq.Consumer, error) {
	consumer, err := mq.NewConsumer(mq.ConsumerConfig{
		Connection:    conn,
		Queue:         cfg.RabbitMQ.PrefetchQueue,
		DLQQueue:      cfg.RabbitMQ.DLQQueue,
		Exchange:      cfg.RabbitMQ.PrefetchExchange,
		RoutingKey:    cfg.RabbitMQ.PrefetchRoutingKey,
		PrefetchCount: cfg.RabbitMQ.PrefetchCount,
		Logger:        logger,
		Handler:       handler.Handle,
	})
	if err != nil {
		return nil, err
	}
	consumer.RegisterLifecycle(lc)
	return consumer, nil
}

func startHTTPServer(lc fx.Lifecycle, srv *http.Server, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			logger.Info("http server listening", zap.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
