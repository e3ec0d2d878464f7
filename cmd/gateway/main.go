package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/septivank/metering-gateway/internal/config"
	"github.com/septivank/metering-gateway/internal/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const startTimeout = 30 * time.Second

// loadEnv loads the first .env found in the working directory or its two parents
func loadEnv() {
	candidates := []string{".env"}
	if workDir, err := os.Getwd(); err == nil {
		parent := filepath.Dir(workDir)
		candidates = append(candidates,
			filepath.Join(parent, ".env"),
			filepath.Join(filepath.Dir(parent), ".env"),
		)
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err == nil {
			absPath, _ := filepath.Abs(path)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}

func main() {
	loadEnv()

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideTokenStore,
			ProvideRedisClient,
			ProvideKVStore,
			ProvideDayBucketCache,
			ProvideFailureTracker,
			ProvideQuotaChecker,
			ProvideTokenManager,
			ProvideLimiter,
			ProvideUpstreamClient,
			ProvideValidator,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideRetrievalService,
			ProvidePrefetchHandler,
			ProvideHTTPServer,
		),
		fx.Invoke(startConsumer, startHTTPServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			fmt.Fprintf(os.Stderr, "application did not start within %s; check that Postgres, Redis and RabbitMQ are reachable\n", startTimeout)
		}
		fmt.Fprintln(os.Stderr, "failed to start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), startTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping app:", err)
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
