// Command server starts the VAT extraction HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	rediscache "github.com/fairyhunter13/vat-extraction-service/internal/adapter/cache/redis"
	httpserver "github.com/fairyhunter13/vat-extraction-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/repo/resilient"
	"github.com/fairyhunter13/vat-extraction-service/internal/app"
	"github.com/fairyhunter13/vat-extraction-service/internal/config"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/learning"
	coreobs "github.com/fairyhunter13/vat-extraction-service/internal/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/usecase"
	"github.com/fairyhunter13/vat-extraction-service/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so /metrics exposes
	// HTTP, extraction, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// One breaker guards every repository call; the resilient decorators
	// add bounded retries on top of it.
	breaker := coreobs.NewCircuitBreaker(coreobs.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
	})
	protector := resilient.NewProtector(breaker, cfg.RetryConfig())

	docRepo := resilient.NewDocuments(postgres.NewDocumentRepo(pool), protector)
	fbRepo := resilient.NewFeedback(postgres.NewFeedbackRepo(pool), protector)
	patRepo := resilient.NewPatterns(postgres.NewPatternRepo(pool), protector)

	// Queue client (Redpanda producer)
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue client", slog.Any("error", err))
		}
	}()

	// Redis cache for learning advice. The API degrades gracefully without
	// it, so a connect failure only logs.
	var advCache *rediscache.AdviceCache
	var redisProbe app.RedisClient
	rdb, err := rediscache.NewClient(cfg.RedisURL)
	if err != nil {
		slog.Error("redis connect failed, advice cache disabled", slog.Any("error", err))
	} else {
		defer func() { _ = rdb.Close() }()
		advCache = rediscache.NewAdviceCache(rdb, cfg.LearningCacheTTL)
		redisProbe = rdb
	}

	// Extraction pipeline
	extractor := extraction.NewExtractor()
	validator := validation.NewValidator()
	monitor := extraction.NewMonitor()

	// Usecases
	docSvc := usecase.NewDocumentService(docRepo, producer)
	extractSvc := usecase.NewExtractService(docRepo, extractor, validator, monitor)
	learnSvc := usecase.NewLearningService(learning.NewService(docRepo, fbRepo, patRepo), docRepo, advCache)
	suiteSvc := usecase.NewSuiteService(extractor, validator)
	statsSvc := usecase.NewStatsService(monitor, breaker)

	dbCheck, redisCheck, kafkaCheck := app.BuildReadinessChecks(pool, redisProbe, producer.Client())

	srv := httpserver.NewServer(cfg, docSvc, extractSvc, learnSvc, suiteSvc, statsSvc, dbCheck, redisCheck, kafkaCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
