// Command worker consumes extraction tasks from the Redpanda queue and runs
// the extraction pipeline against stored documents.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/repo/resilient"
	"github.com/fairyhunter13/vat-extraction-service/internal/app"
	"github.com/fairyhunter13/vat-extraction-service/internal/config"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	coreobs "github.com/fairyhunter13/vat-extraction-service/internal/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/usecase"
	"github.com/fairyhunter13/vat-extraction-service/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Expose job-queue and extraction metrics on a dedicated endpoint so
	// Prometheus can scrape the worker process too.
	observability.InitMetrics()
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9090", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	pool, err := postgres.NewPool(context.Background(), cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	breaker := coreobs.NewCircuitBreaker(coreobs.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
	})
	protector := resilient.NewProtector(breaker, cfg.RetryConfig())

	rawDocs := postgres.NewDocumentRepo(pool)
	docRepo := resilient.NewDocuments(rawDocs, protector)

	extractSvc := usecase.NewExtractService(docRepo, extraction.NewExtractor(), validation.NewValidator(), extraction.NewMonitor())

	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, extractSvc, cfg.ConsumerMaxConcurrency)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Re-enqueue documents whose extraction task got lost, e.g. when a
	// broker outage raced the original enqueue.
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("sweeper producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close sweeper producer", slog.Any("error", err))
		}
	}()
	if sweeper := app.NewStuckDocumentSweeper(rawDocs, producer, cfg.SweepStuckAfter, cfg.SweepInterval); sweeper != nil {
		go sweeper.Run(ctx)
	}

	slog.Info("starting redpanda consumer", slog.String("group", cfg.ConsumerGroup))
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("consumer error", slog.Any("error", err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}
