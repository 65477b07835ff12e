package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// StaleDocumentLister lists documents that never made it through extraction.
// The Postgres document repo implements it.
type StaleDocumentLister interface {
	ListStaleUnprocessed(ctx domain.Context, olderThan time.Time, limit int) ([]domain.Document, error)
}

// StuckDocumentSweeper periodically re-enqueues documents that stayed
// unprocessed past maxAge, e.g. because the enqueue raced a broker outage
// or a worker crashed before marking the record.
type StuckDocumentSweeper struct {
	docs     StaleDocumentLister
	queue    domain.Queue
	maxAge   time.Duration
	interval time.Duration
}

// NewStuckDocumentSweeper constructs a sweeper. Nil dependencies return nil,
// which Run treats as a no-op.
func NewStuckDocumentSweeper(docs StaleDocumentLister, queue domain.Queue, maxAge, interval time.Duration) *StuckDocumentSweeper {
	if docs == nil || queue == nil {
		return nil
	}
	if maxAge <= 0 {
		maxAge = 3 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckDocumentSweeper{docs: docs, queue: queue, maxAge: maxAge, interval: interval}
}

// Run sweeps on the interval until the context is cancelled.
func (s *StuckDocumentSweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck document sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

const sweepPageSize = 100

func (s *StuckDocumentSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("documents.sweeper")
	ctx, span := tracer.Start(ctx, "StuckDocumentSweeper.sweepOnce")
	defer span.End()

	cutoff := time.Now().Add(-s.maxAge)
	docs, err := s.docs.ListStaleUnprocessed(ctx, cutoff, sweepPageSize)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck document sweep failed to list documents", slog.Any("error", err))
		return
	}

	requeued := 0
	for _, d := range docs {
		payload := domain.ExtractTaskPayload{DocumentID: d.ID, BusinessID: d.BusinessID, Category: d.Category}
		if _, err := s.queue.EnqueueExtract(ctx, payload); err != nil {
			slog.Error("stuck document re-enqueue failed",
				slog.String("document_id", d.ID),
				slog.Any("error", err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		slog.Info("stuck documents re-enqueued", slog.Int("count", requeued))
	}
	span.SetAttributes(
		attribute.Int("documents.stale", len(docs)),
		attribute.Int("documents.requeued", requeued),
	)
}
