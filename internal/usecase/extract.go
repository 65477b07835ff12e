package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/validation"
)

// ExtractService runs the extraction pipeline for one document: pattern
// extraction, confidence estimation, optional validation against an expected
// total, monitoring, and result persistence.
type ExtractService struct {
	Docs      domain.DocumentRepository
	Extractor *extraction.Extractor
	Validator *validation.Validator
	Monitor   *extraction.Monitor
}

// NewExtractService constructs an ExtractService with its dependencies.
func NewExtractService(docs domain.DocumentRepository, ex *extraction.Extractor, v *validation.Validator, m *extraction.Monitor) ExtractService {
	return ExtractService{Docs: docs, Extractor: ex, Validator: v, Monitor: m}
}

// ProcessExtract handles one queued extraction task. A vanished document is
// skipped without error so the record is not replayed forever.
func (s ExtractService) ProcessExtract(ctx domain.Context, payload domain.ExtractTaskPayload) error {
	doc, err := s.Docs.Get(ctx, payload.DocumentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			slog.Warn("queued document no longer exists, skipping",
				slog.String("document_id", payload.DocumentID))
			return nil
		}
		return err
	}
	_, err = s.run(ctx, doc, payload.ExpectedTotal)
	return err
}

// Extract runs the pipeline synchronously for one stored document and
// returns the persisted result.
func (s ExtractService) Extract(ctx domain.Context, documentID string, expectedTotal *float64) (domain.ExtractionResult, error) {
	doc, err := s.Docs.Get(ctx, documentID)
	if err != nil {
		return domain.ExtractionResult{}, err
	}
	return s.run(ctx, doc, expectedTotal)
}

func (s ExtractService) run(ctx domain.Context, doc domain.Document, expectedTotal *float64) (result domain.ExtractionResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("op=extract.run: %w: panic: %v", domain.ErrInternal, r)
			_ = s.Docs.SetResult(ctx, doc.ID, domain.StatusFailed, nil)
		}
	}()

	result = s.Extractor.Extract(doc.Text, doc.Category)

	succeeded := len(result.SalesAmounts)+len(result.PurchaseAmounts) > 0
	outcome := extraction.AttemptOutcome{
		Category:   doc.Category,
		Succeeded:  succeeded,
		Confidence: result.Confidence,
		Latency:    time.Since(start),
		Issues:     result.Diagnostics,
	}
	if expectedTotal != nil {
		vr := s.Validator.Validate(result, *expectedTotal, doc.Category)
		outcome.Validated = true
		outcome.Accuracy = vr.AccuracyPercentage
		outcome.Issues = append(outcome.Issues, vr.Issues...)
		observability.ObserveExtractionQuality(result.Confidence, vr.AccuracyPercentage)
		if !vr.Passed {
			result.Diagnostics = append(result.Diagnostics,
				fmt.Sprintf("validation against expected total %.2f failed (accuracy %.1f%%)", vr.Expected, vr.AccuracyPercentage))
		}
	} else {
		observability.ObserveExtractionQuality(result.Confidence, -1)
	}
	s.Monitor.RecordAttempt(outcome)
	observability.RecordExtraction(string(doc.Category), succeeded, time.Since(start))

	if err := s.Docs.SetResult(ctx, doc.ID, domain.StatusProcessed, &result); err != nil {
		return domain.ExtractionResult{}, err
	}

	slog.Info("document processed",
		slog.String("document_id", doc.ID),
		slog.String("category", string(doc.Category)),
		slog.String("method", result.Method),
		slog.Float64("confidence", result.Confidence),
		slog.Int("amounts", len(result.SalesAmounts)+len(result.PurchaseAmounts)))
	return result, nil
}
