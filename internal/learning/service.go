// Package learning maintains per-business learned patterns from user
// corrections and answers apply-learning queries for new documents.
package learning

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// Pattern tuning constants.
const (
	// confidenceSeed is the neutral prior for a freshly created pattern.
	confidenceSeed = 0.5
	// confidenceStep is the fixed increment per folded correction.
	confidenceStep = 0.1
	// UsableConfidenceFloor is the minimum confidence for a pattern to be
	// surfaced by apply-learning.
	UsableConfidenceFloor = 0.5
	// recentCorrectionLimit bounds how many recent corrections an
	// apply-learning response carries.
	recentCorrectionLimit = 5
)

// Service folds user feedback into learned patterns and serves
// apply-learning queries.
type Service struct {
	Documents domain.DocumentRepository
	Feedback  domain.FeedbackRepository
	Patterns  domain.PatternRepository

	now func() time.Time

	// keyMu serializes read-modify-write per (business, category) so
	// concurrent corrections for the same business never lose updates.
	// Different keys proceed in parallel.
	mu    sync.Mutex
	keyMu map[string]*sync.Mutex
}

// NewService constructs a learning Service over the given repositories.
func NewService(docs domain.DocumentRepository, fb domain.FeedbackRepository, pat domain.PatternRepository) *Service {
	return &Service{
		Documents: docs,
		Feedback:  fb,
		Patterns:  pat,
		now:       time.Now,
		keyMu:     make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockKey(businessID string, category domain.DocumentCategory) func() {
	key := businessID + "|" + string(category)
	s.mu.Lock()
	m, ok := s.keyMu[key]
	if !ok {
		m = &sync.Mutex{}
		s.keyMu[key] = m
	}
	s.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RecordFeedback upserts the feedback record keyed by (document, submitter)
// and, for non-CORRECT verdicts, folds the correction into the business's
// learned pattern. Pattern processing is best-effort: its failure is logged
// and never fails the submission, since the stored feedback remains durable
// for a later batch retry.
func (s *Service) RecordFeedback(ctx domain.Context, f domain.Feedback) (string, error) {
	if f.DocumentID == "" || f.SubmitterID == "" {
		return "", fmt.Errorf("%w: document and submitter ids required", domain.ErrInvalidArgument)
	}
	switch f.Kind {
	case domain.FeedbackCorrect, domain.FeedbackPartiallyCorrect, domain.FeedbackIncorrect:
	default:
		return "", fmt.Errorf("%w: unknown feedback kind %q", domain.ErrInvalidArgument, f.Kind)
	}

	id, err := s.Feedback.Upsert(ctx, f)
	if err != nil {
		return "", err
	}

	if f.Kind != domain.FeedbackCorrect {
		if err := s.updatePattern(ctx, f); err != nil {
			slog.Warn("pattern update failed; feedback stored for batch retry",
				slog.String("document_id", f.DocumentID),
				slog.Any("error", err))
		}
	}
	return id, nil
}

// FeedbackForDocument lists all feedback recorded for one document, newest
// first. The document must exist so a typo'd id reads as not-found rather
// than an empty list.
func (s *Service) FeedbackForDocument(ctx domain.Context, documentID string) ([]domain.Feedback, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id required", domain.ErrInvalidArgument)
	}
	if _, err := s.Documents.Get(ctx, documentID); err != nil {
		return nil, err
	}
	return s.Feedback.GetByDocument(ctx, documentID)
}

// updatePattern folds one correction into the (business, category) pattern:
// frequency grows by one, confidence by a fixed step capped at 1.0, and the
// correction joins a bounded FIFO window of the most recent entries.
func (s *Service) updatePattern(ctx domain.Context, f domain.Feedback) error {
	doc, err := s.Documents.Get(ctx, f.DocumentID)
	if err != nil {
		return fmt.Errorf("op=learning.updatePattern: %w", err)
	}

	unlock := s.lockKey(doc.BusinessID, doc.Category)
	defer unlock()

	record := domain.CorrectionRecord{
		DocumentID:       f.DocumentID,
		Kind:             f.Kind,
		OriginalAmounts:  f.OriginalAmounts,
		CorrectedAmounts: f.CorrectedAmounts,
		RecordedAt:       s.now().UTC(),
	}

	p, err := s.Patterns.GetForUpdate(ctx, doc.BusinessID, doc.Category)
	switch {
	case err == nil:
		p.Frequency++
		p.Confidence = min1(p.Confidence + confidenceStep)
		p.RecentCorrections = appendBounded(p.RecentCorrections, record, domain.PatternWindowSize)
		p.UpdatedAt = s.now().UTC()
	case errors.Is(err, domain.ErrNotFound):
		p = domain.LearningPattern{
			BusinessID:        doc.BusinessID,
			Category:          doc.Category,
			Frequency:         1,
			Confidence:        confidenceSeed,
			RecentCorrections: []domain.CorrectionRecord{record},
			CreatedAt:         s.now().UTC(),
			UpdatedAt:         s.now().UTC(),
		}
	default:
		return fmt.Errorf("op=learning.updatePattern: %w", err)
	}

	if err := s.Patterns.Save(ctx, p); err != nil {
		return fmt.Errorf("op=learning.updatePattern: %w", err)
	}
	return nil
}

// appendBounded keeps the window FIFO with at most cap entries, dropping
// the oldest first.
func appendBounded(window []domain.CorrectionRecord, r domain.CorrectionRecord, capacity int) []domain.CorrectionRecord {
	window = append(window, r)
	if len(window) > capacity {
		window = window[len(window)-capacity:]
	}
	return window
}

func min1(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	return v
}

// Advice is the answer to an apply-learning query for one document.
type Advice struct {
	Patterns          []domain.LearningPattern `json:"patterns"`
	RecentCorrections []domain.Feedback        `json:"recent_corrections"`
	Insights          []CorrectionInsight      `json:"insights"`
	Recommendations   []string                 `json:"recommendations"`
}

// ApplyLearning gathers the usable patterns for the document's business and
// category, the most recent non-CORRECT feedback for similar documents, and
// derives insights plus textual recommendations.
func (s *Service) ApplyLearning(ctx domain.Context, documentID string, useBusinessPatterns bool) (Advice, error) {
	doc, err := s.Documents.Get(ctx, documentID)
	if err != nil {
		return Advice{}, err
	}

	var advice Advice
	if useBusinessPatterns {
		patterns, err := s.Patterns.ListUsable(ctx, doc.BusinessID, doc.Category, UsableConfidenceFloor)
		if err != nil {
			return Advice{}, err
		}
		advice.Patterns = patterns
	}

	recent, err := s.Feedback.RecentNonCorrect(ctx, doc.BusinessID, recentCorrectionLimit)
	if err != nil {
		return Advice{}, err
	}
	advice.RecentCorrections = recent

	for _, p := range advice.Patterns {
		advice.Insights = append(advice.Insights, deriveInsights(p)...)
	}
	advice.Recommendations = recommendations(doc.Category, advice.Patterns, recent)
	return advice, nil
}
