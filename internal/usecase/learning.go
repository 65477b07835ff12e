package usecase

import (
	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/learning"
)

// AdviceCache is the caching port for learning advice. The Redis adapter
// implements it; a nil cache disables caching.
type AdviceCache interface {
	Get(ctx domain.Context, businessID, documentID string, useBusinessPatterns bool) (learning.Advice, bool)
	Set(ctx domain.Context, businessID, documentID string, useBusinessPatterns bool, advice learning.Advice)
	InvalidateBusiness(ctx domain.Context, businessID string)
}

// LearningService fronts the learning core with response caching and
// feedback metrics.
type LearningService struct {
	Core  *learning.Service
	Docs  domain.DocumentRepository
	Cache AdviceCache
}

// NewLearningService constructs a LearningService with its dependencies.
func NewLearningService(core *learning.Service, docs domain.DocumentRepository, cache AdviceCache) LearningService {
	return LearningService{Core: core, Docs: docs, Cache: cache}
}

// RecordFeedback stores feedback, updates learning patterns, and drops
// cached advice for the affected business.
func (s LearningService) RecordFeedback(ctx domain.Context, f domain.Feedback) (string, error) {
	id, err := s.Core.RecordFeedback(ctx, f)
	if err != nil {
		return "", err
	}
	observability.RecordFeedback(string(f.Kind))
	if s.Cache != nil {
		if doc, derr := s.Docs.Get(ctx, f.DocumentID); derr == nil {
			s.Cache.InvalidateBusiness(ctx, doc.BusinessID)
		}
	}
	return id, nil
}

// FeedbackForDocument lists the feedback recorded for a document, newest
// first.
func (s LearningService) FeedbackForDocument(ctx domain.Context, documentID string) ([]domain.Feedback, error) {
	return s.Core.FeedbackForDocument(ctx, documentID)
}

// ApplyLearning returns learning advice for a document, served from cache
// when a fresh entry exists.
func (s LearningService) ApplyLearning(ctx domain.Context, documentID string, useBusinessPatterns bool) (learning.Advice, error) {
	doc, err := s.Docs.Get(ctx, documentID)
	if err != nil {
		return learning.Advice{}, err
	}
	if s.Cache != nil {
		if advice, ok := s.Cache.Get(ctx, doc.BusinessID, documentID, useBusinessPatterns); ok {
			return advice, nil
		}
	}
	advice, err := s.Core.ApplyLearning(ctx, documentID, useBusinessPatterns)
	if err != nil {
		return learning.Advice{}, err
	}
	if s.Cache != nil {
		s.Cache.Set(ctx, doc.BusinessID, documentID, useBusinessPatterns, advice)
	}
	return advice, nil
}
