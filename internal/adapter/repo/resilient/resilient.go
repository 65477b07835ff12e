// Package resilient decorates the persistence ports with the circuit
// breaker and a bounded, jittered retry policy. Every repository call the
// pipeline makes goes through these wrappers; no other layer retries.
package resilient

import (
	"context"
	"errors"
	"fmt"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/observability"
)

// Protector runs operations through the circuit breaker with retries.
type Protector struct {
	Breaker *observability.CircuitBreaker
	Retry   domain.RetryConfig
}

// NewProtector constructs a Protector around the given breaker.
func NewProtector(cb *observability.CircuitBreaker, retry domain.RetryConfig) *Protector {
	return &Protector{Breaker: cb, Retry: retry}
}

// Do executes op through the breaker, retrying transient failures with
// jittered exponential backoff. Retries stop immediately when the circuit
// opens (surfaced as domain.ErrUnavailable wrapping ErrCircuitOpen) and for
// benign domain errors like not-found, which are data outcomes rather than
// dependency failures and must neither trip the breaker nor be retried.
func (p *Protector) Do(ctx context.Context, op func() error) error {
	attempt := func() error {
		var opErr error
		err := p.Breaker.Execute(func() error {
			opErr = op()
			if isBenign(opErr) {
				return nil
			}
			return opErr
		})
		if errors.Is(err, observability.ErrCircuitOpen) {
			return backoff.Permanent(fmt.Errorf("%w: %w", domain.ErrUnavailable, err))
		}
		if opErr != nil && isBenign(opErr) {
			return backoff.Permanent(opErr)
		}
		return err
	}
	err := backoff.Retry(attempt, p.newBackOff(ctx))
	// backoff.Permanent unwraps itself on return; nothing more to strip.
	return err
}

func (p *Protector) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.Retry.InitialDelay
	expo.MaxInterval = p.Retry.MaxDelay
	expo.Multiplier = p.Retry.Multiplier
	expo.MaxElapsedTime = 0
	if !p.Retry.Jitter {
		expo.RandomizationFactor = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(p.Retry.MaxRetries)), ctx)
}

// isBenign reports whether err is a data outcome rather than a dependency
// failure.
func isBenign(err error) bool {
	return err == nil ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidArgument) ||
		errors.Is(err, domain.ErrConflict)
}

// Documents wraps a DocumentRepository with the protector.
type Documents struct {
	next domain.DocumentRepository
	p    *Protector
}

// NewDocuments decorates a DocumentRepository.
func NewDocuments(next domain.DocumentRepository, p *Protector) Documents {
	return Documents{next: next, p: p}
}

func (d Documents) Create(ctx domain.Context, doc domain.Document) (string, error) {
	var id string
	err := d.p.Do(ctx, func() error {
		var err error
		id, err = d.next.Create(ctx, doc)
		return err
	})
	return id, err
}

func (d Documents) Get(ctx domain.Context, id string) (domain.Document, error) {
	var out domain.Document
	err := d.p.Do(ctx, func() error {
		var err error
		out, err = d.next.Get(ctx, id)
		return err
	})
	return out, err
}

func (d Documents) SetResult(ctx domain.Context, id string, status domain.DocumentStatus, r *domain.ExtractionResult) error {
	return d.p.Do(ctx, func() error {
		return d.next.SetResult(ctx, id, status, r)
	})
}

// Feedback wraps a FeedbackRepository with the protector.
type Feedback struct {
	next domain.FeedbackRepository
	p    *Protector
}

// NewFeedback decorates a FeedbackRepository.
func NewFeedback(next domain.FeedbackRepository, p *Protector) Feedback {
	return Feedback{next: next, p: p}
}

func (f Feedback) Upsert(ctx domain.Context, fb domain.Feedback) (string, error) {
	var id string
	err := f.p.Do(ctx, func() error {
		var err error
		id, err = f.next.Upsert(ctx, fb)
		return err
	})
	return id, err
}

func (f Feedback) GetByDocument(ctx domain.Context, documentID string) ([]domain.Feedback, error) {
	var out []domain.Feedback
	err := f.p.Do(ctx, func() error {
		var err error
		out, err = f.next.GetByDocument(ctx, documentID)
		return err
	})
	return out, err
}

func (f Feedback) RecentNonCorrect(ctx domain.Context, businessID string, limit int) ([]domain.Feedback, error) {
	var out []domain.Feedback
	err := f.p.Do(ctx, func() error {
		var err error
		out, err = f.next.RecentNonCorrect(ctx, businessID, limit)
		return err
	})
	return out, err
}

// Patterns wraps a PatternRepository with the protector.
type Patterns struct {
	next domain.PatternRepository
	p    *Protector
}

// NewPatterns decorates a PatternRepository.
func NewPatterns(next domain.PatternRepository, p *Protector) Patterns {
	return Patterns{next: next, p: p}
}

func (pt Patterns) GetForUpdate(ctx domain.Context, businessID string, category domain.DocumentCategory) (domain.LearningPattern, error) {
	var out domain.LearningPattern
	err := pt.p.Do(ctx, func() error {
		var err error
		out, err = pt.next.GetForUpdate(ctx, businessID, category)
		return err
	})
	return out, err
}

func (pt Patterns) Save(ctx domain.Context, p domain.LearningPattern) error {
	return pt.p.Do(ctx, func() error {
		return pt.next.Save(ctx, p)
	})
}

func (pt Patterns) ListUsable(ctx domain.Context, businessID string, category domain.DocumentCategory, floor float64) ([]domain.LearningPattern, error) {
	var out []domain.LearningPattern
	err := pt.p.Do(ctx, func() error {
		var err error
		out, err = pt.next.ListUsable(ctx, businessID, category, floor)
		return err
	})
	return out, err
}
