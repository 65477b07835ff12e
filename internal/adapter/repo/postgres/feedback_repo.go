package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// FeedbackRepo persists user feedback keyed by (document, submitter).
type FeedbackRepo struct{ Pool PgxPool }

// NewFeedbackRepo constructs a FeedbackRepo with the given pool.
func NewFeedbackRepo(p PgxPool) *FeedbackRepo { return &FeedbackRepo{Pool: p} }

// Upsert stores feedback, overwriting any existing record for the same
// (document, submitter) pair, and returns the record id.
func (r *FeedbackRepo) Upsert(ctx domain.Context, f domain.Feedback) (string, error) {
	tracer := otel.Tracer("repo.feedback")
	ctx, span := tracer.Start(ctx, "feedback.Upsert")
	defer span.End()

	orig, err := json.Marshal(f.OriginalAmounts)
	if err != nil {
		return "", fmt.Errorf("op=feedback.upsert: encode original: %w", err)
	}
	corrected, err := json.Marshal(f.CorrectedAmounts)
	if err != nil {
		return "", fmt.Errorf("op=feedback.upsert: encode corrected: %w", err)
	}
	corrections, err := json.Marshal(f.Corrections)
	if err != nil {
		return "", fmt.Errorf("op=feedback.upsert: encode corrections: %w", err)
	}

	id := f.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO extraction_feedback
	        (id, document_id, submitter_id, kind, original_amounts, corrected_amounts, corrections, notes, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
	      ON CONFLICT (document_id, submitter_id) DO UPDATE SET
	        kind=EXCLUDED.kind,
	        original_amounts=EXCLUDED.original_amounts,
	        corrected_amounts=EXCLUDED.corrected_amounts,
	        corrections=EXCLUDED.corrections,
	        notes=EXCLUDED.notes,
	        updated_at=EXCLUDED.updated_at
	      RETURNING id`
	row := r.Pool.QueryRow(ctx, q, id, f.DocumentID, f.SubmitterID, f.Kind, orig, corrected, corrections, f.Notes, time.Now().UTC())
	var storedID string
	if err := row.Scan(&storedID); err != nil {
		return "", fmt.Errorf("op=feedback.upsert: %w", err)
	}
	return storedID, nil
}

// GetByDocument returns all feedback for one document, newest first.
func (r *FeedbackRepo) GetByDocument(ctx domain.Context, documentID string) ([]domain.Feedback, error) {
	tracer := otel.Tracer("repo.feedback")
	ctx, span := tracer.Start(ctx, "feedback.GetByDocument")
	defer span.End()
	q := `SELECT id, document_id, submitter_id, kind, original_amounts, corrected_amounts, corrections, notes, created_at, updated_at
	      FROM extraction_feedback WHERE document_id=$1 ORDER BY updated_at DESC`
	rows, err := r.Pool.Query(ctx, q, documentID)
	if err != nil {
		return nil, fmt.Errorf("op=feedback.get_by_document: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

// RecentNonCorrect returns the most recent non-CORRECT feedback across a
// business's documents, newest first.
func (r *FeedbackRepo) RecentNonCorrect(ctx domain.Context, businessID string, limit int) ([]domain.Feedback, error) {
	tracer := otel.Tracer("repo.feedback")
	ctx, span := tracer.Start(ctx, "feedback.RecentNonCorrect")
	defer span.End()
	q := `SELECT f.id, f.document_id, f.submitter_id, f.kind, f.original_amounts, f.corrected_amounts, f.corrections, f.notes, f.created_at, f.updated_at
	      FROM extraction_feedback f
	      JOIN documents d ON d.id = f.document_id
	      WHERE d.business_id=$1 AND f.kind <> 'CORRECT'
	      ORDER BY f.updated_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, businessID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=feedback.recent_non_correct: %w", err)
	}
	defer rows.Close()
	return scanFeedback(rows)
}

type feedbackRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanFeedback(rows feedbackRows) ([]domain.Feedback, error) {
	var out []domain.Feedback
	for rows.Next() {
		var f domain.Feedback
		var orig, corrected, corrections []byte
		if err := rows.Scan(&f.ID, &f.DocumentID, &f.SubmitterID, &f.Kind, &orig, &corrected, &corrections, &f.Notes, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=feedback.scan: %w", err)
		}
		if err := json.Unmarshal(orig, &f.OriginalAmounts); err != nil {
			return nil, fmt.Errorf("op=feedback.scan: decode original: %w", err)
		}
		if err := json.Unmarshal(corrected, &f.CorrectedAmounts); err != nil {
			return nil, fmt.Errorf("op=feedback.scan: decode corrected: %w", err)
		}
		if err := json.Unmarshal(corrections, &f.Corrections); err != nil {
			return nil, fmt.Errorf("op=feedback.scan: decode corrections: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=feedback.scan: %w", err)
	}
	return out, nil
}
