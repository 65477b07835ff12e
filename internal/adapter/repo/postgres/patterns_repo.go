package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// PatternRepo persists per-business learning patterns.
type PatternRepo struct{ Pool PgxPool }

// NewPatternRepo constructs a PatternRepo with the given pool.
func NewPatternRepo(p PgxPool) *PatternRepo { return &PatternRepo{Pool: p} }

// GetForUpdate loads the pattern for (business, category) or ErrNotFound.
func (r *PatternRepo) GetForUpdate(ctx domain.Context, businessID string, category domain.DocumentCategory) (domain.LearningPattern, error) {
	tracer := otel.Tracer("repo.patterns")
	ctx, span := tracer.Start(ctx, "patterns.GetForUpdate")
	defer span.End()
	q := `SELECT id, business_id, category, frequency, confidence, recent_corrections, created_at, updated_at
	      FROM learning_patterns WHERE business_id=$1 AND category=$2`
	row := r.Pool.QueryRow(ctx, q, businessID, category)
	var p domain.LearningPattern
	var recent []byte
	if err := row.Scan(&p.ID, &p.BusinessID, &p.Category, &p.Frequency, &p.Confidence, &recent, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.LearningPattern{}, fmt.Errorf("op=pattern.get: %w", domain.ErrNotFound)
		}
		return domain.LearningPattern{}, fmt.Errorf("op=pattern.get: %w", err)
	}
	if err := json.Unmarshal(recent, &p.RecentCorrections); err != nil {
		return domain.LearningPattern{}, fmt.Errorf("op=pattern.get: decode corrections: %w", err)
	}
	return p, nil
}

// Save upserts a pattern on its (business, category) key.
func (r *PatternRepo) Save(ctx domain.Context, p domain.LearningPattern) error {
	tracer := otel.Tracer("repo.patterns")
	ctx, span := tracer.Start(ctx, "patterns.Save")
	defer span.End()

	recent, err := json.Marshal(p.RecentCorrections)
	if err != nil {
		return fmt.Errorf("op=pattern.save: encode corrections: %w", err)
	}
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO learning_patterns
	        (id, business_id, category, frequency, confidence, recent_corrections, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (business_id, category) DO UPDATE SET
	        frequency=EXCLUDED.frequency,
	        confidence=EXCLUDED.confidence,
	        recent_corrections=EXCLUDED.recent_corrections,
	        updated_at=EXCLUDED.updated_at`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = r.Pool.Exec(ctx, q, id, p.BusinessID, p.Category, p.Frequency, p.Confidence, recent, createdAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=pattern.save: %w", err)
	}
	return nil
}

// ListUsable returns a business's patterns for a category with confidence
// at or above floor, highest confidence first.
func (r *PatternRepo) ListUsable(ctx domain.Context, businessID string, category domain.DocumentCategory, floor float64) ([]domain.LearningPattern, error) {
	tracer := otel.Tracer("repo.patterns")
	ctx, span := tracer.Start(ctx, "patterns.ListUsable")
	defer span.End()
	q := `SELECT id, business_id, category, frequency, confidence, recent_corrections, created_at, updated_at
	      FROM learning_patterns
	      WHERE business_id=$1 AND category=$2 AND confidence >= $3
	      ORDER BY confidence DESC`
	rows, err := r.Pool.Query(ctx, q, businessID, category, floor)
	if err != nil {
		return nil, fmt.Errorf("op=pattern.list_usable: %w", err)
	}
	defer rows.Close()

	var out []domain.LearningPattern
	for rows.Next() {
		var p domain.LearningPattern
		var recent []byte
		if err := rows.Scan(&p.ID, &p.BusinessID, &p.Category, &p.Frequency, &p.Confidence, &recent, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=pattern.list_usable: %w", err)
		}
		if err := json.Unmarshal(recent, &p.RecentCorrections); err != nil {
			return nil, fmt.Errorf("op=pattern.list_usable: decode corrections: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=pattern.list_usable: %w", err)
	}
	return out, nil
}
