package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// DocumentRepo persists and loads documents using a minimal pgx pool.
type DocumentRepo struct{ Pool PgxPool }

// NewDocumentRepo constructs a DocumentRepo with the given pool.
func NewDocumentRepo(p PgxPool) *DocumentRepo { return &DocumentRepo{Pool: p} }

// Create stores a new document and returns its id (generates one if empty).
func (r *DocumentRepo) Create(ctx domain.Context, d domain.Document) (string, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "documents"),
	)
	id := d.ID
	if id == "" {
		id = uuid.New().String()
	}
	status := d.Status
	if status == "" {
		status = domain.StatusUnprocessed
	}
	q := `INSERT INTO documents (id, business_id, category, text, filename, mime, size, status, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`
	_, err := r.Pool.Exec(ctx, q, id, d.BusinessID, d.Category, d.Text, d.Filename, d.MIME, d.Size, status, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=document.create: %w", err)
	}
	return id, nil
}

// Get loads a document by id, including its extraction result if present.
func (r *DocumentRepo) Get(ctx domain.Context, id string) (domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.Get")
	defer span.End()
	q := `SELECT id, business_id, category, text, filename, mime, size, status, result, created_at, updated_at
	      FROM documents WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var d domain.Document
	var result []byte
	if err := row.Scan(&d.ID, &d.BusinessID, &d.Category, &d.Text, &d.Filename, &d.MIME, &d.Size, &d.Status, &result, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Document{}, fmt.Errorf("op=document.get: %w", domain.ErrNotFound)
		}
		return domain.Document{}, fmt.Errorf("op=document.get: %w", err)
	}
	if len(result) > 0 {
		var er domain.ExtractionResult
		if err := json.Unmarshal(result, &er); err != nil {
			return domain.Document{}, fmt.Errorf("op=document.get: decode result: %w", err)
		}
		d.Result = &er
	}
	return d, nil
}

// ListStaleUnprocessed returns documents still unprocessed at olderThan,
// oldest first, so a sweeper can re-enqueue them.
func (r *DocumentRepo) ListStaleUnprocessed(ctx domain.Context, olderThan time.Time, limit int) ([]domain.Document, error) {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.ListStaleUnprocessed")
	defer span.End()
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT id, business_id, category, status, created_at
	      FROM documents WHERE status=$1 AND created_at < $2
	      ORDER BY created_at ASC LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, domain.StatusUnprocessed, olderThan.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("op=document.list_stale: %w", err)
	}
	defer rows.Close()
	var out []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.BusinessID, &d.Category, &d.Status, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=document.list_stale: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=document.list_stale: %w", err)
	}
	return out, nil
}

// SetResult records the outcome of one extraction pass: the new processing
// status plus the serialized result when extraction produced one.
func (r *DocumentRepo) SetResult(ctx domain.Context, id string, status domain.DocumentStatus, er *domain.ExtractionResult) error {
	tracer := otel.Tracer("repo.documents")
	ctx, span := tracer.Start(ctx, "documents.SetResult")
	defer span.End()
	var result []byte
	if er != nil {
		b, err := json.Marshal(er)
		if err != nil {
			return fmt.Errorf("op=document.set_result: encode result: %w", err)
		}
		result = b
	}
	q := `UPDATE documents SET status=$2, result=$3, updated_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, result, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=document.set_result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=document.set_result: %w", domain.ErrNotFound)
	}
	return nil
}
