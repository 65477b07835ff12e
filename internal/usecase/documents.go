// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// ReadinessCheck represents a single readiness probe result used by handlers.
type ReadinessCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details"`
}

var validCategories = map[domain.DocumentCategory]struct{}{
	domain.CategorySalesInvoice:     {},
	domain.CategorySalesReceipt:     {},
	domain.CategoryPurchaseInvoice:  {},
	domain.CategoryPurchaseReceipt:  {},
	domain.CategoryBankStatement:    {},
	domain.CategorySpreadsheet:      {},
	domain.CategoryCountryBreakdown: {},
}

// DocumentService ingests documents and queues them for extraction.
type DocumentService struct {
	Docs  domain.DocumentRepository
	Queue domain.Queue
}

// NewDocumentService constructs a DocumentService with its dependencies.
func NewDocumentService(d domain.DocumentRepository, q domain.Queue) DocumentService {
	return DocumentService{Docs: d, Queue: q}
}

// Ingest sanitizes and validates a document, persists it, and enqueues the
// extraction task. The upload is stored before enqueueing so a queue outage
// never loses the document.
func (s DocumentService) Ingest(ctx domain.Context, d domain.Document, expectedTotal *float64) (string, error) {
	d.Text = strings.TrimSpace(d.Text)
	if d.Text == "" {
		return "", fmt.Errorf("%w: empty document text", domain.ErrInvalidArgument)
	}
	if d.BusinessID == "" {
		return "", fmt.Errorf("%w: business id required", domain.ErrInvalidArgument)
	}
	if _, ok := validCategories[d.Category]; !ok {
		return "", fmt.Errorf("%w: unknown category %q", domain.ErrInvalidArgument, d.Category)
	}
	if d.Size == 0 {
		d.Size = int64(len(d.Text))
	}
	d.CreatedAt = time.Now().UTC()

	id, err := s.Docs.Create(ctx, d)
	if err != nil {
		return "", err
	}

	payload := domain.ExtractTaskPayload{
		DocumentID:    id,
		BusinessID:    d.BusinessID,
		Category:      d.Category,
		ExpectedTotal: expectedTotal,
	}
	if _, err := s.Queue.EnqueueExtract(ctx, payload); err != nil {
		// The document stays stored; a manual extract can pick it up later.
		return id, fmt.Errorf("%w: enqueue extraction: %w", domain.ErrUnavailable, err)
	}
	return id, nil
}

// Get returns a stored document with its extraction result, if any.
func (s DocumentService) Get(ctx domain.Context, id string) (domain.Document, error) {
	if id == "" {
		return domain.Document{}, fmt.Errorf("%w: document id required", domain.ErrInvalidArgument)
	}
	return s.Docs.Get(ctx, id)
}
