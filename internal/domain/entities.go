// Package domain defines the core entities and ports of the VAT extraction
// pipeline. Adapters (HTTP, Postgres, Redpanda) depend on this package and
// never the other way around.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnavailable     = errors.New("dependency unavailable")
	ErrInternal        = errors.New("internal error")
)

// DocumentCategory is the declared category of an uploaded document.
// Sales categories contribute to VAT owed; purchase categories to VAT
// reclaimable.
type DocumentCategory string

// Known document categories.
const (
	CategorySalesInvoice     DocumentCategory = "SALES_INVOICE"
	CategorySalesReceipt     DocumentCategory = "SALES_RECEIPT"
	CategoryPurchaseInvoice  DocumentCategory = "PURCHASE_INVOICE"
	CategoryPurchaseReceipt  DocumentCategory = "PURCHASE_RECEIPT"
	CategoryBankStatement    DocumentCategory = "BANK_STATEMENT"
	CategorySpreadsheet      DocumentCategory = "SPREADSHEET_EXPORT"
	CategoryCountryBreakdown DocumentCategory = "COUNTRY_BREAKDOWN"
)

// IsSales reports whether the category declares a sales-side document.
func (c DocumentCategory) IsSales() bool {
	return strings.HasPrefix(string(c), "SALES_")
}

// IsPurchase reports whether the category declares a purchase-side document.
func (c DocumentCategory) IsPurchase() bool {
	return strings.HasPrefix(string(c), "PURCHASE_")
}

// DocumentStatus tracks the processing lifecycle of a document.
type DocumentStatus string

// Document lifecycle states.
const (
	StatusUnprocessed DocumentStatus = "unprocessed"
	StatusProcessed   DocumentStatus = "processed"
	StatusFailed      DocumentStatus = "failed"
)

// Document is one unit of extraction work: raw uploaded content plus the
// category the business declared at upload time.
type Document struct {
	ID         string
	BusinessID string
	Category   DocumentCategory
	Text       string
	Filename   string
	MIME       string
	Size       int64
	Status     DocumentStatus
	Result     *ExtractionResult
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TaxDirection tags an extracted amount as sales or purchase VAT.
type TaxDirection string

// Tax directions.
const (
	DirectionSales    TaxDirection = "sales"
	DirectionPurchase TaxDirection = "purchase"
)

// ExtractionResult is the immutable output of one extraction pass.
// Invariants: amounts are non-negative; Confidence in [0,1]; a non-empty
// amount list implies a concrete (non-"none") Method.
type ExtractionResult struct {
	SalesAmounts    []float64
	PurchaseAmounts []float64
	Confidence      float64
	Method          string
	Diagnostics     []string
	ProcessedAt     time.Time
}

// SalesTotal sums the sales-side amounts.
func (r ExtractionResult) SalesTotal() float64 { return sum(r.SalesAmounts) }

// PurchaseTotal sums the purchase-side amounts.
func (r ExtractionResult) PurchaseTotal() float64 { return sum(r.PurchaseAmounts) }

// Total sums every extracted amount regardless of direction.
func (r ExtractionResult) Total() float64 {
	return r.SalesTotal() + r.PurchaseTotal()
}

func sum(xs []float64) float64 {
	var t float64
	for _, x := range xs {
		t += x
	}
	return t
}

// ValidationResult compares an extraction total against a known expected
// total. Computed on demand; each run produces a fresh timestamped record.
type ValidationResult struct {
	Expected           float64
	Extracted          float64
	Difference         float64
	AccuracyPercentage float64
	Confidence         float64
	Passed             bool
	Issues             []string
	Warnings           []string
	ValidatedAt        time.Time
}

// FeedbackKind classifies a user correction of an extraction result.
type FeedbackKind string

// Feedback kinds.
const (
	FeedbackCorrect          FeedbackKind = "CORRECT"
	FeedbackPartiallyCorrect FeedbackKind = "PARTIALLY_CORRECT"
	FeedbackIncorrect        FeedbackKind = "INCORRECT"
)

// Feedback is a user's verdict on one document's extraction, keyed by
// (document, submitter) with upsert semantics on resubmission.
type Feedback struct {
	ID               string
	DocumentID       string
	SubmitterID      string
	Kind             FeedbackKind
	OriginalAmounts  []float64
	CorrectedAmounts []float64
	Corrections      []string
	Notes            string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CorrectionRecord is one historical correction folded into a learning
// pattern's bounded recent-corrections window.
type CorrectionRecord struct {
	DocumentID       string       `json:"document_id"`
	Kind             FeedbackKind `json:"kind"`
	OriginalAmounts  []float64    `json:"original_amounts"`
	CorrectedAmounts []float64    `json:"corrected_amounts"`
	RecordedAt       time.Time    `json:"recorded_at"`
}

// PatternWindowSize bounds the recent-corrections window of a pattern.
const PatternWindowSize = 5

// LearningPattern is the per-business, per-category accumulator of
// correction evidence. Frequency only grows; confidence is non-decreasing
// and capped at 1.0.
type LearningPattern struct {
	ID                string
	BusinessID        string
	Category          DocumentCategory
	Frequency         int
	Confidence        float64
	RecentCorrections []CorrectionRecord
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ExtractTaskPayload is the queue message that triggers asynchronous
// extraction of an uploaded document.
type ExtractTaskPayload struct {
	DocumentID    string           `json:"document_id"`
	BusinessID    string           `json:"business_id"`
	Category      DocumentCategory `json:"category"`
	ExpectedTotal *float64         `json:"expected_total,omitempty"`
}

// Repositories (ports)

type DocumentRepository interface {
	Create(ctx Context, d Document) (string, error)
	Get(ctx Context, id string) (Document, error)
	SetResult(ctx Context, id string, status DocumentStatus, r *ExtractionResult) error
}

type FeedbackRepository interface {
	// Upsert stores feedback keyed by (document, submitter), overwriting an
	// existing record for the same pair, and returns the feedback id.
	Upsert(ctx Context, f Feedback) (string, error)
	GetByDocument(ctx Context, documentID string) ([]Feedback, error)
	// RecentNonCorrect returns the most recent non-CORRECT feedback for a
	// business's documents, newest first, capped at limit.
	RecentNonCorrect(ctx Context, businessID string, limit int) ([]Feedback, error)
}

type PatternRepository interface {
	// GetForUpdate loads the pattern for (business, category) or returns
	// ErrNotFound. Callers serialize read-modify-write per key.
	GetForUpdate(ctx Context, businessID string, category DocumentCategory) (LearningPattern, error)
	Save(ctx Context, p LearningPattern) error
	// ListUsable returns patterns for a business with confidence at or above
	// floor, ordered by confidence descending.
	ListUsable(ctx Context, businessID string, category DocumentCategory, floor float64) ([]LearningPattern, error)
}

// Queue (port)

type Queue interface {
	EnqueueExtract(ctx Context, payload ExtractTaskPayload) (string, error)
}

// Context is an alias to context.Context; adapters and usecases pass the
// standard context through.
type Context = context.Context
