package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/vat-extraction-service/internal/config"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/usecase"
	"github.com/fairyhunter13/vat-extraction-service/pkg/textx"
)

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Documents  usecase.DocumentService
	Extract    usecase.ExtractService
	Learning   usecase.LearningService
	Suite      usecase.SuiteService
	Stats      usecase.StatsService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	KafkaCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, docs usecase.DocumentService, extract usecase.ExtractService, learn usecase.LearningService, suite usecase.SuiteService, stats usecase.StatsService, dbCheck, redisCheck, kafkaCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Documents: docs, Extract: extract, Learning: learn, Suite: suite, Stats: stats, DBCheck: dbCheck, RedisCheck: redisCheck, KafkaCheck: kafkaCheck}
}

// allowedExt enforces an allowlist for uploads: .txt, .csv
func allowedExt(name string) bool {
	n := strings.ToLower(name)
	return strings.HasSuffix(n, ".txt") || strings.HasSuffix(n, ".csv")
}

func allowedMIME(m string) bool {
	m = strings.ToLower(m)
	// Sniffers report exports and breakdowns as text/csv or text/plain,
	// sometimes with charset parameters.
	return strings.HasPrefix(m, "text/")
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func acceptsJSON(w http.ResponseWriter, r *http.Request) bool {
	if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
		writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "not acceptable", Details: map[string]any{"accept": a}}})
		return false
	}
	return true
}

// UploadDocumentHandler handles multipart upload of one VAT document.
// The document text is stored immediately and extraction runs async via the
// queue; heavy documents never block the upload response.
func (s *Server) UploadDocumentHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "payload too large", Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB}}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		if !allowedExt(header.Filename) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "unsupported media type (extension)", Details: map[string]any{"filename": header.Filename}}})
			return
		}
		sniffed := mimetype.Detect(data)
		if !allowedMIME(sniffed.String()) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{Code: "INVALID_ARGUMENT", Message: "unsupported media type (content)", Details: map[string]any{"mime": sniffed.String(), "filename": header.Filename}}})
			return
		}

		var expectedTotal *float64
		if raw := r.FormValue("expected_total"); raw != "" {
			v, perr := strconv.ParseFloat(raw, 64)
			if perr != nil || v < 0 {
				writeError(w, r, fmt.Errorf("%w: expected_total must be a non-negative number", domain.ErrInvalidArgument), map[string]string{"field": "expected_total"})
				return
			}
			expectedTotal = &v
		}

		doc := domain.Document{
			BusinessID: r.FormValue("business_id"),
			Category:   domain.DocumentCategory(strings.ToUpper(r.FormValue("category"))),
			Text:       textx.SanitizeText(string(data)),
			Filename:   header.Filename,
			MIME:       sniffed.String(),
			Size:       int64(len(data)),
		}
		id, err := s.Documents.Ingest(r.Context(), doc, expectedTotal)
		if err != nil {
			// Enqueue outages still stored the document; surface both.
			if id != "" {
				writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.StatusUnprocessed), "warning": "extraction not queued, retry via extract endpoint"})
				return
			}
			writeError(w, r, fmt.Errorf("document ingest: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.StatusUnprocessed)})
	}
}

// ExtractHandler runs extraction synchronously for a stored document.
func (s *Server) ExtractHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if res := ValidateDocumentID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid document id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			ExpectedTotal *float64 `json:"expected_total" validate:"omitempty,gte=0"`
		}
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
				return
			}
			if err := getValidator().Struct(req); err != nil {
				writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
				return
			}
		}
		result, err := s.Extract.Extract(r.Context(), id, req.ExpectedTotal)
		if err != nil {
			writeError(w, r, fmt.Errorf("extract: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": string(domain.StatusProcessed), "result": resultEnvelope(&result)})
	}
}

// ResultHandler returns document status and extraction result when present.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if res := ValidateDocumentID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid document id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		doc, err := s.Documents.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		body := map[string]any{"id": doc.ID, "status": string(doc.Status)}
		if doc.Result != nil {
			body["result"] = resultEnvelope(doc.Result)
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// resultEnvelope shapes an extraction result for API responses.
func resultEnvelope(r *domain.ExtractionResult) map[string]any {
	return map[string]any{
		"sales_amounts":    extraction.SortedAmounts(r.SalesAmounts),
		"purchase_amounts": extraction.SortedAmounts(r.PurchaseAmounts),
		"sales_total":      r.SalesTotal(),
		"purchase_total":   r.PurchaseTotal(),
		"total":            r.Total(),
		"confidence":       r.Confidence,
		"method":           r.Method,
		"diagnostics":      r.Diagnostics,
		"processed_at":     r.ProcessedAt.UTC().Format(time.RFC3339),
	}
}

// FeedbackHandler records user feedback on an extraction result.
func (s *Server) FeedbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
		var req struct {
			DocumentID       string    `json:"document_id" validate:"required,max=100"`
			SubmitterID      string    `json:"submitter_id" validate:"required,max=100"`
			Kind             string    `json:"kind" validate:"required,oneof=CORRECT PARTIALLY_CORRECT INCORRECT"`
			OriginalAmounts  []float64 `json:"original_amounts" validate:"omitempty,dive,gte=0"`
			CorrectedAmounts []float64 `json:"corrected_amounts" validate:"omitempty,dive,gte=0"`
			Corrections      []string  `json:"corrections" validate:"omitempty,dive,max=500"`
			Notes            string    `json:"notes" validate:"max=2000"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), validationDetails(err))
			return
		}
		id, err := s.Learning.RecordFeedback(r.Context(), domain.Feedback{
			DocumentID:       req.DocumentID,
			SubmitterID:      req.SubmitterID,
			Kind:             domain.FeedbackKind(req.Kind),
			OriginalAmounts:  req.OriginalAmounts,
			CorrectedAmounts: req.CorrectedAmounts,
			Corrections:      req.Corrections,
			Notes:            req.Notes,
		})
		if err != nil {
			writeError(w, r, fmt.Errorf("record feedback: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})
	}
}

// LearningHandler returns learning advice for a document.
func (s *Server) LearningHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if res := ValidateDocumentID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid document id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		useBusinessPatterns := true
		if raw := r.URL.Query().Get("use_business_patterns"); raw != "" {
			v, perr := strconv.ParseBool(raw)
			if perr != nil {
				writeError(w, r, fmt.Errorf("%w: use_business_patterns must be a boolean", domain.ErrInvalidArgument), nil)
				return
			}
			useBusinessPatterns = v
		}
		advice, err := s.Learning.ApplyLearning(r.Context(), id, useBusinessPatterns)
		if err != nil {
			writeError(w, r, fmt.Errorf("apply learning: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, advice)
	}
}

// FeedbackListHandler lists the feedback recorded for a document.
func (s *Server) FeedbackListHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		id := chi.URLParam(r, "id")
		if res := ValidateDocumentID(id); !res.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid document id", domain.ErrInvalidArgument), res.Errors)
			return
		}
		items, err := s.Learning.FeedbackForDocument(r.Context(), id)
		if err != nil {
			writeError(w, r, fmt.Errorf("list feedback: %w", err), nil)
			return
		}
		if items == nil {
			items = []domain.Feedback{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"document_id": id, "feedback": items})
	}
}

// SuiteHandler runs a labeled validation suite posted as YAML.
func (s *Server) SuiteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, 4<<20) // 4MB
		report, err := s.Suite.RunFromReader(r.Body)
		if err != nil {
			writeError(w, r, fmt.Errorf("run suite: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// StatsHandler returns live extraction statistics and breaker state.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !acceptsJSON(w, r) {
			return
		}
		writeJSON(w, http.StatusOK, s.Stats.Snapshot())
	}
}

// ReadyzHandler returns a readiness handler that probes DB, Redis, and Kafka.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]usecase.ReadinessCheck, 0, 3)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, usecase.ReadinessCheck{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, usecase.ReadinessCheck{Name: name, OK: true})
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("kafka", s.KafkaCheck)

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

func validationDetails(err error) map[string]string {
	verrs := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			verrs[strings.ToLower(fe.Field())] = fe.Tag()
		}
	}
	return verrs
}
