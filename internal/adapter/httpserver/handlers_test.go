package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/vat-extraction-service/internal/adapter/httpserver"
	"github.com/fairyhunter13/vat-extraction-service/internal/config"
	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/learning"
	"github.com/fairyhunter13/vat-extraction-service/internal/observability"
	"github.com/fairyhunter13/vat-extraction-service/internal/usecase"
	"github.com/fairyhunter13/vat-extraction-service/internal/validation"
)

type memDocs struct {
	mu   sync.Mutex
	docs map[string]domain.Document
	n    int
}

func newMemDocs() *memDocs { return &memDocs{docs: map[string]domain.Document{}} }

func (m *memDocs) Create(_ domain.Context, d domain.Document) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	d.ID = "doc-" + strings.Repeat("a", m.n)
	if d.Status == "" {
		d.Status = domain.StatusUnprocessed
	}
	m.docs[d.ID] = d
	return d.ID, nil
}

func (m *memDocs) Get(_ domain.Context, id string) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	return d, nil
}

func (m *memDocs) SetResult(_ domain.Context, id string, status domain.DocumentStatus, r *domain.ExtractionResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	d.Result = r
	m.docs[id] = d
	return nil
}

type memQueue struct {
	mu       sync.Mutex
	payloads []domain.ExtractTaskPayload
	err      error
}

func (q *memQueue) EnqueueExtract(_ domain.Context, p domain.ExtractTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.payloads = append(q.payloads, p)
	return p.DocumentID, nil
}

type memFeedback struct {
	mu    sync.Mutex
	byKey map[string]domain.Feedback
}

func newMemFeedback() *memFeedback { return &memFeedback{byKey: map[string]domain.Feedback{}} }

func (m *memFeedback) Upsert(_ domain.Context, f domain.Feedback) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = "fb-" + f.DocumentID
	}
	m.byKey[f.DocumentID+"|"+f.SubmitterID] = f
	return f.ID, nil
}

func (m *memFeedback) GetByDocument(_ domain.Context, documentID string) ([]domain.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Feedback
	for _, f := range m.byKey {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memFeedback) RecentNonCorrect(_ domain.Context, _ string, limit int) ([]domain.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Feedback
	for _, f := range m.byKey {
		if f.Kind != domain.FeedbackCorrect && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

type memPatterns struct {
	mu    sync.Mutex
	byKey map[string]domain.LearningPattern
}

func newMemPatterns() *memPatterns { return &memPatterns{byKey: map[string]domain.LearningPattern{}} }

func (m *memPatterns) GetForUpdate(_ domain.Context, businessID string, category domain.DocumentCategory) (domain.LearningPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byKey[businessID+"|"+string(category)]
	if !ok {
		return domain.LearningPattern{}, domain.ErrNotFound
	}
	return p, nil
}

func (m *memPatterns) Save(_ domain.Context, p domain.LearningPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[p.BusinessID+"|"+string(p.Category)] = p
	return nil
}

func (m *memPatterns) ListUsable(_ domain.Context, businessID string, category domain.DocumentCategory, floor float64) ([]domain.LearningPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.LearningPattern
	for _, p := range m.byKey {
		if p.BusinessID == businessID && p.Category == category && p.Confidence >= floor {
			out = append(out, p)
		}
	}
	return out, nil
}

type fixture struct {
	server *httpserver.Server
	router chi.Router
	docs   *memDocs
	queue  *memQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := newMemDocs()
	queue := &memQueue{}
	cfg := config.Config{MaxUploadMB: 1}

	core := learning.NewService(docs, newMemFeedback(), newMemPatterns())
	monitor := extraction.NewMonitor()
	breaker := observability.NewCircuitBreaker(observability.CircuitBreakerConfig{})

	srv := httpserver.NewServer(cfg,
		usecase.NewDocumentService(docs, queue),
		usecase.NewExtractService(docs, extraction.NewExtractor(), validation.NewValidator(), monitor),
		usecase.NewLearningService(core, docs, nil),
		usecase.NewSuiteService(extraction.NewExtractor(), validation.NewValidator()),
		usecase.NewStatsService(monitor, breaker),
		nil, nil, nil,
	)

	r := chi.NewRouter()
	r.Post("/v1/documents", srv.UploadDocumentHandler())
	r.Post("/v1/documents/{id}/extract", srv.ExtractHandler())
	r.Get("/v1/documents/{id}/result", srv.ResultHandler())
	r.Get("/v1/documents/{id}/feedback", srv.FeedbackListHandler())
	r.Get("/v1/documents/{id}/learning", srv.LearningHandler())
	r.Post("/v1/feedback", srv.FeedbackHandler())
	r.Post("/v1/validation/suite", srv.SuiteHandler())
	r.Get("/v1/stats", srv.StatsHandler())
	r.Get("/readyz", srv.ReadyzHandler())

	return &fixture{server: srv, router: r, docs: docs, queue: queue}
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.Copy(fw, strings.NewReader(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadDocument_Success(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	body, ctype := multipartUpload(t, map[string]string{
		"business_id":    "biz-1",
		"category":       "sales_invoice",
		"expected_total": "123.45",
	}, "invoice.txt", "Total VAT: €123.45")

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.Equal(t, "unprocessed", resp["status"])

	require.Len(t, fx.queue.payloads, 1)
	assert.Equal(t, domain.CategorySalesInvoice, fx.queue.payloads[0].Category)
	require.NotNil(t, fx.queue.payloads[0].ExpectedTotal)
	assert.InDelta(t, 123.45, *fx.queue.payloads[0].ExpectedTotal, 1e-9)
}

func TestUploadDocument_Rejections(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad extension", func(t *testing.T) {
		body, ctype := multipartUpload(t, map[string]string{"business_id": "b", "category": "sales_invoice"}, "invoice.exe", "data")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("unknown category", func(t *testing.T) {
		body, ctype := multipartUpload(t, map[string]string{"business_id": "b", "category": "mystery"}, "invoice.txt", "Total VAT: €10")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad expected_total", func(t *testing.T) {
		body, ctype := multipartUpload(t, map[string]string{"business_id": "b", "category": "sales_invoice", "expected_total": "-5"}, "invoice.txt", "Total VAT: €10")
		req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
		req.Header.Set("Content-Type", ctype)
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadDocument_QueueOutageStillStores(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.queue.err = errors.New("broker down")

	body, ctype := multipartUpload(t, map[string]string{"business_id": "biz-1", "category": "sales_invoice"}, "invoice.txt", "Total VAT: €10")
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["id"])
	assert.NotEmpty(t, resp["warning"])
}

func TestExtractAndResult(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	id, err := fx.docs.Create(context.Background(), domain.Document{
		BusinessID: "biz-1",
		Category:   domain.CategorySalesInvoice,
		Text:       "Total VAT: €123.45",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/"+id+"/extract", strings.NewReader(`{"expected_total":123.45}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var extractResp struct {
		Result struct {
			SalesAmounts []float64 `json:"sales_amounts"`
			Confidence   float64   `json:"confidence"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &extractResp))
	assert.Equal(t, []float64{123.45}, extractResp.Result.SalesAmounts)
	assert.GreaterOrEqual(t, extractResp.Result.Confidence, 0.85)

	req = httptest.NewRequest(http.MethodGet, "/v1/documents/"+id+"/result", nil)
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var resultResp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resultResp))
	assert.Equal(t, "processed", resultResp["status"])
	assert.NotNil(t, resultResp["result"])
}

func TestResult_AmountsRenderedSorted(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	id, err := fx.docs.Create(context.Background(), domain.Document{
		BusinessID: "biz-1",
		Category:   domain.CategorySalesInvoice,
		Text:       "VAT total €123.45 plus fees €10.00",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/"+id+"/extract", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Result struct {
			SalesAmounts []float64 `json:"sales_amounts"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// Extraction keeps match order; the API renders ascending.
	assert.Equal(t, []float64{10.00, 123.45}, resp.Result.SalesAmounts)
}

func TestResult_NotFound(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/documents/nope/result", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedback_ValidationAndSuccess(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	id, err := fx.docs.Create(context.Background(), domain.Document{
		BusinessID: "biz-1",
		Category:   domain.CategorySalesInvoice,
		Text:       "Total VAT: €80",
	})
	require.NoError(t, err)

	t.Run("bad kind", func(t *testing.T) {
		body := `{"document_id":"` + id + `","submitter_id":"u1","kind":"MEH"}`
		req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("success", func(t *testing.T) {
		body := `{"document_id":"` + id + `","submitter_id":"u1","kind":"INCORRECT","original_amounts":[80],"corrected_amounts":[100]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(body))
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp["id"])
	})
}

func TestFeedbackList(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	id, err := fx.docs.Create(context.Background(), domain.Document{
		BusinessID: "biz-1",
		Category:   domain.CategorySalesInvoice,
		Text:       "Total VAT: €80",
	})
	require.NoError(t, err)

	body := `{"document_id":"` + id + `","submitter_id":"u1","kind":"INCORRECT","original_amounts":[80],"corrected_amounts":[100]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/documents/"+id+"/feedback", nil)
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		DocumentID string            `json:"document_id"`
		Feedback   []domain.Feedback `json:"feedback"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.DocumentID)
	require.Len(t, resp.Feedback, 1)
	assert.Equal(t, domain.FeedbackIncorrect, resp.Feedback[0].Kind)

	// Unknown documents read as not-found, not an empty list.
	req = httptest.NewRequest(http.MethodGet, "/v1/documents/doc-zzzz/feedback", nil)
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLearningEndpoint(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	id, err := fx.docs.Create(context.Background(), domain.Document{
		BusinessID: "biz-1",
		Category:   domain.CategorySalesInvoice,
		Text:       "Total VAT: €80",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/"+id+"/learning?use_business_patterns=true", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/v1/documents/"+id+"/learning?use_business_patterns=banana", nil)
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuiteEndpoint(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)

	yaml := `
- name: exact
  text: "Total VAT: €123.45"
  category: SALES_INVOICE
  expected_total: 123.45
`
	req := httptest.NewRequest(http.MethodPost, "/v1/validation/suite", strings.NewReader(yaml))
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Summary struct {
			Total  int `json:"total"`
			Passed int `json:"passed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Summary.Total)
	assert.Equal(t, 1, resp.Summary.Passed)
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "extraction")
	assert.Contains(t, resp, "breaker")
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	fx.server.DBCheck = func(context.Context) error { return nil }
	fx.server.RedisCheck = func(context.Context) error { return nil }
	fx.server.KafkaCheck = func(context.Context) error { return errors.New("broker unreachable") }

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fx.server.KafkaCheck = func(context.Context) error { return nil }
	rec = httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAcceptNegotiation(t *testing.T) {
	t.Parallel()
	fx := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	fx.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}
