package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPMetricsMiddleware_Basic(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 { t.Fatalf("want 204") }
}

func TestJobMetricsHelpers(t *testing.T) {
	InitMetrics()
	EnqueueJob("extract")
	StartProcessingJob("extract")
	CompleteJob("extract")
	FailJob("extract")
	RecordExtraction("SALES_INVOICE", true, 5*time.Millisecond)
	RecordExtraction("PURCHASE_RECEIPT", false, 5*time.Millisecond)
	RecordFeedback("INCORRECT")
	ObserveExtractionQuality(0.85, 97.5)
}
