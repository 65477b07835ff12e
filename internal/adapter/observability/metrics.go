package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	ExtractionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Total number of extraction attempts by category and outcome",
		},
		[]string{"category", "outcome"},
	)
	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Extraction duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"category"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"type"},
	)
	JobsProcessing = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jobs_processing",
			Help: "Number of jobs currently processing",
		},
		[]string{"type"},
	)
	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed",
		},
		[]string{"type"},
	)
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"type"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_total",
			Help: "Total number of feedback submissions by kind",
		},
		[]string{"kind"},
	)

	// Extraction outcome distributions
	ConfidenceHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extraction_confidence",
			Help:    "Distribution of extraction confidence ([0,1])",
			Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	AccuracyHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "validation_accuracy",
			Help:    "Distribution of validation accuracy ([0,100])",
			Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 95, 100},
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(ExtractionsTotal)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(JobsEnqueuedTotal)
	prometheus.MustRegister(JobsProcessing)
	prometheus.MustRegister(JobsCompletedTotal)
	prometheus.MustRegister(JobsFailedTotal)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(ConfidenceHistogram)
	prometheus.MustRegister(AccuracyHistogram)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			// fallback when route pattern is unavailable
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}

func EnqueueJob(jobType string) {
	JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

func StartProcessingJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Inc()
}

func CompleteJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsCompletedTotal.WithLabelValues(jobType).Inc()
}

func FailJob(jobType string) {
	JobsProcessing.WithLabelValues(jobType).Dec()
	JobsFailedTotal.WithLabelValues(jobType).Inc()
}

// RecordExtraction records one extraction attempt outcome.
func RecordExtraction(category string, succeeded bool, duration time.Duration) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	ExtractionsTotal.WithLabelValues(category, outcome).Inc()
	ExtractionDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordFeedback counts one feedback submission.
func RecordFeedback(kind string) {
	FeedbackTotal.WithLabelValues(kind).Inc()
}

// ObserveExtractionQuality records confidence and accuracy distributions.
func ObserveExtractionQuality(confidence, accuracy float64) {
	if confidence >= 0 && confidence <= 1 {
		ConfidenceHistogram.Observe(confidence)
	}
	if accuracy >= 0 && accuracy <= 100 {
		AccuracyHistogram.Observe(accuracy)
	}
}
