package extraction

import (
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/vat-extraction-service/internal/domain"
)

// topIssueCount bounds the common-issues table in a stats snapshot.
const topIssueCount = 5

// AttemptOutcome describes one finished extraction attempt for the monitor.
// Accuracy only carries meaning when Validated is set: a zero accuracy from
// a validated attempt is a real (worst-case) measurement, while attempts
// without an expected total have no accuracy at all.
type AttemptOutcome struct {
	Category   domain.DocumentCategory
	Succeeded  bool
	Validated  bool
	Accuracy   float64
	Confidence float64
	Latency    time.Duration
	Issues     []string
}

// IssueCount is one row of the common-issues frequency table.
type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

// Stats is an immutable snapshot of the monitor's aggregates.
type Stats struct {
	TotalAttempts     int64                             `json:"total_attempts"`
	Successes         int64                             `json:"successes"`
	SuccessRate       float64                           `json:"success_rate"`
	ByCategory        map[domain.DocumentCategory]int64 `json:"by_category"`
	ValidatedAttempts int64                             `json:"validated_attempts"`
	AvgAccuracy       float64                           `json:"avg_accuracy"`
	AvgConfidence     float64                           `json:"avg_confidence"`
	AvgLatencyMs      float64                           `json:"avg_latency_ms"`
	CommonIssues      []IssueCount                      `json:"common_issues"`
	Recommendations   []string                          `json:"recommendations"`
}

// Monitor aggregates running extraction statistics. It is an explicitly
// constructed component injected into its callers, safe for concurrent
// RecordAttempt from parallel extraction requests, with no external side
// effects.
type Monitor struct {
	mu sync.Mutex

	attempts     int64
	successes    int64
	byCategory   map[domain.DocumentCategory]int64
	sumAccuracy  float64
	accuracyN    int64
	sumConf      float64
	sumLatency   time.Duration
	issueCounts  map[string]int
}

// NewMonitor constructs an empty Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		byCategory:  make(map[domain.DocumentCategory]int64),
		issueCounts: make(map[string]int),
	}
}

// RecordAttempt folds one extraction outcome into the running aggregates.
func (m *Monitor) RecordAttempt(o AttemptOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if o.Succeeded {
		m.successes++
	}
	if o.Category != "" {
		m.byCategory[o.Category]++
	}
	if o.Validated {
		m.sumAccuracy += o.Accuracy
		m.accuracyN++
	}
	m.sumConf += o.Confidence
	m.sumLatency += o.Latency
	for _, issue := range o.Issues {
		m.issueCounts[issue]++
	}
}

// Stats returns a snapshot of the aggregates with the top-K common issues
// and threshold-derived recommendations.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalAttempts: m.attempts,
		Successes:     m.successes,
		ByCategory:    make(map[domain.DocumentCategory]int64, len(m.byCategory)),
	}
	for k, v := range m.byCategory {
		s.ByCategory[k] = v
	}
	if m.attempts > 0 {
		s.SuccessRate = float64(m.successes) / float64(m.attempts)
		s.AvgConfidence = m.sumConf / float64(m.attempts)
		s.AvgLatencyMs = float64(m.sumLatency.Milliseconds()) / float64(m.attempts)
	}
	s.ValidatedAttempts = m.accuracyN
	if m.accuracyN > 0 {
		s.AvgAccuracy = m.sumAccuracy / float64(m.accuracyN)
	}
	s.CommonIssues = topIssues(m.issueCounts, topIssueCount)
	s.Recommendations = monitorRecommendations(s)
	return s
}

func topIssues(counts map[string]int, k int) []IssueCount {
	out := make([]IssueCount, 0, len(counts))
	for issue, n := range counts {
		out = append(out, IssueCount{Issue: issue, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Issue < out[j].Issue
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func monitorRecommendations(s Stats) []string {
	var recs []string
	if s.TotalAttempts == 0 {
		return recs
	}
	if s.SuccessRate < 0.5 {
		recs = append(recs, "failure rate above 50%: review core extraction logic")
	}
	if s.AvgConfidence < 0.85 {
		recs = append(recs, "average confidence below 85%: improve pattern detection")
	}
	if s.ValidatedAttempts > 0 && s.AvgAccuracy < 90 {
		recs = append(recs, "average accuracy below 90%: review amount parsing and ceilings")
	}
	return recs
}
