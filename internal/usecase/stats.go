package usecase

import (
	"github.com/fairyhunter13/vat-extraction-service/internal/extraction"
	"github.com/fairyhunter13/vat-extraction-service/internal/observability"
)

// StatsService exposes live pipeline health: extraction aggregates plus the
// state of the circuit breaker guarding the database.
type StatsService struct {
	Monitor *extraction.Monitor
	Breaker *observability.CircuitBreaker
}

// NewStatsService constructs a StatsService with its dependencies.
func NewStatsService(m *extraction.Monitor, cb *observability.CircuitBreaker) StatsService {
	return StatsService{Monitor: m, Breaker: cb}
}

// StatsReport is the stats endpoint payload.
type StatsReport struct {
	Extraction extraction.Stats `json:"extraction"`
	Breaker    map[string]any   `json:"breaker"`
}

// Snapshot assembles the current stats report.
func (s StatsService) Snapshot() StatsReport {
	report := StatsReport{Extraction: s.Monitor.Stats()}
	if s.Breaker != nil {
		report.Breaker = s.Breaker.Stats()
	}
	return report
}
