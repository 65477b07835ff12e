// Package observability provides the circuit breaker guarding external
// dependencies plus context-scoped logging helpers.
package observability

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// invoking the operation. Callers must not retry it like an operation
// failure.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int

const (
	// StateClosed indicates the circuit is closed and operations are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen indicates the circuit is open and operations are rejected until the timeout elapses.
	StateOpen
	// StateHalfOpen indicates a trial state where operations are allowed to probe recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitEvent is a structured state-machine event delivered to the
// monitoring hook.
type CircuitEvent struct {
	Type  string
	State CircuitBreakerState
	At    time.Time
}

// Event types delivered to the monitoring hook.
const (
	EventCircuitOpened     = "circuit_opened"
	EventCircuitHalfOpen   = "circuit_half_open"
	EventCircuitClosed     = "circuit_closed"
	EventCircuitOpenReject = "circuit_open_reject"
)

// CircuitBreakerConfig holds the caller-tunable thresholds.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures in closed state
	// that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in half-open
	// state that closes the circuit.
	SuccessThreshold int
	// Timeout is how long an open circuit rejects calls before probing.
	Timeout time.Duration
	// OnEvent, when set, receives state-machine events. It must not block;
	// panics are recovered and never affect the transition.
	OnEvent func(CircuitEvent)
}

// DefaultCircuitBreakerConfig returns the default thresholds used for the
// database breaker.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern around any fallible
// operation. One mutex guards all state reads and writes; the wrapped
// operation itself runs outside the lock so slow calls never serialize each
// other.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig
	now func() time.Time

	state         CircuitBreakerState
	failureCount  int
	successCount  int
	nextAttemptAt time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejects   int64
	stateChanges   int64
}

// NewCircuitBreaker creates a circuit breaker in the closed state. Zero or
// negative config fields fall back to the defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: StateClosed}
}

// Execute runs op under the breaker's protection. In the open state, calls
// made before the timeout elapses are rejected with ErrCircuitOpen without
// invoking op. Op's own error is returned unchanged so callers can tell the
// two apart with errors.Is.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := op()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.totalRequests++
	if cb.state == StateOpen {
		if cb.now().Before(cb.nextAttemptAt) {
			cb.totalRejects++
			cb.emit(EventCircuitOpenReject)
			return ErrCircuitOpen
		}
		// Cooldown elapsed; probe recovery.
		cb.state = StateHalfOpen
		cb.successCount = 0
		cb.stateChanges++
		cb.emit(EventCircuitHalfOpen)
		slog.Info("circuit breaker transitioning to half-open",
			slog.Duration("timeout", cb.cfg.Timeout))
	}
	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.totalSuccesses++
		switch cb.state {
		case StateClosed:
			cb.failureCount = 0
		case StateHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.cfg.SuccessThreshold {
				cb.state = StateClosed
				cb.failureCount = 0
				cb.successCount = 0
				cb.stateChanges++
				cb.emit(EventCircuitClosed)
				slog.Info("circuit breaker closed after successful recovery",
					slog.Int("success_threshold", cb.cfg.SuccessThreshold))
			}
		}
		return
	}

	cb.totalFailures++
	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		// Any failure while probing reopens the circuit.
		cb.trip()
	}
}

// trip opens the circuit and schedules the next probe. Caller holds cb.mu.
func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.nextAttemptAt = cb.now().Add(cb.cfg.Timeout)
	cb.stateChanges++
	cb.emit(EventCircuitOpened)
	slog.Warn("circuit breaker opened",
		slog.Int("failure_count", cb.failureCount),
		slog.Int("failure_threshold", cb.cfg.FailureThreshold),
		slog.Time("next_attempt_at", cb.nextAttemptAt))
}

// emit delivers an event to the hook, recovering any panic so a broken hook
// never corrupts a state transition. Caller holds cb.mu.
func (cb *CircuitBreaker) emit(typ string) {
	if cb.cfg.OnEvent == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("circuit breaker event hook panicked", slog.Any("recover", rec))
		}
	}()
	cb.cfg.OnEvent(CircuitEvent{Type: typ, State: cb.state, At: cb.now()})
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to closed with zeroed counters. Used after
// an out-of-band health check confirms the dependency recovered.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.nextAttemptAt = time.Time{}

	slog.Info("circuit breaker reset to closed state")
}

// Stats returns a snapshot of the breaker's counters for observability.
func (cb *CircuitBreaker) Stats() map[string]any {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"state":             cb.state.String(),
		"failure_threshold": cb.cfg.FailureThreshold,
		"success_threshold": cb.cfg.SuccessThreshold,
		"timeout":           cb.cfg.Timeout.String(),
		"failure_count":     cb.failureCount,
		"success_count":     cb.successCount,
		"total_requests":    cb.totalRequests,
		"total_failures":    cb.totalFailures,
		"total_successes":   cb.totalSuccesses,
		"total_rejects":     cb.totalRejects,
		"state_changes":     cb.stateChanges,
	}
}
