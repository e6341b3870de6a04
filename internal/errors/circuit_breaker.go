// Package errors provides retry backoff and circuit breaker primitives shared
// by the record updater and the deployment status client.
package errors

import (
	"fmt"
	"sync"
	"time"

	"foreman/internal/logging"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed - normal operation, requests allowed
	StateClosed CircuitState = iota
	// StateOpen - failing, requests blocked
	StateOpen
	// StateHalfOpen - testing if service recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned by Allow while the breaker is rejecting calls.
type ErrCircuitOpen struct {
	Name       string
	RetryAfter time.Duration
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker %s is open, retry after %s", e.Name, e.RetryAfter)
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures to open the circuit
	SuccessThreshold int           // consecutive half-open successes to close it
	Timeout          time.Duration // wait before attempting half-open
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern around an external
// dependency. Callers pair Allow with Mark on each attempt.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger logging.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastStateChange time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger logging.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logging.OrNop(logger),
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed, transitioning open circuits to
// half-open once the timeout has elapsed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed, StateHalfOpen:
		return nil
	case StateOpen:
		elapsed := time.Since(cb.lastStateChange)
		if elapsed >= cb.config.Timeout {
			cb.transitionLocked(StateHalfOpen)
			return nil
		}
		return &ErrCircuitOpen{Name: cb.name, RetryAfter: cb.config.Timeout - elapsed}
	}
	return nil
}

// Mark records the outcome of a call previously admitted by Allow.
func (cb *CircuitBreaker) Mark(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.transitionLocked(StateClosed)
			}
		}
		return
	}

	cb.successCount = 0
	cb.failureCount++
	if cb.state == StateHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
		cb.transitionLocked(StateOpen)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	if cb.state == to {
		return
	}
	cb.logger.Warn("Circuit breaker %s: %s -> %s", cb.name, cb.state, to)
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastStateChange = time.Now()
}
