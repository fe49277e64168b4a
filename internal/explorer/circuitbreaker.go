package explorer

import (
	"log/slog"
	"sync"
	"time"
)

// circuit breaker states.
const (
	circuitClosed   = "closed"
	circuitOpen     = "open"
	circuitHalfOpen = "half_open"
)

const circuitHalfOpenMax = 1

// circuitBreaker guards a single provider from cascading failures.
//
// State machine:
//   - closed (normal): requests pass; on failure, increment counter, trip
//     to open once the threshold is reached.
//   - open (tripped): requests blocked until the cooldown elapses, then
//     moves to half-open.
//   - half-open (testing): a bounded number of requests are let through;
//     success closes the circuit, failure reopens it.
type circuitBreaker struct {
	mu               sync.Mutex
	state            string
	consecutiveFails int
	threshold        int
	cooldown         time.Duration
	lastFailure      time.Time
	halfOpenCount    int
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{state: circuitClosed, threshold: threshold, cooldown: cooldown}
}

func (cb *circuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case circuitClosed:
		return true
	case circuitOpen:
		if time.Since(cb.lastFailure) >= cb.cooldown {
			cb.state = circuitHalfOpen
			cb.halfOpenCount = 0
			return true
		}
		return false
	case circuitHalfOpen:
		if cb.halfOpenCount < circuitHalfOpenMax {
			cb.halfOpenCount++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *circuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	prev := cb.state
	cb.consecutiveFails = 0
	cb.state = circuitClosed
	cb.halfOpenCount = 0
	if prev != circuitClosed {
		slog.Info("explorer circuit closed after success", "previousState", prev)
	}
}

func (cb *circuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.consecutiveFails++
	cb.lastFailure = time.Now()

	if cb.state == circuitHalfOpen {
		cb.state = circuitOpen
		cb.halfOpenCount = 0
		slog.Warn("explorer circuit reopened from half-open", "consecutiveFails", cb.consecutiveFails)
		return
	}
	if cb.consecutiveFails >= cb.threshold {
		cb.state = circuitOpen
		slog.Warn("explorer circuit tripped open", "consecutiveFails", cb.consecutiveFails, "threshold", cb.threshold)
	}
}

func (cb *circuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *circuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}
