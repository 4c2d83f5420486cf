package llmclient

import (
	"sync"
	"time"
)

// breakerState is the circuit breaker's three-state machine.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker trips open after FailureThreshold consecutive failures,
// goes half-open after CooldownPeriod, and closes again on the first
// half-open success — generalized from the teacher's
// routing.ProviderHealth, which instead accumulates a decaying penalty
// score and never fully excludes a provider. Here the engines need a
// hard stop (per spec §4.4.1's named circuit-breaker requirement), so
// this trip/cooldown/half-open state machine replaces the continuous
// penalty score with a discrete one while keeping the same
// mutex-guarded-snapshot shape.
type CircuitBreaker struct {
	failureThreshold int
	cooldownPeriod   time.Duration

	mu              sync.Mutex
	state           breakerState
	consecutiveFail int
	openedAt        time.Time
}

// NewCircuitBreaker constructs a breaker that opens after
// failureThreshold consecutive failures and attempts recovery after
// cooldownPeriod.
func NewCircuitBreaker(failureThreshold int, cooldownPeriod time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if cooldownPeriod <= 0 {
		cooldownPeriod = 30 * time.Second
	}
	return &CircuitBreaker{failureThreshold: failureThreshold, cooldownPeriod: cooldownPeriod}
}

// Allow reports whether a call may proceed. An open breaker transitions
// to half-open once the cooldown has elapsed; while half-open, every
// call is allowed (not only one trial) until the next RecordSuccess or
// RecordFailure settles the state.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.cooldownPeriod {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFail = 0
	b.state = stateClosed
}

// RecordFailure counts a failure, tripping the breaker open once
// failureThreshold is reached (or immediately, if the breaker is
// half-open).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		return
	}

	b.consecutiveFail++
	if b.consecutiveFail >= b.failureThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// IsOpen reports the current trip state, for telemetry/health reporting.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen
}
