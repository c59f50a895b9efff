package requestpolicy

import (
	"sync"
	"time"

	"fundingarb/internal/model"
)

// breakerState is one of CLOSED, OPEN, HALF_OPEN.
type breakerState string

const (
	stateClosed   breakerState = "CLOSED"
	stateOpen     breakerState = "OPEN"
	stateHalfOpen breakerState = "HALF_OPEN"
)

// breaker is a small hand-rolled circuit breaker in the style of the
// teacher's CachedGateway failure-threshold/circuit-timeout bookkeeping:
// trips to OPEN after N consecutive failures, moves to HALF_OPEN after a
// reset timeout, and closes again after a single success.
type breaker struct {
	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	tripped             bool // consumed once by justTripped after RecordFailure

	failureThreshold int
	resetTimeout     time.Duration
	clock            model.Clock
}

func newBreaker(cfg Config, clock model.Clock) *breaker {
	return &breaker{
		state:            stateClosed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		clock:            clock,
	}
}

// Allow reports whether a call may proceed, transitioning OPEN -> HALF_OPEN
// once the reset timeout has elapsed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if b.clock.Now().Sub(b.openedAt) >= b.resetTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker from any state.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.consecutiveFailures = 0
}

// RecordFailure increments the failure count and trips the breaker to OPEN
// once the threshold is reached, or immediately re-opens from HALF_OPEN.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = b.clock.Now()
		b.tripped = true
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.failureThreshold && b.state != stateOpen {
		b.state = stateOpen
		b.openedAt = b.clock.Now()
		b.tripped = true
	}
}

// justTripped reports (and clears) whether the most recent RecordFailure
// caused a CLOSED/HALF_OPEN -> OPEN transition, for metrics purposes.
func (b *breaker) justTripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.tripped
	b.tripped = false
	return t
}

// State returns the current breaker state, for telemetry.
func (b *breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.state)
}
