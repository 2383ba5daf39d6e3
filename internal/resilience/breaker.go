package resilience

import (
	"sync"
	"time"

	"github.com/vietddude/txpilot/internal/metrics"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState int

const (
	StateClosed   BreakerState = iota // normal operation
	StateOpen                         // rejecting attempts
	StateHalfOpen                     // cooldown elapsed, trial allowed
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker guards a named operation class against hammering a
// collaborator that is consistently failing. It opens after `threshold`
// consecutive failures and allows a trial again once `resetTimeout` has
// passed since the last failure.
//
// The Open -> HalfOpen transition happens lazily inside Allow, at call
// time. Under concurrent callers more than one trial can slip through the
// half-open window; that is tolerated rather than serialized.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         BreakerState
	failureCount  int
	lastFailureAt time.Time
	threshold     int
	resetTimeout  time.Duration

	now func() time.Time // overridable in tests
}

// NewCircuitBreaker creates a closed breaker for the given operation class.
func NewCircuitBreaker(name string, threshold int, resetTimeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(StateClosed))
	return &CircuitBreaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether an attempt may proceed. When the breaker is open
// and the cooldown has elapsed, it flips to half-open and admits the call.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailureAt) >= b.resetTimeout {
			b.setState(StateHalfOpen)
			return true
		}
		return false
	}
	return true
}

// RecordSuccess clears the failure streak and closes the breaker.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.setState(StateClosed)
}

// RecordFailure extends the failure streak, opening the breaker once the
// streak reaches the threshold. A half-open trial failure reopens it
// immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = b.now()
	b.failureCount++

	if b.state == StateHalfOpen || b.failureCount >= b.threshold {
		b.setState(StateOpen)
	}
}

// State returns the breaker's current mode without mutating it.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive-failure streak.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// setState must be called with b.mu held.
func (b *CircuitBreaker) setState(s BreakerState) {
	b.state = s
	metrics.BreakerState.WithLabelValues(b.name).Set(float64(s))
}
