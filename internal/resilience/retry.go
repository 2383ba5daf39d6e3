package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/vietddude/txpilot/internal/metrics"
)

// ErrCircuitOpen is returned when the breaker rejects an attempt outright.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Policy is the immutable retry configuration for one call site.
// Zero fields fall back to the defaults below.
type Policy struct {
	Name            string // operation class, used for metrics and logs
	MaxAttempts     int    // retries after the initial attempt
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	JitterFactor    float64

	// ShouldRetry overrides the classifier's retryable flag when set.
	ShouldRetry func(error) bool

	// OnRetry is invoked before each backoff sleep, for observability.
	OnRetry func(attempt int, err error, delay time.Duration)

	// Breaker, when set, is consulted before every attempt and fed the
	// outcome of each one.
	Breaker *CircuitBreaker
}

// DefaultPolicy mirrors the documented defaults.
var DefaultPolicy = Policy{
	MaxAttempts:     3,
	BaseDelay:       1 * time.Second,
	MaxDelay:        30 * time.Second,
	ExponentialBase: 2.0,
	JitterFactor:    0.2,
}

func (p Policy) withDefaults() Policy {
	if p.Name == "" {
		p.Name = "default"
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.ExponentialBase <= 0 {
		p.ExponentialBase = DefaultPolicy.ExponentialBase
	}
	if p.JitterFactor < 0 {
		p.JitterFactor = 0
	}
	return p
}

// ExhaustedError wraps the last failure after the retry budget ran out.
type ExhaustedError struct {
	Name     string
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts in %s: %v", e.Name, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Run executes op under the policy: at most MaxAttempts+1 invocations,
// exponential backoff with jitter between them, stopping early on success,
// on a non-retryable failure, on a rejected breaker check, or when ctx is
// done.
func Run[T any](ctx context.Context, policy Policy, op func(context.Context) (T, error)) (T, error) {
	var zero T
	p := policy.withDefaults()
	start := time.Now()

	var lastErr error
	for attempt := 0; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, Classify(err)
		}

		if p.Breaker != nil && !p.Breaker.Allow() {
			return zero, fmt.Errorf("%w: %s", ErrCircuitOpen, p.Name)
		}

		metrics.AttemptsTotal.WithLabelValues(p.Name).Inc()
		result, err := op(ctx)
		if err == nil {
			if p.Breaker != nil {
				p.Breaker.RecordSuccess()
			}
			return result, nil
		}

		lastErr = err
		if p.Breaker != nil {
			p.Breaker.RecordFailure()
		}

		if attempt == p.MaxAttempts {
			break
		}

		if !shouldRetry(p, err) {
			return zero, err
		}

		delay := jitteredBackoff(attempt, p)
		metrics.RetriesTotal.WithLabelValues(p.Name).Inc()
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return zero, Classify(ctx.Err())
		case <-time.After(delay):
		}
	}

	return zero, &ExhaustedError{
		Name:     p.Name,
		Attempts: p.MaxAttempts + 1,
		Elapsed:  time.Since(start),
		Last:     lastErr,
	}
}

func shouldRetry(p Policy, err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return Classify(err).Retryable
}

// backoff computes the pre-jitter delay for the given attempt, capped at
// MaxDelay.
func backoff(attempt int, p Policy) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(p.ExponentialBase, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// jitteredBackoff perturbs the capped delay by up to ±JitterFactor to avoid
// synchronized retry storms.
func jitteredBackoff(attempt int, p Policy) time.Duration {
	delay := float64(backoff(attempt, p))
	if p.JitterFactor > 0 {
		delay += delay * p.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(math.Round(delay))
}
