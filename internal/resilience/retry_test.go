package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("connection reset by peer")

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		Name:            "test",
		MaxAttempts:     maxAttempts,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
		JitterFactor:    0.2,
	}
}

func TestRun_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	result, err := Run(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "0xabc", nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result != "0xabc" {
		t.Errorf("Expected 0xabc, got %s", result)
	}
	if calls != 3 {
		t.Errorf("Expected 3 invocations, got %d", calls)
	}
}

func TestRun_StopsOnFirstSuccess(t *testing.T) {
	calls := 0
	_, err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 invocation, got %d", calls)
	}
}

func TestRun_AttemptBudget(t *testing.T) {
	for _, maxAttempts := range []int{1, 2, 4} {
		calls := 0
		_, err := Run(context.Background(), fastPolicy(maxAttempts), func(ctx context.Context) (string, error) {
			calls++
			return "", errTransient
		})
		if err == nil {
			t.Fatal("Expected error after exhausting retries")
		}
		if calls != maxAttempts+1 {
			t.Errorf("maxAttempts=%d: expected %d invocations, got %d", maxAttempts, maxAttempts+1, calls)
		}

		var exhausted *ExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("Expected ExhaustedError, got %T: %v", err, err)
		}
		if exhausted.Attempts != maxAttempts+1 {
			t.Errorf("ExhaustedError.Attempts = %d, want %d", exhausted.Attempts, maxAttempts+1)
		}
		if !errors.Is(err, errTransient) {
			t.Error("ExhaustedError should wrap the last failure")
		}
	}
}

func TestRun_NonRetryableFailsImmediately(t *testing.T) {
	calls := 0
	permanent := errors.New("user rejected the request")
	_, err := Run(context.Background(), fastPolicy(5), func(ctx context.Context) (string, error) {
		calls++
		return "", permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("Expected the permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected exactly 1 invocation, got %d", calls)
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("Non-retryable failure must not be wrapped as exhausted")
	}
}

func TestRun_CustomPredicateOverridesClassifier(t *testing.T) {
	calls := 0
	p := fastPolicy(3)
	p.ShouldRetry = func(error) bool { return false }

	_, err := Run(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "", errTransient // classifier would retry this
	})
	if err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 invocation, got %d", calls)
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := Run(ctx, fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "", errTransient
	})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if calls != 0 {
		t.Errorf("Expected 0 invocations, got %d", calls)
	}
}

func TestRun_BreakerOpenRejects(t *testing.T) {
	b := NewCircuitBreaker("test-open", 1, time.Hour)
	b.RecordFailure() // trips at threshold 1

	p := fastPolicy(3)
	p.Breaker = b

	calls := 0
	_, err := Run(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		return "", nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("Expected 0 invocations through an open breaker, got %d", calls)
	}
}

func TestRun_OnRetryHook(t *testing.T) {
	var attempts []int
	var delays []time.Duration

	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
	}

	calls := 0
	_, err := Run(context.Background(), p, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 retry callbacks, got %d", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("Unexpected attempt numbers: %v", attempts)
	}
	for _, d := range delays {
		if d < 0 || d > 10*time.Millisecond {
			t.Errorf("Delay %v outside expected range", d)
		}
	}
}

func TestBackoff_MonotonicAndCapped(t *testing.T) {
	p := Policy{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := backoff(attempt, p)
		if d < prev {
			t.Errorf("backoff(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Errorf("backoff(%d) = %v exceeds cap %v", attempt, d, p.MaxDelay)
		}
		prev = d
	}

	if got := backoff(0, p); got != 100*time.Millisecond {
		t.Errorf("backoff(0) = %v, want 100ms", got)
	}
	if got := backoff(1, p); got != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 200ms", got)
	}
	if got := backoff(19, p); got != 30*time.Second {
		t.Errorf("backoff(19) = %v, want the 30s cap", got)
	}
}

func TestJitteredBackoff_WithinBounds(t *testing.T) {
	p := Policy{
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.2,
	}

	base := float64(backoff(2, p))
	for i := 0; i < 100; i++ {
		d := float64(jitteredBackoff(2, p))
		if d < base*0.8-1 || d > base*1.2+1 {
			t.Fatalf("jittered delay %v outside ±20%% of %v", time.Duration(d), time.Duration(base))
		}
	}
}
