package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
)

func fastConfirm() ConfirmOptions {
	return ConfirmOptions{
		PollInterval: 5 * time.Millisecond,
		Timeout:      500 * time.Millisecond,
	}
}

func TestAwait_ConfirmsAfterPending(t *testing.T) {
	var polls atomic.Int32
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		if polls.Add(1) < 3 {
			return domain.RefStatus{State: domain.RefPending}, nil
		}
		return domain.RefStatus{
			State:   domain.RefConfirmed,
			Receipt: &domain.Receipt{Ref: ref, BlockNumber: 10},
		}, nil
	}

	w := NewWaiter(lookup, nil)
	receipt, err := w.Await(context.Background(), "0xabc", fastConfirm())
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if receipt.Ref != "0xabc" || receipt.BlockNumber != 10 {
		t.Errorf("Unexpected receipt: %+v", receipt)
	}
}

func TestAwait_Reverted(t *testing.T) {
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		return domain.RefStatus{State: domain.RefReverted}, nil
	}

	w := NewWaiter(lookup, nil)
	_, err := w.Await(context.Background(), "0xabc", fastConfirm())
	if domain.CategoryOf(err) != domain.CategoryReverted {
		t.Fatalf("Expected reverted, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Error("Revert must be permanent")
	}
}

func TestAwait_ReplacedWithoutNewRef(t *testing.T) {
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		return domain.RefStatus{State: domain.RefReplaced}, nil
	}

	w := NewWaiter(lookup, nil)
	_, err := w.Await(context.Background(), "0xabc", fastConfirm())
	if domain.CategoryOf(err) != domain.CategoryReplaced {
		t.Fatalf("Expected replaced, got %v", err)
	}
}

func TestAwait_FollowsReplacementRef(t *testing.T) {
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		switch ref {
		case "0xold":
			return domain.RefStatus{State: domain.RefReplaced, ReplacementRef: "0xnew"}, nil
		case "0xnew":
			return domain.RefStatus{
				State:   domain.RefConfirmed,
				Receipt: &domain.Receipt{Ref: "0xnew"},
			}, nil
		}
		return domain.RefStatus{}, errors.New("unknown ref")
	}

	var gotOld, gotNew string
	opts := fastConfirm()
	opts.OnReplaced = func(oldRef, newRef string) {
		gotOld, gotNew = oldRef, newRef
	}

	w := NewWaiter(lookup, nil)
	receipt, err := w.Await(context.Background(), "0xold", opts)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	if receipt.Ref != "0xnew" {
		t.Errorf("Expected settlement under the replacement, got %s", receipt.Ref)
	}
	if gotOld != "0xold" || gotNew != "0xnew" {
		t.Errorf("OnReplaced called with (%s, %s)", gotOld, gotNew)
	}
}

func TestAwait_SwallowsLookupErrors(t *testing.T) {
	var polls atomic.Int32
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		if polls.Add(1) < 4 {
			return domain.RefStatus{}, errors.New("connection reset by peer")
		}
		return domain.RefStatus{State: domain.RefConfirmed}, nil
	}

	w := NewWaiter(lookup, nil)
	receipt, err := w.Await(context.Background(), "0xabc", fastConfirm())
	if err != nil {
		t.Fatalf("Transient lookup errors must not abort the wait: %v", err)
	}
	if receipt.Ref != "0xabc" {
		t.Errorf("Unexpected receipt: %+v", receipt)
	}
}

func TestAwait_TimesOut(t *testing.T) {
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		return domain.RefStatus{State: domain.RefPending}, nil
	}

	opts := ConfirmOptions{
		PollInterval: 2 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
	}

	w := NewWaiter(lookup, nil)
	start := time.Now()
	_, err := w.Await(context.Background(), "0xabc", opts)
	elapsed := time.Since(start)

	if domain.CategoryOf(err) != domain.CategoryTimedOut {
		t.Fatalf("Expected timed_out, got %v", err)
	}
	if elapsed < opts.Timeout {
		t.Errorf("Await returned before the timeout: %v", elapsed)
	}
	if elapsed > 10*opts.Timeout {
		t.Errorf("Await took far too long: %v", elapsed)
	}
}

func TestAwait_TimesOutWhenLookupBlocks(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		<-block
		return domain.RefStatus{State: domain.RefPending}, nil
	}

	opts := ConfirmOptions{
		PollInterval: 2 * time.Millisecond,
		Timeout:      30 * time.Millisecond,
	}

	w := NewWaiter(lookup, nil)
	start := time.Now()
	_, err := w.Await(context.Background(), "0xabc", opts)
	elapsed := time.Since(start)

	if domain.CategoryOf(err) != domain.CategoryTimedOut {
		t.Fatalf("Expected timed_out, got %v", err)
	}
	if elapsed > 10*opts.Timeout {
		t.Errorf("Await must detach from a lookup that ignores its context, took %v", elapsed)
	}
}

func TestAwait_Cancelled(t *testing.T) {
	lookup := func(ctx context.Context, ref string) (domain.RefStatus, error) {
		return domain.RefStatus{State: domain.RefPending}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	w := NewWaiter(lookup, nil)
	_, err := w.Await(ctx, "0xabc", fastConfirm())
	if domain.CategoryOf(err) != domain.CategoryCancelled {
		t.Fatalf("Expected cancelled, got %v", err)
	}
}
