package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
	"github.com/vietddude/txpilot/internal/resilience"
)

// StatusLookup reports the current state of an external reference. It is
// the boundary to the wallet/RPC collaborator.
type StatusLookup func(ctx context.Context, ref string) (domain.RefStatus, error)

// ConfirmOptions configures a single confirmation wait.
type ConfirmOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration

	// OnReplaced is invoked when the external operation was superseded and
	// the lookup supplied a replacement reference to follow.
	OnReplaced func(oldRef, newRef string)
}

func (o ConfirmOptions) withDefaults() ConfirmOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 120 * time.Second
	}
	return o
}

// Waiter polls a status lookup until a submitted operation settles.
// It holds no per-operation state; one Waiter serves the whole registry.
type Waiter struct {
	lookup StatusLookup
	log    *slog.Logger
}

// NewWaiter creates a Waiter over the given lookup.
func NewWaiter(lookup StatusLookup, log *slog.Logger) *Waiter {
	if log == nil {
		log = slog.Default()
	}
	return &Waiter{lookup: lookup, log: log}
}

// Await polls until ref reaches a terminal state or the timeout elapses.
// Transient lookup errors do not abort the wait; polling continues until
// the deadline. A replaced reference is followed when the lookup supplies
// one, otherwise the wait fails as replaced. Polling runs in its own
// goroutine so a lookup that ignores its context cannot hold the wait
// past the deadline; Await detaches from it and reports TimedOut.
func (w *Waiter) Await(ctx context.Context, ref string, opts ConfirmOptions) (*domain.Receipt, error) {
	o := opts.withDefaults()

	deadline := time.NewTimer(o.Timeout)
	defer deadline.Stop()

	type outcome struct {
		receipt *domain.Receipt
		err     error
	}
	settled := make(chan outcome, 1)

	go func(ref string) {
		ticker := time.NewTicker(o.PollInterval)
		defer ticker.Stop()
		for {
			receipt, done, err := w.poll(ctx, &ref, o)
			if done {
				settled <- outcome{receipt, err}
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}(ref)

	select {
	case <-ctx.Done():
		return nil, resilience.Classify(ctx.Err())
	case <-deadline.C:
		return nil, domain.NewClassifiedError(domain.CategoryTimedOut, false,
			fmt.Errorf("no settlement for %s within %s", ref, o.Timeout))
	case out := <-settled:
		return out.receipt, out.err
	}
}

// poll performs one lookup. done=false means keep polling.
func (w *Waiter) poll(ctx context.Context, ref *string, o ConfirmOptions) (*domain.Receipt, bool, error) {
	status, err := w.lookup(ctx, *ref)
	if err != nil {
		// Lookup failures while polling are swallowed; the deadline is the
		// only thing that ends a wait early.
		w.log.Debug("Status lookup failed, will poll again", "ref", *ref, "error", err)
		return nil, false, nil
	}

	switch status.State {
	case domain.RefConfirmed:
		receipt := status.Receipt
		if receipt == nil {
			receipt = &domain.Receipt{Ref: *ref}
		}
		return receipt, true, nil

	case domain.RefReverted:
		return nil, true, domain.NewClassifiedError(domain.CategoryReverted, false,
			fmt.Errorf("operation %s reverted", *ref))

	case domain.RefReplaced:
		if status.ReplacementRef == "" {
			return nil, true, domain.NewClassifiedError(domain.CategoryReplaced, false,
				fmt.Errorf("operation %s was replaced", *ref))
		}
		w.log.Info("Following replacement reference", "old", *ref, "new", status.ReplacementRef)
		if o.OnReplaced != nil {
			o.OnReplaced(*ref, status.ReplacementRef)
		}
		*ref = status.ReplacementRef
		return nil, false, nil
	}

	return nil, false, nil
}
