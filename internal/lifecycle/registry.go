package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/txpilot/internal/core/domain"
	"github.com/vietddude/txpilot/internal/metrics"
	"github.com/vietddude/txpilot/internal/resilience"
)

// ErrNotFound is returned by Get when no record exists for the id.
var ErrNotFound = errors.New("operation not found")

// Operation is the fallible submit step. On success it returns the
// external reference under which the operation can be confirmed.
type Operation func(ctx context.Context) (string, error)

// Config wires a Registry.
type Config struct {
	Lookup  StatusLookup
	Breaker *resilience.CircuitBreaker
	Confirm ConfirmOptions
	Logger  *slog.Logger
}

// Filter narrows List results.
type Filter struct {
	Status       domain.OperationStatus // empty = all
	CreatedAfter time.Time              // zero = all
}

// Registry owns the lifecycle record of every submitted operation and
// orchestrates retrying, confirmation and event publication. Records are
// only ever mutated by the single goroutine driving that operation; the
// map itself is guarded for concurrent Submit/Get/List/Cleanup callers.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*domain.OperationRecord

	waiter  *Waiter
	breaker *resilience.CircuitBreaker
	confirm ConfirmOptions
	bus     *bus
	log     *slog.Logger
	wg      sync.WaitGroup
}

// NewRegistry creates a Registry from the given config.
func NewRegistry(cfg Config) *Registry {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		records: make(map[string]*domain.OperationRecord),
		waiter:  NewWaiter(cfg.Lookup, log),
		breaker: cfg.Breaker,
		confirm: cfg.Confirm,
		bus:     newBus(log),
		log:     log,
	}
}

// Subscribe registers fn for all lifecycle events. Subscribers are
// notified synchronously in registration order.
func (r *Registry) Subscribe(fn Subscriber) {
	r.bus.subscribe(fn)
}

// Submit registers a new operation and starts driving it in the
// background. It returns the operation id immediately. The deadline or
// cancellation of ctx bounds the whole lifecycle: once ctx is done the
// record force-settles and the underlying attempt is no longer observed.
func (r *Registry) Submit(ctx context.Context, op Operation, policy resilience.Policy, description string) string {
	rec := &domain.OperationRecord{
		ID:          uuid.NewString(),
		Description: description,
		Status:      domain.StatusPending,
		CreatedAt:   time.Now(),
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()

	metrics.OperationsActive.Inc()
	r.log.Info("Operation created", "operation", rec.ID, "description", description)
	r.publish(domain.EventCreated, rec.Clone())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.drive(ctx, rec.ID, op, policy)
	}()

	return rec.ID
}

// Get returns a snapshot of the record for id.
func (r *Registry) Get(id string) (domain.OperationRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return domain.OperationRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

// List returns snapshots matching the filter, newest first.
func (r *Registry) List(f Filter) []domain.OperationRecord {
	r.mu.RLock()
	out := make([]domain.OperationRecord, 0, len(r.records))
	for _, rec := range r.records {
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if !f.CreatedAfter.IsZero() && !rec.CreatedAt.After(f.CreatedAfter) {
			continue
		}
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Cleanup drops settled records beyond the keep most recent ones. Records
// still in flight are never dropped.
func (r *Registry) Cleanup(keep int) int {
	if keep < 0 {
		keep = 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*domain.OperationRecord, 0, len(r.records))
	for _, rec := range r.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	dropped := 0
	for i, rec := range all {
		if i < keep || !rec.Status.Terminal() {
			continue
		}
		delete(r.records, rec.ID)
		dropped++
	}
	return dropped
}

// Stop waits for in-flight operations to settle, up to ctx's deadline.
// Callers should cancel the submit contexts first.
func (r *Registry) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry stop: %w", ctx.Err())
	}
}

// drive runs the full lifecycle of one operation: retried submit, then
// confirmation wait, then settlement. Record mutations all go through
// the map lock and stop once the record turns terminal, so a detached
// attempt can never touch a settled record.
func (r *Registry) drive(ctx context.Context, id string, op Operation, policy resilience.Policy) {
	if policy.Breaker == nil {
		policy.Breaker = r.breaker
	}
	if policy.Name == "" {
		policy.Name = "submit"
	}

	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.log.Warn("Submit attempt failed, backing off",
			"operation", id,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}

	attemptOp := func(ctx context.Context) (string, error) {
		r.mutate(id, func(rec *domain.OperationRecord) {
			rec.Attempts++
		})
		ref, err := op(ctx)
		if err != nil {
			r.mutate(id, func(rec *domain.OperationRecord) {
				rec.LastError = resilience.Classify(err)
			})
		}
		return ref, err
	}

	// The attempt runs detached so an operation that ignores its context
	// cannot hold the record in Pending past the submit deadline. Once ctx
	// lapses the record force-settles and the attempt is no longer
	// observed.
	type submitOutcome struct {
		ref string
		err error
	}
	submitted := make(chan submitOutcome, 1)
	go func() {
		ref, err := resilience.Run(ctx, policy, attemptOp)
		submitted <- submitOutcome{ref, err}
	}()

	var ref string
	select {
	case <-ctx.Done():
		r.settleSubmitFailure(ctx, id, ctx.Err())
		return
	case out := <-submitted:
		if out.err != nil {
			r.settleSubmitFailure(ctx, id, out.err)
			return
		}
		ref = out.ref
	}

	submittedAt := time.Now()
	r.mutate(id, func(rec *domain.OperationRecord) {
		rec.Status = domain.StatusSubmitted
		rec.ExternalRef = ref
		rec.SubmittedAt = submittedAt
		rec.LastError = nil
	})
	r.log.Info("Operation submitted", "operation", id, "ref", ref)
	r.publishSnapshot(domain.EventSubmitted, id)

	r.mutate(id, func(rec *domain.OperationRecord) {
		rec.Status = domain.StatusConfirming
	})
	r.publishSnapshot(domain.EventUpdated, id)

	confirm := r.confirm
	confirm.OnReplaced = func(oldRef, newRef string) {
		r.mutate(id, func(rec *domain.OperationRecord) {
			rec.ExternalRef = newRef
		})
		r.publishSnapshot(domain.EventUpdated, id)
	}

	receipt, err := r.waiter.Await(ctx, ref, confirm)
	if err != nil {
		r.settleConfirmFailure(ctx, id, err, submittedAt)
		return
	}

	snap, settled := r.settle(id, domain.StatusConfirmed, func(rec *domain.OperationRecord) {
		rec.Result = receipt
		rec.LastError = nil
		if receipt.Ref != "" {
			rec.ExternalRef = receipt.Ref
		}
	})
	if settled {
		metrics.ConfirmationDuration.WithLabelValues("confirmed").Observe(time.Since(submittedAt).Seconds())
		r.log.Info("Operation confirmed", "operation", id, "ref", receipt.Ref)
		r.publish(domain.EventConfirmed, snap)
	}
}

// settleSubmitFailure settles a record whose submit step never succeeded.
func (r *Registry) settleSubmitFailure(ctx context.Context, id string, err error) {
	ce := resilience.Classify(err)

	status := domain.StatusFailed
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = domain.StatusTimedOut
		ce = domain.NewClassifiedError(domain.CategoryTimedOut, false, err)
	case ce.Category == domain.CategoryUserRejected:
		status = domain.StatusRejected
	}

	if snap, ok := r.settle(id, status, func(rec *domain.OperationRecord) {
		rec.LastError = ce
	}); ok {
		r.log.Warn("Operation settled without submission",
			"operation", id,
			"status", status,
			"category", ce.Category,
			"error", err,
		)
		r.publish(domain.EventFailed, snap)
	}
}

// settleConfirmFailure settles a record that was submitted but did not
// reach a confirmed state.
func (r *Registry) settleConfirmFailure(ctx context.Context, id string, err error, submittedAt time.Time) {
	ce := resilience.Classify(err)

	var status domain.OperationStatus
	switch {
	case ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded):
		status = domain.StatusTimedOut
		ce = domain.NewClassifiedError(domain.CategoryTimedOut, false, err)
	case ce.Category == domain.CategoryTimedOut:
		status = domain.StatusTimedOut
	case ce.Category == domain.CategoryReplaced:
		status = domain.StatusReplaced
	default:
		status = domain.StatusFailed
	}

	if snap, ok := r.settle(id, status, func(rec *domain.OperationRecord) {
		rec.LastError = ce
	}); ok {
		metrics.ConfirmationDuration.WithLabelValues(string(status)).Observe(time.Since(submittedAt).Seconds())
		r.log.Warn("Operation settled unconfirmed",
			"operation", id,
			"status", status,
			"category", ce.Category,
			"error", err,
		)
		r.publish(domain.EventFailed, snap)
	}
}

// settle moves a record to a terminal status exactly once and returns
// the terminal snapshot, cloned inside the critical section so the
// caller can publish it even if the record is pruned right after. ok is
// false when the record is gone or already terminal, which guarantees a
// single terminal event per id.
func (r *Registry) settle(id string, status domain.OperationStatus, fn func(*domain.OperationRecord)) (domain.OperationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return domain.OperationRecord{}, false
	}

	rec.Status = status
	rec.SettledAt = time.Now()
	if fn != nil {
		fn(rec)
	}

	metrics.OperationsActive.Dec()
	metrics.OperationsSettledTotal.WithLabelValues(string(status)).Inc()
	return rec.Clone(), true
}

// mutate applies fn to the record under the map lock. Missing or
// already-settled ids are ignored: the driver detached from that
// attempt and its record must not change anymore.
func (r *Registry) mutate(id string, fn func(*domain.OperationRecord)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.records[id]; ok && !rec.Status.Terminal() {
		fn(rec)
	}
}

func (r *Registry) publishSnapshot(t domain.EventType, id string) {
	r.mu.RLock()
	rec, ok := r.records[id]
	var snap domain.OperationRecord
	if ok && !rec.Status.Terminal() {
		snap = rec.Clone()
	} else {
		ok = false
	}
	r.mu.RUnlock()

	if ok {
		r.publish(t, snap)
	}
}

func (r *Registry) publish(t domain.EventType, snap domain.OperationRecord) {
	r.bus.publish(domain.Event{
		Type:      t,
		Record:    snap,
		EmittedAt: time.Now(),
	})
}
