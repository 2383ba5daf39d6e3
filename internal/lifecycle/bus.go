package lifecycle

import (
	"log/slog"
	"sync"

	"github.com/vietddude/txpilot/internal/core/domain"
	"github.com/vietddude/txpilot/internal/metrics"
)

// Subscriber receives lifecycle events. Delivery is synchronous, in
// registration order, from the goroutine driving the operation.
type Subscriber func(domain.Event)

// bus fans lifecycle events out to subscribers. A panicking subscriber is
// isolated so the remaining subscribers still run.
type bus struct {
	mu   sync.RWMutex
	subs []Subscriber
	log  *slog.Logger
}

func newBus(log *slog.Logger) *bus {
	return &bus{log: log}
}

func (b *bus) subscribe(fn Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *bus) publish(evt domain.Event) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	metrics.EventsPublishedTotal.WithLabelValues(string(evt.Type)).Inc()

	for i, fn := range subs {
		b.deliver(i, fn, evt)
	}
}

func (b *bus) deliver(idx int, fn Subscriber, evt domain.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.Error("Subscriber panicked",
				"subscriber", idx,
				"event", evt.Type,
				"operation", evt.Record.ID,
				"panic", rec,
			)
		}
	}()
	fn(evt)
}
