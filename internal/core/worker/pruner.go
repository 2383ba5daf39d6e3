package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/txpilot/internal/lifecycle"
)

// Pruner periodically drops old settled records from the registry so its
// memory stays bounded.
type Pruner struct {
	registry *lifecycle.Registry
	keep     int
	interval time.Duration
	log      *slog.Logger
}

// NewPruner creates a Pruner retaining the keep most recent records.
func NewPruner(registry *lifecycle.Registry, keep int, interval time.Duration, log *slog.Logger) *Pruner {
	if keep <= 0 {
		keep = 500
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pruner{
		registry: registry,
		keep:     keep,
		interval: interval,
		log:      log,
	}
}

// Start runs the pruner loop until ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dropped := p.registry.Cleanup(p.keep); dropped > 0 {
				p.log.Debug("Pruned settled operations", "dropped", dropped, "keep", p.keep)
			}
		}
	}
}
