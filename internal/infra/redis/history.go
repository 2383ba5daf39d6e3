package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/txpilot/internal/core/domain"
)

// EventSink returns a registry subscriber that records every lifecycle
// event. Failures are logged and dropped so a slow or absent Redis never
// stalls the operation pipeline.
func (c *Client) EventSink(log *slog.Logger) func(domain.Event) {
	if log == nil {
		log = slog.Default()
	}
	return func(evt domain.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if err := c.AppendEvent(ctx, evt); err != nil {
			log.Warn("Failed to record event history",
				"operation", evt.Record.ID,
				"event", evt.Type,
				"error", err,
			)
		}
	}
}
