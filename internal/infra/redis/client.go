package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txpilot/internal/core/domain"
)

// Client wraps Redis operations for the event history sink.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key helpers
func historyKey(operationID string) string {
	return fmt.Sprintf("operations:history:%s", operationID)
}

const (
	eventChannel  = "operations:events"
	historyMaxLen = 64
	historyTTL    = 24 * time.Hour
)

// AppendEvent records one lifecycle event in the per-operation history
// list and fans it out on the pub/sub channel for live dashboards.
func (c *Client) AppendEvent(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := historyKey(evt.Record.ID)
	pipe := c.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -historyMaxLen, -1)
	pipe.Expire(ctx, key, historyTTL)
	pipe.Publish(ctx, eventChannel, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// History returns the recorded events for one operation, oldest first.
func (c *Client) History(ctx context.Context, operationID string) ([]domain.Event, error) {
	raw, err := c.rdb.LRange(ctx, historyKey(operationID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange failed: %w", err)
	}

	events := make([]domain.Event, 0, len(raw))
	for _, item := range raw {
		var evt domain.Event
		if err := json.Unmarshal([]byte(item), &evt); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		events = append(events, evt)
	}
	return events, nil
}
