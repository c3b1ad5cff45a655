// Package redis publishes resilience events to a Redis stream so other
// platform services can react to restart and degradation signals.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/resilience/internal/core/domain"
)

// eventStream is the stream key all resilience events are appended to.
const eventStream = "resilience:events"

// maxStreamLen caps the stream; older entries are trimmed approximately.
const maxStreamLen = 10000

// Client wraps Redis operations for the event sink.
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

// PublishEvent appends the event to the resilience stream.
func (c *Client) PublishEvent(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		MaxLen: maxStreamLen,
		Approx: true,
		Values: map[string]any{
			"type":      string(ev.Type),
			"service":   ev.Service,
			"timestamp": ev.Timestamp.Format(time.RFC3339Nano),
			"payload":   string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// RecentEvents returns up to count newest entries from the stream.
func (c *Client) RecentEvents(ctx context.Context, count int64) ([]redis.XMessage, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, eventStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange failed: %w", err)
	}
	return msgs, nil
}

// Health checks the Redis connection.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
