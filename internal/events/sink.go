package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/drydock-dev/drydock/internal/domain"
)

const publishTimeout = 2 * time.Second

// Sink receives pipeline lifecycle events. Publishing is fire-and-forget:
// implementations report errors but callers log and swallow them.
type Sink interface {
	Publish(ctx context.Context, channel string, event domain.Event) error
}

// publisher is the slice of the redis client the sink needs; narrowed so
// tests can fake it.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events on a Redis pub/sub channel.
type RedisSink struct {
	client publisher
	logger *slog.Logger
}

// NewRedisSink connects to Redis and verifies connectivity.
func NewRedisSink(addr, password string, db int, logger *slog.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger != nil {
		logger = logger.With("component", "events")
	}
	return &RedisSink{client: client, logger: logger}, nil
}

// Publish marshals event and publishes it on channel.
func (s *RedisSink) Publish(ctx context.Context, channel string, event domain.Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := s.client.Publish(pubCtx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("event published", "channel", channel, "run_id", event.RunID, "type", event.Type)
	}
	return nil
}

// NoopSink discards all events. Used when no sink is configured.
type NoopSink struct{}

// Publish discards the event.
func (NoopSink) Publish(context.Context, string, domain.Event) error {
	return nil
}
