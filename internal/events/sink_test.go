package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/drydock-dev/drydock/internal/domain"
	"github.com/drydock-dev/drydock/pkg/logger"
)

type fakePublisher struct {
	channels []string
	payloads [][]byte
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	}
	return cmd
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RedisSink{client: pub, logger: logger.Discard()}

	occurred := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	event := domain.Event{
		RunID:      "run-1",
		Phase:      domain.PhaseDeploy,
		Type:       "phase_started",
		Level:      "info",
		Message:    "deploy started",
		Metadata:   map[string]any{"host": "node-1"},
		OccurredAt: occurred,
	}

	if err := sink.Publish(context.Background(), "drydock:pipeline", event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pub.channels) != 1 || pub.channels[0] != "drydock:pipeline" {
		t.Fatalf("unexpected channels %v", pub.channels)
	}

	var decoded domain.Event
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if decoded.RunID != "run-1" || decoded.Type != "phase_started" || decoded.Phase != domain.PhaseDeploy {
		t.Fatalf("unexpected event payload: %+v", decoded)
	}
	if !decoded.OccurredAt.Equal(occurred) {
		t.Fatalf("timestamp must round-trip, got %v", decoded.OccurredAt)
	}
}

func TestRedisSinkStampsMissingTimestamp(t *testing.T) {
	pub := &fakePublisher{}
	sink := &RedisSink{client: pub}

	if err := sink.Publish(context.Background(), "ch", domain.Event{RunID: "run-2", Type: "phase_completed"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded domain.Event
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OccurredAt.IsZero() {
		t.Fatalf("publish must stamp a missing timestamp")
	}
}

func TestRedisSinkSurfacesPublishError(t *testing.T) {
	pub := &fakePublisher{err: context.DeadlineExceeded}
	sink := &RedisSink{client: pub}

	if err := sink.Publish(context.Background(), "ch", domain.Event{RunID: "run-3"}); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestNoopSink(t *testing.T) {
	if err := (NoopSink{}).Publish(context.Background(), "ch", domain.Event{}); err != nil {
		t.Fatalf("noop sink must never fail: %v", err)
	}
}
