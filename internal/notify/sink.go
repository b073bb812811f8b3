package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink delivers events to the OS-level notification surface.
type Sink interface {
	Notify(ctx context.Context, event Event) error
}

// RedisSink publishes events as JSON for a desktop notification agent.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if channel == "" {
		channel = "timetracker:notifications"
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Notify(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel+":"+event.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// LogSink writes OS notifications to the log, for development.
type LogSink struct {
	log zerolog.Logger
}

func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Notify(_ context.Context, event Event) error {
	s.log.Info().
		Str("user_id", event.UserID).
		Str("kind", string(event.Kind)).
		Str("title", event.Title).
		Msg("os notification")
	return nil
}
