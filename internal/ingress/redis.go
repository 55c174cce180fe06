package ingress

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisSource forwards every message published on a Redis channel.
type RedisSource struct {
	client  *redis.Client
	channel string
	sink    Sink
	log     *slog.Logger
}

func NewRedisSource(client *redis.Client, channel string, sink Sink, log *slog.Logger) *RedisSource {
	return &RedisSource{
		client:  client,
		channel: channel,
		sink:    sink,
		log:     log.With("component", "ingress.redis", "channel", channel),
	}
}

// Run subscribes and forwards messages until ctx is done.
func (s *RedisSource) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}
	s.log.Info("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *RedisSource) handle(ctx context.Context, payload []byte) {
	resp, err := Dispatch(ctx, s.sink, payload)
	if err != nil {
		s.log.Warn("message dropped", "room", resp.Room, "event", resp.Event, "error", err)
		return
	}
	s.log.Debug("emitted", "room", resp.Room, "event", resp.Event, "delivered", resp.Delivered)
}
