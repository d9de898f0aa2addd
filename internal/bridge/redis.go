package bridge

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisSource consumes topics as Redis pub/sub channels. Delivery is at most once.
type RedisSource struct {
	client *redis.Client
	owned  bool
	logger zerolog.Logger

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisSource subscribes through an existing client, which the caller keeps owning.
func NewRedisSource(client *redis.Client, logger zerolog.Logger) *RedisSource {
	return &RedisSource{
		client: client,
		logger: logger.With().Str("component", "redis_source").Logger(),
	}
}

// NewRedisSourceFromURL creates a source with a dedicated client closed on Close.
func NewRedisSourceFromURL(url string, logger zerolog.Logger) (*RedisSource, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bridge redis url: %w", err)
	}
	source := NewRedisSource(redis.NewClient(options), logger)
	source.owned = true
	return source, nil
}

func (s *RedisSource) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	pubsub := s.client.Subscribe(ctx, topics...)
	// Receive blocks until the subscription is confirmed, surfacing connection errors.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to redis channels: %w", err)
	}

	s.pubsub = pubsub
	s.done = make(chan struct{})
	channel := pubsub.Channel()

	go func() {
		defer close(s.done)
		for msg := range channel {
			handler(Message{Topic: msg.Channel, Payload: []byte(msg.Payload)})
		}
	}()

	return nil
}

func (s *RedisSource) Close() error {
	var err error
	if s.pubsub != nil {
		err = s.pubsub.Close()
		<-s.done
	}
	if s.owned {
		if closeErr := s.client.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
