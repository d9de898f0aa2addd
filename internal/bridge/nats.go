package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSource consumes topics through a durable JetStream consumer with explicit acks.
type NATSSource struct {
	url      string
	stream   string
	consumer string
	logger   zerolog.Logger

	nc      *nats.Conn
	consume jetstream.ConsumeContext
}

// NewNATSSource creates a JetStream source. No connection is made until Subscribe.
func NewNATSSource(url, stream, consumer string, logger zerolog.Logger) *NATSSource {
	return &NATSSource{
		url:      url,
		stream:   stream,
		consumer: consumer,
		logger:   logger.With().Str("component", "nats_source").Logger(),
	}
}

func (s *NATSSource) Subscribe(ctx context.Context, topics []string, handler Handler) error {
	nc, err := nats.Connect(s.url,
		nats.Name(s.consumer),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.stream,
		Description: "Domain events relayed to realtime clients",
		Subjects:    topics,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:           s.consumer,
		Durable:        s.consumer,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		DeliverPolicy:  jetstream.DeliverNewPolicy,
		FilterSubjects: topics,
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	// Invalid payloads are still acked; redelivery would not make them parse.
	consume, err := consumer.Consume(func(msg jetstream.Msg) {
		handler(Message{Topic: msg.Subject(), Payload: msg.Data()})
		if err := msg.Ack(); err != nil {
			s.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("failed to ack bus event")
		}
	})
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	s.nc = nc
	s.consume = consume
	return nil
}

func (s *NATSSource) Close() error {
	if s.consume != nil {
		s.consume.Stop()
	}
	if s.nc == nil {
		return nil
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return err
	}
	return nil
}
