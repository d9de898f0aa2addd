// Package bridge relays domain events published by other services on a message
// bus to every live realtime connection.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/teamhub-realtime/internal/config"
	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

// eventSchema accepts any JSON value. Publishers own their payload shapes; only
// unparseable bytes are dropped.
const eventSchema = `{"type": ["object", "array", "string", "number", "boolean", "null"]}`

// Message is one event pulled off the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes a message. Sources acknowledge a message once its handler returns.
type Handler func(Message)

// Source subscribes to a broker.
type Source interface {
	Subscribe(ctx context.Context, topics []string, handler Handler) error
	Close() error
}

// Broadcaster fans an event out to every live connection.
type Broadcaster interface {
	BroadcastAll(event dto.SocketEvent) int
}

// Bridge forwards bus events to connected clients under the topic as event name.
type Bridge struct {
	source Source
	topics []string
	out    Broadcaster
	schema *jsonschema.Schema
	logger zerolog.Logger
	tracer trace.Tracer

	mu      sync.Mutex
	running bool
}

// New creates a bridge. A nil source yields an inert bridge.
func New(source Source, topics []string, out Broadcaster, logger zerolog.Logger) *Bridge {
	return &Bridge{
		source: source,
		topics: topics,
		out:    out,
		schema: jsonschema.MustCompileString("event.json", eventSchema),
		logger: logger.With().Str("component", "event_bridge").Logger(),
		tracer: otel.Tracer("github.com/noah-isme/teamhub-realtime/internal/bridge"),
	}
}

// NewSource builds the source named by cfg. It returns nil when the bridge is disabled.
func NewSource(cfg config.BridgeConfig, logger zerolog.Logger) (Source, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Driver {
	case config.BridgeDriverNATS:
		return NewNATSSource(cfg.URL, cfg.Stream, cfg.Consumer, logger), nil
	case config.BridgeDriverRedis:
		source, err := NewRedisSourceFromURL(cfg.URL, logger)
		if err != nil {
			return nil, err
		}
		return source, nil
	default:
		return nil, fmt.Errorf("unsupported bridge driver %q", cfg.Driver)
	}
}

// Start subscribes to the configured topics. An unreachable broker leaves the
// bridge inert and is logged, not returned; realtime features keep working.
func (b *Bridge) Start(ctx context.Context) error {
	if b.source == nil || len(b.topics) == 0 {
		b.logger.Warn().Msg("event bridge disabled")
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}

	if err := b.source.Subscribe(ctx, b.topics, b.handle); err != nil {
		b.logger.Warn().Err(err).Strs("topics", b.topics).Msg("event bridge inert, broker unavailable")
		// Stop skips an inert bridge, so release the source's connections now.
		if closeErr := b.source.Close(); closeErr != nil {
			b.logger.Debug().Err(closeErr).Msg("failed to close inert event source")
		}
		return nil
	}

	b.running = true
	b.logger.Info().Strs("topics", b.topics).Msg("event bridge subscribed")
	return nil
}

// Running reports whether the bridge holds a live subscription.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Stop closes the subscription, waiting at most until ctx expires.
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- b.source.Close()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) handle(msg Message) {
	_, span := b.tracer.Start(context.Background(), "bridge.relay", trace.WithAttributes(
		attribute.String("bridge.topic", msg.Topic),
		attribute.Int("bridge.payload_bytes", len(msg.Payload)),
	))
	defer span.End()

	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(msg.Payload))
	if err != nil {
		observability.BridgeEvents().WithLabelValues(msg.Topic, "invalid").Inc()
		span.RecordError(err)
		b.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping unparseable bus event")
		return
	}
	if err := b.schema.Validate(decoded); err != nil {
		observability.BridgeEvents().WithLabelValues(msg.Topic, "invalid").Inc()
		span.RecordError(err)
		b.logger.Warn().Err(err).Str("topic", msg.Topic).Msg("dropping bus event that failed validation")
		return
	}

	delivered := b.out.BroadcastAll(dto.SocketEvent{Event: msg.Topic, Data: json.RawMessage(msg.Payload)})
	observability.BridgeEvents().WithLabelValues(msg.Topic, "delivered").Inc()
	span.SetAttributes(attribute.Int("bridge.delivered", delivered))
	b.logger.Debug().Str("topic", msg.Topic).Int("delivered", delivered).Msg("bus event relayed")
}
