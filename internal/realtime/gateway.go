// Package realtime serves live websocket sessions: it decodes inbound events,
// dispatches them to the chat service and writes outbound events in order.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/middleware"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
	"github.com/noah-isme/teamhub-realtime/internal/presence"
	"github.com/noah-isme/teamhub-realtime/internal/service"
)

// ErrUnknownEvent is reported for inbound events the gateway does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// GatewayOptions tunes connection handling.
type GatewayOptions struct {
	SendBuffer     int
	PingInterval   time.Duration
	CleanupTimeout time.Duration
}

// Gateway owns the read loop of every websocket connection.
type Gateway struct {
	chat     service.ChatService
	registry *presence.Registry
	opts     GatewayOptions
	logger   zerolog.Logger
}

// NewGateway creates a gateway that dispatches to chat and tracks connections in registry.
func NewGateway(chat service.ChatService, registry *presence.Registry, opts GatewayOptions, logger zerolog.Logger) *Gateway {
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 5 * time.Second
	}
	return &Gateway{
		chat:     chat,
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "realtime_gateway").Logger(),
	}
}

// ServeConnection runs the connection until the transport fails or ctx ends.
// Inbound events are handled one at a time, so replies keep request order. When
// the loop exits the connection leaves every room it joined.
func (g *Gateway) ServeConnection(ctx context.Context, transport Transport, auth service.AuthContext) {
	if ctx == nil {
		ctx = context.Background()
	}

	client := newClient(uuid.NewString(), transport, g.opts.SendBuffer, g.logger)
	g.registry.Register(client, presence.Identity{UserID: auth.UserID, UserName: auth.UserName})
	observability.ChatConnectionsActive().Inc()

	logger := g.logger.With().Str("conn_id", client.ID()).Str("user_id", auth.UserID).Logger()
	if correlation := middleware.CorrelationIDFromContext(ctx); correlation != "" {
		logger = logger.With().Str("correlation_id", correlation).Logger()
	}
	logger.Info().Msg("realtime connection opened")

	go client.writer(g.opts.PingInterval)

	stop := context.AfterFunc(ctx, client.close)
	defer func() {
		stop()
		client.close()
		// The transport is recycled once we return; the writer must be gone by then.
		<-client.finished
		observability.ChatConnectionsActive().Dec()

		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.opts.CleanupTimeout)
		defer cancel()
		g.chat.Disconnect(cleanupCtx, client)
		logger.Info().Msg("realtime connection closed")
	}()

	for {
		var inbound dto.InboundEvent
		if err := transport.ReadJSON(&inbound); err != nil {
			if isDecodeError(err) {
				g.reject(client, "", errors.New("malformed frame"))
				continue
			}
			logger.Debug().Err(err).Msg("read loop ended")
			return
		}

		if err := g.dispatch(ctx, client, auth, inbound); err != nil {
			logger.Debug().Err(err).Str("event", inbound.Event).Msg("inbound event rejected")
			g.reject(client, inbound.Event, err)
		}

		select {
		case <-client.Done():
			return
		default:
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, auth service.AuthContext, inbound dto.InboundEvent) error {
	switch inbound.Event {
	case dto.EventJoinChat:
		var req dto.JoinChatRequest
		if err := decodeData(inbound.Data, &req); err != nil {
			return err
		}
		return g.chat.Join(ctx, client, auth, req)

	case dto.EventLeaveChat:
		var req dto.LeaveChatRequest
		if err := decodeData(inbound.Data, &req); err != nil {
			return err
		}
		return g.chat.Leave(ctx, client, req)

	case dto.EventSendMessage:
		var req dto.SendMessageRequest
		if err := decodeData(inbound.Data, &req); err != nil {
			return err
		}
		_, err := g.chat.SendMessage(ctx, client, auth, req)
		return err

	case dto.EventGetChatHistory:
		var query dto.ChatHistoryQuery
		if err := decodeData(inbound.Data, &query); err != nil {
			return err
		}
		messages, err := g.chat.History(ctx, query)
		if err != nil {
			return err
		}
		client.Deliver(dto.SocketEvent{Event: dto.EventChatHistory, Data: dto.ChatHistoryEvent{
			RoomID:   query.RoomID,
			RoomType: query.RoomType,
			Messages: messages,
		}})
		return nil

	default:
		return fmt.Errorf("%w %q", ErrUnknownEvent, inbound.Event)
	}
}

// reject reports a failed request to the sender only.
func (g *Gateway) reject(client *Client, event string, err error) {
	label := event
	if label == "" {
		label = "unknown"
	}
	observability.SocketErrors().WithLabelValues(label).Inc()
	client.Deliver(dto.SocketEvent{Event: dto.EventError, Data: dto.ErrorEvent{
		Event:   event,
		Message: clientMessage(err),
	}})
}

func decodeData(raw json.RawMessage, target interface{}) error {
	if len(raw) == 0 {
		return errors.New("event data missing")
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return errors.New("malformed event data")
	}
	return nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr)
}

func clientMessage(err error) string {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		fields := make([]string, 0, len(validationErrors))
		for _, fieldErr := range validationErrors {
			fields = append(fields, fmt.Sprintf("%s failed %s", fieldErr.Field(), fieldErr.Tag()))
		}
		return "invalid payload: " + strings.Join(fields, ", ")
	case errors.Is(err, service.ErrPersistFailed):
		return "failed to send message"
	default:
		return err.Error()
	}
}
