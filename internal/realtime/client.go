package realtime

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
)

// Transport is the framed JSON connection a client speaks over. *websocket.Conn
// satisfies it.
type Transport interface {
	ReadJSON(v interface{}) error
	WriteJSON(v interface{}) error
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is a single live connection. Outbound events are queued on a bounded
// buffer drained by one writer goroutine, so per-connection order is preserved.
type Client struct {
	id        string
	transport Transport
	send      chan dto.SocketEvent
	closed    chan struct{}
	finished  chan struct{}
	once      sync.Once
	logger    zerolog.Logger
}

func newClient(id string, transport Transport, buffer int, logger zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		id:        id,
		transport: transport,
		send:      make(chan dto.SocketEvent, buffer),
		closed:    make(chan struct{}),
		finished:  make(chan struct{}),
		logger:    logger.With().Str("conn_id", id).Logger(),
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string {
	return c.id
}

// Deliver queues an event without blocking. It reports false when the client is
// closed or its buffer is full; a full buffer drops the event.
func (c *Client) Deliver(event dto.SocketEvent) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- event:
		return true
	case <-c.closed:
		return false
	default:
		observability.ChatDroppedEvents().Inc()
		c.logger.Warn().Str("event", event.Event).Msg("dropping event for slow client")
		return false
	}
}

// Done is closed once the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

func (c *Client) writer(pingInterval time.Duration) {
	defer close(c.finished)
	defer c.close()

	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.send:
			if err := c.transport.WriteJSON(event); err != nil {
				c.logger.Debug().Err(err).Msg("write loop terminated")
				return
			}
		case <-ticker.C:
			if err := c.transport.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.logger.Debug().Err(err).Msg("ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.transport.Close()
	})
}
