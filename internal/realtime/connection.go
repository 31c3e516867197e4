package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tabstream/tabstream-be/internal/auth"
)

// Connection states. Transitions are one-way:
// connecting -> authenticated -> active -> closed.
const (
	StateConnecting    = "connecting"
	StateAuthenticated = "authenticated"
	StateActive        = "active"
	StateClosed        = "closed"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
)

// Connection is one persistent client connection. The ws handle may be nil
// in tests; delivery then stops at the send channel.
type Connection struct {
	ID       string
	Identity auth.Identity

	ws     *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	mu    sync.Mutex
	state string
}

func newConnection(ws *websocket.Conn, identity auth.Identity, sendBuffer int, logger *slog.Logger) *Connection {
	return &Connection{
		ID:       uuid.New().String(),
		Identity: identity,
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		logger:   logger,
		state:    StateConnecting,
	}
}

// State returns the current connection state.
func (c *Connection) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) setState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = state
}

// isActive reports whether subscription operations are currently valid.
func (c *Connection) isActive() bool {
	return c.State() == StateActive
}

// deliver marshals an event and enqueues it. A full send buffer means the
// consumer is too slow to keep; the connection is closed rather than
// blocking the caller. The enqueue happens under the state mutex so it can
// never race the channel close in closeTransport.
func (c *Connection) deliver(event interface{}) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("Failed to marshal outbound event",
			slog.String("connection_id", c.ID),
			slog.Any("error", err),
		)
		return
	}

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}

	select {
	case c.send <- payload:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		c.logger.Warn("Send buffer full, closing slow connection",
			slog.String("connection_id", c.ID),
		)
		c.closeTransport()
	}
}

// closeTransport marks the connection closed and tears down the socket.
// Idempotent.
func (c *Connection) closeTransport() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = StateClosed
	close(c.send)
	c.mu.Unlock()

	if c.ws != nil {
		_ = c.ws.Close()
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings. One per connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if c.ws != nil {
			_ = c.ws.Close()
		}
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads client frames and hands them to the dispatch callback.
// Returns when the socket closes.
func (c *Connection) readPump(dispatch func(data []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Connection read error",
					slog.String("connection_id", c.ID),
					slog.Any("error", err),
				)
			}
			return
		}
		dispatch(data)
	}
}
