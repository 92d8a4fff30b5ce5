package ws

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"social_backend/internal/logger"
	"social_backend/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	ID     string
	UserID uint

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	mu     sync.Mutex
	closed bool

	// rooms is guarded by hub.mu.
	rooms map[uint]struct{}
}

func newClient(hub *Hub, conn *websocket.Conn, userID uint) *Client {
	id := uuid.NewString()
	return &Client{
		ID:     id,
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, hub.cfg.SendBuffer),
		log:    logger.ConnLog(id, userID),
		rooms:  make(map[uint]struct{}),
	}
}

// enqueue never blocks. A connection whose buffer is full is dropped.
func (c *Client) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.closed = true
		close(c.send)
		c.log.Warn("Dropping slow realtime client", "buffer", cap(c.send))
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(event string, id json.RawMessage, data interface{}) {
	frame, err := json.Marshal(outboundFrame{Event: event, ID: id, Data: data})
	if err != nil {
		c.log.Error("Failed to encode reply", "event", event, "error", err)
		return
	}
	c.enqueue(frame)
}

func (c *Client) ack(id json.RawMessage, event, status string, result interface{}) {
	c.reply(EventAck, id, ackData{Event: event, Status: status, Result: result})
}

func (c *Client) fail(id json.RawMessage, event string, err *apperrors.AppError) {
	c.reply(EventError, id, errorData{
		Event:   event,
		Code:    err.Code,
		Message: err.Message,
		Details: err.Details,
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	cfg := c.hub.cfg
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Realtime read error", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		c.hub.dispatch(c, data)
	}
}

func (c *Client) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("Realtime write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
