package hub

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat-hub/internal/config"
	pkglog "github.com/weiawesome/wes-chat-hub/pkg/log"
)

// Client is one WebSocket connection attached to the hub.
type Client struct {
	ID   string
	Hub  *Hub
	Conn *websocket.Conn
	Send chan []byte
	// Ctx carries the connection-scoped logger.
	Ctx    context.Context
	config config.WebSocketConfig
}

func NewClient(ctx context.Context, id string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = 256
	}
	return &Client{
		ID:     id,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, size),
		Ctx:    pkglog.WithConn(ctx, id),
		config: cfg,
	}
}

// ReadPump reads frames until the connection fails and hands each one to
// handler in arrival order. It unregisters the client before returning.
func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		msgType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				l := pkglog.Ctx(c.Ctx)
				l.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))

		handler(c, message)
	}
}

// WritePump drains Send to the socket and keeps the connection alive with
// pings. It exits when Send is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
