package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"healthmate/internal/domain"
	"healthmate/internal/metrics"
	"healthmate/internal/models"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
)

// Client is one websocket connection of an authenticated user.
type Client struct {
	UserID string
	Role   string

	hub  *Hub
	conn *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func (h *Hub) NewClient(conn *websocket.Conn, userID, role string) *Client {
	return &Client{
		UserID: userID,
		Role:   role,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
	}
}

// enqueue never blocks. It reports false when the buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
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

func (c *Client) reply(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// Serve runs the connection until the peer goes away.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, userID, role string) {
	c := h.NewClient(conn, userID, role)
	metrics.WSConnected()
	h.logger.Info().Str("user_id", userID).Str("role", role).Msg("websocket connected")

	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.hub.Remove(c)
		metrics.WSDisconnected()
		c.hub.logger.Info().Str("user_id", c.UserID).Msg("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame Frame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn().Err(err).Str("user_id", c.UserID).Msg("websocket read error")
			}
			return
		}
		c.handle(ctx, frame)
	}
}

func (c *Client) handle(ctx context.Context, frame Frame) {
	switch frame.Type {
	case FrameJoin:
		history, err := c.hub.Join(ctx, frame.EngagementID, c)
		if err != nil {
			c.fail(frame.EngagementID, err)
			return
		}
		c.reply(Frame{
			Type:         FrameJoined,
			EngagementID: frame.EngagementID,
			History:      history,
			Open:         c.hub.IsOpen(frame.EngagementID),
		})

	case FrameSend:
		senderType, ok := senderTypeFor(c.Role)
		if !ok {
			c.fail(frame.EngagementID, domain.ErrForbidden)
			return
		}
		_, err := c.hub.Send(ctx, SendInput{
			EngagementID: frame.EngagementID,
			SenderID:     c.UserID,
			SenderType:   senderType,
			ReceiverID:   frame.ReceiverID,
			Text:         frame.Text,
		})
		if err != nil {
			c.fail(frame.EngagementID, err)
		}

	case FrameLeave:
		c.hub.Leave(frame.EngagementID, c)
		c.reply(Frame{Type: FrameLeft, EngagementID: frame.EngagementID})

	default:
		c.reply(Frame{Type: FrameError, Error: "unknown frame type " + frame.Type})
	}
}

func (c *Client) fail(engagementID string, err error) {
	if errorText(err) == "internal error" {
		c.hub.logger.Error().Err(err).Str("engagement_id", engagementID).Str("user_id", c.UserID).Msg("chat operation failed")
	}
	c.reply(Frame{Type: FrameError, EngagementID: engagementID, Error: errorText(err)})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func senderTypeFor(role string) (string, bool) {
	switch role {
	case models.RoleRequester:
		return models.SenderRequester, true
	case models.RoleProvider:
		return models.SenderProvider, true
	}
	return "", false
}
