package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	directBuffer   = 8
)

// Inbound is a frame sent by a connection.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// InboundHandler processes one inbound frame. A non-nil reply is written to the
// sending connection only.
type InboundHandler func(ctx context.Context, c *Client, in Inbound) (*WSMessage, error)

// Client pumps one websocket connection: hub messages out, inbound frames to the handler.
type Client struct {
	conn    *websocket.Conn
	sub     *Subscription
	limiter *rate.Limiter
	direct  chan WSMessage
	logger  *slog.Logger
}

func NewClient(conn *websocket.Conn, sub *Subscription, limiter *rate.Limiter, logger *slog.Logger) *Client {
	return &Client{
		conn:    conn,
		sub:     sub,
		limiter: limiter,
		direct:  make(chan WSMessage, directBuffer),
		logger:  logger.With(slog.Uint64("session_id", uint64(sub.SessionID))),
	}
}

func (c *Client) SessionID() uint {
	return c.sub.SessionID
}

// Run blocks until the connection closes or ctx is cancelled.
func (c *Client) Run(ctx context.Context, handle InboundHandler) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.sub.Close()
		_ = c.conn.Close()
	}()

	go c.writePump(ctx, cancel)
	c.readPump(ctx, handle)
}

func (c *Client) readPump(ctx context.Context, handle InboundHandler) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws_read_failed", slog.Any("err", err))
			}
			return
		}
		if ctx.Err() != nil {
			return
		}

		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.reply(errorFrame(c.sub.SessionID, "malformed frame"))
			continue
		}
		if !c.limiter.Allow() {
			c.reply(errorFrame(c.sub.SessionID, "rate limited"))
			continue
		}

		out, err := handle(ctx, c, in)
		if err != nil {
			c.reply(errorFrame(c.sub.SessionID, err.Error()))
			continue
		}
		if out != nil {
			c.reply(*out)
		}
	}
}

func (c *Client) writePump(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cancel()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg, ok := <-c.sub.C():
			if !ok {
				return
			}
			if err := c.write(msg); err != nil {
				return
			}
		case msg := <-c.direct:
			if err := c.write(msg); err != nil {
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

func (c *Client) write(msg WSMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("ws_marshal_failed", slog.Any("err", err))
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("ws_write_failed", slog.Any("err", err))
		return err
	}
	return nil
}

// reply queues a frame for this connection; it is dropped when the queue is full.
func (c *Client) reply(msg WSMessage) {
	select {
	case c.direct <- msg:
	default:
		c.logger.Warn("ws_reply_dropped", slog.String("type", msg.Type))
	}
}

func errorFrame(sessionID uint, message string) WSMessage {
	data, _ := json.Marshal(map[string]string{"error": message})
	return WSMessage{Kind: KindBroadcast, Type: EventError, SessionID: sessionID, Data: data}
}
