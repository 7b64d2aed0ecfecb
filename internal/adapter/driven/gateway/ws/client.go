package ws

import (
	"time"

	"github.com/frostbyte73/core"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

var (
	ErrClientClosed = errors.New("client closed")
	ErrSlowClient   = errors.New("client send buffer full")
)

// Client is one relay websocket. Writes go through a buffered pump so a slow
// peer never blocks the hub.
type Client struct {
	id     domain.ConnID
	userID domain.UserID
	conn   *websocket.Conn
	send   chan domain.Envelope
	closed core.Fuse
	logger zerolog.Logger
}

func NewClient(conn *websocket.Conn, userID domain.UserID) *Client {
	id := domain.NewConnID()
	return &Client{
		id:     id,
		userID: userID,
		conn:   conn,
		send:   make(chan domain.Envelope, sendBufferSize),
		closed: core.NewFuse(),
		logger: log.With().Str("conn_id", id.String()).Str("user_id", userID.String()).Logger(),
	}
}

func (c *Client) ID() domain.ConnID {
	return c.id
}

func (c *Client) UserID() domain.UserID {
	return c.userID
}

func (c *Client) Send(env domain.Envelope) error {
	if c.closed.IsBroken() {
		return ErrClientClosed
	}
	select {
	case c.send <- env:
		return nil
	default:
		c.logger.Warn().Str("event", string(env.Event)).Msg("Send buffer full, closing client")
		_ = c.Close()
		return ErrSlowClient
	}
}

// Close stops the write pump, which closes the socket.
func (c *Client) Close() error {
	c.closed.Break()
	return nil
}

// ReadPump decodes envelopes until the socket fails or is closed, handing
// each one to handle.
func (c *Client) ReadPump(handle func(domain.Envelope)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env domain.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Error().Err(err).Msg("Unexpected close error")
			}
			return
		}
		if env.Event == "" {
			c.logger.Debug().Msg("Ignoring frame without event")
			continue
		}
		handle(env)
	}
}

// WritePump drains the send buffer and keeps the connection alive.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.closed.Watch():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed")
				c.closed.Break()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closed.Break()
				return
			}
		}
	}
}
