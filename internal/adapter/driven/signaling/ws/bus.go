package ws

import (
	"context"
	"net/url"
	"strings"
	"sync"
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
	sendBufferSize = 256
	recvBufferSize = 256
)

var (
	ErrBusClosed  = errors.New("signal bus closed")
	ErrBusBackoff = errors.New("signal bus send buffer full")
)

type subscriber struct {
	ch   chan domain.Envelope
	done chan struct{}
	once sync.Once
}

func (s *subscriber) cancel() {
	s.once.Do(func() { close(s.done) })
}

// Bus is the client end of the relay websocket. It implements port.SignalBus.
type Bus struct {
	conn *websocket.Conn
	send chan domain.Envelope

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed core.Fuse
	ended  core.Fuse

	logger zerolog.Logger
}

// SocketURL turns the relay base URL into its websocket endpoint for self.
func SocketURL(serverURL string, self domain.Participant) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("userId", self.ID.String())
	if self.Name != "" {
		q.Set("name", self.Name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, serverURL string, self domain.Participant) (*Bus, error) {
	wsURL, err := SocketURL(serverURL, self)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "dialing relay")
	}

	b := &Bus{
		conn:   conn,
		send:   make(chan domain.Envelope, sendBufferSize),
		subs:   make(map[*subscriber]struct{}),
		closed: core.NewFuse(),
		ended:  core.NewFuse(),
		logger: log.With().Str("user_id", self.ID.String()).Logger(),
	}
	go b.readPump()
	go b.writePump()
	return b, nil
}

// Send queues env for the relay without waiting for the network.
func (b *Bus) Send(env domain.Envelope) error {
	if b.closed.IsBroken() || b.ended.IsBroken() {
		return ErrBusClosed
	}
	select {
	case b.send <- env:
		return nil
	default:
		return ErrBusBackoff
	}
}

func (b *Bus) Subscribe() (<-chan domain.Envelope, func()) {
	sub := &subscriber{
		ch:   make(chan domain.Envelope, recvBufferSize),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended.IsBroken() {
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	return sub.ch, func() {
		sub.cancel()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

// Done is closed once the connection is gone.
func (b *Bus) Done() <-chan struct{} {
	return b.ended.Watch()
}

func (b *Bus) Close() error {
	b.closed.Break()
	<-b.ended.Watch()
	return nil
}

func (b *Bus) readPump() {
	defer func() {
		b.ended.Break()
		b.closed.Break()
		_ = b.conn.Close()

		b.mu.Lock()
		for sub := range b.subs {
			delete(b.subs, sub)
			close(sub.ch)
		}
		b.mu.Unlock()
	}()

	_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPingHandler(func(data string) error {
		_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
		return b.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var env domain.Envelope
		if err := b.conn.ReadJSON(&env); err != nil {
			if !b.closed.IsBroken() && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.logger.Warn().Err(err).Msg("Relay connection lost")
			}
			return
		}
		_ = b.conn.SetReadDeadline(time.Now().Add(pongWait))
		b.deliver(env)
	}
}

// deliver holds mu for the whole fan-out so a subscriber's channel cannot be
// closed under a pending send. Cancel closes done before taking mu, which
// releases a send blocked on that subscriber.
func (b *Bus) deliver(env domain.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- env:
		case <-sub.done:
		case <-b.closed.Watch():
			return
		}
	}
}

func (b *Bus) writePump() {
	for {
		select {
		case <-b.closed.Watch():
			_ = b.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = b.conn.Close()
			return
		case <-b.ended.Watch():
			return
		case env := <-b.send:
			_ = b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteJSON(env); err != nil {
				b.logger.Warn().Err(err).Str("event", string(env.Event)).Msg("Relay write failed")
				b.closed.Break()
				return
			}
		}
	}
}
