package ws

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/metrics"
)

// Hub implements port.RealTimeGateway. Each user has at most one live
// connection; a newer connection replaces (and closes) the older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[domain.UserID]port.Client

	register   chan port.Client
	unregister chan port.Client
	quit       chan struct{}
	done       chan struct{}

	onOffline func(domain.UserID)
	metrics   *metrics.Relay
}

func NewHub(m *metrics.Relay) *Hub {
	return &Hub{
		clients:    make(map[domain.UserID]port.Client),
		register:   make(chan port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		metrics:    m,
	}
}

// OnOffline sets the callback run when a user's current connection goes away.
// It must be set before Run.
func (h *Hub) OnOffline(fn func(domain.UserID)) {
	h.onOffline = fn
}

func (h *Hub) SendToUser(ctx context.Context, userID domain.UserID, event domain.Event, payload any) error {
	h.mu.RLock()
	client, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		log.Debug().Str("user_id", userID.String()).Str("event", string(event)).Msg("User offline, dropping message")
		return nil
	}

	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	return client.Send(env)
}

func (h *Hub) IsOnline(userID domain.UserID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for userID, client := range h.clients {
				if err := client.Close(); err != nil {
					log.Error().Err(err).Str("user_id", userID.String()).Msg("Error closing client connection")
				}
				delete(h.clients, userID)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			old, replaced := h.clients[client.UserID()]
			h.clients[client.UserID()] = client
			count := len(h.clients)
			h.mu.Unlock()

			h.metrics.ConnectionOpened()
			if replaced {
				log.Info().Str("user_id", client.UserID().String()).Str("conn_id", old.ID().String()).Msg("Replacing older connection")
				_ = old.Close()
			}
			log.Info().Int("count", count).Str("user_id", client.UserID().String()).Str("conn_id", client.ID().String()).Msg("Client registered")

		case client := <-h.unregister:
			h.metrics.ConnectionClosed()
			h.mu.Lock()
			current := h.clients[client.UserID()] == client
			if current {
				delete(h.clients, client.UserID())
			}
			h.mu.Unlock()

			_ = client.Close()
			if !current {
				log.Debug().Str("conn_id", client.ID().String()).Msg("Stale connection unregistered")
				continue
			}
			log.Info().Str("user_id", client.UserID().String()).Str("conn_id", client.ID().String()).Msg("Client unregistered")
			if h.onOffline != nil {
				go h.onOffline(client.UserID())
			}
		}
	}
}

func (h *Hub) Register(c port.Client) {
	select {
	case h.register <- c:
	case <-h.done:
		_ = c.Close()
	}
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Stop closes every connection and waits for Run to return.
func (h *Hub) Stop() {
	close(h.quit)
	<-h.done
}
