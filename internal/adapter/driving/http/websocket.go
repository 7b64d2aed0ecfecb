package http

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin policy is enforced by the proxy that asserts identity
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the relay socket of the user named by the userId query
// parameter and feeds its messages to the call service.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := domain.UserID(r.URL.Query().Get("userId"))
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Error while upgrading ws")
		return
	}

	client := ws.NewClient(conn, userID)
	l := log.With().Str("user_id", userID.String()).Str("conn_id", client.ID().String()).Logger()
	l.Info().Str("name", r.URL.Query().Get("name")).Msg("New client connected")

	h.Hub.Register(client)
	go client.WritePump()

	ctx := r.Context()
	client.ReadPump(func(env domain.Envelope) {
		if err := h.CallService.HandleMessage(ctx, userID, env); err != nil {
			l.Warn().Err(err).Str("event", string(env.Event)).Msg("Failed to handle client message")
		}
	})

	l.Info().Msg("Client disconnected")
	h.Hub.Unregister(client)
}
