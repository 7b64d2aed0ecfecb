package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/core/service"
)

type Handler struct {
	CallService *service.CallService
	Hub         *ws.Hub
	Gatherer    prometheus.Gatherer

	allowedOrigins []string
}

func NewHandler(callService *service.CallService, hub *ws.Hub, gatherer prometheus.Gatherer, allowedOrigins []string) *Handler {
	return &Handler{
		CallService:    callService,
		Hub:            hub,
		Gatherer:       gatherer,
		allowedOrigins: allowedOrigins,
	}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/call/group", func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   h.origins(),
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", headerUserID, headerUserName},
			AllowCredentials: true,
		}).Handler)
		r.Use(requireIdentity)

		r.Post("/start", h.StartCall)
		r.Get("/status/{channelID}", h.CallStatus)
		r.Post("/join", h.JoinCall)
		r.Post("/leave", h.LeaveCall)
	})

	r.Get("/ws", h.ServeWS)

	return r
}

func (h *Handler) origins() []string {
	if len(h.allowedOrigins) == 0 {
		return []string{"*"}
	}
	return h.allowedOrigins
}
