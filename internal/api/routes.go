// Package api is the gateway: the HTTP routes for layouts and status and the
// websocket endpoint that carries realtime events.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/asuasu0131/parking-monitor/internal/engine"
)

type Options struct {
	// StaticDir is served for every unmatched path. Empty disables it.
	StaticDir string
	Logger    *zap.Logger
}

type Handler struct {
	eng *engine.Engine
}

func SetupRoutes(eng *engine.Engine, ws *WSHandler, opts Options) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{eng: eng}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(log.Named("http")))
	r.Use(middleware.Recoverer)

	r.Get("/ws", ws.HandleWS)
	r.Get("/healthz", h.handleHealth)

	r.Post("/save_layout", h.handleSaveLayout)
	r.Get("/parking_layout.json", h.handleDefaultLayout)
	r.Route("/layouts", func(r chi.Router) {
		r.Get("/", h.handleLayouts)
		r.Get("/{spaceID}", h.handleLayout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/positions", h.handlePositions)
	})

	if opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
	}
	return r
}
