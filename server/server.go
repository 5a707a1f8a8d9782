package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type Server struct {
	httpServer *http.Server
}

// NewRouter wires the control routes. metrics may be nil.
func NewRouter(h *Handlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP, LoggerMiddleware, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.HandleHealth)

	r.Route("/sync", func(r chi.Router) {
		r.Get("/state", h.HandleState)
		r.Get("/runs", h.HandleRuns)
		r.Post("/full", h.HandleFullSync)
		r.Post("/incremental", h.HandleIncrementalSync)
		r.Post("/auto", h.HandleAutoSync)
		r.Post("/pause", h.HandlePause)
		r.Post("/resume", h.HandleResume)
	})

	r.Post("/workers/{name}/run", h.HandleRunWorker)
	r.Get("/listings/count", h.HandleCount)

	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func NewServer(addr string, h *Handlers, metrics http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(h, metrics),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start blocks until the server stops.
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("could not start server: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	slog.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}
