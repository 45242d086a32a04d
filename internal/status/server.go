package status

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"scalper/internal/config"
)

const broadcastInterval = 2 * time.Second

// Server runs the HTTP/WebSocket status surface.
type Server struct {
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger

	stop chan struct{}
}

// NewServer creates a new status server bound to cfg.Status.Port.
func NewServer(cfg config.Config, provider Provider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Status.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   srv,
		logger:   logger.With("component", "status_server"),
		stop:     make(chan struct{}),
	}
}

// Start starts the hub, the periodic snapshot broadcaster, and the HTTP
// server. Blocks until the server is stopped.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.broadcastLoop()

	s.logger.Info("status server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")
	close(s.stop)
	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// broadcastLoop pushes the current snapshot to every connected client on a
// fixed interval — there is no per-event stream from the engine to tap, so
// polling the provider is this surface's source of truth.
func (s *Server) broadcastLoop() {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.hub.BroadcastSnapshot(BuildSnapshot(s.provider))
		}
	}
}
