// Package server exposes a durable graph over a JSON HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/kektorgraph/pkg/config"
	"github.com/sanonone/kektorgraph/pkg/engine"
	"github.com/sanonone/kektorgraph/pkg/knowledge"
)

// Server holds the HTTP interface and the underlying Engine.
type Server struct {
	Engine    *engine.Engine
	Knowledge *knowledge.Base // nil disables the knowledge endpoints

	httpServer  *http.Server
	taskManager *TaskManager
	authToken   string
}

// NewServer initializes the HTTP server using an existing Engine.
// The Engine must be opened before and is not closed by Shutdown.
func NewServer(eng *engine.Engine, kb *knowledge.Base, cfg config.ServerConfig) (*Server, error) {
	if eng == nil {
		return nil, errors.New("server: engine is required")
	}
	s := &Server{
		Engine:      eng,
		Knowledge:   kb,
		taskManager: NewTaskManager(),
		authToken:   cfg.AuthToken,
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Chain: Recovery -> RequestID -> Logging -> Auth -> Mux
	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RequestIDMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      rootMux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler returns the full handler chain, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the HTTP server and blocks until Shutdown.
func (s *Server) Run() error {
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr, "auth", s.authToken != "")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server and waits for running tasks.
// It does NOT close the Engine.
func (s *Server) Shutdown() {
	slog.Info("Starting graceful shutdown of HTTP Server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	s.taskManager.Wait()
}
