// Package api provides the HTTP ops surface for the scan engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/poppopjmp/spiderfoot-sub002/internal/api/middleware"
	"github.com/poppopjmp/spiderfoot-sub002/internal/export"
	"github.com/poppopjmp/spiderfoot-sub002/internal/store"
)

// Server is the engine's HTTP ops surface: scan status, event export
// triggers, and health, fronted by a correlation-ID/recovery/rate-limit/
// CORS middleware chain.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     *ServerConfig
	startTime  time.Time

	eventStore store.EventStore
	exporters  *export.Registry
}

// NewServer creates a new HTTP server instance with structured logging and
// middleware stack. eventStore is required (nil panics); a nil exporters is
// replaced by an empty registry. cfg.RateLimiter is optional (nil disables
// rate limiting).
func NewServer(cfg *ServerConfig, eventStore store.EventStore, exporters *export.Registry) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	if eventStore == nil {
		logger.Error("event store is required - cannot start server without core functionality")
		panic("api: eventStore cannot be nil - this indicates a configuration error")
	}

	if exporters == nil {
		exporters = export.NewRegistry()
	}

	mux := http.NewServeMux()

	server := &Server{
		logger:     logger,
		config:     cfg,
		eventStore: eventStore,
		exporters:  exporters,
	}

	server.setupRoutes(mux)

	if cfg.RateLimiter != nil {
		logger.Info("rate limiting middleware enabled")
	} else {
		logger.Warn("rate limiter not configured - rate limiting middleware disabled")
	}

	// Middleware order (top-to-bottom): correlation ID, panic recovery,
	// rate limiting, request logging, CORS.
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithRateLimit(cfg.RateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("starting engine ops API",
			slog.String("address", s.config.Address()),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("received shutdown signal", slog.String("signal", sig.String()))

		return s.shutdown()
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if closer, ok := s.config.RateLimiter.(interface{ Close() }); ok {
		closer.Close()
	}

	s.logger.Info("server shutdown completed successfully")

	return nil
}
