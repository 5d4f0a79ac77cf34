// Package api serves the operational HTTP endpoints of the worker service.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server runs the ops router on its own goroutine
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	addr   string
}

func NewServer(cfg *ServerConfig, handler http.Handler, logger *slog.Logger) *Server {
	addr := fmt.Sprintf(":%d", cfg.Port)
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			IdleTimeout:       cfg.IdleTimeout,
		},
		logger: logger,
		addr:   addr,
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors go to the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr().String()

	s.logger.Info("Starting HTTP server",
		slog.String("address", s.addr),
		slog.Duration("read_timeout", s.srv.ReadTimeout),
		slog.Duration("write_timeout", s.srv.WriteTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed",
				slog.Any("error", err),
			)
			errCh <- err
		}
		close(errCh)
	}()

	return errCh, nil
}

// Addr is the bound address once Start has returned
func (s *Server) Addr() string {
	return s.addr
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}
