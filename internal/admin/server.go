package admin

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/muxd/dispatchd/internal/logger"
)

// Server is the admin HTTP server. It is created in a stopped state; call
// Start to begin serving requests.
type Server struct {
	server       *http.Server
	addr         string
	shutdownOnce sync.Once
}

// NewServer builds an admin server bound to addr, exposing /healthz
// against prober and, when registry is non-nil, /metrics against it.
func NewServer(addr string, prober Prober, registry *prometheus.Registry) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(prober, registry),
			ReadHeaderTimeout: 5 * time.Second,
		},
		addr: addr,
	}
}

// Start listens and serves until ctx is cancelled, at which point it
// performs a graceful shutdown with its own timeout, independent of ctx.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin server listening", "addr", s.addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admin server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin server shutdown: %w", err)
		}
	})
	return shutdownErr
}
