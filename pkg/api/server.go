// Package api exposes the optional admin HTTP listener: health, prometheus
// exposition and live pool/telemetry counters. It never carries broker
// traffic.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/marmos91/docbroker/internal/logger"
	brokermetrics "github.com/marmos91/docbroker/internal/metrics"
	"github.com/marmos91/docbroker/internal/pool"
)

// Config holds the admin listener settings.
type Config struct {
	// Enabled starts the listener. Off by default.
	Enabled bool

	// BindAddress is the interface to bind. Empty binds all interfaces.
	BindAddress string

	// Port is the HTTP port.
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = 9090
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server is the admin HTTP server.
type Server struct {
	server       *http.Server
	cfg          Config
	shutdownOnce sync.Once
}

// NewServer builds a stopped admin server over the pool and collector.
// collector may be nil when telemetry is disabled.
func NewServer(cfg Config, p *pool.Pool, collector *brokermetrics.Collector) *Server {
	cfg.ApplyDefaults()

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
			Handler:      NewRouter(p, collector),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin listener up", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin listener failed: %w", err)
	}
}

// Stop shuts the listener down. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin listener shutdown: %w", err)
		} else {
			logger.Info("admin listener stopped")
		}
	})
	return shutdownErr
}
