// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/logging"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 5 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Upstream string `json:"upstream"`
}

// Server is the relay HTTP server.
type Server struct {
	cfg     config.RelayConfig
	proxy   *Proxy
	handler http.Handler
	log     *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer builds the relay for cfg. Nothing listens until Run.
func NewServer(cfg config.RelayConfig, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	proxy, err := NewProxy(cfg.Upstream, cfg.Timeout.Duration, log)
	if err != nil {
		return nil, err
	}
	log = log.With("component", "relay")

	s := &Server{cfg: cfg, proxy: proxy, log: log}

	mux := http.NewServeMux()
	mux.Handle("/proxy/{path...}", proxy)
	mux.HandleFunc("GET /health", s.handleHealth)

	var limiter *RateLimiter
	if cfg.RateLimit > 0 {
		limiter = NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	s.handler = Chain(
		RecoveryMiddleware(log),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log),
		CORSMiddleware(DefaultCORSConfig(cfg.AllowedOrigin), log),
		RateLimitMiddleware(limiter),
	)(mux)
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the bound address once Run is listening, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run listens on cfg.Listen and serves until ctx is cancelled, then shuts
// down gracefully. It returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: chat streams last as long as the model generates.
	}
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("relay listening",
		"addr", ln.Addr().String(),
		"upstream", s.proxy.Upstream(),
		"allowed_origin", s.cfg.AllowedOrigin,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("graceful shutdown incomplete", logging.Err(err))
		return srv.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok", Upstream: s.proxy.Upstream()})
}
