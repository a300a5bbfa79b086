// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/jeranaias/ollamabro/internal/logging"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain composes middlewares; the first one runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// ============================================================================
// CORS
// ============================================================================

// CORSConfig restricts browser callers to a single origin.
type CORSConfig struct {
	AllowedOrigin  string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig allows origin with the methods the Ollama API uses.
func DefaultCORSConfig(origin string) CORSConfig {
	return CORSConfig{
		AllowedOrigin:  origin,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Accept"},
		MaxAge:         600,
	}
}

// CORSMiddleware admits requests without an Origin header and requests from
// the allowed origin. Anything else gets 403 and a warning. Preflight
// requests are answered with 204.
func CORSMiddleware(cfg CORSConfig, log *slog.Logger) Middleware {
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if origin != cfg.AllowedOrigin {
					log.Warn("CORS: origin blocked", "origin", origin, "expected", cfg.AllowedOrigin)
					http.Error(w, "Forbidden: Origin not allowed.", http.StatusForbidden)
					return
				}
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				h.Set("Access-Control-Max-Age", maxAge)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ============================================================================
// RATE LIMITING
// ============================================================================

// RateLimiter hands out a token bucket per client IP. Idle buckets expire.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	buckets *gocache.Cache
}

// NewRateLimiter allows perSecond requests with the given burst per client.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		buckets: gocache.New(10*time.Minute, 5*time.Minute),
	}
}

// Allow reports whether ip may make a request now.
func (rl *RateLimiter) Allow(ip string) bool {
	if v, ok := rl.buckets.Get(ip); ok {
		rl.buckets.SetDefault(ip, v)
		return v.(*rate.Limiter).Allow()
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	// Another request may have raced us here; keep whichever bucket won.
	if err := rl.buckets.Add(ip, lim, gocache.DefaultExpiration); err != nil {
		if v, ok := rl.buckets.Get(ip); ok {
			lim = v.(*rate.Limiter)
		}
	}
	return lim.Allow()
}

// RateLimitMiddleware rejects clients over their budget with 429.
// A nil limiter disables limiting.
func RateLimitMiddleware(rl *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the connection address. The relay listens on loopback and
// sits behind no proxy, so forwarded headers are ignored.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ============================================================================
// LOGGING
// ============================================================================

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying Flusher.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

var requestSeq atomic.Int64

// LoggingMiddleware tags each request with an id (echoed as X-Request-Id)
// and logs it at debug level once it completes.
func LoggingMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := requestSeq.Add(1)
			w.Header().Set("X-Request-Id", strconv.FormatInt(id, 10))

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(logging.ContextWithRequestID(r.Context(), id)))

			log.Debug("request",
				"request_id", id,
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"remote", clientIP(r),
				"duration", time.Since(start).Round(time.Millisecond),
			)
		})
	}
}

// ============================================================================
// HARDENING
// ============================================================================

// SecurityHeadersMiddleware sets headers that keep relay responses out of
// caches and frames.
func SecurityHeadersMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Cache-Control", "no-store")
			h.Set("Referrer-Policy", "no-referrer")
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and a logged stack.
func RecoveryMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic recovered",
						"method", r.Method,
						"path", r.URL.Path,
						"panic", rec,
						"stack", string(debug.Stack()),
					)
					http.Error(w, "Internal proxy error.", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
