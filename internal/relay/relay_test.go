// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamabro/internal/config"
)

const extensionOrigin = "chrome-extension://gkpfpdekobmonacdgjgbfehilnloaacm"

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func relayConfig(upstream string) config.RelayConfig {
	return config.RelayConfig{
		Listen:        "127.0.0.1:0",
		Upstream:      upstream,
		AllowedOrigin: extensionOrigin,
		Timeout:       config.D(2 * time.Second),
	}
}

// newRelay starts an upstream with handler and a relay in front of it.
func newRelay(t *testing.T, cfg config.RelayConfig, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32, *syncBuffer) {
	t.Helper()
	hits := &atomic.Int32{}
	if cfg.Upstream == "" {
		upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			handler(w, r)
		}))
		t.Cleanup(upstream.Close)
		cfg.Upstream = upstream.URL
	}

	logs := &syncBuffer{}
	log := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := NewServer(cfg, log)
	require.NoError(t, err)

	front := httptest.NewServer(s.Handler())
	t.Cleanup(front.Close)
	return front, hits, logs
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

// =============================================================================
// FORWARDING
// =============================================================================

func TestProxy_StreamsChunksAsTheyArrive(t *testing.T) {
	release := make(chan struct{})
	front, _, _ := newRelay(t, relayConfig(""), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"message":{"content":"Hel"}}`+"\n")
		w.(http.Flusher).Flush()
		<-release
		io.WriteString(w, `{"done":true}`+"\n")
	})

	resp, err := http.Post(front.URL+"/proxy/api/chat", "application/json", strings.NewReader(`{"model":"m","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	first, err := reader.ReadString('\n')
	require.NoError(t, err, "first line must arrive before the upstream finishes")
	assert.Equal(t, `{"message":{"content":"Hel"}}`+"\n", first)

	close(release)
	second, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, `{"done":true}`+"\n", second)
}

func TestProxy_ForwardsRequestVerbatim(t *testing.T) {
	var (
		mu  sync.Mutex
		got *http.Request
		raw []byte
	)
	front, _, _ := newRelay(t, relayConfig(""), func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got, raw = r.Clone(context.Background()), body
		mu.Unlock()
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, "created")
	})

	req, err := http.NewRequest(http.MethodPost, front.URL+"/proxy/api/generate?keep=1", strings.NewReader(`{"prompt":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("Origin", extensionOrigin)
	req.Header.Set("X-Custom", "abc")
	req.Header.Set("Accept", "application/x-ndjson")
	req.Header.Set("User-Agent", "")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.Equal(t, extensionOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "created", readBody(t, resp))

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/api/generate", got.URL.Path)
	assert.Equal(t, "keep=1", got.URL.RawQuery)
	assert.Equal(t, `{"prompt":"hi"}`, string(raw))
	assert.Equal(t, "abc", got.Header.Get("X-Custom"))
	assert.Equal(t, "application/x-ndjson", got.Header.Get("Accept"))
	assert.Equal(t, "application/json", got.Header.Get("Content-Type"), "missing content type defaults to JSON")
	assert.Empty(t, got.Header.Get("Origin"), "origin is not forwarded upstream")
	assert.Equal(t, DefaultUserAgent, got.Header.Get("User-Agent"))
}

func TestProxy_PassesUpstreamErrorsThrough(t *testing.T) {
	front, _, _ := newRelay(t, relayConfig(""), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'x' not found"}`)
	})

	resp, err := http.Post(front.URL+"/proxy/api/show", "application/json", strings.NewReader(`{"name":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, `{"error":"model 'x' not found"}`, readBody(t, resp))
}

func TestProxy_RejectsPathsOutsideAllowList(t *testing.T) {
	front, hits, _ := newRelay(t, relayConfig(""), func(w http.ResponseWriter, r *http.Request) {})

	for _, p := range []string{"/proxy/api/pull", "/proxy/api/delete", "/proxy/", "/proxy/v1/models"} {
		resp, err := http.Get(front.URL + p)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, p)
		assert.Equal(t, "Forbidden: Path not allowed.\n", readBody(t, resp), p)
	}
	assert.Zero(t, hits.Load())
}

func TestProxy_RejectsNonLoopbackUpstream(t *testing.T) {
	cfg := relayConfig("http://example.com:11434")
	front, _, logs := newRelay(t, cfg, nil)

	resp, err := http.Get(front.URL + "/proxy/api/tags")
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Forbidden: Host not allowed.\n", readBody(t, resp))
	assert.Contains(t, logs.String(), "not loopback")
}

func TestProxy_TimeoutIsGatewayTimeout(t *testing.T) {
	cfg := relayConfig("")
	cfg.Timeout = config.D(50 * time.Millisecond)
	front, _, _ := newRelay(t, cfg, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})

	resp, err := http.Get(front.URL + "/proxy/api/tags")
	require.NoError(t, err)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	assert.Equal(t, "Gateway Timeout: Ollama did not respond.\n", readBody(t, resp))
}

func TestProxy_UnreachableUpstreamIsBadGateway(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	front, _, _ := newRelay(t, relayConfig(url), nil)
	resp, err := http.Get(front.URL + "/proxy/api/tags")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "Bad Gateway: Proxy request to Ollama failed.\n", readBody(t, resp))
}

func TestIsAllowedPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/api/tags", true},
		{"/api/chat", true},
		{"/api/generate", true},
		{"/api/show", true},
		{"/api/pull", false},
		{"/api", false},
		{"/", false},
		{"/v1/chat/completions", false},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAllowedPath(tc.path))
		})
	}
}

func TestNewProxy_RejectsBadUpstream(t *testing.T) {
	_, err := NewProxy("ftp://localhost", time.Second, nil)
	assert.Error(t, err)
	_, err = NewProxy("://bad", time.Second, nil)
	assert.Error(t, err)
}

// =============================================================================
// CORS
// =============================================================================

func TestCORS(t *testing.T) {
	front, hits, logs := newRelay(t, relayConfig(""), func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"models":[]}`)
	})

	t.Run("no origin allowed", func(t *testing.T) {
		resp, err := http.Get(front.URL + "/proxy/api/tags")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
		readBody(t, resp)
	})

	t.Run("foreign origin blocked", func(t *testing.T) {
		before := hits.Load()
		req, _ := http.NewRequest(http.MethodGet, front.URL+"/proxy/api/tags", nil)
		req.Header.Set("Origin", "https://evil.example")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		readBody(t, resp)
		assert.Equal(t, before, hits.Load())
		assert.Contains(t, logs.String(), "origin blocked")
	})

	t.Run("preflight", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodOptions, front.URL+"/proxy/api/chat", nil)
		req.Header.Set("Origin", extensionOrigin)
		req.Header.Set("Access-Control-Request-Method", "POST")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, extensionOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
		assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
		readBody(t, resp)
	})
}

// =============================================================================
// SERVER
// =============================================================================

func TestHealth(t *testing.T) {
	front, hits, _ := newRelay(t, relayConfig(""), nil)

	resp, err := http.Get(front.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.True(t, strings.HasPrefix(health.Upstream, "http://127.0.0.1:"))
	assert.Zero(t, hits.Load())
}

func TestRateLimit(t *testing.T) {
	cfg := relayConfig("")
	cfg.RateLimit = 0.001
	cfg.RateBurst = 2
	front, _, _ := newRelay(t, cfg, nil)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		resp, err := http.Get(front.URL + "/health")
		require.NoError(t, err)
		readBody(t, resp)
		codes = append(codes, resp.StatusCode)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
}

func TestRecoveryMiddleware(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(log)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_RunAndShutdown(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(relayConfig("http://localhost:11434"), log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	readBody(t, resp)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
