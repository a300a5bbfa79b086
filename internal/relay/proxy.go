// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/logging"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultTimeout bounds how long the upstream may take to start replying.
	DefaultTimeout = 60 * time.Second

	// DefaultUserAgent is sent upstream when the caller sent none.
	DefaultUserAgent = "OllamaBroRelay/1.0"

	copyBufferSize = 32 * 1024
)

// Client-facing bodies for relay failures.
const (
	msgPathForbidden  = "Forbidden: Path not allowed."
	msgHostForbidden  = "Forbidden: Host not allowed."
	msgGatewayTimeout = "Gateway Timeout: Ollama did not respond."
	msgBadGateway     = "Bad Gateway: Proxy request to Ollama failed."
)

// AllowedPaths are the upstream path prefixes the relay forwards.
var AllowedPaths = []string{"/api/tags", "/api/chat", "/api/generate", "/api/show"}

// hopHeaders are connection-scoped and never forwarded in either direction.
// Origin and Referer are dropped upstream so the runtime's own origin
// check sees a same-host request.
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// IsAllowedPath reports whether p falls under an allow-listed prefix.
func IsAllowedPath(p string) bool {
	for _, allowed := range AllowedPaths {
		if strings.HasPrefix(p, allowed) {
			return true
		}
	}
	return false
}

// ============================================================================
// PROXY
// ============================================================================

// Proxy forwards allow-listed requests to the upstream runtime.
type Proxy struct {
	upstream    *url.URL
	hostAllowed bool
	client      *http.Client
	log         *slog.Logger
}

// NewProxy creates a proxy for upstream. A non-loopback upstream is not an
// error here: the proxy is built and refuses every request with 403.
func NewProxy(upstream string, timeout time.Duration, log *slog.Logger) (*Proxy, error) {
	u, err := url.Parse(upstream)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("upstream must be an http(s) URL")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext

	p := &Proxy{
		upstream:    u,
		hostAllowed: config.IsLoopbackHost(u.Hostname()),
		client: &http.Client{
			Transport: transport,
			// Redirects are passed back to the caller untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log.With("component", "relay"),
	}
	if !p.hostAllowed {
		p.log.Warn("upstream host is not loopback, all proxy requests will be refused", "upstream", upstream)
	}
	return p, nil
}

// Upstream returns the configured upstream URL.
func (p *Proxy) Upstream() string {
	return p.upstream.String()
}

// ServeHTTP handles /proxy/{path...}.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	apiPath := path.Clean("/" + r.PathValue("path"))

	status := p.forward(w, r, apiPath)

	attrs := []any{
		"method", r.Method,
		"path", apiPath,
		"status", status,
		"duration", time.Since(start).Round(time.Millisecond),
	}
	if id, ok := logging.RequestIDFromContext(r.Context()); ok {
		attrs = append(attrs, "request_id", id)
	}
	p.log.Info("proxy", attrs...)
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, apiPath string) int {
	if !IsAllowedPath(apiPath) {
		p.log.Warn("path not allowed", "path", apiPath)
		http.Error(w, msgPathForbidden, http.StatusForbidden)
		return http.StatusForbidden
	}
	if !p.hostAllowed {
		p.log.Warn("host not allowed", "host", p.upstream.Hostname())
		http.Error(w, msgHostForbidden, http.StatusForbidden)
		return http.StatusForbidden
	}

	target := *p.upstream
	target.Path = strings.TrimRight(p.upstream.Path, "/") + apiPath
	target.RawPath = ""
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if r.ContentLength != 0 && r.Body != nil && r.Body != http.NoBody {
		body = r.Body
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		p.log.Error("build upstream request", logging.Err(err))
		http.Error(w, msgBadGateway, http.StatusBadGateway)
		return http.StatusBadGateway
	}
	out.ContentLength = r.ContentLength
	copyHeaders(out.Header, r.Header)
	out.Header.Del("Origin")
	out.Header.Del("Referer")
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", DefaultUserAgent)
	}
	if body != nil && out.Header.Get("Content-Type") == "" {
		out.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(out)
	if err != nil {
		if r.Context().Err() != nil {
			// Caller went away; nobody is listening for a status.
			return 499
		}
		if isTimeout(err) {
			p.log.Error("upstream timed out", "target", target.String(), logging.Err(err))
			http.Error(w, msgGatewayTimeout, http.StatusGatewayTimeout)
			return http.StatusGatewayTimeout
		}
		p.log.Error("upstream request failed", "target", target.String(), logging.Err(err))
		http.Error(w, msgBadGateway, http.StatusBadGateway)
		return http.StatusBadGateway
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if err := streamBody(w, resp.Body); err != nil && r.Context().Err() == nil {
		p.log.Warn("response stream interrupted", logging.Err(err))
	}
	return resp.StatusCode
}

// streamBody copies src to w, flushing after every write.
func streamBody(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	// Headers named in Connection are hop-by-hop too.
	for _, f := range src.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				dst.Del(name)
			}
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
