// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type       ErrorType
	Message    string
	StatusCode int // HTTP status for ErrTypeHTTPStatus, 0 otherwise
	Cause      error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by type so wrapped causes still compare equal.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Message == e.Message && t.Type == e.Type
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeHTTPStatus
	ErrTypeCanceled
)

// String returns a short label for logs.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotRunning:
		return "not_running"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeHTTPStatus:
		return "http_status"
	case ErrTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the API base. Point it at the relay ("http://127.0.0.1:3000/proxy")
	// or directly at Ollama ("http://127.0.0.1:11434").
	BaseURL string

	// Timeout for non-streaming requests (default: 30s)
	Timeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// DefaultBaseURL is the relay endpoint the client targets by default.
const DefaultBaseURL = "http://127.0.0.1:3000/proxy"

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: DefaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{config: &cfg}
	if cfg.HTTPClient != nil {
		c.httpClient = cfg.HTTPClient
		c.streamClient = cfg.HTTPClient
	} else {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
		// Streaming relies on the caller's context for cancellation.
		c.streamClient = &http.Client{}
	}
	return c
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models (GET /api/tags).
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to list models")
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return result.Models, nil
}

// ShowModel retrieves metadata about a model (POST /api/show).
func (c *Client) ShowModel(ctx context.Context, name string) (*ShowModelResponse, error) {
	body, err := json.Marshal(ShowModelRequest{Name: name})
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to show model")
	}

	var result ShowModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return &result, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// StreamCallback is called for each chunk received during streaming.
type StreamCallback func(chunk StreamChunk)

// ChatStreamWithReader posts chatReq to /api/chat and streams the reply
// into callback. Undecodable lines go to onMalformed, which may be nil.
func (c *Client) ChatStreamWithReader(ctx context.Context, chatReq ChatRequest, onMalformed func(*StreamParseError), callback StreamCallback) error {
	chatReq.Stream = true
	body, err := json.Marshal(chatReq)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return statusError(resp, "model not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp, "stream request failed")
	}

	reader := NewStreamReader(resp.Body)
	reader.OnMalformed = onMalformed
	if err := reader.Process(ctx, callback); err != nil {
		var clientErr *ClientError
		if errors.As(err, &clientErr) {
			return err
		}
		return classifyTransportError(ctx, err)
	}
	return nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// classifyTransportError maps a transport failure to a ClientError.
func classifyTransportError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return &ClientError{Type: ErrTypeCanceled, Message: "request canceled", Cause: context.Canceled}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "connection failed", Cause: err}
}

// statusError builds an ErrTypeHTTPStatus error, preferring the API's error text.
func statusError(resp *http.Response, prefix string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := ""
	var apiErr OllamaError
	if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	} else if text := strings.TrimSpace(string(data)); text != "" {
		msg = text
	} else {
		msg = fmt.Sprintf("%s: %s", prefix, resp.Status)
	}

	errType := ErrTypeHTTPStatus
	if resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(msg), "not found") {
		errType = ErrTypeModelNotFound
	}
	return &ClientError{Type: errType, Message: msg, StatusCode: resp.StatusCode}
}

// IsRetryable reports whether err is a timeout, network failure or 5xx.
func IsRetryable(err error) bool {
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type {
	case ErrTypeTimeout, ErrTypeConnection, ErrTypeNotRunning:
		return true
	case ErrTypeHTTPStatus:
		return clientErr.StatusCode >= 500
	default:
		return false
	}
}

// IsCanceled checks if an error comes from caller cancellation.
func IsCanceled(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) && clientErr.Type == ErrTypeCanceled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeNotRunning
	}
	return false
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == ErrTypeTimeout
	}
	return false
}
