// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/proxy/", Timeout: 5 * time.Second})
}

// =============================================================================
// MODEL OPERATION TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/proxy/api/tags" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"llama3.2:3b","details":{"family":"llama"}},{"name":"llava:13b"}]}`)
	})

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "llama3.2:3b" || models[0].Details.Family != "llama" {
		t.Errorf("models[0] = %+v", models[0])
	}
}

func TestShowModel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ShowModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Name != "llava:13b" {
			t.Errorf("Name = %q, want llava:13b", req.Name)
		}
		io.WriteString(w, `{"template":"{{ .Prompt }}","system":"","details":{"families":["llama","clip"],"parameter_size":"13B"}}`)
	})

	info, err := client.ShowModel(context.Background(), "llava:13b")
	if err != nil {
		t.Fatalf("ShowModel() error = %v", err)
	}
	if info.Details.ParameterSize != "13B" || len(info.Details.Families) != 2 {
		t.Errorf("details = %+v", info.Details)
	}
}

func TestShowModel_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'nope' not found"}`)
	})

	_, err := client.ShowModel(context.Background(), "nope")
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("errors.Is(%v, ErrModelNotFound) = false, want true", err)
	}
	if IsRetryable(err) {
		t.Error("model not found must not be retryable")
	}
}

func TestShowModel_ServerErrorIsRetryable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "Bad Gateway: Proxy request to Ollama failed.")
	})

	_, err := client.ShowModel(context.Background(), "llama3")
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("error type = %T, want *ClientError", err)
	}
	if clientErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", clientErr.StatusCode)
	}
	if !strings.Contains(clientErr.Message, "Bad Gateway") {
		t.Errorf("Message = %q, want upstream text", clientErr.Message)
	}
	if !IsRetryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestListModels_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.ListModels(context.Background())
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if !IsRetryable(err) {
		t.Errorf("connection failure should be retryable, got %v", err)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestChatStream_AccumulatesChunks(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("Stream flag not set")
		}
		if len(req.Messages) != 1 || req.Messages[0].Images[0] != "aGk=" {
			t.Errorf("messages = %+v", req.Messages)
		}
		io.WriteString(w, `{"message":{"content":"Hel"}}`+"\n")
		io.WriteString(w, `{"message":{"content":"lo"}}`+"\n")
		io.WriteString(w, `{"done":true,"eval_count":2,"eval_duration":1000000000}`+"\n")
	})

	var got strings.Builder
	var final StreamChunk
	err := client.ChatStreamWithReader(context.Background(), ChatRequest{Model: "llava", Messages: []Message{NewUserMessage("hi", "aGk=")}}, nil, func(c StreamChunk) {
		got.WriteString(c.Content)
		if c.Done {
			final = c
		}
	})
	if err != nil {
		t.Fatalf("ChatStreamWithReader() error = %v", err)
	}
	if got.String() != "Hello" {
		t.Errorf("content = %q, want %q", got.String(), "Hello")
	}
	if final.CompletionTokens != 2 || final.TokensPerSecond() != 2 {
		t.Errorf("final chunk = %+v", final)
	}
}

func TestChatStream_SkipsMalformedLines(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"a"}}`+"\n")
		io.WriteString(w, "not json\n\n")
		io.WriteString(w, `{"message":{"content":"b"}}`) // no trailing newline, then EOF
	})

	var parseErrs []*StreamParseError
	var got strings.Builder
	err := client.ChatStreamWithReader(context.Background(), ChatRequest{Model: "m"},
		func(e *StreamParseError) { parseErrs = append(parseErrs, e) },
		func(c StreamChunk) { got.WriteString(c.Content) })
	if err != nil {
		t.Fatalf("ChatStreamWithReader() error = %v", err)
	}
	if got.String() != "ab" {
		t.Errorf("content = %q, want %q", got.String(), "ab")
	}
	if len(parseErrs) != 1 || string(parseErrs[0].Line) != "not json" {
		t.Errorf("parse errors = %v", parseErrs)
	}
}

func TestStreamReader_OversizedLineIsBoundedAndSkipped(t *testing.T) {
	long := `{"message":{"content":"` + strings.Repeat("x", maxLineBytes) + `"}}`
	body := long + "\n" + `{"message":{"content":"ok"},"done":true}` + "\n"

	reader := NewStreamReader(strings.NewReader(body))
	var parseErrs []*StreamParseError
	reader.OnMalformed = func(e *StreamParseError) { parseErrs = append(parseErrs, e) }

	var got strings.Builder
	if err := reader.Process(context.Background(), func(c StreamChunk) { got.WriteString(c.Content) }); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.String() != "ok" {
		t.Errorf("content = %q, want %q", got.String(), "ok")
	}
	if len(parseErrs) != 1 {
		t.Fatalf("parse errors = %d, want 1", len(parseErrs))
	}
	if n := len(parseErrs[0].Line); n > maxLineBytes {
		t.Errorf("kept %d bytes of the long line, cap is %d", n, maxLineBytes)
	}
	if !strings.Contains(parseErrs[0].Error(), "line too long") {
		t.Errorf("error = %q", parseErrs[0].Error())
	}
}

func TestChatStream_ErrorObjectFailsStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"par"}}`+"\n")
		io.WriteString(w, `{"error":"model does not support images"}`+"\n")
	})

	err := client.ChatStreamWithReader(context.Background(), ChatRequest{Model: "m"}, nil, func(StreamChunk) {})
	if err == nil || !strings.Contains(err.Error(), "does not support images") {
		t.Errorf("err = %v, want upstream error text", err)
	}
}

func TestChatStream_NonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"invalid image input"}`)
	})

	err := client.ChatStreamWithReader(context.Background(), ChatRequest{Model: "m"}, nil, func(StreamChunk) {})
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("error type = %T", err)
	}
	if clientErr.StatusCode != http.StatusBadRequest || clientErr.Message != "invalid image input" {
		t.Errorf("clientErr = %+v", clientErr)
	}
}

func TestChatStream_Cancellation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"message":{"content":"Partial"}}`+"\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var got strings.Builder
	err := client.ChatStreamWithReader(ctx, ChatRequest{Model: "m"}, nil, func(c StreamChunk) {
		got.WriteString(c.Content)
		cancel()
	})
	if !IsCanceled(err) {
		t.Fatalf("IsCanceled(%v) = false", err)
	}
	if IsRetryable(err) {
		t.Error("cancellation must not be retryable")
	}
	if got.String() != "Partial" {
		t.Errorf("content = %q, want Partial", got.String())
	}
}

// =============================================================================
// ERROR HELPER TESTS
// =============================================================================

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("x"), false},
		{"timeout", &ClientError{Type: ErrTypeTimeout}, true},
		{"connection", &ClientError{Type: ErrTypeConnection}, true},
		{"500", &ClientError{Type: ErrTypeHTTPStatus, StatusCode: 500}, true},
		{"503", &ClientError{Type: ErrTypeHTTPStatus, StatusCode: 503}, true},
		{"400", &ClientError{Type: ErrTypeHTTPStatus, StatusCode: 400}, false},
		{"invalid response", &ClientError{Type: ErrTypeInvalidResponse}, false},
		{"canceled", &ClientError{Type: ErrTypeCanceled}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestSentinelMatching(t *testing.T) {
	err := &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: context.DeadlineExceeded}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(timeout, ErrTimeout) = false")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("cause not unwrapped")
	}
	if errors.Is(err, ErrNotRunning) {
		t.Error("timeout matched ErrNotRunning")
	}
}

func TestStreamParseError_Message(t *testing.T) {
	e := &StreamParseError{Line: []byte(strings.Repeat("x", 100)), Err: errors.New("bad")}
	if !strings.Contains(e.Error(), "...") || !strings.HasSuffix(e.Error(), ": bad") {
		t.Errorf("Error() = %q", e.Error())
	}
}
