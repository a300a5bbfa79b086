// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package internal holds end-to-end tests that run the chat client through
// the relay against a fake Ollama runtime, with conversations persisted in
// SQLite.
package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ollamabro/internal/capability"
	"github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/config"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/ollama"
	"github.com/jeranaias/ollamabro/internal/relay"
	"github.com/jeranaias/ollamabro/internal/storage"
)

// =============================================================================
// TEST UTILITIES
// =============================================================================

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRuntime answers /api/show and delegates /api/chat to chat.
type fakeRuntime struct {
	mu       sync.Mutex
	requests []ollama.ChatRequest
	chat     func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeRuntime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/show":
		var req ollama.ShowModelRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		caps := []string{"completion"}
		if req.Name == "llava:13b" {
			caps = append(caps, "vision")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"capabilities": caps})
	case "/api/chat":
		var req ollama.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.mu.Unlock()
		f.chat(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeRuntime) lastRequest(t *testing.T) ollama.ChatRequest {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.requests)
	return f.requests[len(f.requests)-1]
}

func writeChunk(w http.ResponseWriter, content string, done bool) {
	line, _ := json.Marshal(map[string]any{
		"model":   "test",
		"message": map[string]string{"role": "assistant", "content": content},
		"done":    done,
	})
	fmt.Fprintf(w, "%s\n", line)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

// stack is the client side of the system wired against a relay.
type stack struct {
	runtime    *fakeRuntime
	store      *storage.Store
	controller *conversation.Controller
	classifier *capability.Classifier
	client     *ollama.Client
	dbPath     string
}

func newStack(t *testing.T, chatHandler func(w http.ResponseWriter, r *http.Request)) *stack {
	t.Helper()
	log := quietLogger()

	rt := &fakeRuntime{chat: chatHandler}
	upstream := httptest.NewServer(rt)
	t.Cleanup(upstream.Close)

	srv, err := relay.NewServer(config.RelayConfig{
		Listen:        "127.0.0.1:0",
		Upstream:      upstream.URL,
		AllowedOrigin: "chrome-extension://test",
		Timeout:       config.D(5 * time.Second),
	}, log)
	require.NoError(t, err)
	front := httptest.NewServer(srv.Handler())
	t.Cleanup(front.Close)

	dbPath := filepath.Join(t.TempDir(), "conversations.db")
	backend, err := storage.NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	store := storage.NewStore(backend, log)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL: front.URL + "/proxy",
		Timeout: 5 * time.Second,
	})

	opts := capability.DefaultOptions()
	opts.MaxRetries = 0
	opts.Logger = log
	classifier := capability.New(client, capability.NewCache(time.Hour, time.Now), nil, opts)

	s := &stack{
		runtime:    rt,
		store:      store,
		controller: conversation.NewController(store, log),
		classifier: classifier,
		client:     client,
		dbPath:     dbPath,
	}
	t.Cleanup(func() {
		classifier.Close()
		store.Close()
	})
	return s
}

func (s *stack) session(name string, presenter chat.Presenter) *chat.Session {
	return chat.NewSession(chat.SessionConfig{
		Model:         name,
		Streamer:      s.client,
		Conversations: s.controller,
		Capabilities:  s.classifier,
		Presenter:     presenter,
		Logger:        quietLogger(),
	})
}

// reopen loads a model's state from a fresh handle on the same database.
func (s *stack) reopen(t *testing.T, name string) model.ModelState {
	t.Helper()
	backend, err := storage.NewSQLiteBackend(s.dbPath)
	require.NoError(t, err)
	store := storage.NewStore(backend, quietLogger())
	defer store.Close()
	return store.Load(context.Background(), name)
}

// =============================================================================
// END-TO-END TESTS
// =============================================================================

func TestEndToEnd_VisionPromptThroughRelay(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		writeChunk(w, "<think>whiskers", false)
		writeChunk(w, "</think>A cat", false)
		writeChunk(w, " on a mat.", false)
		writeChunk(w, "", true)
	})
	ctx := context.Background()

	rec := s.classifier.DetectCapabilities(ctx, "llava:13b")
	require.Empty(t, rec.Error)
	require.True(t, rec.Vision)
	assert.Equal(t, capability.SourceAuthoritative, rec.Source)

	session := s.session("llava:13b", nil)
	img := model.Image{Data: []byte("\x89PNG fake"), Filename: "cat.png", MimeType: "image/png"}
	out, err := session.Submit(ctx, "what is this?", []model.Image{img})
	require.NoError(t, err)
	require.Equal(t, chat.StateCompleted, out.State)
	assert.Equal(t, "<think>whiskers</think>A cat on a mat.", out.Content)

	req := s.runtime.lastRequest(t)
	assert.Equal(t, "llava:13b", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, []string{img.Base64()}, req.Messages[0].Images)

	state := s.reopen(t, "llava:13b")
	conv, ok := state.Active()
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "what is this?", conv.Summary)
	assert.Equal(t, img.Data, conv.Messages[0].Images[0].Data)
	assert.Equal(t, out.Content, conv.Messages[1].Content)

	// History is resent; the new turn carries no images.
	_, err = session.Submit(ctx, "and the mat?", nil)
	require.NoError(t, err)
	req = s.runtime.lastRequest(t)
	require.Len(t, req.Messages, 3)
	assert.Empty(t, req.Messages[2].Images)
}

func TestEndToEnd_ImageRejectionDowngradesVision(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":"this model does not support images"}`)
	})
	ctx := context.Background()
	require.True(t, s.classifier.DetectCapabilities(ctx, "llava:13b").Vision)

	session := s.session("llava:13b", nil)
	out, err := session.Submit(ctx, "look", []model.Image{{Data: []byte{1}, MimeType: "image/png"}})
	require.NoError(t, err)
	assert.Equal(t, chat.StateFailed, out.State)
	assert.Contains(t, out.Content, "[Error: ")
	assert.False(t, s.classifier.IsVisionCapable("llava:13b"))

	_, err = session.Submit(ctx, "again", []model.Image{{Data: []byte{1}, MimeType: "image/png"}})
	assert.True(t, chat.IsValidation(err), "images are refused before sending once downgraded")

	conv, ok := s.reopen(t, "llava:13b").Active()
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Contains(t, conv.Messages[1].Content, "does not support images")
}

// streamWatcher signals when the first piece of a reply is rendered.
type streamWatcher struct {
	chat.NopPresenter
	once  sync.Once
	first chan struct{}
}

func (p *streamWatcher) RenderAssistant([]chat.Segment) {
	p.once.Do(func() { close(p.first) })
}

func TestEndToEnd_CancelMidStream(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		writeChunk(w, "Once upon", false)
		<-r.Context().Done()
	})
	ctx := context.Background()

	watcher := &streamWatcher{first: make(chan struct{})}
	session := s.session("llama3", watcher)

	type result struct {
		out chat.Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Submit(ctx, "tell me a story", nil)
		done <- result{out, err}
	}()

	select {
	case <-watcher.first:
	case <-time.After(5 * time.Second):
		t.Fatal("no chunk arrived through the relay")
	}
	require.True(t, session.Cancel())

	var res result
	select {
	case res = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("submit did not return after cancel")
	}
	require.NoError(t, res.err)
	assert.Equal(t, chat.StateAborted, res.out.State)
	assert.Equal(t, "Once upon"+chat.CancelledAnnotation, res.out.Content)
	assert.Equal(t, chat.StateIdle, session.State())

	conv, ok := s.reopen(t, "llama3").Active()
	require.True(t, ok)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, res.out.Content, conv.Messages[1].Content)
}

func TestEndToEnd_ConversationsArePerModel(t *testing.T) {
	s := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		writeChunk(w, "ok", true)
	})
	ctx := context.Background()

	_, err := s.session("llama3", nil).Submit(ctx, "first", nil)
	require.NoError(t, err)
	_, err = s.session("mistral", nil).Submit(ctx, "second", nil)
	require.NoError(t, err)

	names, err := s.store.Models(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"llama3", "mistral"}, names)

	rows := s.controller.List(ctx, "llama3")
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0].Title)
}
