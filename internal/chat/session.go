// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/ollamabro/internal/capability"
	"github.com/jeranaias/ollamabro/internal/logging"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/ollama"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Streamer issues a streaming chat request. *ollama.Client satisfies it.
type Streamer interface {
	ChatStreamWithReader(ctx context.Context, req ollama.ChatRequest, onMalformed func(*ollama.StreamParseError), cb ollama.StreamCallback) error
}

// Conversations is the part of conversation.Controller a session needs.
type Conversations interface {
	Active(ctx context.Context, modelID string) *model.Conversation
	AppendMessage(ctx context.Context, modelID string, id uuid.UUID, msg model.Message)
}

// Capabilities is the part of capability.Classifier a session needs.
type Capabilities interface {
	IsVisionCapable(name string) bool
	Lookup(name string) capability.Record
	MarkVisionUnsupported(name string)
	Forget(name string)
	Refresh(name string)
}

// Presenter receives UI updates. Calls may arrive from the streaming
// goroutine.
type Presenter interface {
	SetInputLocked(locked bool)
	SetStopVisible(visible bool)
	StateChanged(state State)
	// RenderAssistant receives the whole reply parsed so far.
	RenderAssistant(segments []Segment)
	CapabilitiesChanged(modelID string, rec capability.Record)
	Finished(out Outcome)
}

// NopPresenter ignores every update. Embed it to implement a subset.
type NopPresenter struct{}

func (NopPresenter) SetInputLocked(bool) {}
func (NopPresenter) SetStopVisible(bool) {}
func (NopPresenter) StateChanged(State) {}
func (NopPresenter) RenderAssistant([]Segment) {}
func (NopPresenter) CapabilitiesChanged(string, capability.Record) {}
func (NopPresenter) Finished(Outcome) {}

// =============================================================================
// SESSION
// =============================================================================

// SessionConfig wires a Session.
type SessionConfig struct {
	Model         string
	Streamer      Streamer
	Conversations Conversations
	Capabilities  Capabilities
	Presenter     Presenter
	Options       *ollama.Options
	Logger        *slog.Logger
}

// Session runs prompts one at a time for the current model.
type Session struct {
	streamer  Streamer
	convs     Conversations
	caps      Capabilities
	presenter Presenter
	options   *ollama.Options
	log       *slog.Logger

	mu    sync.Mutex
	state State
	model string

	cancelMgr cancelManager
	inflight  sync.WaitGroup
}

// NewSession creates an idle session.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Presenter == nil {
		cfg.Presenter = NopPresenter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		streamer:  cfg.Streamer,
		convs:     cfg.Conversations,
		caps:      cfg.Capabilities,
		presenter: cfg.Presenter,
		options:   cfg.Options,
		log:       cfg.Logger.With("component", "session"),
		model:     cfg.Model,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Model returns the current model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// SetModel switches models between prompts.
func (s *Session) SetModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Busy() {
		return ErrSessionActive
	}
	s.model = name
	return nil
}

// Cancel stops the in-flight stream. It returns false when idle.
func (s *Session) Cancel() bool {
	return s.cancelMgr.cancel()
}

// Wait blocks until no prompt is in flight.
func (s *Session) Wait() {
	s.inflight.Wait()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.presenter.StateChanged(st)
}

// Submit sends prompt with images and blocks until the reply reaches a
// terminal state. Validation failures return a *ValidationError (or
// ErrSessionActive) and change nothing. Failed and Aborted replies are not
// errors: they are reported in the Outcome and persisted with an annotation.
func (s *Session) Submit(ctx context.Context, prompt string, images []model.Image) (Outcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Outcome{}, &ValidationError{Field: "prompt", Message: "prompt is empty"}
	}

	s.mu.Lock()
	if s.state.Busy() {
		s.mu.Unlock()
		return Outcome{}, ErrSessionActive
	}
	modelID := s.model
	if modelID == "" {
		s.mu.Unlock()
		return Outcome{}, &ValidationError{Field: "model", Message: "no model selected"}
	}
	if len(images) > 0 && !s.caps.IsVisionCapable(modelID) {
		s.mu.Unlock()
		return Outcome{}, &ValidationError{Field: "images", Message: fmt.Sprintf("model %s does not accept images", modelID)}
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancelMgr.set(cancel)
	s.state = StateSending
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.presenter.StateChanged(StateSending)
	s.presenter.SetInputLocked(true)

	conv := s.convs.Active(ctx, modelID)
	userMsg := model.NewUserMessage(prompt, images...)
	s.convs.AppendMessage(ctx, modelID, conv.ID, userMsg)
	conv.Messages = append(conv.Messages, userMsg)

	var raw strings.Builder
	out := Outcome{State: StateFailed}

	// Single cleanup path for every terminal state.
	defer func() {
		s.cancelMgr.clear()
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic during stream: %v", r)
			out.Content = raw.String() + ErrorAnnotation(out.Err)
			s.finish(ctx, modelID, conv.ID, out)
			panic(r)
		}
		s.finish(ctx, modelID, conv.ID, out)
	}()

	s.setState(StateStreaming)
	s.presenter.SetStopVisible(true)

	req := ollama.ChatRequest{
		Model:    modelID,
		Messages: conv.ToOllamaMessages(),
		Stream:   true,
		Options:  s.options,
	}
	err := s.streamer.ChatStreamWithReader(streamCtx, req,
		func(perr *ollama.StreamParseError) {
			s.log.Warn("skipping malformed stream fragment", logging.Err(perr))
		},
		func(chunk ollama.StreamChunk) {
			if chunk.Done {
				s.log.Debug("reply stream done", "model", modelID,
					"reason", chunk.DoneReason, "tokens", chunk.CompletionTokens,
					"tokens_per_sec", chunk.TokensPerSecond())
			}
			if chunk.Content == "" {
				return
			}
			raw.WriteString(chunk.Content)
			s.presenter.RenderAssistant(ParseSegments(raw.String()))
		})

	switch {
	case err == nil:
		out = Outcome{State: StateCompleted, Content: raw.String()}
	case isCancellation(err):
		out = Outcome{State: StateAborted, Content: raw.String() + CancelledAnnotation}
	default:
		out = Outcome{State: StateFailed, Content: raw.String() + ErrorAnnotation(err), Err: err}
		if len(images) > 0 && IsImageRejection(ErrorText(err)) {
			s.log.Warn("model rejected image input", "model", modelID, logging.Err(err))
			s.caps.MarkVisionUnsupported(modelID)
			s.presenter.CapabilitiesChanged(modelID, s.caps.Lookup(modelID))
		}
	}
	return out, nil
}

// finish persists the reply and restores the idle UI. It runs exactly once
// per Submit that got past validation.
func (s *Session) finish(ctx context.Context, modelID string, convID uuid.UUID, out Outcome) {
	persistCtx := context.WithoutCancel(ctx)
	s.convs.AppendMessage(persistCtx, modelID, convID, model.NewAssistantMessage(out.Content))

	s.presenter.RenderAssistant(ParseFinalSegments(out.Content))
	s.presenter.SetStopVisible(false)
	s.presenter.SetInputLocked(false)

	s.setState(out.State)
	s.log.Info("prompt finished", "model", modelID, "state", out.State.String(), "chars", len(out.Content))
	s.presenter.Finished(out)

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || ollama.IsCanceled(err)
}
