// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the Bubble Tea chat view: a conversation sidebar, the
// transcript, and a prompt box.
//
// The view never calls the session on its own goroutine. Prompts and other
// intents run as tea.Cmds, and session callbacks come back as messages via
// Presenter.
package chat

import (
	"context"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/ollamabro/internal/capability"
	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/ollama"
	"github.com/jeranaias/ollamabro/internal/ui/styles"
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// ModelLister lists installed models. *ollama.Client satisfies it.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
}

// Conversations is the read side of conversation.Controller.
type Conversations interface {
	Active(ctx context.Context, modelID string) *model.Conversation
	List(ctx context.Context, modelID string) []conversation.Summary
}

// CapabilityLookup answers capability questions without blocking.
type CapabilityLookup interface {
	Lookup(name string) capability.Record
}

// Deps wires the view.
type Deps struct {
	Dispatcher    *chatcore.Dispatcher
	Conversations Conversations
	Capabilities  CapabilityLookup
	Models        ModelLister
	Presenter     *Presenter
	Theme         *styles.Theme
	Logger        *slog.Logger
}

// =============================================================================
// MODEL
// =============================================================================

type focus int

const (
	focusInput focus = iota
	focusSidebar
)

const (
	inputHeight  = 3
	modelTimeout = 10 * time.Second
)

// Model is the Bubble Tea model of the chat view.
type Model struct {
	ctx   context.Context
	deps  Deps
	theme *styles.Theme
	log   *slog.Logger

	keys     KeyMap
	help     help.Model
	viewport viewport.Model
	input    textarea.Model
	spinner  spinner.Model
	renderer *Renderer
	buffer   *StreamingBuffer

	width  int
	height int
	ready  bool

	// Session state as reported by the presenter
	state       chatcore.State
	locked      bool
	stopVisible bool
	ticking     bool

	modelName string
	caps      capability.Record
	models    []ollama.ModelInfo

	rows   []conversation.Summary
	active *model.Conversation
	cursor int
	focus  focus

	history   string
	live      []chatcore.Segment
	status    string
	statusErr bool
}

// New creates the chat view.
func New(ctx context.Context, deps Deps) Model {
	if deps.Theme == nil {
		deps.Theme = styles.NewTheme()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Presenter == nil {
		deps.Presenter = NewPresenter()
	}

	ta := textarea.New()
	ta.Placeholder = "Ask anything... (/help for commands)"
	ta.ShowLineNumbers = false
	ta.Prompt = "> "
	ta.CharLimit = 0
	ta.SetHeight(inputHeight)
	ta.KeyMap.InsertNewline.SetEnabled(false)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = deps.Theme.Spinner

	m := Model{
		ctx:      ctx,
		deps:     deps,
		theme:    deps.Theme,
		log:      deps.Logger.With("component", "tui"),
		keys:     DefaultKeyMap(),
		help:     help.New(),
		input:    ta,
		spinner:  sp,
		viewport: viewport.New(0, 0),
		buffer:   deps.Presenter.Buffer(),
	}
	if deps.Dispatcher != nil {
		m.modelName = deps.Dispatcher.Session().Model()
	}
	if deps.Capabilities != nil && m.modelName != "" {
		m.caps = deps.Capabilities.Lookup(m.modelName)
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.spinner.Tick,
		m.listModelsCmd(),
		m.loadConversationsCmd(),
	)
}

// =============================================================================
// COMMANDS
// =============================================================================

func (m Model) listModelsCmd() tea.Cmd {
	lister := m.deps.Models
	ctx := m.ctx
	return func() tea.Msg {
		if lister == nil {
			return ModelsMsg{}
		}
		ctx, cancel := context.WithTimeout(ctx, modelTimeout)
		defer cancel()
		models, err := lister.ListModels(ctx)
		return ModelsMsg{Models: models, Err: err}
	}
}

func (m Model) loadConversationsCmd() tea.Cmd {
	convs := m.deps.Conversations
	name := m.modelName
	ctx := m.ctx
	return func() tea.Msg {
		if convs == nil || name == "" {
			return nil
		}
		active := convs.Active(ctx, name)
		return ConversationsMsg{Model: name, Rows: convs.List(ctx, name), Active: active}
	}
}

func (m Model) submitCmd(prompt string) tea.Cmd {
	d := m.deps.Dispatcher
	ctx := m.ctx
	return func() tea.Msg {
		return SubmitDoneMsg{Err: d.Dispatch(ctx, chatcore.SubmitPrompt{Prompt: prompt})}
	}
}

func (m Model) dispatchCmd(in chatcore.Intent, status string) tea.Cmd {
	d := m.deps.Dispatcher
	ctx := m.ctx
	return func() tea.Msg {
		return IntentDoneMsg{Status: status, Err: d.Dispatch(ctx, in)}
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.buffer.FrameInterval(), func(t time.Time) tea.Msg {
		return streamTickMsg(t)
	})
}
