// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/logging"
)

const busyStatus = "Stop the current reply first (esc)"

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refreshHistory()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.state = msg.State
		if msg.State == chatcore.StateSending {
			m.buffer.Reset()
			m.live = nil
			m.setStatus("Sending...", false)
		}
		if msg.State == chatcore.StateStreaming {
			m.setStatus("Streaming... (esc to stop)", false)
		}
		if msg.State.Terminal() {
			if segs, ok := m.buffer.ForceFlush(); ok {
				m.live = segs
			}
		}
		if msg.State.Busy() && !m.ticking {
			m.ticking = true
			cmds = append(cmds, m.tick())
		}
		m.refreshViewport()

	case InputLockMsg:
		m.locked = msg.Locked
		if msg.Locked {
			m.input.Blur()
		} else if m.focus == focusInput {
			cmds = append(cmds, m.input.Focus())
		}

	case StopVisibleMsg:
		m.stopVisible = msg.Visible

	case streamTickMsg:
		if segs, ok := m.buffer.Flush(); ok {
			m.live = segs
			m.refreshViewport()
		}
		if m.state.Busy() {
			cmds = append(cmds, m.tick())
		} else {
			m.ticking = false
		}

	case FinishedMsg:
		m.buffer.Reset()
		m.live = nil
		switch msg.Outcome.State {
		case chatcore.StateCompleted:
			m.setStatus("", false)
		case chatcore.StateAborted:
			m.setStatus("Reply stopped", false)
		case chatcore.StateFailed:
			m.setStatus("Reply failed: "+errorText(msg.Outcome.Err), true)
		}
		m.refreshViewport()

	case ConversationsMsg:
		if msg.Model != m.modelName {
			break
		}
		m.rows = msg.Rows
		if msg.Active != nil {
			m.active = msg.Active
		}
		m.syncCursor()
		m.refreshHistory()

	case CapabilitiesMsg:
		if msg.Model == m.modelName {
			m.caps = msg.Record
		}

	case ModelsMsg:
		if msg.Err != nil {
			m.log.Warn("listing models failed", logging.Err(msg.Err))
			m.setStatus("Could not list models: "+errorText(msg.Err), true)
			break
		}
		m.models = msg.Models
		if m.modelName == "" && len(m.models) > 0 {
			cmds = append(cmds, m.dispatchCmd(chatcore.SwitchModel{Model: m.models[0].Name}, "Model: "+m.models[0].Name))
		}

	case SubmitDoneMsg:
		if msg.Err != nil {
			m.setStatus(errorText(msg.Err), true)
		}

	case IntentDoneMsg:
		if msg.Err != nil {
			m.setStatus(errorText(msg.Err), true)
		} else if msg.Status != "" {
			m.setStatus(msg.Status, false)
		}
		if m.deps.Dispatcher != nil {
			if name := m.deps.Dispatcher.Session().Model(); name != m.modelName {
				m.modelName = name
				m.active = nil
				m.rows = nil
				if m.deps.Capabilities != nil {
					m.caps = m.deps.Capabilities.Lookup(name)
				}
				m.refreshHistory()
				cmds = append(cmds, m.loadConversationsCmd())
			}
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// =============================================================================
// KEYS
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.state.Busy() && m.deps.Dispatcher != nil {
			m.deps.Dispatcher.Session().Cancel()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Stop):
		if m.stopVisible {
			return m, m.dispatchCmd(chatcore.CancelStream{}, "")
		}
		if m.focus == focusSidebar {
			m.focus = focusInput
			return m, m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.Focus):
		if m.focus == focusInput {
			m.focus = focusSidebar
			m.input.Blur()
			m.syncCursor()
			return m, nil
		}
		m.focus = focusInput
		if !m.locked {
			return m, m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, m.keys.NewChat):
		if m.state.Busy() {
			m.setStatus(busyStatus, true)
			return m, nil
		}
		return m, m.dispatchCmd(chatcore.NewConversation{}, "Started a new chat")

	case key.Matches(msg, m.keys.NextModel):
		next := m.nextModel()
		if next == "" {
			m.setStatus("No other models installed", true)
			return m, nil
		}
		return m, m.dispatchCmd(chatcore.SwitchModel{Model: next}, "Model: "+next)

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return m, nil
	}

	if m.focus == focusSidebar {
		return m.handleSidebarKey(msg)
	}
	return m.handleInputKey(msg)
}

func (m Model) handleSidebarKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.rows)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Select):
		if m.cursor < len(m.rows) {
			if m.state.Busy() {
				m.setStatus(busyStatus, true)
				return m, nil
			}
			return m, m.dispatchCmd(chatcore.SwitchConversation{ID: m.rows[m.cursor].ID}, "")
		}
	case key.Matches(msg, m.keys.Delete):
		if m.cursor < len(m.rows) {
			if m.state.Busy() {
				m.setStatus(busyStatus, true)
				return m, nil
			}
			return m, m.dispatchCmd(chatcore.DeleteConversation{ID: m.rows[m.cursor].ID}, "Chat deleted")
		}
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.locked {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Newline):
		m.input.InsertString("\n")
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		value := m.input.Value()
		if strings.TrimSpace(value) == "" {
			return m, nil
		}
		cmd, isCommand, err := ParseCommand(value)
		if isCommand {
			m.input.Reset()
			if err != nil {
				m.setStatus(err.Error(), true)
				return m, nil
			}
			return m.runCommand(cmd)
		}
		m.input.Reset()
		return m, m.submitCmd(value)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) runCommand(c Command) (tea.Model, tea.Cmd) {
	if c.Intent != nil {
		switch in := c.Intent.(type) {
		case chatcore.NewConversation:
			if m.state.Busy() {
				m.setStatus(busyStatus, true)
				return m, nil
			}
			return m, m.dispatchCmd(in, "Started a new chat")
		case chatcore.SwitchModel:
			return m, m.dispatchCmd(in, "Model: "+in.Model)
		case chatcore.AttachImage:
			return m, m.dispatchCmd(in, "Attached "+filepath.Base(in.Path))
		case chatcore.RecheckModel:
			return m, m.dispatchCmd(in, "Rechecking "+m.modelName)
		default:
			return m, m.dispatchCmd(in, "")
		}
	}

	switch c.Action {
	case ActionHelp:
		m.setStatus(CommandHelp, false)
	case ActionQuit:
		return m, tea.Quit
	case ActionRefreshModels:
		return m, m.listModelsCmd()
	case ActionListChats:
		m.focus = focusSidebar
		m.input.Blur()
		m.syncCursor()
	case ActionDeleteActive:
		if m.active == nil {
			return m, nil
		}
		if m.state.Busy() {
			m.setStatus(busyStatus, true)
			return m, nil
		}
		return m, m.dispatchCmd(chatcore.DeleteConversation{ID: m.active.ID}, "Chat deleted")
	case ActionOpen:
		idx := c.Index - 1
		if idx >= len(m.rows) {
			m.setStatus(fmt.Sprintf("No chat #%d", c.Index), true)
			return m, nil
		}
		if m.state.Busy() {
			m.setStatus(busyStatus, true)
			return m, nil
		}
		return m, m.dispatchCmd(chatcore.SwitchConversation{ID: m.rows[idx].ID}, "")
	}
	return m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (m *Model) setStatus(s string, isErr bool) {
	m.status = s
	m.statusErr = isErr
}

// syncCursor keeps the cursor in range and, outside the sidebar, on the
// active row.
func (m *Model) syncCursor() {
	if m.focus != focusSidebar {
		for i, row := range m.rows {
			if row.Active {
				m.cursor = i
				break
			}
		}
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m Model) nextModel() string {
	if len(m.models) == 0 {
		return ""
	}
	for i, info := range m.models {
		if info.Name == m.modelName {
			next := m.models[(i+1)%len(m.models)].Name
			if next == m.modelName {
				return ""
			}
			return next
		}
	}
	return m.models[0].Name
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	var verr *chatcore.ValidationError
	if errors.As(err, &verr) {
		return verr.Message
	}
	return chatcore.ErrorText(err)
}
