// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ollamabro/internal/model"
)

// layout sizes the components for the current window.
func (m *Model) layout() {
	inputBox := inputHeight + 2
	bodyHeight := m.height - inputBox - 3 // header, status, help
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	vpWidth := m.width - SidebarWidth - 1
	if vpWidth < 20 {
		vpWidth = 20
	}

	m.viewport.Width = vpWidth
	m.viewport.Height = bodyHeight
	m.input.SetWidth(m.width - 4)
	m.help.Width = m.width
	m.renderer = NewRenderer(m.theme, vpWidth-2)
	m.ready = true
}

// refreshHistory re-renders the stored transcript.
func (m *Model) refreshHistory() {
	if m.renderer == nil {
		return
	}
	m.history = m.renderer.Conversation(m.active, m.modelName)
	m.refreshViewport()
}

// refreshViewport rebuilds the viewport content from the stored transcript
// and the live reply.
func (m *Model) refreshViewport() {
	if m.renderer == nil {
		return
	}
	content := m.history
	if m.state.Busy() && !m.replyStored() {
		content += "\n\n" + m.renderer.Live(m.live)
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(content)
	if atBottom || m.state.Busy() {
		m.viewport.GotoBottom()
	}
}

// replyStored reports whether the active thread already ends with the reply
// being streamed, which happens between persisting and the Finished message.
func (m *Model) replyStored() bool {
	if m.active == nil {
		return false
	}
	last, ok := m.active.LastMessage()
	return ok && last.Role == model.RoleAssistant
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSidebar(m.theme, m.rows, m.cursor, m.focus == focusSidebar, m.viewport.Height),
		" ",
		m.viewport.View(),
	)
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		body,
		m.renderStatus(),
		m.theme.Input.Render(m.input.View()),
		m.help.View(m.keys),
	)
}

func (m Model) renderHeader() string {
	name := m.modelName
	if name == "" {
		name = "(no model)"
	}
	parts := []string{
		m.theme.HeaderBrand.Render("OllamaBro"),
		m.theme.HeaderModel.Render(name),
	}
	if m.caps.Vision {
		parts = append(parts, m.theme.VisionBadge.Render("vision"))
	}
	if m.caps.Reasoning {
		parts = append(parts, m.theme.ReasoningBadge.Render("reasoning"))
	}
	if m.deps.Dispatcher != nil {
		if n := len(m.deps.Dispatcher.Staged()); n > 0 {
			parts = append(parts, m.theme.Attachment.Render(fmt.Sprintf("%d image(s) attached", n)))
		}
	}
	return m.theme.Header.Width(m.width).Render(strings.Join(parts, "  "))
}

func (m Model) renderStatus() string {
	var prefix string
	if m.state.Busy() {
		prefix = m.spinner.View() + " "
	}
	switch {
	case m.status == "":
		return prefix
	case m.statusErr:
		return prefix + m.theme.Error.Render(m.status)
	default:
		return prefix + m.theme.Status.Render(m.status)
	}
}
