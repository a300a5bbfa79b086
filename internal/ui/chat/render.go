// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	chatcore "github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/model"
	"github.com/jeranaias/ollamabro/internal/ui/styles"
)

// Greeting is shown in place of an empty conversation.
func Greeting(modelName string) string {
	return fmt.Sprintf("Hello! Ask me anything. (Model: %s)", modelName)
}

// Renderer turns messages into terminal text. Plain reply text is rendered
// as markdown; reasoning runs are set apart in a muted block.
type Renderer struct {
	theme *styles.Theme
	width int
	md    *glamour.TermRenderer
}

// NewRenderer creates a renderer wrapping at width.
func NewRenderer(theme *styles.Theme, width int) *Renderer {
	if width < 20 {
		width = 20
	}
	r := &Renderer{theme: theme, width: width}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(theme.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// Width returns the wrap width.
func (r *Renderer) Width() int {
	return r.width
}

// Markdown renders s, falling back to the raw text.
func (r *Renderer) Markdown(s string) string {
	if r.md == nil || strings.TrimSpace(s) == "" {
		return s
	}
	out, err := r.md.Render(s)
	if err != nil {
		return s
	}
	return strings.Trim(out, "\n")
}

// Segments renders a parsed assistant reply.
func (r *Renderer) Segments(segments []chatcore.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg.Kind {
		case chatcore.SegmentReasoning:
			title := "Reasoning"
			if seg.Open {
				title = "Thinking..."
			}
			body := strings.TrimSpace(seg.Text)
			block := r.theme.ReasoningTitle.Render(title)
			if body != "" {
				block += "\n" + r.theme.Reasoning.Width(r.width-2).Render(body)
			}
			parts = append(parts, block)
		default:
			if strings.TrimSpace(seg.Text) != "" {
				parts = append(parts, r.Markdown(seg.Text))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// Message renders one stored message with its label.
func (r *Renderer) Message(msg model.Message) string {
	switch msg.Role {
	case model.RoleUser:
		var sb strings.Builder
		sb.WriteString(r.theme.UserLabel.Render(msg.Role.DisplayName()))
		sb.WriteString("\n")
		sb.WriteString(lipgloss.NewStyle().Width(r.width).Render(msg.Content))
		for _, img := range msg.Images {
			name := img.Filename
			if name == "" {
				name = img.MimeType
			}
			sb.WriteString("\n")
			sb.WriteString(r.theme.Attachment.Render("[image] " + name))
		}
		return sb.String()
	default:
		return r.theme.AssistantLabel.Render(msg.Role.DisplayName()) + "\n" +
			r.Segments(chatcore.ParseFinalSegments(msg.Content))
	}
}

// Conversation renders a whole thread, or the greeting when it is empty.
func (r *Renderer) Conversation(conv *model.Conversation, modelName string) string {
	if conv == nil || len(conv.Messages) == 0 {
		return r.theme.Muted.Render(Greeting(modelName))
	}
	parts := make([]string, 0, len(conv.Messages))
	for _, msg := range conv.Messages {
		parts = append(parts, r.Message(msg))
	}
	return strings.Join(parts, "\n\n")
}

// Live renders the reply that is still streaming.
func (r *Renderer) Live(segments []chatcore.Segment) string {
	label := r.theme.AssistantLabel.Render(model.RoleAssistant.DisplayName())
	if len(segments) == 0 {
		return label + "\n" + r.theme.Muted.Render("...")
	}
	return label + "\n" + r.Segments(segments)
}
