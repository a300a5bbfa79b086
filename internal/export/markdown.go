// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown with optional YAML
// frontmatter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(modelName string, conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	var sb strings.Builder

	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(conv.Summary))
		fmt.Fprintf(&sb, "model: %s\n", escapeYAML(modelName))
		fmt.Fprintf(&sb, "id: %s\n", conv.ID)
		fmt.Fprintf(&sb, "updated: %s\n", conv.LastActivity.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Summary))

	for i, msg := range conv.Messages {
		fmt.Fprintf(&sb, "### %s\n\n", msg.Role.DisplayName())
		for _, img := range msg.Images {
			fmt.Fprintf(&sb, "_[image: %s]_\n\n", escapeMarkdown(imageLabel(img)))
		}
		if body := e.formatContent(msg); body != "" {
			sb.WriteString(body)
			sb.WriteString("\n\n")
		}
		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "\n---\n\n*Exported from OllamaBro on %s*\n",
			e.options.now().Format("January 2, 2006 at 3:04 PM"))
	}

	return []byte(sb.String()), nil
}

func (e *MarkdownExporter) FileExtension() string { return ".md" }

func (e *MarkdownExporter) MimeType() string { return "text/markdown" }

// formatContent quotes reasoning blocks so they read apart from the answer.
func (e *MarkdownExporter) formatContent(msg model.Message) string {
	if msg.Role != model.RoleAssistant {
		return strings.TrimSpace(msg.Content)
	}

	var parts []string
	for _, seg := range chat.ParseFinalSegments(msg.Content) {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Kind == chat.SegmentReasoning {
			lines := strings.Split(text, "\n")
			for i, line := range lines {
				lines[i] = strings.TrimRight("> "+line, " ")
			}
			parts = append(parts, "> **Reasoning**\n>\n"+strings.Join(lines, "\n"))
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n\n")
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break headings.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes a scalar when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		s = strings.ReplaceAll(s, "\n", `\n`)
		s = strings.ReplaceAll(s, "\r", `\r`)
		return `"` + s + `"`
	}
	return s
}
