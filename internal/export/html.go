// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/jeranaias/ollamabro/internal/chat"
	"github.com/jeranaias/ollamabro/internal/model"
)

var (
	codeBlockRe  = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRe = regexp.MustCompile("`([^`\n]+)`")
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page with
// embedded CSS. Images are listed by name, not embedded.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates an HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(modelName string, conv *model.Conversation) ([]byte, error) {
	if err := validate(conv); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", html.EscapeString(conv.Summary))
	sb.WriteString("    <meta name=\"generator\" content=\"ollamabro\">\n")
	sb.WriteString(stylesheet)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n    <div class=\"container\">\n", theme)

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(modelName, conv))
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range conv.Messages {
		sb.WriteString(e.renderMessage(msg))
	}
	sb.WriteString("        </main>\n")

	if e.options.IncludeMetadata {
		fmt.Fprintf(&sb, "        <footer class=\"footer\"><p>Exported from <strong>OllamaBro</strong> on %s</p></footer>\n",
			e.options.now().Format("January 2, 2006 at 3:04 PM"))
	}

	sb.WriteString("    </div>\n</body>\n</html>\n")
	return []byte(sb.String()), nil
}

func (e *HTMLExporter) FileExtension() string { return ".html" }

func (e *HTMLExporter) MimeType() string { return "text/html" }

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(modelName string, conv *model.Conversation) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", html.EscapeString(conv.Summary))
	sb.WriteString("            <div class=\"metadata\">\n")
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Model:</strong> %s</span>\n", html.EscapeString(modelName))
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Updated:</strong> %s</span>\n", formatTimestamp(conv.LastActivity))
	fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>Messages:</strong> %d</span>\n", len(conv.Messages))
	sb.WriteString("            </div>\n        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderMessage(msg model.Message) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "            <div class=\"message %s-message\">\n", html.EscapeString(msg.Role.String()))
	fmt.Fprintf(&sb, "                <div class=\"message-header\"><span class=\"role-label\">%s</span></div>\n",
		html.EscapeString(msg.Role.DisplayName()))
	sb.WriteString("                <div class=\"message-content\">\n")

	for _, img := range msg.Images {
		fmt.Fprintf(&sb, "<p class=\"attachment\">[image] %s</p>\n", html.EscapeString(imageLabel(img)))
	}

	if msg.Role == model.RoleAssistant {
		for _, seg := range chat.ParseFinalSegments(msg.Content) {
			if strings.TrimSpace(seg.Text) == "" {
				continue
			}
			if seg.Kind == chat.SegmentReasoning {
				sb.WriteString("<details class=\"reasoning\"><summary>Reasoning</summary>\n")
				sb.WriteString(formatContent(seg.Text))
				sb.WriteString("\n</details>\n")
				continue
			}
			sb.WriteString(formatContent(seg.Text))
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString(formatContent(msg.Content))
		sb.WriteString("\n")
	}

	sb.WriteString("                </div>\n            </div>\n")
	return sb.String()
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

// formatContent escapes content and turns fenced code blocks, inline code
// and blank-line separated paragraphs into markup.
func formatContent(content string) string {
	content = strings.TrimSpace(content)

	var blocks []string
	rest := content
	for {
		loc := codeBlockRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			blocks = append(blocks, paragraphs(rest)...)
			break
		}
		blocks = append(blocks, paragraphs(rest[:loc[0]])...)
		lang := rest[loc[2]:loc[3]]
		code := strings.TrimRight(rest[loc[4]:loc[5]], "\n")

		var label string
		if lang != "" {
			label = fmt.Sprintf("<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
		}
		blocks = append(blocks, fmt.Sprintf("<div class=\"code-block\">%s<pre><code class=\"language-%s\">%s</code></pre></div>",
			label, html.EscapeString(lang), html.EscapeString(code)))
		rest = rest[loc[1]:]
	}
	return strings.Join(blocks, "\n")
}

func paragraphs(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		escaped := html.EscapeString(para)
		escaped = inlineCodeRe.ReplaceAllString(escaped, "<code class=\"inline-code\">$1</code>")
		escaped = strings.ReplaceAll(escaped, "\n", "<br>\n")
		out = append(out, "<p>"+escaped+"</p>")
	}
	return out
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const stylesheet = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }

        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }

        .dark-theme {
            --bg-primary: #1a1b26;
            --bg-secondary: #24283b;
            --bg-tertiary: #414868;
            --text-primary: #c0caf5;
            --text-muted: #565f89;
            --user-bg: #1f2335;
            --assistant-bg: #24283b;
            --code-bg: #1a1b26;
            --accent-blue: #7aa2f7;
            --accent-purple: #bb9af7;
        }

        .light-theme {
            --bg-primary: #ffffff;
            --bg-secondary: #f7f8fa;
            --bg-tertiary: #e1e4e8;
            --text-primary: #24292e;
            --text-muted: #6a737d;
            --user-bg: #f6f8fa;
            --assistant-bg: #ffffff;
            --code-bg: #f6f8fa;
            --accent-blue: #0366d6;
            --accent-purple: #6f42c1;
        }

        body {
            font-family: var(--font-sans);
            line-height: 1.6;
            color: var(--text-primary);
            background: var(--bg-primary);
            padding: 20px;
        }

        .container { max-width: 900px; margin: 0 auto; background: var(--bg-secondary); border-radius: 12px; overflow: hidden; }
        .header { padding: 32px; background: var(--bg-tertiary); }
        .header h1 { font-size: 24px; margin-bottom: 12px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; color: var(--text-muted); font-size: 14px; }
        .conversation { padding: 24px; }
        .message { padding: 16px 20px; margin-bottom: 16px; border-radius: 8px; }
        .user-message { background: var(--user-bg); border-left: 3px solid var(--accent-blue); }
        .assistant-message { background: var(--assistant-bg); border-left: 3px solid var(--accent-purple); }
        .role-label { font-weight: 600; font-size: 14px; }
        .message-content p { margin: 8px 0; }
        .attachment { color: var(--text-muted); font-style: italic; }
        .reasoning { color: var(--text-muted); margin: 8px 0; }
        .reasoning summary { cursor: pointer; }
        .code-block { margin: 12px 0; background: var(--code-bg); border-radius: 6px; overflow-x: auto; }
        .code-lang { font-size: 12px; padding: 4px 12px; color: var(--text-muted); }
        pre { padding: 12px; font-family: var(--font-mono); font-size: 14px; }
        .inline-code { font-family: var(--font-mono); background: var(--code-bg); padding: 1px 4px; border-radius: 3px; }
        .footer { padding: 16px 32px; color: var(--text-muted); font-size: 13px; }
    </style>
`

