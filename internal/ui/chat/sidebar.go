// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/ollamabro/internal/conversation"
	"github.com/jeranaias/ollamabro/internal/ui/styles"
)

// SidebarWidth is the outer width of the conversation list.
const SidebarWidth = 28

// sidebarLine formats one conversation row to exactly width cells.
func sidebarLine(row conversation.Summary, width int) string {
	marker := "  "
	if row.Active {
		marker = "* "
	}
	title := runewidth.Truncate(row.Title, width-len(marker), "…")
	return runewidth.FillRight(marker+title, width)
}

// renderSidebar draws the conversation list. Rows beyond height scroll so
// the cursor stays visible.
func renderSidebar(theme *styles.Theme, rows []conversation.Summary, cursor int, focused bool, height int) string {
	inner := SidebarWidth - 4
	lines := []string{theme.SidebarTitle.Render(runewidth.FillRight("Chats", inner))}

	visible := height - 3
	if visible < 1 {
		visible = 1
	}
	start := 0
	if cursor >= visible {
		start = cursor - visible + 1
	}
	for i := start; i < len(rows) && i < start+visible; i++ {
		line := sidebarLine(rows[i], inner)
		style := theme.SidebarItem
		if rows[i].Active {
			style = theme.SidebarActive
		}
		if focused && i == cursor {
			style = style.Inherit(theme.SidebarCursor)
		}
		lines = append(lines, style.Render(line))
	}
	if len(rows) == 0 {
		lines = append(lines, theme.Muted.Render("(none)"))
	}

	box := theme.Sidebar
	if focused {
		box = theme.SidebarFocused
	}
	return box.Height(height - 2).Render(strings.Join(lines, "\n"))
}
