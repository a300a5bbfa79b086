// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/ollamabro/internal/ui/styles"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

func fg(c lipgloss.TerminalColor) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

// Styles for command output. They render plain text when colors are off.
var (
	TitleStyle   = fg(styles.Cyan).Bold(true)
	SuccessStyle = fg(styles.Emerald).Bold(true)
	ErrorStyle   = fg(styles.Rose).Bold(true)
	WarningStyle = fg(styles.Amber)
	MutedStyle   = fg(styles.TextMuted)
)

// REPL roles.
var (
	promptStyle    = fg(styles.Cyan).Bold(true)
	assistantStyle = fg(styles.Purple).Bold(true)
	greetingStyle  = fg(styles.Purple)
)
