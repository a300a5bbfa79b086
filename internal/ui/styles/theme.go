// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme is the set of styles the chat view draws with.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderModel lipgloss.Style

	Sidebar        lipgloss.Style
	SidebarFocused lipgloss.Style
	SidebarTitle   lipgloss.Style
	SidebarItem    lipgloss.Style
	SidebarActive  lipgloss.Style
	SidebarCursor  lipgloss.Style

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	Reasoning      lipgloss.Style
	ReasoningTitle lipgloss.Style
	Attachment     lipgloss.Style

	VisionBadge    lipgloss.Style
	ReasoningBadge lipgloss.Style

	Input   lipgloss.Style
	Status  lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
	Spinner lipgloss.Style
}

// NewTheme detects the terminal and builds the styles.
func NewTheme() *Theme {
	return NewThemeFor(termenv.ColorProfile(), termenv.HasDarkBackground())
}

// NewThemeFor builds the styles for a known terminal.
func NewThemeFor(profile termenv.Profile, isDark bool) *Theme {
	t := &Theme{IsDark: isDark, ColorProfile: profile}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderBrand = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.HeaderModel = lipgloss.NewStyle().Foreground(TextSecondary)

	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.SidebarFocused = t.Sidebar.BorderForeground(Purple)
	t.SidebarTitle = lipgloss.NewStyle().Bold(true).Foreground(TextSecondary)
	t.SidebarItem = lipgloss.NewStyle().Foreground(TextPrimary)
	t.SidebarActive = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.SidebarCursor = lipgloss.NewStyle().Reverse(true)

	t.UserLabel = lipgloss.NewStyle().Bold(true).Foreground(Cyan)
	t.AssistantLabel = lipgloss.NewStyle().Bold(true).Foreground(Purple)
	t.Reasoning = lipgloss.NewStyle().
		Italic(true).
		Foreground(TextMuted).
		BorderStyle(lipgloss.NormalBorder()).
		BorderLeft(true).
		BorderForeground(Amber).
		PaddingLeft(1)
	t.ReasoningTitle = lipgloss.NewStyle().Foreground(Amber)
	t.Attachment = lipgloss.NewStyle().Foreground(Emerald)

	t.VisionBadge = lipgloss.NewStyle().Foreground(Emerald).Bold(true)
	t.ReasoningBadge = lipgloss.NewStyle().Foreground(Amber).Bold(true)

	t.Input = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay)
	t.Status = lipgloss.NewStyle().Foreground(TextSecondary)
	t.Error = lipgloss.NewStyle().Foreground(Rose)
	t.Warning = lipgloss.NewStyle().Foreground(Amber)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
	t.Spinner = lipgloss.NewStyle().Foreground(Purple)
}

// GlamourStyle names the glamour style that matches the terminal.
func (t *Theme) GlamourStyle() string {
	switch {
	case t.ColorProfile == termenv.Ascii:
		return "notty"
	case t.IsDark:
		return "dark"
	default:
		return "light"
	}
}
