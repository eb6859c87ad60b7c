// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for finchat commands.
//
// Colors are disabled for non-TTY output and respect NO_COLOR and
// FORCE_COLOR. The palette switches with the stored theme preference.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/morganforge/finchat/internal/model"
	"github.com/morganforge/finchat/internal/upload"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(16)

	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// Speaker labels in the chat transcript.
	UserStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	AssistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Bold(true)
)

// ApplyTheme adjusts foreground colors for a light or dark background.
func ApplyTheme(dark bool) {
	if dark {
		ValueStyle = ValueStyle.Foreground(lipgloss.Color("252"))
		DimStyle = DimStyle.Foreground(lipgloss.Color("242"))
		AssistantStyle = AssistantStyle.Foreground(lipgloss.Color("141"))
		return
	}
	ValueStyle = ValueStyle.Foreground(lipgloss.Color("235"))
	DimStyle = DimStyle.Foreground(lipgloss.Color("244"))
	AssistantStyle = AssistantStyle.Foreground(lipgloss.Color("91"))
}

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule of the given width.
func RenderSeparator(width int) string {
	if width <= 0 {
		width = 60
	}
	return SeparatorStyle.Render(strings.Repeat("-", width))
}

// RenderLabel renders a fixed-width field label.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderPhase renders the connection indicator.
func RenderPhase(phase model.Phase) string {
	switch phase {
	case model.PhaseConnected:
		return SuccessStyle.Render("● connected")
	case model.PhaseConnecting:
		return WarningStyle.Render("◌ connecting")
	case model.PhaseClosing:
		return DimStyle.Render("◌ closing")
	default:
		return ErrorStyle.Render("○ disconnected")
	}
}

// RenderUploadStatus renders an upload state badge.
func RenderUploadStatus(s upload.Status) string {
	switch s {
	case upload.StatusDone:
		return SuccessStyle.Render("[DONE]")
	case upload.StatusFailed, upload.StatusRejected:
		return ErrorStyle.Render("[" + strings.ToUpper(s.String()) + "]")
	case upload.StatusUploading, upload.StatusQueued:
		return WarningStyle.Render("[" + strings.ToUpper(s.String()) + "]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(s.String()) + "]")
	}
}
