// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/streamchat/internal/ui/styles"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// applyColorProfile re-applies the profile after --no-color.
func applyColorProfile() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.Cyan)

	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(styles.TextPrimary).
			MarginTop(1)

	// LabelStyle pads labels so values line up.
	LabelStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted).
			Width(18)

	ValueStyle = lipgloss.NewStyle().
			Foreground(styles.TextPrimary)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(styles.Emerald).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	DimStyle = lipgloss.NewStyle().
			Foreground(styles.TextMuted)

	// chat REPL
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	thoughtStyle = lipgloss.NewStyle().
			Foreground(styles.ThoughtFg).
			Italic(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)
)

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

// printKV writes an aligned "label  value" line.
func printKV(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s%s\n", LabelStyle.Render(label), ValueStyle.Render(value))
}

// printCheck writes "[OK] label  detail" or "[FAIL] ...".
func printCheck(w io.Writer, ok bool, label, detail string) {
	mark := SuccessStyle.Render("[OK]  ")
	if !ok {
		mark = ErrorStyle.Render("[FAIL]")
	}
	fmt.Fprintf(w, "  %s %s%s\n", mark, LabelStyle.Render(label), detail)
}

// separator returns a horizontal rule sized to the terminal.
func separator() string {
	return DimStyle.Render(strings.Repeat("-", min(GetTerminalWidth(), 60)))
}
