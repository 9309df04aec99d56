// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the colors and lipgloss styles for the chat client.

All colors are lipgloss AdaptiveColor values so they follow the terminal's
light or dark background.

# Colors (colors.go)

  - Purple - assistant messages
  - Cyan - brand, user highlights and the prompt
  - Emerald - connected, success
  - Amber - connecting, generating, warnings
  - Rose - errors, disconnected

StatusIndicators are ASCII so state stays readable without color.

# Theme (theme.go)

NewTheme builds every style the chat view uses for a mode ("auto", "dark" or
"light"). GlamourStyle names the matching markdown style.

	theme := styles.NewTheme(styles.ModeAuto)
	header := theme.Header.Render("streamchat")
*/
package styles
