// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/transport"
	"github.com/jeranaias/streamchat/internal/util"
)

// View renders the chat view.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "Starting..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		m.renderInput(),
		m.renderStatusBar(),
	)
}

// =============================================================================
// HEADER AND INPUT
// =============================================================================

func (m Model) renderHeader() string {
	title := m.theme.HeaderTitle.Render(m.title)
	info := m.snap.ModelInfo
	var modelText string
	switch {
	case m.snap.Unauthenticated:
		modelText = "not authenticated"
	case m.snap.Configured:
		modelText = info.Provider + "/" + info.Model
	default:
		modelText = "model not configured"
	}
	line := title + "  " + m.theme.HeaderModel.Render(modelText)
	return m.theme.Header.Width(m.width).Render(util.TruncateWidth(line, m.width))
}

func (m Model) renderInput() string {
	view := m.input.View()
	if !m.input.Focused() {
		view = m.theme.InputDisabled.Render(view)
	}
	return m.theme.InputContainer.Width(max(m.width-2, 0)).Render(view)
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m Model) renderStatusBar() string {
	var parts []string

	switch m.snap.Status {
	case transport.Connected:
		parts = append(parts, m.theme.Connected.Render("● connected"))
	case transport.Connecting:
		parts = append(parts, m.theme.Connecting.Render("● connecting"))
	default:
		parts = append(parts, m.theme.Disconnected.Render("● disconnected"))
	}

	if m.snap.Generating {
		parts = append(parts, m.theme.Generating.Render("● generating")+" "+m.spinner.View())
	}

	if m.snap.DroppedFrames > 0 {
		parts = append(parts, m.theme.WarningStyle.Render(fmt.Sprintf("%d dropped", m.snap.DroppedFrames)))
	}

	if note := m.statusNote(); note != "" {
		parts = append(parts, note)
	}

	var hints []string
	for _, b := range m.keys.ShortHelp() {
		h := b.Help()
		hints = append(hints, m.theme.ShortcutKey.Render(h.Key)+" "+m.theme.ShortcutDesc.Render(h.Desc))
	}

	left := strings.Join(parts, "  ")
	right := strings.Join(hints, "  ")
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	line := left
	if gap >= 2 {
		line = left + strings.Repeat(" ", gap) + right
	}
	return m.theme.StatusBar.Width(m.width).MaxHeight(1).Render(line)
}

// statusNote picks the most relevant transient message.
func (m Model) statusNote() string {
	width := max(m.width/2, 20)
	if m.flash != "" {
		return m.theme.WarningStyle.Render(util.TruncateWidth(m.flash, width))
	}
	if err := m.snap.LastError; err != nil {
		return m.theme.ErrorStyle.Render(util.TruncateWidth(err.Error(), width))
	}
	if !m.snap.Configured && m.snap.ModelInfo.Message != "" {
		return m.theme.WarningStyle.Render(util.TruncateWidth(m.snap.ModelInfo.Message, width))
	}
	return ""
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m Model) renderTranscript() string {
	var b strings.Builder
	for i, msg := range m.snap.Transcript {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.renderMessage(msg))
	}
	return b.String()
}

func (m Model) renderMessage(msg model.Message) string {
	width := m.contentWidth()
	stamp := m.theme.Timestamp.Render(formatTime(msg.CreatedAt))

	if msg.IsUser() {
		label := m.theme.UserLabel.Render(msg.Author.DisplayName()) + " " + stamp
		body := m.theme.UserBubble.Width(width).Render(msg.Content)
		return label + "\n" + body
	}

	label := m.theme.AssistantLabel.Render(msg.Author.DisplayName()) + " " + stamp
	var sections []string

	if msg.AgentThought != "" {
		if m.ThoughtExpanded(msg) {
			sections = append(sections,
				m.theme.ThoughtToggle.Render("▾ Thinking"),
				m.theme.Thought.Width(width).Render(msg.RenderedThought()))
		} else {
			sections = append(sections, m.theme.ThoughtToggle.Render("▸ Thought (ctrl+t to expand)"))
		}
	}

	switch {
	case msg.IsOpen() && msg.DisplayText() == "":
		if msg.Pending {
			sections = append(sections, m.theme.MutedStyle.Render("..."))
		}
	case msg.IsOpen():
		sections = append(sections, lipgloss.NewStyle().Width(width).Render(msg.RenderedText()))
	default:
		sections = append(sections, m.md.render(msg.ID, msg.DisplayText()))
	}

	if msg.ErrorText != "" {
		sections = append(sections, m.theme.RemoteError.Width(width).Render("Error: "+msg.ErrorText))
	}

	body := m.theme.AssistantBubble.Render(strings.Join(sections, "\n"))
	return label + "\n" + body
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("15:04")
}
