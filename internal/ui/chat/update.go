// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/streamchat/internal/session"
)

// Rows used by everything except the viewport.
const chromeHeight = 4

// Update handles Bubble Tea messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.theme.SetSize(msg.Width, msg.Height)
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-chromeHeight, 3)
		m.input.Width = max(msg.Width-6, 10)
		m.md.resize(m.contentWidth())
		m.ready = true
		m.refreshContent(true)
		return m, nil

	case SnapshotMsg:
		m.applySnapshot(msg.Snapshot)
		return m, waitForSnapshot(m.updates)

	case SessionClosedMsg:
		m.closed = true
		return m, tea.Quit

	case SubmitResultMsg:
		if msg.Err != nil {
			m.flash = msg.Err.Error()
			if errors.Is(msg.Err, session.ErrGated) && m.input.Value() == "" {
				m.input.SetValue(msg.Text)
				m.input.CursorEnd()
			}
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if cmd, handled := m.handleKey(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleKey processes bindings. It returns handled=false for keys that
// belong to the input field.
func (m *Model) handleKey(msg tea.KeyMsg) (tea.Cmd, bool) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return tea.Quit, true

	case key.Matches(msg, m.keys.ToggleThought):
		if last, ok := m.latestThought(); ok {
			m.thoughts[last.ID] = !m.ThoughtExpanded(last)
			m.refreshContent(false)
		}
		return nil, true

	case key.Matches(msg, m.keys.Refresh):
		m.flash = "checking model configuration"
		m.sess.RefreshConfig()
		return nil, true

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.ViewUp()
		return nil, true

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.ViewDown()
		return nil, true

	case key.Matches(msg, m.keys.Top):
		m.viewport.GotoTop()
		return nil, true

	case key.Matches(msg, m.keys.Bottom):
		m.viewport.GotoBottom()
		return nil, true

	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return nil, true
		}
		if reason := m.snap.GateReason(); reason != "" {
			m.flash = "cannot send: " + reason
			return nil, true
		}
		m.flash = ""
		m.input.Reset()
		return submit(m.sess, text), true
	}

	if !m.input.Focused() {
		return nil, true
	}
	return nil, false
}

// applySnapshot installs a new snapshot and updates dependent UI state.
func (m *Model) applySnapshot(snap session.Snapshot) {
	prevLen := m.snap.Transcript.Len()
	m.snap = snap

	if reason := snap.GateReason(); reason != "" {
		m.input.Blur()
		m.input.Placeholder = "Input disabled: " + reason
	} else {
		m.input.Focus()
		m.input.Placeholder = "Type a message"
	}

	// Follow new output only if the user has not scrolled away.
	follow := m.viewport.AtBottom() || snap.Transcript.Len() != prevLen
	m.refreshContent(follow)
}

func (m *Model) refreshContent(follow bool) {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTranscript())
	if follow {
		m.viewport.GotoBottom()
	}
}
