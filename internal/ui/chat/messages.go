// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/streamchat/internal/session"
)

// SnapshotMsg carries a new session snapshot.
type SnapshotMsg struct {
	Snapshot session.Snapshot
}

// SessionClosedMsg is sent when the subscription channel closes.
type SessionClosedMsg struct{}

// SubmitResultMsg reports the outcome of a submission.
type SubmitResultMsg struct {
	Text string
	Err  error
}

// waitForSnapshot blocks on the subscription until the next snapshot.
func waitForSnapshot(ch <-chan session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return SessionClosedMsg{}
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

// submit forwards text to the session off the UI goroutine.
func submit(s Session, text string) tea.Cmd {
	return func() tea.Msg {
		return SubmitResultMsg{Text: text, Err: s.Submit(text)}
	}
}
