// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile folds decoded stream events into a transcript.
//
// Every function here is pure: it takes a State and returns a new State
// without modifying its argument. The session controller is the only holder
// of the latest State, which makes the reconciler testable without a live
// connection.
package reconcile

import (
	"fmt"
	"time"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/protocol"
)

// =============================================================================
// STATE
// =============================================================================

// State is the reconciled view of a conversation.
type State struct {
	// Transcript is the ordered list of messages.
	Transcript model.Transcript

	// ActiveMessageID is the id of the in-flight assistant message, empty
	// when nothing is streaming or pending.
	ActiveMessageID string

	// Generating is true from a user send until the turn's end event.
	Generating bool
}

// NewState returns an empty state, optionally seeded with messages.
func NewState(seed ...model.Message) State {
	return State{Transcript: model.Transcript(seed).Clone()}
}

// Clone returns an independent copy of the state.
func (s State) Clone() State {
	s.Transcript = s.Transcript.Clone()
	return s
}

// =============================================================================
// EVENT REDUCER
// =============================================================================

// Apply folds one event into the state.
//
// Target resolution: if the last message was authored by the assistant the
// event merges into it; otherwise a new assistant message seeded with the
// event's id and timestamp is appended. Assistant content is never merged
// into a user message.
func Apply(s State, ev protocol.StreamEvent) State {
	switch e := ev.(type) {
	case protocol.AgentThought:
		return mergeInto(s, e.Header, func(m *model.Message) {
			m.AgentThought += e.Content
			m.Pending = false
			m.Streaming = true
		})

	case protocol.FinalResponse:
		return mergeInto(s, e.Header, func(m *model.Message) {
			m.FinalAnswer += e.Content
			m.Content = m.FinalAnswer
			m.Pending = false
			m.Streaming = false
		})

	case protocol.RemoteError:
		return mergeInto(s, e.Header, func(m *model.Message) {
			m.ErrorText = e.Content
			m.Pending = false
			m.Streaming = false
		})

	case protocol.End:
		s = closeOut(s)
		s.Generating = false
		return s

	case protocol.Unknown:
		return s

	default:
		return s
	}
}

// ApplyAll folds a sequence of events in order.
func ApplyAll(s State, events ...protocol.StreamEvent) State {
	for _, ev := range events {
		s = Apply(s, ev)
	}
	return s
}

// mergeInto resolves the event's target message and applies mutate to it.
func mergeInto(s State, h protocol.Header, mutate func(*model.Message)) State {
	last, ok := s.Transcript.Last()
	if ok && last.Author == model.AuthorAssistant {
		mutate(&last)
		s.Transcript = s.Transcript.ReplaceLast(last)
	} else {
		created := model.NewAssistantMessage(h.MessageID, h.Time())
		mutate(&created)
		s.Transcript = s.Transcript.Append(created)
	}
	s.ActiveMessageID = activeID(s.Transcript)
	return s
}

// closeOut clears the streaming flags of the last assistant message without
// touching its text. A missing, user-authored or already closed last message
// is left as is.
func closeOut(s State) State {
	last, ok := s.Transcript.Last()
	if !ok || last.Author != model.AuthorAssistant || !last.IsOpen() {
		s.ActiveMessageID = ""
		return s
	}
	last.Streaming = false
	last.Pending = false
	s.Transcript = s.Transcript.ReplaceLast(last)
	s.ActiveMessageID = ""
	return s
}

func activeID(t model.Transcript) string {
	if active, ok := t.Active(); ok {
		return active.ID
	}
	return ""
}

// =============================================================================
// LOCAL MUTATIONS
// =============================================================================

// BeginTurn appends the user's message and marks the session as generating.
// A still-open assistant message from an earlier turn is closed first so the
// open message is always the last one.
func BeginTurn(s State, id, text string, at time.Time) State {
	s = closeOut(s)
	s.Transcript = s.Transcript.Append(model.NewUserMessage(id, text, at))
	s.ActiveMessageID = ""
	s.Generating = true
	return s
}

// SendFailed appends the synthetic "unable to send" assistant message and
// clears the generating flag.
func SendFailed(s State, id string, at time.Time) State {
	s = closeOut(s)
	s.Transcript = s.Transcript.Append(model.NewSendFailedMessage(id, at))
	s.ActiveMessageID = ""
	s.Generating = false
	return s
}

// ForceClose ends the current turn locally, as if an end event had arrived.
// Used when a configured turn timeout expires.
func ForceClose(s State) State {
	s = closeOut(s)
	s.Generating = false
	return s
}

// =============================================================================
// INVARIANTS
// =============================================================================

// CheckInvariants verifies the transcript's single-open-message rule and that
// ActiveMessageID agrees with it.
func CheckInvariants(s State) error {
	if err := s.Transcript.Validate(); err != nil {
		return err
	}
	if want := activeID(s.Transcript); s.ActiveMessageID != want {
		return fmt.Errorf("active message id %q does not match open message %q", s.ActiveMessageID, want)
	}
	return nil
}
