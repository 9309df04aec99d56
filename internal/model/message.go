// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the chat transcript.
package model

import (
	"strings"
	"time"

	"github.com/jeranaias/streamchat/internal/util"
)

// =============================================================================
// AUTHOR TYPE
// =============================================================================

// Author identifies who produced a message.
type Author string

const (
	AuthorUser      Author = "user"
	AuthorAssistant Author = "assistant"
)

// String returns the string representation of the author.
func (a Author) String() string {
	return string(a)
}

// DisplayName returns a human-readable name for the author.
func (a Author) DisplayName() string {
	switch a {
	case AuthorUser:
		return "You"
	case AuthorAssistant:
		return "Assistant"
	default:
		return string(a)
	}
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// SendFailedText is shown when a message could not be handed to the transport.
const SendFailedText = "Error: Unable to send message. Please try again."

// WelcomeText is the greeting that seeds a fresh transcript.
const WelcomeText = "Hi there. May I help you with anything?"

// Message is a single transcript entry.
//
// Assistant messages accumulate AgentThought and FinalAnswer from streamed
// fragments. Content holds the raw text the message was seeded with (user
// text, synthetic errors, the welcome greeting) and is kept in lockstep with
// FinalAnswer once a final response arrives.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`

	// Content
	Content      string `json:"content,omitempty"`
	AgentThought string `json:"agent_thought,omitempty"`
	FinalAnswer  string `json:"final_answer,omitempty"`
	ErrorText    string `json:"error_text,omitempty"`

	// Streaming state
	Streaming bool `json:"streaming"`
	Pending   bool `json:"pending"`
}

// NewUserMessage creates a closed user message.
func NewUserMessage(id, content string, at time.Time) Message {
	return Message{
		ID:        id,
		Author:    AuthorUser,
		CreatedAt: at,
		Content:   content,
	}
}

// NewAssistantMessage creates an assistant message awaiting its first fragment.
func NewAssistantMessage(id string, at time.Time) Message {
	return Message{
		ID:        id,
		Author:    AuthorAssistant,
		CreatedAt: at,
		Pending:   true,
	}
}

// NewSendFailedMessage creates the synthetic assistant entry shown when a
// send could not reach the transport.
func NewSendFailedMessage(id string, at time.Time) Message {
	return Message{
		ID:        id,
		Author:    AuthorAssistant,
		CreatedAt: at,
		Content:   SendFailedText,
	}
}

// WelcomeMessage returns the default greeting entry that opens a transcript.
func WelcomeMessage(at time.Time) Message {
	return NewWelcomeMessage(WelcomeText, at)
}

// NewWelcomeMessage returns a closed greeting with id "0". Empty text falls
// back to WelcomeText.
func NewWelcomeMessage(text string, at time.Time) Message {
	if text == "" {
		text = WelcomeText
	}
	return Message{
		ID:        "0",
		Author:    AuthorAssistant,
		CreatedAt: at,
		Content:   text,
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsUser reports whether the message was authored locally.
func (m Message) IsUser() bool {
	return m.Author == AuthorUser
}

// IsOpen reports whether more fragments are expected for this message.
func (m Message) IsOpen() bool {
	return m.Streaming || m.Pending
}

// DisplayText returns the text to show for the message: the final answer when
// one has arrived, the seed content otherwise. Never blank if either is set.
func (m Message) DisplayText() string {
	if m.FinalAnswer != "" {
		return m.FinalAnswer
	}
	return m.Content
}

// RenderedText returns DisplayText prepared for a render pass. While the
// message streams, repeated lines are collapsed so upstream frames that
// resend partial buffers do not show twice. Stored state is not modified.
func (m Message) RenderedText() string {
	return RenderText(m.DisplayText(), m.Streaming)
}

// RenderedThought is RenderedText for the agent thought section.
func (m Message) RenderedThought() string {
	return RenderText(m.AgentThought, m.Streaming)
}

// Preview returns a single-line preview of the message text, truncated to
// maxLen runes.
func (m Message) Preview(maxLen int) string {
	return util.TruncateRunes(util.SingleLine(m.DisplayText()), maxLen)
}

// =============================================================================
// RENDER HELPERS
// =============================================================================

// RenderText applies display-only transformations to text. When streaming is
// true duplicate lines are dropped, keeping the first occurrence.
func RenderText(text string, streaming bool) string {
	if !streaming {
		return text
	}
	return DedupLines(text)
}

// DedupLines removes every line that already appeared earlier in s.
func DedupLines(s string) string {
	if !strings.Contains(s, "\n") {
		return s
	}
	lines := strings.Split(s, "\n")
	seen := make(map[string]struct{}, len(lines))
	kept := lines[:0:0]
	for _, line := range lines {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}
