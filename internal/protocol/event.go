// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"strings"
	"time"
)

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType is the discriminant carried in an inbound frame's "type" field.
type EventType string

const (
	TypeAgentThought  EventType = "agent_thought"
	TypeFinalResponse EventType = "final_response"
	TypeError         EventType = "error"
	TypeEnd           EventType = "end"
)

// Known reports whether t is one of the four event kinds this client handles.
func (t EventType) Known() bool {
	switch t {
	case TypeAgentThought, TypeFinalResponse, TypeError, TypeEnd:
		return true
	default:
		return false
	}
}

// String returns the wire form of the type.
func (t EventType) String() string {
	return string(t)
}

// =============================================================================
// STREAM EVENT
// =============================================================================

// StreamEvent is a decoded inbound frame. The interface is sealed: the only
// implementations are AgentThought, FinalResponse, RemoteError, End and
// Unknown, so a type switch over them is exhaustive.
type StreamEvent interface {
	Type() EventType
	Meta() Header
	sealed()
}

// Header holds the fields common to every event.
type Header struct {
	MessageID string
	Timestamp string
}

// Time parses Timestamp. Backends emit either RFC 3339 or a zone-less
// ISO 8601 form (Python's datetime.isoformat); the latter is read as UTC.
// The zero time is returned when the timestamp is missing or unparseable.
func (h Header) Time() time.Time {
	return ParseTimestamp(h.Timestamp)
}

// AgentThought is a fragment of the agent's reasoning.
type AgentThought struct {
	Header
	Content string
}

// FinalResponse is a fragment of the answer shown to the user.
type FinalResponse struct {
	Header
	Content string
}

// RemoteError is an error reported by the backend for the current turn.
type RemoteError struct {
	Header
	Content string
}

// End terminates the current turn.
type End struct {
	Header
}

// Unknown is any frame whose type this client does not understand.
type Unknown struct {
	Header
	Kind    string
	Content string
}

func (AgentThought) Type() EventType { return TypeAgentThought }
func (FinalResponse) Type() EventType { return TypeFinalResponse }
func (RemoteError) Type() EventType { return TypeError }
func (End) Type() EventType { return TypeEnd }
func (u Unknown) Type() EventType { return EventType(u.Kind) }

func (e AgentThought) Meta() Header { return e.Header }
func (e FinalResponse) Meta() Header { return e.Header }
func (e RemoteError) Meta() Header { return e.Header }
func (e End) Meta() Header { return e.Header }
func (e Unknown) Meta() Header { return e.Header }

func (AgentThought) sealed() {}
func (FinalResponse) sealed() {}
func (RemoteError) sealed() {}
func (End) sealed() {}
func (Unknown) sealed() {}

// =============================================================================
// TIMESTAMPS
// =============================================================================

// TimestampLayout is the layout used for outbound timestamps (ISO 8601, UTC,
// millisecond precision), matching what browsers produce with toISOString.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

var inboundLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses an inbound timestamp, returning the zero time on failure.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range inboundLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// FormatTimestamp formats t for an outbound frame.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
