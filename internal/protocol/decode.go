// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxFrameSize is the largest inbound frame Decode accepts (1MB).
const MaxFrameSize = 1 << 20

// maxSnippet bounds how much of a bad frame is kept on a DecodeError.
const maxSnippet = 120

// =============================================================================
// DECODE ERRORS
// =============================================================================

var (
	// ErrEmptyFrame is returned for frames with no payload.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrFrameTooLarge is returned for frames above MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrMissingType is returned when the envelope has no "type" discriminant.
	ErrMissingType = errors.New("missing event type")
)

// DecodeError reports an inbound frame that is not a valid event envelope.
// It is never fatal to the session.
type DecodeError struct {
	Snippet string // Leading bytes of the offending frame
	Err     error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("decode frame: %v", e.Err)
	}
	return fmt.Sprintf("decode frame %q: %v", e.Snippet, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is (or wraps) a DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// =============================================================================
// DECODER
// =============================================================================

// envelope is the wire shape of an inbound frame. Type is a RawMessage so a
// non-string discriminant is reported instead of silently zeroed.
type envelope struct {
	Type      json.RawMessage `json:"type"`
	Content   *string         `json:"content"`
	MessageID string          `json:"message_id"`
	Timestamp string          `json:"timestamp"`
}

// Decode parses one inbound frame into a StreamEvent.
// Malformed frames produce a *DecodeError; unrecognized types decode to Unknown.
func Decode(frame []byte) (StreamEvent, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: ErrEmptyFrame}
	}
	if len(trimmed) > MaxFrameSize {
		return nil, &DecodeError{Snippet: snippet(trimmed), Err: ErrFrameTooLarge}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &DecodeError{Snippet: snippet(trimmed), Err: err}
	}

	if len(env.Type) == 0 || bytes.Equal(env.Type, []byte("null")) {
		return nil, &DecodeError{Snippet: snippet(trimmed), Err: ErrMissingType}
	}
	var kind string
	if err := json.Unmarshal(env.Type, &kind); err != nil {
		return nil, &DecodeError{Snippet: snippet(trimmed), Err: fmt.Errorf("event type is not a string: %w", err)}
	}
	if kind == "" {
		return nil, &DecodeError{Snippet: snippet(trimmed), Err: ErrMissingType}
	}

	header := Header{MessageID: env.MessageID, Timestamp: env.Timestamp}
	content := ""
	if env.Content != nil {
		content = *env.Content
	}

	switch EventType(kind) {
	case TypeAgentThought:
		return AgentThought{Header: header, Content: content}, nil
	case TypeFinalResponse:
		return FinalResponse{Header: header, Content: content}, nil
	case TypeError:
		return RemoteError{Header: header, Content: content}, nil
	case TypeEnd:
		return End{Header: header}, nil
	default:
		return Unknown{Header: header, Kind: kind, Content: content}, nil
	}
}

// snippet returns a bounded, printable prefix of a frame for error messages.
func snippet(frame []byte) string {
	if len(frame) <= maxSnippet {
		return string(frame)
	}
	return string(frame[:maxSnippet]) + "..."
}

// =============================================================================
// ENCODER (INBOUND SHAPE)
// =============================================================================

// EncodeEvent renders an event in the inbound wire shape. The development
// backend uses it to produce frames; the client never sends these.
func EncodeEvent(ev StreamEvent) ([]byte, error) {
	meta := ev.Meta()
	out := struct {
		Type      string  `json:"type"`
		Content   *string `json:"content,omitempty"`
		MessageID string  `json:"message_id,omitempty"`
		Timestamp string  `json:"timestamp,omitempty"`
	}{
		Type:      string(ev.Type()),
		MessageID: meta.MessageID,
		Timestamp: meta.Timestamp,
	}

	switch e := ev.(type) {
	case AgentThought:
		out.Content = &e.Content
	case FinalResponse:
		out.Content = &e.Content
	case RemoteError:
		out.Content = &e.Content
	case End:
	case Unknown:
		out.Content = &e.Content
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", ev.Type(), err)
	}
	return data, nil
}
