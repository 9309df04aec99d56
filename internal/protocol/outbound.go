// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// OUTBOUND FRAME
// =============================================================================

// Outbound is the single frame shape a client sends: the user's text and the
// time it was submitted.
type Outbound struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ErrEmptyContent is returned when an outbound frame carries no text.
var ErrEmptyContent = errors.New("outbound content is empty")

// NewOutbound builds an outbound frame for text submitted at t.
func NewOutbound(text string, t time.Time) Outbound {
	return Outbound{Content: text, Timestamp: FormatTimestamp(t)}
}

// Encode serializes the frame.
func (o Outbound) Encode() ([]byte, error) {
	if o.Content == "" {
		return nil, ErrEmptyContent
	}
	data, err := json.Marshal(o)
	if err != nil {
		return nil, fmt.Errorf("encode outbound frame: %w", err)
	}
	return data, nil
}

// EncodeOutbound is NewOutbound followed by Encode.
func EncodeOutbound(text string, t time.Time) ([]byte, error) {
	return NewOutbound(text, t).Encode()
}

// DecodeOutbound parses a client frame. Used by the development backend and
// round-trip tests.
func DecodeOutbound(frame []byte) (Outbound, error) {
	var o Outbound
	if err := json.Unmarshal(frame, &o); err != nil {
		return Outbound{}, &DecodeError{Snippet: snippet(frame), Err: err}
	}
	return o, nil
}
