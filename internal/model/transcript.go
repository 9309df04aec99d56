// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// =============================================================================
// TRANSCRIPT TYPE
// =============================================================================

// Transcript is the ordered sequence of messages that makes up the visible
// conversation. Transcripts are treated as values: Append and ReplaceLast
// return a new slice and never write through to the receiver's backing array.
type Transcript []Message

// Len returns the number of messages.
func (t Transcript) Len() int {
	return len(t)
}

// Last returns the final message and whether one exists.
func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

// Append returns a copy of t with msg added at the end.
func (t Transcript) Append(msg Message) Transcript {
	out := make(Transcript, len(t), len(t)+1)
	copy(out, t)
	return append(out, msg)
}

// ReplaceLast returns a copy of t whose final element is msg.
// Replacing on an empty transcript appends.
func (t Transcript) ReplaceLast(msg Message) Transcript {
	if len(t) == 0 {
		return Transcript{msg}
	}
	out := t.Clone()
	out[len(out)-1] = msg
	return out
}

// Clone returns an independent copy of the transcript.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return nil
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Active returns the in-flight message, if the last element is still open.
func (t Transcript) Active() (Message, bool) {
	last, ok := t.Last()
	if !ok || !last.IsOpen() {
		return Message{}, false
	}
	return last, true
}

// ByID returns the message with the given id.
func (t Transcript) ByID(id string) (Message, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].ID == id {
			return t[i], true
		}
	}
	return Message{}, false
}

// Validate checks the single-open-message invariant: at most one message is
// streaming or pending, and it is the last one.
func (t Transcript) Validate() error {
	for i, msg := range t {
		if msg.IsOpen() && i != len(t)-1 {
			return fmt.Errorf("message %q at index %d is open but not last", msg.ID, i)
		}
		if msg.IsOpen() && msg.IsUser() {
			return fmt.Errorf("user message %q is marked open", msg.ID)
		}
	}
	return nil
}

// =============================================================================
// LOCAL IDS
// =============================================================================

// IDGenerator produces locally unique message ids of the form
// "<prefix>-<unix millis>-<seq>". The sequence keeps ids distinct when two
// messages are created within the same millisecond.
type IDGenerator struct {
	seq atomic.Uint64
	now func() time.Time
}

// NewIDGenerator creates a generator driven by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// NewIDGeneratorWithClock creates a generator driven by a custom clock.
func NewIDGeneratorWithClock(now func() time.Time) *IDGenerator {
	return &IDGenerator{now: now}
}

// Next returns a fresh id with the given prefix.
func (g *IDGenerator) Next(prefix string) string {
	n := g.seq.Add(1)
	return prefix + "-" + strconv.FormatInt(g.now().UnixMilli(), 10) + "-" + strconv.FormatUint(n, 10)
}

// User returns an id for a locally submitted message.
func (g *IDGenerator) User() string {
	return g.Next("user")
}

// Error returns an id for a synthetic error message.
func (g *IDGenerator) Error() string {
	return g.Next("error")
}
