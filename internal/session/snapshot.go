// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strconv"
	"time"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/transport"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is an immutable copy of the session state handed to presentation.
type Snapshot struct {
	SessionID string
	StartTime time.Time

	Status         transport.Status
	ConnectedSince time.Time

	Generating bool
	Configured bool
	ModelInfo  modelconfig.Info

	// Unauthenticated is set while the token is missing or rejected.
	// LastError then wraps transport.ErrUnauthenticated.
	Unauthenticated bool

	Transcript      model.Transcript
	ActiveMessageID string

	// LastError is the most recent connection, configuration or turn
	// problem. It is cleared when the connection comes back.
	LastError error

	// DroppedFrames counts inbound frames that failed to decode.
	DroppedFrames int
}

// CanSubmit reports whether Submit would pass its gates for non-blank text.
func (s Snapshot) CanSubmit() bool {
	return s.GateReason() == ""
}

// GateReason explains why input is currently blocked, or returns "".
func (s Snapshot) GateReason() string {
	switch {
	case s.Unauthenticated:
		return "not authenticated"
	case !s.Configured:
		return "model not configured"
	case s.Status != transport.Connected:
		return "not connected"
	case s.Generating:
		return "response in progress"
	default:
		return ""
	}
}

// Active returns the in-flight assistant message, if any.
func (s Snapshot) Active() (model.Message, bool) {
	if s.ActiveMessageID == "" {
		return model.Message{}, false
	}
	return s.Transcript.ByID(s.ActiveMessageID)
}

// Uptime returns how long the current connection has been open.
func (s Snapshot) Uptime(now time.Time) time.Duration {
	if s.Status != transport.Connected || s.ConnectedSince.IsZero() {
		return 0
	}
	return now.Sub(s.ConnectedSince)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// FormatDuration returns a human-readable duration string.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return strconv.Itoa(mins) + "m"
		}
		return strconv.Itoa(mins) + "m " + strconv.Itoa(secs) + "s"
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return strconv.Itoa(hours) + "h " + strconv.Itoa(mins) + "m"
}
