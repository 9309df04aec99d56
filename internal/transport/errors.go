// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated is returned by Connect when no token is available.
	ErrUnauthenticated = errors.New("transport: no auth token")

	// ErrNotConnected is returned by Send when the connection is not open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("transport: closed")
)

// ClosedError reports why a connection dropped or a dial failed.
type ClosedError struct {
	// Code is the WebSocket close code when the peer sent one, else 0.
	Code int
	// Reason is the close reason text sent by the peer, if any.
	Reason string
	// Err is the underlying read or dial error.
	Err error
}

func (e *ClosedError) Error() string {
	switch {
	case e.Code != 0 && e.Reason != "":
		return fmt.Sprintf("connection closed (%d %s)", e.Code, e.Reason)
	case e.Code != 0:
		return fmt.Sprintf("connection closed (%d)", e.Code)
	case e.Err != nil:
		return fmt.Sprintf("connection closed: %v", e.Err)
	default:
		return "connection closed"
	}
}

func (e *ClosedError) Unwrap() error {
	return e.Err
}

// IsPolicyViolation reports whether err is a close with code 1008, which the
// backend uses to reject a bad token.
func IsPolicyViolation(err error) bool {
	var ce *ClosedError
	return errors.As(err, &ce) && ce.Code == closePolicyViolation
}

// ErrGaveUp is carried by the EventGaveUp event once the reconnect policy's
// attempt limit is reached.
var ErrGaveUp = errors.New("transport: reconnect attempts exhausted")
