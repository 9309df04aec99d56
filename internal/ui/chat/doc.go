// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the Bubble Tea chat view.
//
// The view never mutates session state. It renders the latest
// session.Snapshot it received and forwards submissions to the session.
// Snapshots arrive through a tea.Cmd that waits on the session's
// subscription channel and re-arms itself after each delivery.
//
// # Layout
//
//	header       title, provider/model
//	viewport     transcript (assistant answers rendered as markdown)
//	input        disabled while the session is gated
//	status bar   connection, generating, gate reason, key hints
//
// # Agent thoughts
//
// Each assistant message's thought section is expanded while it streams and
// collapsed once the message closes. ctrl+t toggles the latest thought; a
// manual toggle sticks for that message.
package chat
