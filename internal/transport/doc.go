// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport owns the chat WebSocket connection.
//
// A Transport dials the chat endpoint with the session token, delivers every
// inbound text frame and status change in order on a single channel, and
// redials after a drop according to a ReconnectPolicy until Close is called.
// Decoding frames is left to the caller.
package transport
