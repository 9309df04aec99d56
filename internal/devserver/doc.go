// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package devserver is a scripted chat backend for tests and demos.
//
// It serves the same surface the client talks to:
//
//   - GET /api/ping          {"message":"pong"}
//   - GET /api/model-config  token cookie required, 401 otherwise
//   - GET /api/ws/chat       WebSocket, ?token= required (close 1008 otherwise)
//
// Every message received on the socket is handed to a Script, which
// streams agent_thought, final_response, error and end frames back through
// an Emitter. Frames are paced by a rate.Limiter so streaming is visible in
// a terminal. Scripts can also write raw bytes, which is how tests produce
// malformed or unknown frames.
//
// Usage:
//
//	srv := devserver.New(devserver.DefaultConfig())
//	ts := httptest.NewServer(srv.Handler())
//	defer ts.Close()
package devserver
