// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the frames exchanged with the chat backend.
//
// Inbound frames are JSON objects discriminated by "type":
//
//	{"type":"agent_thought","content":"...","message_id":"...","timestamp":"..."}
//	{"type":"final_response","content":"...","message_id":"...","timestamp":"..."}
//	{"type":"error","content":"...","message_id":"...","timestamp":"..."}
//	{"type":"end","message_id":"...","timestamp":"..."}
//
// Decode turns one frame into a StreamEvent. StreamEvent is a closed set:
// AgentThought, FinalResponse, RemoteError, End and Unknown. Unknown carries
// any other discriminant so newer backends never break older clients.
//
// The only outbound frame is {"content":"...","timestamp":"<ISO8601>"},
// built by EncodeOutbound.
package protocol
