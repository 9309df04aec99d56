// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/protocol"
)

// =============================================================================
// SCRIPT
// =============================================================================

// Turn is one user message received on a socket.
type Turn struct {
	// MessageID is the id the backend assigns to its reply.
	MessageID string

	// Content and Timestamp are copied from the client frame.
	Content   string
	Timestamp string

	// Seq counts turns on this connection, starting at 1.
	Seq int
}

// Script produces the reply frames for one turn. Returning an error makes
// the server send an error event followed by a bare end event.
type Script interface {
	Run(ctx context.Context, turn Turn, out *Emitter) error
}

// ScriptFunc adapts a function to Script.
type ScriptFunc func(ctx context.Context, turn Turn, out *Emitter) error

// Run calls f.
func (f ScriptFunc) Run(ctx context.Context, turn Turn, out *Emitter) error {
	return f(ctx, turn, out)
}

// EchoScript streams a short thought and then echoes the user's text back
// word by word.
func EchoScript() Script {
	return ScriptFunc(func(ctx context.Context, turn Turn, out *Emitter) error {
		for _, chunk := range Chunk("Reading the message and preparing a reply.", 3) {
			if err := out.Thought(chunk); err != nil {
				return err
			}
		}
		for _, chunk := range Chunk("You said: "+turn.Content, 2) {
			if err := out.Final(chunk); err != nil {
				return err
			}
		}
		return out.End()
	})
}

// Chunk splits text into pieces of n words, keeping the separating spaces
// so that concatenating the pieces gives back text.
func Chunk(text string, n int) []string {
	if n <= 0 {
		n = 1
	}
	words := strings.SplitAfter(text, " ")
	var chunks []string
	for i := 0; i < len(words); i += n {
		end := min(i+n, len(words))
		if piece := strings.Join(words[i:end], ""); piece != "" {
			chunks = append(chunks, piece)
		}
	}
	return chunks
}

// =============================================================================
// EMITTER
// =============================================================================

// pythonISOLayout matches datetime.utcnow().isoformat(), which carries no zone.
const pythonISOLayout = "2006-01-02T15:04:05.000000"

// Emitter writes frames for one turn onto a socket.
type Emitter struct {
	ctx       context.Context
	messageID string
	send      func([]byte) error
	limiter   *rate.Limiter
	now       func() time.Time
}

// MessageID is the id stamped on frames for this turn.
func (e *Emitter) MessageID() string {
	return e.messageID
}

// Thought sends an agent_thought chunk.
func (e *Emitter) Thought(content string) error {
	return e.Event(protocol.AgentThought{Header: e.header(), Content: content})
}

// Final sends a final_response chunk.
func (e *Emitter) Final(content string) error {
	return e.Event(protocol.FinalResponse{Header: e.header(), Content: content})
}

// Error sends an error event for this turn.
func (e *Emitter) Error(content string) error {
	return e.Event(protocol.RemoteError{Header: e.header(), Content: content})
}

// End closes the turn.
func (e *Emitter) End() error {
	return e.Event(protocol.End{Header: e.header()})
}

// Event encodes and sends any event.
func (e *Emitter) Event(ev protocol.StreamEvent) error {
	frame, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	return e.Raw(frame)
}

// Raw sends frame as-is after waiting for the pacing limiter.
func (e *Emitter) Raw(frame []byte) error {
	if err := e.limiter.Wait(e.ctx); err != nil {
		return fmt.Errorf("pace frame: %w", err)
	}
	return e.send(frame)
}

func (e *Emitter) header() protocol.Header {
	return protocol.Header{
		MessageID: e.messageID,
		Timestamp: e.now().UTC().Format(pythonISOLayout),
	}
}

// =============================================================================
// SOCKET WRITER
// =============================================================================

// socket serializes writes to one websocket connection.
type socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *socket) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *socket) closeWith(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = s.conn.Close()
}

func newMessageID() string {
	return uuid.NewString()
}
