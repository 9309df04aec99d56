// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/protocol"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	cfg.FrameRate = 0
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	frame, err := protocol.EncodeOutbound(text, time.Now())
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readTurn reads decoded events up to and including the next end event.
func readTurn(t *testing.T, conn *websocket.Conn) []protocol.StreamEvent {
	t.Helper()
	var events []protocol.StreamEvent
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := protocol.Decode(data)
		require.NoError(t, err, "frame %s", data)
		events = append(events, ev)
		if ev.Type() == protocol.TypeEnd {
			return events
		}
	}
}

// =============================================================================
// HTTP TESTS
// =============================================================================

func TestPing(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	resp, err := http.Get(ts.URL + "/api/ping")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", body["message"])
}

func TestModelConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tokens["blank"] = modelconfig.Info{}
	_, ts := newTestServer(t, cfg)

	testCases := []struct {
		name       string
		cookie     string
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{"no cookie", "", http.StatusUnauthorized, "detail", "No token provided"},
		{"unknown token", "nope", http.StatusUnauthorized, "detail", "Invalid token"},
		{"configured", DefaultToken, http.StatusOK, "model", "echo"},
		{"unconfigured", "blank", http.StatusOK, "message", NotConfiguredMessage},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/model-config", nil)
			require.NoError(t, err)
			if tc.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tc.cookie})
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tc.wantStatus, resp.StatusCode)
			assert.Equal(t, tc.wantValue, body[tc.wantKey])
		})
	}
}

func TestModelConfig_WorksWithClient(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	client := modelconfig.NewClient(ts.URL, DefaultToken)

	info, err := client.Fetch(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Configured())

	srv.SetModel(DefaultToken, modelconfig.Info{})
	info, err = client.Fetch(context.Background())
	require.NoError(t, err)
	assert.False(t, info.Configured())
	assert.Equal(t, NotConfiguredMessage, info.Message)

	_, err = modelconfig.NewClient(ts.URL, "wrong").Fetch(context.Background())
	assert.ErrorIs(t, err, modelconfig.ErrUnauthorized)
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowOrigins = []string{"http://localhost:5173"}
	_, ts := newTestServer(t, cfg)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/model-config", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

// =============================================================================
// WEBSOCKET TESTS
// =============================================================================

func TestChat_RejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	for _, token := range []string{"", "nope"} {
		conn := dial(t, ts, token)
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err := conn.ReadMessage()

		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "token %q: %v", token, err)
		assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	}
}

func TestChat_EchoScript(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts, DefaultToken)

	send(t, conn, "hello there")
	events := readTurn(t, conn)

	var thought, final strings.Builder
	ids := map[string]bool{}
	for _, ev := range events {
		ids[ev.Meta().MessageID] = true
		assert.False(t, ev.Meta().Time().IsZero(), "timestamp %q", ev.Meta().Timestamp)
		switch e := ev.(type) {
		case protocol.AgentThought:
			assert.Empty(t, final.String(), "thought after final")
			thought.WriteString(e.Content)
		case protocol.FinalResponse:
			final.WriteString(e.Content)
		}
	}
	assert.Len(t, ids, 1, "one message id per turn")
	assert.Equal(t, "Reading the message and preparing a reply.", thought.String())
	assert.Equal(t, "You said: hello there", final.String())
	assert.Equal(t, 1, srv.Turns())

	send(t, conn, "again")
	second := readTurn(t, conn)
	assert.NotEqual(t, events[0].Meta().MessageID, second[0].Meta().MessageID)
}

func TestChat_InvalidJSON(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts, DefaultToken)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	events := readTurn(t, conn)

	require.Len(t, events, 2)
	remote, ok := events[0].(protocol.RemoteError)
	require.True(t, ok)
	assert.Equal(t, InvalidJSONMessage, remote.Content)
	assert.Empty(t, events[1].Meta().MessageID, "bare end frame")
}

func TestChat_ScriptError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Script = ScriptFunc(func(ctx context.Context, turn Turn, out *Emitter) error {
		if err := out.Thought("working"); err != nil {
			return err
		}
		return errors.New("model exploded")
	})
	_, ts := newTestServer(t, cfg)
	conn := dial(t, ts, DefaultToken)

	send(t, conn, "hi")
	events := readTurn(t, conn)

	require.Len(t, events, 3)
	assert.Equal(t, protocol.TypeAgentThought, events[0].Type())
	remote, ok := events[1].(protocol.RemoteError)
	require.True(t, ok)
	assert.Equal(t, "model exploded", remote.Content)
	assert.Equal(t, protocol.TypeEnd, events[2].Type())
}

func TestChat_RawFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Script = ScriptFunc(func(ctx context.Context, turn Turn, out *Emitter) error {
		if err := out.Raw([]byte(`{"type":"tool_call","content":"x"}`)); err != nil {
			return err
		}
		return out.End()
	})
	_, ts := newTestServer(t, cfg)
	conn := dial(t, ts, DefaultToken)

	send(t, conn, "hi")
	events := readTurn(t, conn)
	require.Len(t, events, 2)
	unknown, ok := events[0].(protocol.Unknown)
	require.True(t, ok)
	assert.Equal(t, "tool_call", unknown.Kind)
}

func TestDropConnections(t *testing.T) {
	srv, ts := newTestServer(t, DefaultConfig())
	conn := dial(t, ts, DefaultToken)

	require.Eventually(t, func() bool { return srv.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)
	srv.DropConnections()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	require.Eventually(t, func() bool { return srv.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestChunk(t *testing.T) {
	testCases := []struct {
		text string
		n    int
		want []string
	}{
		{"a b c d e", 2, []string{"a b ", "c d ", "e"}},
		{"single", 3, []string{"single"}},
		{"", 2, nil},
		{"a b", 0, []string{"a ", "b"}},
	}
	for _, tc := range testCases {
		got := Chunk(tc.text, tc.n)
		assert.Equal(t, tc.want, got, "Chunk(%q, %d)", tc.text, tc.n)
		assert.Equal(t, tc.text, strings.Join(got, ""))
	}
}
