// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/devserver"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser(t *testing.T) {
	p := NewArgParser([]string{"--json", "config", "--server=http://x", "-c", "a.toml", "set", "--", "--literal"}, "json")

	assert.Equal(t, "config", p.Subcommand())
	assert.True(t, p.BoolFlag("json"))
	assert.Equal(t, "http://x", p.Flag("server"))
	assert.Equal(t, "a.toml", p.Flag("config", "c"))
	assert.Equal(t, []string{"set", "--literal"}, p.PositionalFrom(1))
	assert.Equal(t, "", p.Positional(9))
	assert.True(t, p.HasFlag("--server"))
	assert.False(t, p.HasFlag("token"))
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--n", "12", "--bad", "x"})

	n, err := p.FlagInt("n", 0)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	n, err = p.FlagInt("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = p.FlagInt("bad", 0)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "on", "1"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "No", "off", "0"} {
		b, err := ParseBoolString(s)
		require.NoError(t, err, s)
		assert.False(t, b, s)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// PARSE TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		want    Command
		check   func(*testing.T, Args)
		wantErr bool
	}{
		{name: "no args is tui", argv: nil, want: CmdTUI},
		{
			name: "global flags before command",
			argv: []string{"--token", "abc", "--server", "http://h:1", "chat"},
			want: CmdChat,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "abc", a.Token)
				assert.Equal(t, "http://h:1", a.ServerURL)
			},
		},
		{
			name: "bool flag does not swallow command",
			argv: []string{"--json", "status"},
			want: CmdStatus,
			check: func(t *testing.T, a Args) {
				assert.True(t, a.JSON)
			},
		},
		{
			name: "config defaults to show",
			argv: []string{"config"},
			want: CmdConfig,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "show", a.Subcommand)
			},
		},
		{
			name: "config set joins value",
			argv: []string{"config", "set", "session.welcome_message", "hello", "there"},
			want: CmdConfig,
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "set", a.Subcommand)
				assert.Equal(t, "session.welcome_message", a.ConfigKey)
				assert.Equal(t, "hello there", a.ConfigVal)
			},
		},
		{name: "version flag", argv: []string{"chat", "--version"}, want: CmdVersion},
		{name: "help flag", argv: []string{"-h"}, want: CmdHelp},
		{name: "verbose short", argv: []string{"-v", "chat"}, want: CmdChat, check: func(t *testing.T, a Args) { assert.True(t, a.Verbose) }},
		{name: "unknown command", argv: []string{"frobnicate"}, want: CmdHelp, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := Parse(tt.argv)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, ExitUsageError, GetExitCode(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, cmd, "got %s", cmd)
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestPrintVersion_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintVersion(&buf, Args{JSON: true}))

	var out map[string]string
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, Version, out["version"])
	assert.NotEmpty(t, out["go_version"])
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"validation", NewValidationError("key", "x", "bad"), ExitUsageError},
		{"config validation", fmt.Errorf("invalid config: %w", config.ValidateErrors{{Field: "ui.theme", Message: "bad"}}), ExitConfigError},
		{"unconfigured", fmt.Errorf("%w: pick one", ErrModelNotConfigured), ExitConfigError},
		{"no token", transport.ErrUnauthenticated, ExitAuthError},
		{"rejected token", &transport.ClosedError{Code: 1008, Reason: "Invalid token"}, ExitAuthError},
		{"http 401", &modelconfig.ClientError{Type: modelconfig.ErrTypeUnauthorized, Message: "401"}, ExitAuthError},
		{"unreachable", &modelconfig.ClientError{Type: modelconfig.ErrTypeConnection, Message: "refused"}, ExitNetworkError},
		{"gave up", transport.ErrGaveUp, ExitNetworkError},
		{"dropped", &transport.ClosedError{Code: 1006}, ExitNetworkError},
		{"deadline", context.DeadlineExceeded, ExitTimeoutError},
		{"turn timeout", session.ErrTurnTimeout, ExitTimeoutError},
		{"message fallback", errors.New("dial tcp: connection refused"), ExitNetworkError},
		{"general", errors.New("boom"), ExitGeneralError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, transport.ErrUnauthenticated, false)
	assert.Contains(t, buf.String(), "[ERROR]")
	assert.Contains(t, buf.String(), "--token")

	buf.Reset()
	DisplayError(&buf, NewCommandError("config", "init", "exists", nil), true)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "command_error", out["error_type"])
	assert.Equal(t, "init", out["action"])

	buf.Reset()
	DisplayError(&buf, nil, false)
	assert.Empty(t, buf.String())
}

// =============================================================================
// CONFIG COMMAND TESTS
// =============================================================================

func useTempHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STREAMCHAT_HOME", dir)
	t.Setenv("STREAMCHAT_TOKEN", "")
	t.Setenv("STREAMCHAT_SERVER_URL", "")
	t.Setenv("STREAMCHAT_LOG_LEVEL", "")
	return dir
}

func TestConfigCommand_InitSetGet(t *testing.T) {
	home := useTempHome(t)
	var buf bytes.Buffer

	require.NoError(t, runConfig(&buf, Args{Subcommand: "path"}))
	assert.Equal(t, filepath.Join(home, "config.toml"), strings.TrimSpace(buf.String()))

	buf.Reset()
	require.NoError(t, runConfig(&buf, Args{Subcommand: "init"}))
	assert.FileExists(t, filepath.Join(home, "config.toml"))

	err := runConfig(&buf, Args{Subcommand: "init"})
	assert.Error(t, err, "init must not overwrite")

	buf.Reset()
	require.NoError(t, runConfig(&buf, Args{Subcommand: "set", ConfigKey: "session.turn_timeout_secs", ConfigVal: "45"}))
	assert.Contains(t, buf.String(), "session.turn_timeout_secs = 45")

	buf.Reset()
	require.NoError(t, runConfig(&buf, Args{Subcommand: "get", ConfigKey: "session.turn_timeout_secs"}))
	assert.Equal(t, "45", strings.TrimSpace(buf.String()))

	cfg, err := config.LoadFromPath(filepath.Join(home, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.TurnTimeout())
}

func TestConfigCommand_SetRejectsInvalid(t *testing.T) {
	useTempHome(t)
	var buf bytes.Buffer

	err := runConfig(&buf, Args{Subcommand: "set", ConfigKey: "ui.theme", ConfigVal: "neon"})
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	err = runConfig(&buf, Args{Subcommand: "set", ConfigKey: "no.such", ConfigVal: "1"})
	require.Error(t, err)

	err = runConfig(&buf, Args{Subcommand: "set", ConfigKey: "ui.theme"})
	require.Error(t, err)
}

func TestConfigCommand_TokenIsRedacted(t *testing.T) {
	useTempHome(t)
	var buf bytes.Buffer

	require.NoError(t, runConfig(&buf, Args{Subcommand: "set", ConfigKey: "auth.token", ConfigVal: "s3cret"}))
	assert.NotContains(t, buf.String(), "s3cret")

	buf.Reset()
	require.NoError(t, runConfig(&buf, Args{Subcommand: "get", ConfigKey: "auth.token"}))
	assert.NotContains(t, buf.String(), "s3cret")

	buf.Reset()
	require.NoError(t, runConfig(&buf, Args{Subcommand: "show", JSON: true}))
	assert.NotContains(t, buf.String(), "s3cret")
	assert.Contains(t, buf.String(), "[REDACTED]")
}

func TestConfigCommand_UnknownSubcommand(t *testing.T) {
	useTempHome(t)
	err := runConfig(&bytes.Buffer{}, Args{Subcommand: "explode"})
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	useTempHome(t)

	cfg, path, err := loadConfig(Args{ServerURL: "https://chat.example.com", Verbose: true})
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "wss://chat.example.com/api/ws/chat", cfg.WebSocketURL())

	_, _, err = loadConfig(Args{ServerURL: "ftp://nope"})
	assert.Equal(t, ExitConfigError, GetExitCode(err))
}

// =============================================================================
// CHAT OUTPUT TESTS
// =============================================================================

func TestWriteDelta(t *testing.T) {
	var buf bytes.Buffer
	printed := writeDelta(&buf, "", "Hel")
	printed = writeDelta(&buf, printed, "Hello")
	assert.Equal(t, "Hello", buf.String())

	writeDelta(&buf, printed, "Goodbye")
	assert.Equal(t, "Hello\nGoodbye", buf.String())
}

func TestTurnPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := &turnPrinter{out: &buf, showThoughts: true}

	msg := model.NewAssistantMessage("a1", time.Now())
	msg.Pending = false
	msg.Streaming = true
	msg.AgentThought = "Looking"
	p.update(msg)
	msg.AgentThought = "Looking it up"
	p.update(msg)
	msg.FinalAnswer = "Answer"
	p.update(msg)
	msg.AgentThought = "Looking it up more"
	msg.FinalAnswer = "Answer here."
	msg.Streaming = false
	msg.ErrorText = "quota exceeded"
	p.update(msg)
	p.finish(msg)

	out := buf.String()
	assert.Contains(t, out, "thinking> Looking it up\n")
	assert.Contains(t, out, "assistant> Answer here.\n")
	assert.NotContains(t, out, "more")
	assert.Contains(t, out, "Error: quota exceeded")
}

func TestReplyAfter(t *testing.T) {
	now := time.Now()
	tr := model.Transcript{
		model.NewWelcomeMessage("", now),
		model.NewUserMessage("u1", "hi", now),
		model.NewAssistantMessage("a1", now),
	}
	msg, ok := replyAfter(tr, 1)
	require.True(t, ok)
	assert.Equal(t, "a1", msg.ID)

	_, ok = replyAfter(tr, 3)
	assert.False(t, ok)
}

// =============================================================================
// LIVE TESTS AGAINST THE DEV SERVER
// =============================================================================

func newLiveApp(t *testing.T, token string) (*App, *devserver.Server) {
	t.Helper()
	useTempHome(t)

	dcfg := devserver.DefaultConfig()
	dcfg.FrameRate = 0
	dcfg.Logger = logging.WithComponent("devserver-test")
	srv := devserver.New(dcfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Server.URL = ts.URL
	cfg.Reconnect.DelayMs = 100
	return &App{Config: cfg, Token: token, Log: logging.WithComponent("cli-test")}, srv
}

func runREPL(t *testing.T, app *App, input string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess := app.NewSession()
	t.Cleanup(func() { sess.Close() })
	_ = sess.Start(ctx)

	var out bytes.Buffer
	r := &repl{
		sess:         sess,
		in:           newScanReader(strings.NewReader(input)),
		out:          &out,
		showThoughts: true,
		readyTimeout: 5 * time.Second,
	}
	err := r.run(ctx)
	return out.String(), err
}

func TestREPL_EchoTurn(t *testing.T) {
	app, srv := newLiveApp(t, devserver.DefaultToken)

	out, err := runREPL(t, app, "hello there\n/status\n/quit\nnever sent\n")
	require.NoError(t, err)

	assert.Contains(t, out, model.WelcomeText)
	assert.Contains(t, out, "thinking> Reading the message and preparing a reply.")
	assert.Contains(t, out, "assistant> You said: hello there\n")
	assert.Contains(t, out, "connected")
	assert.NotContains(t, out, "never sent")
	assert.Equal(t, 1, srv.Turns())
}

func TestREPL_UnconfiguredModelStopsPipedInput(t *testing.T) {
	app, srv := newLiveApp(t, devserver.DefaultToken)
	srv.SetModel(devserver.DefaultToken, modelconfig.Info{Message: "Pick a model first."})

	out, err := runREPL(t, app, "hello\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelNotConfigured)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
	assert.Contains(t, out, "Pick a model first.")
	assert.Equal(t, 0, srv.Turns())
}

func TestREPL_AuthFailureStopsPipedInput(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"rejected token", "wrong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, srv := newLiveApp(t, tt.token)

			out, err := runREPL(t, app, "hello\n")
			require.Error(t, err)
			assert.ErrorIs(t, err, transport.ErrUnauthenticated)
			assert.NotErrorIs(t, err, ErrModelNotConfigured)
			assert.Equal(t, ExitAuthError, GetExitCode(err))
			assert.Contains(t, out, "not authenticated")
			assert.Equal(t, 0, srv.Turns())
		})
	}
}

func TestREPL_UnknownCommand(t *testing.T) {
	app, _ := newLiveApp(t, devserver.DefaultToken)

	out, err := runREPL(t, app, "/dance\n/help\n")
	require.NoError(t, err)
	assert.Contains(t, out, "unknown command /dance")
	assert.Contains(t, out, "/refresh")
}

func TestRunStatus_AllChecksPass(t *testing.T) {
	app, _ := newLiveApp(t, devserver.DefaultToken)

	report := RunStatus(context.Background(), app)
	require.True(t, report.OK(), "%+v", report.Checks)
	require.Len(t, report.Checks, 3)
	assert.Equal(t, "devserver/echo", report.Model.String())
	assert.NoError(t, report.Err())

	var buf bytes.Buffer
	printStatusReport(&buf, report, true)
	assert.Contains(t, buf.String(), "[OK]")
	assert.Contains(t, buf.String(), "/api/ws/chat")
}

func TestRunStatus_BadToken(t *testing.T) {
	app, _ := newLiveApp(t, "wrong")

	report := RunStatus(context.Background(), app)
	assert.False(t, report.OK())
	assert.Equal(t, ExitAuthError, GetExitCode(report.Err()))
}

func TestRunStatus_MissingToken(t *testing.T) {
	app, _ := newLiveApp(t, "")

	report := RunStatus(context.Background(), app)
	require.Len(t, report.Checks, 2)
	assert.Equal(t, ExitAuthError, GetExitCode(report.Err()))
}

func TestRunStatus_Unreachable(t *testing.T) {
	useTempHome(t)
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	cfg := config.Default()
	cfg.Server.URL = url
	app := &App{Config: cfg, Token: "t", Log: logging.WithComponent("cli-test")}

	report := RunStatus(context.Background(), app)
	require.Len(t, report.Checks, 1)
	assert.Equal(t, ExitNetworkError, GetExitCode(report.Err()))
}

func TestMain(m *testing.M) {
	ForceColorsEnabled(false)
	applyColorProfile()
	os.Exit(m.Run())
}
