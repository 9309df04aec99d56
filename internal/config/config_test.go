// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/streamchat/internal/model"
)

// isolate points the config directory at a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STREAMCHAT_HOME", dir)
	for _, k := range []string{"STREAMCHAT_SERVER_URL", "STREAMCHAT_TOKEN", "STREAMCHAT_LOG_LEVEL", "STREAMCHAT_RECONNECT_DELAY_MS"} {
		t.Setenv(k, "")
	}
	ResetGlobalForTesting()
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal() can be
// called concurrently.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := Default()
			c.Server.URL = "http://example.test"
			SetGlobal(c)
		}()
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
	if cfg.Reconnect.DelayMs != 3000 {
		t.Errorf("reconnect.delay_ms = %d, want 3000", cfg.Reconnect.DelayMs)
	}
	if cfg.Session.TurnTimeoutSecs != 0 {
		t.Errorf("turn timeout should be disabled by default, got %d", cfg.Session.TurnTimeoutSecs)
	}
	if cfg.Session.WelcomeMessage != model.WelcomeText {
		t.Errorf("welcome message = %q", cfg.Session.WelcomeMessage)
	}

	policy := cfg.ReconnectPolicy()
	if policy.Next(1) != 3*time.Second || policy.Next(5) != 3*time.Second {
		t.Errorf("default policy should be a fixed 3s delay, got %v / %v", policy.Next(1), policy.Next(5))
	}
	if policy.MaxAttempts != 0 {
		t.Errorf("default policy should retry forever")
	}
}

func TestConfig_DerivedURLs(t *testing.T) {
	tests := []struct {
		url, apiURL string
		wantWS      string
		wantAPI     string
	}{
		{"http://localhost:8000", "", "ws://localhost:8000/api/ws/chat", "http://localhost:8000"},
		{"https://chat.example.com/", "", "wss://chat.example.com/api/ws/chat", "https://chat.example.com"},
		{"wss://chat.example.com", "https://api.example.com", "wss://chat.example.com/api/ws/chat", "https://api.example.com"},
		{"ws://h:1", "", "ws://h:1/api/ws/chat", "http://h:1"},
	}
	for _, tc := range tests {
		cfg := Default()
		cfg.Server.URL = tc.url
		cfg.Server.APIURL = tc.apiURL
		if got := cfg.WebSocketURL(); got != tc.wantWS {
			t.Errorf("WebSocketURL(%q) = %q, want %q", tc.url, got, tc.wantWS)
		}
		if got := cfg.APIBaseURL(); got != tc.wantAPI {
			t.Errorf("APIBaseURL(%q, %q) = %q, want %q", tc.url, tc.apiURL, got, tc.wantAPI)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad scheme", func(c *Config) { c.Server.URL = "ftp://x" }, "server.url"},
		{"missing host", func(c *Config) { c.Server.URL = "http://" }, "server.url"},
		{"bad api url", func(c *Config) { c.Server.APIURL = "nope" }, "server.api_url"},
		{"relative ws path", func(c *Config) { c.Server.WSPath = "api/ws" }, "server.ws_path"},
		{"negative delay", func(c *Config) { c.Reconnect.DelayMs = -1 }, "reconnect.delay_ms"},
		{"small multiplier", func(c *Config) { c.Reconnect.Multiplier = 0.5 }, "reconnect.multiplier"},
		{"cap below delay", func(c *Config) { c.Reconnect.MaxDelayMs = 10 }, "reconnect.max_delay_ms"},
		{"negative attempts", func(c *Config) { c.Reconnect.MaxAttempts = -2 }, "reconnect.max_attempts"},
		{"negative timeout", func(c *Config) { c.Session.TurnTimeoutSecs = -1 }, "session.turn_timeout_secs"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
		{"negative wrap", func(c *Config) { c.UI.WordWrap = -1 }, "ui.word_wrap"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("Validate() = %v, want ValidateErrors", err)
			}
			found := false
			for _, ve := range verrs {
				if ve.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tc.field, verrs)
			}
		})
	}
}

func TestConfig_LoadTOMLAndEnv(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), `
[server]
url = "http://backend:9000"

[auth]
token = "file-token"

[reconnect]
delay_ms = 500
multiplier = 2.0
max_delay_ms = 4000

[session]
turn_timeout_secs = 90
show_welcome = false
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.URL != "http://backend:9000" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
	if cfg.Server.WSPath != "/api/ws/chat" {
		t.Errorf("ws_path default lost: %q", cfg.Server.WSPath)
	}
	if cfg.TurnTimeout() != 90*time.Second {
		t.Errorf("TurnTimeout() = %v", cfg.TurnTimeout())
	}
	if cfg.Session.ShowWelcome {
		t.Error("show_welcome = false was not honoured")
	}
	if !cfg.UI.ShowThoughts {
		t.Error("unspecified bool lost its default")
	}
	if got := cfg.ReconnectPolicy().Next(4); got != 4*time.Second {
		t.Errorf("capped delay = %v, want 4s", got)
	}

	t.Setenv("STREAMCHAT_TOKEN", "env-token")
	t.Setenv("STREAMCHAT_RECONNECT_DELAY_MS", "750")
	t.Setenv("STREAMCHAT_LOG_LEVEL", "debug")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() with env error = %v", err)
	}
	if cfg.Auth.Token != "env-token" || cfg.Reconnect.DelayMs != 750 || cfg.Logging.Level != "debug" {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
}

func TestConfig_LoadInvalidFallsBackToDefaults(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.toml"), "[server\nurl=")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() should report the parse error")
	}
	if cfg == nil || cfg.Server.URL != Default().Server.URL {
		t.Errorf("Load() should still return defaults, got %+v", cfg)
	}
}

func TestConfig_LoadJSONFallback(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "config.json"), `{"server":{"url":"https://json.example.com"}}`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.URL != "https://json.example.com" {
		t.Errorf("server.url = %q", cfg.Server.URL)
	}
}

func TestConfig_ResolveToken(t *testing.T) {
	isolate(t)
	cfg := Default()
	cfg.Auth.Token = "file"

	if got := cfg.ResolveToken(""); got != "file" {
		t.Errorf("ResolveToken() = %q, want file", got)
	}
	t.Setenv("STREAMCHAT_TOKEN", "env")
	if got := cfg.ResolveToken(""); got != "env" {
		t.Errorf("ResolveToken() = %q, want env", got)
	}
	if got := cfg.ResolveToken("flag"); got != "flag" {
		t.Errorf("ResolveToken(flag) = %q, want flag", got)
	}
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	dir := isolate(t)
	cfg := Default()
	cfg.Auth.Token = "secret"
	cfg.UI.WordWrap = 100

	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	path := filepath.Join(dir, "config.toml")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %o, want 600", info.Mode().Perm())
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if loaded.Auth.Token != "secret" || loaded.UI.WordWrap != 100 {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("reconnect.delay_ms", "1500"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cfg.Set("ui.show_thoughts", "false"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := cfg.Set("reconnect.multiplier", 1.5); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	v, err := cfg.Get("reconnect.delay_ms")
	if err != nil || v.(int) != 1500 {
		t.Errorf("Get(reconnect.delay_ms) = %v, %v", v, err)
	}
	if cfg.UI.ShowThoughts {
		t.Error("ui.show_thoughts should be false")
	}
	if cfg.Reconnect.Multiplier != 1.5 {
		t.Errorf("multiplier = %v", cfg.Reconnect.Multiplier)
	}

	for _, key := range []string{"nope", "server.nope", "server", "", "server.url.x"} {
		if _, err := cfg.Get(key); err == nil {
			t.Errorf("Get(%q) should fail", key)
		}
	}
	if err := cfg.Set("reconnect.delay_ms", "soon"); err == nil {
		t.Error("Set() with a non-integer should fail")
	}
}

func TestGetAllKeys(t *testing.T) {
	keys := GetAllKeys()
	cfg := Default()
	for _, k := range keys {
		if _, err := cfg.Get(k); err != nil {
			t.Errorf("key %q not resolvable: %v", k, err)
		}
	}
	joined := strings.Join(keys, ",")
	for _, want := range []string{"server.url", "auth.token", "reconnect.max_attempts", "session.turn_timeout_secs", "ui.word_wrap"} {
		if !strings.Contains(joined, want) {
			t.Errorf("GetAllKeys() missing %s", want)
		}
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "super-secret"
	s := cfg.String()
	if strings.Contains(s, "super-secret") {
		t.Error("String() leaked the token")
	}
	if cfg.Auth.Token != "super-secret" {
		t.Error("String() modified the original config")
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[logging]\nlevel = \"info\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := WatchWithDebounce(ctx, path, 20*time.Millisecond, func(c *Config, err error) {
		if err == nil {
			got <- c
		}
	}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeFile(t, path, "[logging]\nlevel = \"debug\"\n")

	select {
	case cfg := <-got:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after config change")
	}
}
