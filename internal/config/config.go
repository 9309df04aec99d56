// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/transport"
	"github.com/jeranaias/streamchat/internal/util"
)

// CurrentVersion is the config file format version written by Save.
const CurrentVersion = "1"

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete streamchat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Server    ServerConfig    `toml:"server" json:"server"`
	Auth      AuthConfig      `toml:"auth" json:"auth"`
	Reconnect ReconnectConfig `toml:"reconnect" json:"reconnect"`
	Session   SessionConfig   `toml:"session" json:"session"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
	UI        UIConfig        `toml:"ui" json:"ui"`
}

// ServerConfig locates the chat backend.
type ServerConfig struct {
	// URL is the backend base URL, e.g. http://localhost:8000.
	URL string `toml:"url" json:"url"`
	// APIURL overrides URL for REST calls (model config, ping).
	APIURL string `toml:"api_url" json:"api_url"`
	// WSPath is the chat WebSocket path.
	WSPath string `toml:"ws_path" json:"ws_path"`
}

// AuthConfig holds the session token.
type AuthConfig struct {
	Token string `toml:"token" json:"token"`
}

// ReconnectConfig mirrors transport.ReconnectPolicy in file-friendly units.
type ReconnectConfig struct {
	DelayMs     int     `toml:"delay_ms" json:"delay_ms"`
	Multiplier  float64 `toml:"multiplier" json:"multiplier"`
	MaxDelayMs  int     `toml:"max_delay_ms" json:"max_delay_ms"`
	MaxAttempts int     `toml:"max_attempts" json:"max_attempts"`
}

// SessionConfig controls conversation behaviour.
type SessionConfig struct {
	// TurnTimeoutSecs force-closes a turn that never receives an end
	// event. 0 disables the timeout.
	TurnTimeoutSecs int `toml:"turn_timeout_secs" json:"turn_timeout_secs"`
	// ShowWelcome seeds the transcript with the assistant greeting.
	ShowWelcome bool `toml:"show_welcome" json:"show_welcome"`
	// WelcomeMessage replaces the default greeting text.
	WelcomeMessage string `toml:"welcome_message" json:"welcome_message"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// File is the log path. Empty means ~/.streamchat/streamchat.log.
	File string `toml:"file" json:"file"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	// Theme is "auto", "dark" or "light".
	Theme string `toml:"theme" json:"theme"`
	// WordWrap is the markdown wrap width. 0 follows the terminal width.
	WordWrap int `toml:"word_wrap" json:"word_wrap"`
	// ShowThoughts expands agent thoughts by default.
	ShowThoughts bool `toml:"show_thoughts" json:"show_thoughts"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			URL:    "http://localhost:8000",
			WSPath: "/api/ws/chat",
		},
		Reconnect: ReconnectConfig{
			DelayMs:    int(transport.DefaultReconnectDelay / time.Millisecond),
			Multiplier: 1.0,
		},
		Session: SessionConfig{
			ShowWelcome:    true,
			WelcomeMessage: model.WelcomeText,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		UI: UIConfig{
			Theme:        "auto",
			ShowThoughts: true,
		},
	}
}

// fillDefaults fills in any missing string values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaults.Server.URL
	}
	if cfg.Server.WSPath == "" {
		cfg.Server.WSPath = defaults.Server.WSPath
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = defaults.Reconnect.Multiplier
	}
	if cfg.Session.WelcomeMessage == "" {
		cfg.Session.WelcomeMessage = defaults.Session.WelcomeMessage
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the streamchat configuration directory. STREAMCHAT_HOME
// overrides the default ~/.streamchat.
func ConfigDir() (string, error) {
	if dir := os.Getenv("STREAMCHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".streamchat"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// DefaultLogPath returns ~/.streamchat/streamchat.log.
func DefaultLogPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "streamchat.log"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0700)
}

// ensureSecurePermissions tightens config files to 0600, since they may
// hold the session token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads ~/.streamchat/config.toml, falling back to config.json and then
// to defaults. Environment overrides are applied last. A file that fails to
// parse yields the defaults together with the parse error.
func Load() (*Config, error) {
	var loadErr error

	if path, err := ConfigPathTOML(); err == nil && fileExists(path) {
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
	} else if path, err := ConfigPathJSON(); err == nil && fileExists(path) {
		cfg, err := LoadFromPath(path)
		if err == nil {
			return cfg, nil
		}
		loadErr = err
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return Default(), errors.Join(loadErr, fmt.Errorf("invalid config: %w", err))
	}
	return cfg, loadErr
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		logging.WithComponent("config").WithError(err).Warn("could not secure config file permissions")
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		logging.WithComponent("config").WithError(err).Warn("could not secure config file permissions")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads a specific file (TOML unless it ends in .json), applies
// environment overrides and validates the result.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# streamchat configuration file\n")
	b.WriteString("# Generated by streamchat - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, []byte(b.String()), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes cfg as JSON atomically with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFileWithDir(path, data, 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns ValidateErrors on failure.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if err := validateBaseURL(c.Server.URL); err != nil {
		add("server.url", "%v", err)
	}
	if c.Server.APIURL != "" {
		if err := validateBaseURL(c.Server.APIURL); err != nil {
			add("server.api_url", "%v", err)
		}
	}
	if !strings.HasPrefix(c.Server.WSPath, "/") {
		add("server.ws_path", "must start with '/', got %q", c.Server.WSPath)
	}

	// Reconnect
	if c.Reconnect.DelayMs < 0 {
		add("reconnect.delay_ms", "must not be negative, got %d", c.Reconnect.DelayMs)
	}
	if c.Reconnect.Multiplier < 1.0 {
		add("reconnect.multiplier", "must be at least 1.0, got %g", c.Reconnect.Multiplier)
	}
	if c.Reconnect.MaxDelayMs < 0 {
		add("reconnect.max_delay_ms", "must not be negative, got %d", c.Reconnect.MaxDelayMs)
	} else if c.Reconnect.MaxDelayMs > 0 && c.Reconnect.MaxDelayMs < c.Reconnect.DelayMs {
		add("reconnect.max_delay_ms", "must be 0 or at least delay_ms (%d), got %d", c.Reconnect.DelayMs, c.Reconnect.MaxDelayMs)
	}
	if c.Reconnect.MaxAttempts < 0 {
		add("reconnect.max_attempts", "must not be negative, got %d", c.Reconnect.MaxAttempts)
	}

	// Session
	if c.Session.TurnTimeoutSecs < 0 {
		add("session.turn_timeout_secs", "must not be negative, got %d", c.Session.TurnTimeoutSecs)
	}

	// Logging
	if !logging.ValidLevel(c.Logging.Level) {
		add("logging.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		add("logging.format", "invalid format '%s', must be one of: text, json", c.Logging.Format)
	}

	// UI
	switch strings.ToLower(c.UI.Theme) {
	case "auto", "dark", "light":
	default:
		add("ui.theme", "invalid theme '%s', must be one of: auto, dark, light", c.UI.Theme)
	}
	if c.UI.WordWrap < 0 {
		add("ui.word_wrap", "must not be negative, got %d", c.UI.WordWrap)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %v", raw, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme in %q, must be http(s) or ws(s)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides:
//   - STREAMCHAT_SERVER_URL: overrides server.url
//   - STREAMCHAT_TOKEN: overrides auth.token
//   - STREAMCHAT_LOG_LEVEL: overrides logging.level
//   - STREAMCHAT_RECONNECT_DELAY_MS: overrides reconnect.delay_ms
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("STREAMCHAT_SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("STREAMCHAT_TOKEN"); v != "" {
		c.Auth.Token = v
	}
	if v := os.Getenv("STREAMCHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("STREAMCHAT_RECONNECT_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			c.Reconnect.DelayMs = ms
		} else {
			logging.WithComponent("config").Warnf("ignoring STREAMCHAT_RECONNECT_DELAY_MS=%q: not an integer", v)
		}
	}
}

// =============================================================================
// DERIVED SETTINGS
// =============================================================================

// WebSocketURL joins the server URL and ws_path, mapping http(s) to ws(s).
func (c *Config) WebSocketURL() string {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return c.Server.URL + c.Server.WSPath
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + c.Server.WSPath
	return u.String()
}

// APIBaseURL returns the REST base URL, mapping ws(s) to http(s).
func (c *Config) APIBaseURL() string {
	raw := c.Server.APIURL
	if raw == "" {
		raw = c.Server.URL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return strings.TrimRight(u.String(), "/")
}

// ReconnectPolicy converts the reconnect section.
func (c *Config) ReconnectPolicy() transport.ReconnectPolicy {
	return transport.ReconnectPolicy{
		Delay:       time.Duration(c.Reconnect.DelayMs) * time.Millisecond,
		Multiplier:  c.Reconnect.Multiplier,
		MaxDelay:    time.Duration(c.Reconnect.MaxDelayMs) * time.Millisecond,
		MaxAttempts: c.Reconnect.MaxAttempts,
	}
}

// TurnTimeout returns the turn timeout, 0 when disabled.
func (c *Config) TurnTimeout() time.Duration {
	return time.Duration(c.Session.TurnTimeoutSecs) * time.Second
}

// LogPath returns logging.file or the default log path.
func (c *Config) LogPath() string {
	if c.Logging.File != "" {
		return c.Logging.File
	}
	path, err := DefaultLogPath()
	if err != nil {
		return ""
	}
	return path
}

// LogOptions converts the logging section.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		File:   c.LogPath(),
	}
}

// ResolveToken applies the precedence flag > STREAMCHAT_TOKEN > auth.token.
// Environment overrides are already folded into Auth.Token by Load.
func (c *Config) ResolveToken(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv("STREAMCHAT_TOKEN"); env != "" {
		return env
	}
	return c.Auth.Token
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g. "server.url").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation. String values are
// converted to the field's type.
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if strings.TrimSpace(key) == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field := fieldByTag(v, part)
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("'%s' is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// fieldByTag finds a struct field by its toml tag.
func fieldByTag(v reflect.Value, name string) reflect.Value {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if t.Field(i).Tag.Get("toml") == name {
			return v.Field(i)
		}
	}
	return reflect.Value{}
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	var keys []string
	var walk func(prefix string, t reflect.Type)
	walk = func(prefix string, t reflect.Type) {
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			name := prefix + f.Tag.Get("toml")
			if f.Type.Kind() == reflect.Struct {
				walk(name+".", f.Type)
				continue
			}
			keys = append(keys, name)
		}
	}
	walk("", reflect.TypeOf(Config{}))
	return keys
}

// =============================================================================
// COPY AND DISPLAY
// =============================================================================

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as TOML with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Auth.Token != "" {
		safe.Auth.Token = "[REDACTED]"
	}
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(safe); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return b.String()
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance, loading it on first
// access.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
