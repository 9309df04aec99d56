// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for streamchat.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, validation and live reload.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ServerConfig: Backend base URL and WebSocket path
//   - ReconnectConfig: Reconnect delay, growth and attempt limit
//   - SessionConfig: Turn timeout and welcome message
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (STREAMCHAT_*)
//   - ~/.streamchat/config.toml
//   - ~/.streamchat/config.json
//   - Built-in defaults
//
// The session token additionally honours the --token flag, which wins over
// both the environment and the file (see ResolveToken).
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	tr := transport.New(cfg.WebSocketURL(), transport.WithPolicy(cfg.ReconnectPolicy()))
package config
