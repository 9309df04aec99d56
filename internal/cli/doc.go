// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the streamchat command line.
//
// Commands:
//
//	streamchat                 Full-screen chat (falls back to chat when not a TTY)
//	streamchat chat            Line-oriented chat REPL
//	streamchat status          Check the backend, model configuration and socket
//	streamchat config ...      Show, init, get or set configuration values
//	streamchat version         Print version information
//
// Global flags are accepted anywhere on the command line:
//
//	--config PATH       Load this file instead of ~/.streamchat/config.toml
//	--token TOKEN       Session token (overrides STREAMCHAT_TOKEN and auth.token)
//	--server URL        Backend base URL (overrides server.url)
//	--log-level LEVEL   debug, info, warn or error
//	--json              Machine-readable output where supported
//	--no-color          Disable colored output
//	-v, --verbose       More detail
//	-q, --quiet         Less detail
//
// Handlers return errors and main maps them to exit codes with GetExitCode.
package cli
