// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across streamchat.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width aware truncation (go-runewidth)
//   - SingleLine: whitespace collapsing for previews
//
// File Operations:
//   - AtomicWriteFileWithDir: crash-safe file writing with fsync
//
// # Usage
//
//	label := util.TruncateWidth(model, 24)
//	err := util.AtomicWriteFileWithDir(path, data, 0600, 0700)
package util
