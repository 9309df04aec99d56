// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for the chat transcript.
//
// This package defines the domain types shared by the reconciler, the
// session controller and the presentation layer.
//
// # Key Types
//
//   - Message: Single transcript entry with author, accumulated agent
//     thought, final answer, error text and streaming flags
//   - Transcript: Ordered, append-only sequence of messages
//   - Author: Message author enumeration (user, assistant)
//
// # Display Rules
//
// A message shows its final answer when one has arrived and its seed content
// otherwise, so a bubble that has only received reasoning or an error is
// never blank. While a message streams, RenderedText collapses duplicate
// lines for display; the stored text is left untouched.
//
// # Usage
//
//	t := model.Transcript{model.WelcomeMessage(time.Now())}
//	t = t.Append(model.NewUserMessage("user-1", "What is 2+2?", time.Now()))
//	if last, ok := t.Last(); ok {
//	    fmt.Println(last.DisplayText())
//	}
package model
