// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs one chat session: it looks up the model
// configuration, drives the transport, folds inbound events into the
// transcript and publishes immutable snapshots for presentation.
//
// # Key Types
//
//   - Controller: the session event loop
//   - Snapshot: copy of the session state handed to the UI
//   - Transport: the connection the controller drives
//
// # Usage
//
//	tr := transport.New(cfg.WebSocketURL(), transport.WithPolicy(cfg.ReconnectPolicy()))
//	src := modelconfig.NewClient(cfg.APIBaseURL(), token)
//	ctrl := session.New(session.Config{Token: token}, tr, src)
//	if err := ctrl.Start(ctx); err != nil {
//	    // blocked state is also visible in ctrl.Snapshot()
//	}
//	defer ctrl.Close()
//
//	for snap := range ctrl.Subscribe() {
//	    render(snap)
//	}
//
// # Concurrency
//
// Transport events, submissions, config refreshes and the turn timeout are
// all handled on one goroutine, so transcript state needs no locks.
// Subscribers always receive the latest snapshot; intermediate ones may be
// skipped when a reader falls behind.
package session
