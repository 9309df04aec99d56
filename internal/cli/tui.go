// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/ui/chat"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// HandleTUI runs the full-screen chat. Without a terminal on both stdin and
// stdout it falls back to the line-oriented chat.
func HandleTUI(ctx context.Context, args Args) error {
	if !IsTTY() || !IsStdoutTTY() {
		return HandleChat(ctx, args)
	}

	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer logging.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := app.NewSession()
	defer sess.Close()
	if err := sess.Start(ctx); err != nil {
		// The view shows the blocked state and the reason.
		app.Log.WithError(err).Warn("session started degraded")
	}

	if app.ConfigFile != "" {
		watchLogLevel(ctx, app)
	}

	mode := app.Config.UI.Theme
	if !ColorsEnabled() {
		mode = styles.ModeDark
	}
	view := chat.New(sess, chat.Options{
		Theme:        styles.NewTheme(mode),
		Title:        "streamchat",
		ShowThoughts: app.Config.UI.ShowThoughts,
		WordWrap:     app.Config.UI.WordWrap,
	})

	p := tea.NewProgram(view,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return NewCommandError("tui", "run", "terminal program failed", err)
	}
	return nil
}

// watchLogLevel applies logging.level changes without a restart. Other
// settings take effect on the next launch.
func watchLogLevel(ctx context.Context, app *App) {
	err := config.Watch(ctx, app.ConfigFile, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		config.SetGlobal(cfg)
		logging.SetLevel(cfg.Logging.Level)
		app.Log.WithField("level", cfg.Logging.Level).Info("log level updated from config file")
	})
	if err != nil {
		app.Log.WithError(err).Warn("config watch unavailable")
	}
}
