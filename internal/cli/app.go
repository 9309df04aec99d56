// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
)

// =============================================================================
// APPLICATION WIRING
// =============================================================================

// App is the loaded configuration plus everything derived from it that a
// command needs.
type App struct {
	Config *config.Config
	// ConfigFile is the file the config came from, "" when defaults were used.
	ConfigFile string
	Token      string
	Log        *logrus.Entry
}

// loadConfig loads the config named by --config, else the default file, and
// applies the flag overrides. The returned config is usable even when err is
// non-nil so that `config` subcommands can repair a broken file.
func loadConfig(args Args) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)

	if args.ConfigPath != "" {
		path = args.ConfigPath
		cfg, err = config.LoadFromPath(path)
		if err != nil {
			cfg = config.Default()
			cfg.ApplyEnvOverrides()
		}
	} else {
		cfg, err = config.Load()
		path = existingConfigFile()
	}

	if args.ServerURL != "" {
		cfg.Server.URL = args.ServerURL
	}
	switch {
	case args.LogLevel != "":
		cfg.Logging.Level = args.LogLevel
	case args.Verbose:
		cfg.Logging.Level = "debug"
	}

	if verr := cfg.Validate(); verr != nil && err == nil {
		err = fmt.Errorf("invalid config: %w", verr)
	}
	return cfg, path, err
}

func existingConfigFile() string {
	for _, fn := range []func() (string, error){config.ConfigPathTOML, config.ConfigPathJSON} {
		path, err := fn()
		if err != nil {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// NewApp loads configuration, starts logging to the configured file and
// resolves the token.
func NewApp(args Args) (*App, error) {
	if args.NoColor {
		ForceColorsEnabled(false)
		applyColorProfile()
	}

	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	if err := logging.Init(cfg.LogOptions()); err != nil {
		// A log file we cannot open must not block the chat.
		_ = logging.Init(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}

	config.SetGlobal(cfg)

	app := &App{
		Config:     cfg,
		ConfigFile: path,
		Token:      cfg.ResolveToken(args.Token),
		Log:        logging.WithComponent("cli"),
	}
	app.Log.WithFields(logrus.Fields{
		"server":      cfg.Server.URL,
		"config_file": path,
		"has_token":   app.Token != "",
	}).Debug("configuration loaded")
	return app, nil
}

// ModelConfigClient returns the REST client for the configured backend.
func (a *App) ModelConfigClient() *modelconfig.Client {
	return modelconfig.NewClient(a.Config.APIBaseURL(), a.Token)
}

// NewTransport returns a reconnecting transport for the chat socket.
func (a *App) NewTransport() *transport.Transport {
	return transport.New(a.Config.WebSocketURL(),
		transport.WithPolicy(a.Config.ReconnectPolicy()),
		transport.WithLogger(logging.WithComponent("transport")),
	)
}

// NewSession builds an unstarted controller from the config.
func (a *App) NewSession() *session.Controller {
	cfg := session.Config{
		Token:          a.Token,
		TurnTimeout:    a.Config.TurnTimeout(),
		ShowWelcome:    a.Config.Session.ShowWelcome,
		WelcomeMessage: a.Config.Session.WelcomeMessage,
	}
	return session.New(cfg, a.NewTransport(), a.ModelConfigClient(),
		session.WithLogger(logging.WithComponent("session")))
}
