// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command devserver runs the scripted chat backend for local development.
//
//	devserver -addr :8000 -token dev-token -rate 20
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/devserver"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/modelconfig"
)

func main() {
	cfg := devserver.DefaultConfig()

	var (
		token     string
		provider  string
		modelName string
		origins   string
		frameRate float64
		logLevel  string
		logFormat string
	)
	flag.StringVar(&cfg.Addr, "addr", devserver.DefaultAddr, "listen address")
	flag.StringVar(&token, "token", devserver.DefaultToken, "accepted token")
	flag.StringVar(&provider, "provider", "devserver", "provider reported by /api/model-config (empty = unconfigured)")
	flag.StringVar(&modelName, "model", "echo", "model reported by /api/model-config (empty = unconfigured)")
	flag.StringVar(&origins, "origins", "", "comma-separated CORS origins (empty = any)")
	flag.Float64Var(&frameRate, "rate", devserver.DefaultFrameRate, "frames per second per connection (0 = unpaced)")
	flag.StringVar(&logLevel, "log-level", "info", "log level")
	flag.StringVar(&logFormat, "log-format", "text", "log format (text|json)")
	flag.Parse()

	if err := logging.Init(logging.Options{Level: logLevel, Format: logFormat, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "devserver: init logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	cfg.Tokens = map[string]modelconfig.Info{
		token: {Provider: provider, Model: modelName},
	}
	cfg.FrameRate = rate.Limit(frameRate)
	if origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := devserver.New(cfg).Run(ctx); err != nil {
		logging.L().WithError(err).Error("devserver failed")
		os.Exit(1)
	}
	logging.L().Info("devserver stopped")
}
