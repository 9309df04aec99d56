// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/streamchat/internal/config"
)

// HandleConfig runs "config show|path|init|get|set|keys".
func HandleConfig(args Args) error {
	return runConfig(os.Stdout, args)
}

func runConfig(w io.Writer, args Args) error {
	if args.NoColor {
		ForceColorsEnabled(false)
		applyColorProfile()
	}

	switch args.Subcommand {
	case "path":
		path, err := targetConfigPath(args)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, path)
		return nil

	case "init":
		return configInit(w, args)

	case "keys":
		for _, k := range config.GetAllKeys() {
			fmt.Fprintln(w, k)
		}
		return nil
	}

	cfg, _, loadErr := loadConfig(args)

	switch args.Subcommand {
	case "show":
		if args.JSON {
			safe := cfg.Clone()
			if safe.Auth.Token != "" {
				safe.Auth.Token = "[REDACTED]"
			}
			if err := writeJSON(w, safe); err != nil {
				return err
			}
		} else {
			fmt.Fprint(w, cfg.String())
		}
		return loadErr

	case "get":
		if args.ConfigKey == "" {
			return NewValidationErrorWithExample("key", "", "missing key", "streamchat config get server.url")
		}
		v, err := cfg.Get(args.ConfigKey)
		if err != nil {
			return NewValidationError("key", args.ConfigKey, err.Error())
		}
		if args.ConfigKey == "auth.token" && v != "" {
			v = "[REDACTED]"
		}
		if args.JSON {
			return writeJSON(w, map[string]interface{}{"key": args.ConfigKey, "value": v})
		}
		fmt.Fprintln(w, v)
		return nil

	case "set":
		return configSet(w, args)

	default:
		return NewValidationErrorWithExample("config subcommand", args.Subcommand,
			"must be one of: show, path, init, get, set, keys", "streamchat config set ui.theme dark")
	}
}

// targetConfigPath is --config or the default TOML path.
func targetConfigPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	if path := existingConfigFile(); path != "" {
		return path, nil
	}
	return config.ConfigPathTOML()
}

func configInit(w io.Writer, args Args) error {
	path, err := targetConfigPath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return NewCommandError("config", "init", "file already exists: "+path, nil)
	}
	save := func() error { return saveTo(config.Default(), path) }
	if args.ConfigPath == "" {
		save = func() error { return config.Save(config.Default()) }
	}
	if err := save(); err != nil {
		return NewCommandError("config", "init", "could not write "+path, err)
	}
	fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

// configSet edits the file on disk, not the environment-adjusted view.
func configSet(w io.Writer, args Args) error {
	if args.ConfigKey == "" || args.ConfigVal == "" {
		return NewValidationErrorWithExample("arguments", "", "need a key and a value", "streamchat config set server.url http://localhost:8000")
	}

	path, err := targetConfigPath(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, statErr := os.Stat(path); statErr == nil {
		if strings.HasSuffix(path, ".json") {
			err = config.LoadJSON(cfg, path)
		} else {
			err = config.LoadTOML(cfg, path)
		}
		if err != nil {
			return NewCommandError("config", "set", "could not read "+path, err)
		}
	}

	if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
		return NewValidationError("key", args.ConfigKey, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		var verrs config.ValidateErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return NewValidationError(verrs[0].Field, args.ConfigVal, verrs[0].Message)
		}
		return err
	}
	if err := saveTo(cfg, path); err != nil {
		return NewCommandError("config", "set", "could not write "+path, err)
	}

	shown := args.ConfigVal
	if args.ConfigKey == "auth.token" {
		shown = "[REDACTED]"
	}
	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args.ConfigKey, shown)
	return nil
}

func saveTo(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}
