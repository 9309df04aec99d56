// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/streamchat/internal/logging"
)

// DefaultWatchDebounce coalesces the burst of events editors produce on save.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the result
// (a nil config and the error if the new file is invalid). The parent
// directory is watched so atomic renames are seen. Watching stops when ctx
// is done.
func Watch(ctx context.Context, path string, onChange func(*Config, error)) error {
	return WatchWithDebounce(ctx, path, DefaultWatchDebounce, onChange)
}

// WatchWithDebounce is Watch with an explicit debounce interval.
func WatchWithDebounce(ctx context.Context, path string, debounce time.Duration, onChange func(*Config, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go watchLoop(ctx, watcher, abs, debounce, onChange)
	return nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration, onChange func(*Config, error)) {
	log := logging.WithComponent("config")
	defer watcher.Close()

	// fire is nil while no reload is pending.
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			fire = time.After(debounce)

		case <-fire:
			fire = nil
			cfg, err := LoadFromPath(path)
			if err != nil {
				log.WithError(err).Warn("config reload failed")
			} else {
				log.Info("config reloaded")
			}
			onChange(cfg, err)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config watcher error")
		}
	}
}
