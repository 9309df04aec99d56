// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide logrus logger.
//
// The TUI owns the terminal, so by default logs go to a file under the
// config directory instead of stdout. Components obtain a tagged entry with
// WithComponent and never write to the terminal directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls logger setup.
type Options struct {
	// Level is one of debug, info, warn, error (default info).
	Level string
	// Format is "text" or "json" (default text).
	Format string
	// File is the log file path. Empty means Output is used.
	File string
	// Output is used when File is empty. Nil means io.Discard.
	Output io.Writer
}

var (
	mu     sync.RWMutex
	logger = newDiscardLogger()
	file   *os.File
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// =============================================================================
// SETUP
// =============================================================================

// Init (re)configures the global logger. A previously opened log file is
// closed once the new output is in place.
func Init(opts Options) error {
	l := logrus.New()
	l.SetLevel(ParseLevel(opts.Level))

	switch strings.ToLower(opts.Format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
			DisableColors: opts.File != "",
		})
	}

	var newFile *os.File
	switch {
	case opts.File != "":
		if err := os.MkdirAll(filepath.Dir(opts.File), 0700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		newFile = f
		l.SetOutput(f)
	case opts.Output != nil:
		l.SetOutput(opts.Output)
	default:
		l.SetOutput(io.Discard)
	}

	mu.Lock()
	old := file
	logger = l
	file = newFile
	mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

// SetLevel changes the level of the current logger in place.
func SetLevel(level string) {
	mu.RLock()
	defer mu.RUnlock()
	logger.SetLevel(ParseLevel(level))
}

// Close releases the log file, if any, and routes output to io.Discard.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(io.Discard)
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// ParseLevel maps a level name to a logrus level, defaulting to info.
func ParseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// ValidLevel reports whether level is a recognized level name.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// L returns the current global logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return L().WithField("component", name)
}
