// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdStatus
	CmdConfig
	CmdVersion
	CmdHelp
)

func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdChat:
		return "chat"
	case CmdStatus:
		return "status"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Token      string
	ServerURL  string
	LogLevel   string
	Verbose    bool
	Quiet      bool
	JSON       bool
	NoColor    bool

	// config command
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw holds the arguments after the command name.
	Raw []string
}

var boolFlags = []string{"json", "no-color", "verbose", "v", "quiet", "q", "help", "h", "version"}

// Parse turns argv (without the program name) into a command and its
// arguments.
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath: p.Flag("config", "c"),
		Token:      p.Flag("token"),
		ServerURL:  p.Flag("server", "s"),
		LogLevel:   p.Flag("log-level"),
		Verbose:    p.BoolFlag("verbose", "v"),
		Quiet:      p.BoolFlag("quiet", "q"),
		JSON:       p.BoolFlag("json"),
		NoColor:    p.BoolFlag("no-color"),
		Raw:        p.PositionalFrom(1),
	}

	if p.BoolFlag("version") {
		return CmdVersion, args, nil
	}
	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}

	switch sub := p.Subcommand(); sub {
	case "":
		return CmdTUI, args, nil
	case "chat":
		return CmdChat, args, nil
	case "status", "s":
		return CmdStatus, args, nil
	case "config":
		args.Subcommand = p.Positional(1)
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		args.ConfigKey = p.Positional(2)
		args.ConfigVal = strings.Join(p.PositionalFrom(3), " ")
		return CmdConfig, args, nil
	case "version":
		return CmdVersion, args, nil
	case "help":
		return CmdHelp, args, nil
	default:
		return CmdHelp, args, NewValidationErrorWithExample("command", sub, "unknown command", "streamchat help")
	}
}

// =============================================================================
// HELP AND VERSION
// =============================================================================

const usageText = `streamchat - terminal client for a streaming chat backend

Usage:
  streamchat [flags]                 Full-screen chat
  streamchat chat [flags]            Line-oriented chat
  streamchat status [flags]          Check backend, model configuration and socket
  streamchat config [show|path|init|get|set] [key] [value]
  streamchat version

Flags:
  -c, --config PATH      Config file (default ~/.streamchat/config.toml)
      --token TOKEN      Session token
  -s, --server URL       Backend base URL
      --log-level LEVEL  debug, info, warn or error
      --json             JSON output (status, config, version)
      --no-color         Disable colors
  -v, --verbose          More detail
  -q, --quiet            Less detail

Environment:
  STREAMCHAT_HOME, STREAMCHAT_TOKEN, STREAMCHAT_SERVER_URL,
  STREAMCHAT_LOG_LEVEL, STREAMCHAT_RECONNECT_DELAY_MS, NO_COLOR

Chat keys:
  enter send   ctrl+t toggle thought   ctrl+r re-check model   ctrl+c quit
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information, as JSON when args.JSON is set.
func PrintVersion(w io.Writer, args Args) error {
	if args.JSON {
		return writeJSON(w, map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		})
	}
	fmt.Fprintf(w, "streamchat %s\n", Version)
	if !args.Quiet {
		fmt.Fprintf(w, "  commit:   %s\n", GitCommit)
		fmt.Fprintf(w, "  built:    %s\n", BuildDate)
		fmt.Fprintf(w, "  go:       %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	return nil
}
