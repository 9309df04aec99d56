// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/transport"
)

const (
	statusTimeout = 5 * time.Second
	// settleTime catches a socket that is accepted and then closed for a
	// bad token.
	settleTime = 500 * time.Millisecond
)

// CheckResult is one line of the status report.
type CheckResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`

	err error
}

// StatusReport is the output of the status command.
type StatusReport struct {
	Server    string            `json:"server"`
	WebSocket string            `json:"websocket"`
	HasToken  bool              `json:"has_token"`
	Model     *modelconfig.Info `json:"model,omitempty"`
	Checks    []CheckResult     `json:"checks"`
}

// OK reports whether every check passed.
func (r StatusReport) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Err returns the first failure, for exit code mapping.
func (r StatusReport) Err() error {
	for _, c := range r.Checks {
		if !c.OK {
			if c.err != nil {
				return c.err
			}
			return fmt.Errorf("%s: %s", c.Name, c.Error)
		}
	}
	return nil
}

// HandleStatus checks the backend, the model configuration and the socket.
func HandleStatus(ctx context.Context, args Args) error {
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer logging.Close()

	report := RunStatus(ctx, app)
	if args.JSON {
		if err := writeJSON(os.Stdout, report); err != nil {
			return err
		}
	} else {
		printStatusReport(os.Stdout, report, args.Verbose)
	}
	return report.Err()
}

// RunStatus performs the checks in order. Later checks are skipped once
// the backend is unreachable.
func RunStatus(ctx context.Context, app *App) StatusReport {
	report := StatusReport{
		Server:    app.Config.APIBaseURL(),
		WebSocket: app.Config.WebSocketURL(),
		HasToken:  app.Token != "",
	}
	client := app.ModelConfigClient()

	pingCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	msg, err := client.Ping(pingCtx)
	cancel()
	report.Checks = append(report.Checks, check("backend", msg, err))
	if err != nil {
		return report
	}

	if !report.HasToken {
		report.Checks = append(report.Checks, check("token", "", transport.ErrUnauthenticated))
		return report
	}

	cfgCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	info, err := client.Fetch(cfgCtx)
	cancel()
	if err == nil {
		report.Model = &info
		if !info.Configured() {
			err = fmt.Errorf("%w: %s", ErrModelNotConfigured, info.Message)
		}
	}
	report.Checks = append(report.Checks, check("model", info.String(), err))

	report.Checks = append(report.Checks, probeSocket(ctx, app))
	return report
}

func check(name, detail string, err error) CheckResult {
	c := CheckResult{Name: name, OK: err == nil, Detail: detail, err: err}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// probeSocket opens the chat socket once without retrying.
func probeSocket(ctx context.Context, app *App) CheckResult {
	tr := transport.New(app.Config.WebSocketURL(),
		transport.WithPolicy(transport.ReconnectPolicy{MaxAttempts: 1}),
		transport.WithLogger(logging.WithComponent("status")),
	)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()

	if err := tr.Connect(ctx, app.Token); err != nil {
		return check("websocket", "", err)
	}

	var settle <-chan time.Time
	for {
		select {
		case ev := <-tr.Events():
			switch {
			case ev.Kind == transport.EventGaveUp:
				return check("websocket", "", ev.Err)
			case ev.Kind == transport.EventStatus && ev.Status == transport.Connected:
				settle = time.After(settleTime)
			case ev.Kind == transport.EventStatus && ev.Status == transport.Disconnected && ev.Err != nil:
				return check("websocket", "", ev.Err)
			}
		case <-settle:
			return check("websocket", "connected", nil)
		case <-ctx.Done():
			return check("websocket", "", ctx.Err())
		}
	}
}

func printStatusReport(w io.Writer, r StatusReport, verbose bool) {
	fmt.Fprintln(w, TitleStyle.Render("streamchat status"))
	fmt.Fprintln(w, separator())
	printKV(w, "Server", r.Server)
	if verbose {
		printKV(w, "WebSocket", r.WebSocket)
	}
	printKV(w, "Token", map[bool]string{true: "set", false: "missing"}[r.HasToken])
	fmt.Fprintln(w)

	for _, c := range r.Checks {
		detail := c.Detail
		if !c.OK {
			detail = ErrorStyle.Render(c.Error)
		}
		printCheck(w, c.OK, c.Name, detail)
	}
	if r.Model != nil && !r.Model.Configured() && r.Model.Message != "" {
		fmt.Fprintf(w, "\n  %s\n", WarningStyle.Render(r.Model.Message))
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
