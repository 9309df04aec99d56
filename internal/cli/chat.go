// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
	"github.com/jeranaias/streamchat/internal/ui/chat"
)

// readyTimeout bounds how long a turn waits for the socket to open.
const readyTimeout = 10 * time.Second

// =============================================================================
// INPUT
// =============================================================================

// lineReader yields one line of user input. io.EOF ends the session.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor with history kept in the config dir.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadLine reads a line and records it in history. Ctrl+C and Ctrl+D both
// end the session.
func (c *ChatCLI) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return "", io.EOF
		}
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// scanReader reads piped input without line editing.
type scanReader struct {
	sc *bufio.Scanner
}

func newScanReader(r io.Reader) *scanReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &scanReader{sc: sc}
}

func (s *scanReader) ReadLine(string) (string, error) {
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

func (s *scanReader) Close() error { return nil }

// =============================================================================
// CHAT COMMAND
// =============================================================================

// HandleChat runs the line-oriented chat until the user quits or input ends.
func HandleChat(ctx context.Context, args Args) error {
	app, err := NewApp(args)
	if err != nil {
		return err
	}
	defer logging.Close()

	sess := app.NewSession()
	defer sess.Close()
	if err := sess.Start(ctx); err != nil {
		app.Log.WithError(err).Warn("session started degraded")
	}

	var in lineReader
	interactive := IsTTY()
	if interactive {
		in = NewChatCLI()
	} else {
		in = newScanReader(os.Stdin)
	}
	defer in.Close()

	r := &repl{
		sess:         sess,
		in:           in,
		out:          os.Stdout,
		quiet:        args.Quiet,
		showThoughts: app.Config.UI.ShowThoughts,
		interactive:  interactive,
		readyTimeout: readyTimeout,
	}
	return r.run(ctx)
}

// repl drives a session from line input. Output is plain text so it works
// in pipes.
type repl struct {
	sess         chat.Session
	in           lineReader
	out          io.Writer
	quiet        bool
	showThoughts bool
	// interactive sessions report turn failures and keep going; piped
	// sessions stop at the first failure.
	interactive  bool
	readyTimeout time.Duration

	updates <-chan session.Snapshot
}

func (r *repl) run(ctx context.Context) error {
	r.updates = r.sess.Subscribe()

	if !r.quiet {
		r.printBanner(r.sess.Snapshot())
	}

	for {
		line, err := r.in.ReadLine(promptStyle.Render("you> "))
		if errors.Is(err, io.EOF) {
			if r.interactive {
				fmt.Fprintln(r.out)
			}
			return nil
		}
		if err != nil {
			return err
		}

		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			quit, err := r.command(text)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.turn(ctx, text); err != nil {
			if !r.interactive {
				return err
			}
			DisplayError(r.out, err, false)
		}
	}
}

func (r *repl) printBanner(snap session.Snapshot) {
	fmt.Fprintln(r.out, TitleStyle.Render("streamchat"))
	fmt.Fprintf(r.out, "%s\n", DimStyle.Render("model: "+snap.ModelInfo.String()+"   /help for commands"))
	if last, ok := snap.Transcript.Last(); ok && !last.IsUser() {
		fmt.Fprintf(r.out, "%s %s\n", assistantStyle.Render("assistant>"), last.DisplayText())
	}
	switch {
	case snap.Unauthenticated:
		fmt.Fprintln(r.out, WarningStyle.Render("not authenticated: set auth.token or pass --token"))
	case !snap.Configured && snap.ModelInfo.Message != "":
		fmt.Fprintln(r.out, WarningStyle.Render(snap.ModelInfo.Message))
	}
}

// command handles a slash command and reports whether to quit.
func (r *repl) command(text string) (bool, error) {
	name := strings.ToLower(strings.Fields(text)[0])
	switch name {
	case "/quit", "/exit", "/q":
		return true, nil

	case "/status", "/s":
		r.printStatus(r.sess.Snapshot())

	case "/refresh", "/r":
		r.sess.RefreshConfig()
		fmt.Fprintln(r.out, DimStyle.Render("checking model configuration..."))

	case "/help", "/h", "/?":
		fmt.Fprintln(r.out, "  /status   connection and model")
		fmt.Fprintln(r.out, "  /refresh  re-check the model configuration")
		fmt.Fprintln(r.out, "  /quit     exit (also Ctrl+D)")

	default:
		fmt.Fprintf(r.out, "%s unknown command %s (try /help)\n", WarningStyle.Render("[!]"), name)
	}
	return false, nil
}

func (r *repl) printStatus(snap session.Snapshot) {
	printKV(r.out, "Connection", snap.Status.String())
	if up := snap.Uptime(time.Now()); up > 0 {
		printKV(r.out, "Uptime", session.FormatDuration(up))
	}
	printKV(r.out, "Model", snap.ModelInfo.String())
	printKV(r.out, "Messages", fmt.Sprintf("%d", snap.Transcript.Len()))
	if snap.DroppedFrames > 0 {
		printKV(r.out, "Dropped frames", fmt.Sprintf("%d", snap.DroppedFrames))
	}
	if snap.LastError != nil {
		printKV(r.out, "Last error", snap.LastError.Error())
	}
}

// =============================================================================
// TURNS
// =============================================================================

// turn submits text and prints the reply as it streams.
func (r *repl) turn(ctx context.Context, text string) error {
	snap, err := r.waitReady(ctx)
	if err != nil {
		return err
	}
	from := snap.Transcript.Len()

	submitErr := r.sess.Submit(text)
	if errors.Is(submitErr, session.ErrGated) {
		return submitErr
	}
	// A refused send still leaves a synthetic reply to print.
	if err := r.stream(ctx, from); err != nil {
		return err
	}
	return submitErr
}

// waitReady blocks until input is accepted. A bad token or an unconfigured
// model fails immediately since waiting will not fix either.
func (r *repl) waitReady(ctx context.Context) (session.Snapshot, error) {
	snap := r.sess.Snapshot()
	timer := time.NewTimer(r.readyTimeout)
	defer timer.Stop()

	for {
		switch {
		case snap.CanSubmit():
			return snap, nil
		case snap.Unauthenticated:
			if snap.LastError != nil {
				return snap, snap.LastError
			}
			return snap, transport.ErrUnauthenticated
		case !snap.Configured:
			return snap, ErrModelNotConfigured
		}

		select {
		case next, ok := <-r.updates:
			if !ok {
				return snap, session.ErrClosed
			}
			snap = next
		case <-timer.C:
			reason := snap.GateReason()
			if snap.LastError != nil {
				return snap, fmt.Errorf("%s: %w", reason, snap.LastError)
			}
			return snap, fmt.Errorf("%s after %s", reason, r.readyTimeout)
		case <-ctx.Done():
			return snap, ctx.Err()
		}
	}
}

// stream prints the assistant reply to the turn that starts at transcript
// index from, until the turn ends.
func (r *repl) stream(ctx context.Context, from int) error {
	p := &turnPrinter{out: r.out, showThoughts: r.showThoughts && !r.quiet}
	snap := r.sess.Snapshot()

	for {
		msg, found := replyAfter(snap.Transcript, from)
		if found {
			p.update(msg)
		}
		// Snapshots from before the submit have no new entries.
		if snap.Transcript.Len() > from && !snap.Generating {
			p.finish(msg)
			if errors.Is(snap.LastError, session.ErrTurnTimeout) {
				return snap.LastError
			}
			return nil
		}

		select {
		case next, ok := <-r.updates:
			if !ok {
				p.abort()
				return session.ErrClosed
			}
			snap = next
		case <-ctx.Done():
			p.abort()
			return ctx.Err()
		}
	}
}

// replyAfter finds the first assistant message at or after index from.
func replyAfter(t model.Transcript, from int) (model.Message, bool) {
	for i := from; i < len(t); i++ {
		if !t[i].IsUser() {
			return t[i], true
		}
	}
	return model.Message{}, false
}

// turnPrinter writes the growing thought and answer of one message as
// deltas. Once the answer starts, later thought text is not printed.
type turnPrinter struct {
	out          io.Writer
	showThoughts bool

	thought   string
	answer    string
	inThought bool
	inAnswer  bool
}

func (p *turnPrinter) update(msg model.Message) {
	if p.showThoughts && !p.inAnswer && msg.AgentThought != "" {
		if !p.inThought {
			fmt.Fprint(p.out, thoughtStyle.Render("thinking> "))
			p.inThought = true
		}
		p.thought = writeDelta(p.out, p.thought, msg.AgentThought)
	}

	if text := msg.DisplayText(); text != "" {
		if !p.inAnswer {
			if p.inThought {
				fmt.Fprintln(p.out)
			}
			fmt.Fprint(p.out, assistantStyle.Render("assistant> "))
			p.inAnswer = true
		}
		p.answer = writeDelta(p.out, p.answer, text)
	}
}

func (p *turnPrinter) finish(msg model.Message) {
	if p.inThought || p.inAnswer {
		fmt.Fprintln(p.out)
	}
	if msg.ErrorText != "" {
		fmt.Fprintf(p.out, "%s %s\n", ErrorStyle.Render("Error:"), msg.ErrorText)
	}
}

func (p *turnPrinter) abort() {
	if p.inThought || p.inAnswer {
		fmt.Fprintln(p.out)
	}
}

// writeDelta prints what cur adds to printed. If cur is not an extension
// of printed the whole text is printed again on a new line.
func writeDelta(w io.Writer, printed, cur string) string {
	if strings.HasPrefix(cur, printed) {
		fmt.Fprint(w, cur[len(printed):])
		return cur
	}
	fmt.Fprint(w, "\n"+cur)
	return cur
}
