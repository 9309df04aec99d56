// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// =============================================================================
// SESSION INTERFACE
// =============================================================================

// Session is the part of session.Controller the view uses.
type Session interface {
	Submit(text string) error
	Snapshot() session.Snapshot
	Subscribe() <-chan session.Snapshot
	RefreshConfig()
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures the chat view.
type Options struct {
	Theme *styles.Theme

	// Title is shown in the header.
	Title string

	// ShowThoughts expands a thought while its message streams.
	ShowThoughts bool

	// WordWrap caps the text width. Zero follows the terminal.
	WordWrap int
}

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	sess    Session
	updates <-chan session.Snapshot
	snap    session.Snapshot

	theme *styles.Theme
	keys  KeyMap
	title string

	// UI components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	md       *markdownRenderer

	width    int
	height   int
	wordWrap int
	ready    bool

	showThoughts bool
	// thoughts holds manual expand/collapse choices by message id.
	thoughts map[string]bool

	// flash is a transient status line (submit errors, refresh notices).
	flash string

	closed   bool
	quitting bool
}

// New creates the chat view for s.
func New(s Session, opts Options) Model {
	theme := opts.Theme
	if theme == nil {
		theme = styles.NewTheme(styles.ModeAuto)
	}
	title := opts.Title
	if title == "" {
		title = "streamchat"
	}

	in := textinput.New()
	in.Prompt = "> "
	in.PromptStyle = theme.InputPrompt
	in.PlaceholderStyle = theme.InputPlaceholder
	in.Placeholder = "Type a message"
	in.CharLimit = 0
	in.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Spinner{Frames: styles.DotsSpinner.Frames, FPS: styles.DotsSpinner.Duration()}
	sp.Style = theme.Spinner

	return Model{
		sess:         s,
		updates:      s.Subscribe(),
		snap:         s.Snapshot(),
		theme:        theme,
		keys:         DefaultKeyMap(),
		title:        title,
		viewport:     viewport.New(80, 20),
		input:        in,
		spinner:      sp,
		md:           newMarkdownRenderer(theme.GlamourStyle(), 80),
		wordWrap:     opts.WordWrap,
		showThoughts: opts.ShowThoughts,
		thoughts:     make(map[string]bool),
	}
}

// Init starts the snapshot subscription, cursor blink and spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForSnapshot(m.updates), m.spinner.Tick)
}

// Snapshot returns the snapshot currently rendered.
func (m Model) Snapshot() session.Snapshot {
	return m.snap
}

// ThoughtExpanded reports whether msg's thought section is shown.
func (m Model) ThoughtExpanded(msg model.Message) bool {
	if open, ok := m.thoughts[msg.ID]; ok {
		return open
	}
	return m.showThoughts && msg.IsOpen()
}

// latestThought returns the newest assistant message that has a thought.
func (m Model) latestThought() (model.Message, bool) {
	t := m.snap.Transcript
	for i := len(t) - 1; i >= 0; i-- {
		if !t[i].IsUser() && t[i].AgentThought != "" {
			return t[i], true
		}
	}
	return model.Message{}, false
}

// contentWidth is the wrap width for message bodies.
func (m Model) contentWidth() int {
	w := m.width - 4
	if m.wordWrap > 0 && m.wordWrap < w {
		w = m.wordWrap
	}
	if w < 20 {
		w = 20
	}
	return w
}
