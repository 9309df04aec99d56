// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
	"github.com/jeranaias/streamchat/internal/ui/styles"
)

// =============================================================================
// FAKE SESSION
// =============================================================================

type fakeSession struct {
	mu        sync.Mutex
	snap      session.Snapshot
	ch        chan session.Snapshot
	submitted []string
	submitErr error
	refreshed int
}

func newFakeSession(snap session.Snapshot) *fakeSession {
	return &fakeSession{snap: snap, ch: make(chan session.Snapshot, 1)}
}

func (f *fakeSession) Submit(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, text)
	return f.submitErr
}

func (f *fakeSession) Snapshot() session.Snapshot         { return f.snap }
func (f *fakeSession) Subscribe() <-chan session.Snapshot { return f.ch }
func (f *fakeSession) RefreshConfig()                     { f.refreshed++ }

var at = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func readySnapshot(msgs ...model.Message) session.Snapshot {
	return session.Snapshot{
		Status:     transport.Connected,
		Configured: true,
		ModelInfo:  modelconfig.Info{Provider: "openai", Model: "gpt-4o"},
		Transcript: append(model.Transcript{model.WelcomeMessage(at)}, msgs...),
	}
}

func thinking(id, thought string, open bool) model.Message {
	m := model.NewAssistantMessage(id, at)
	m.Pending = false
	m.AgentThought = thought
	m.Streaming = open
	if !open {
		m.FinalAnswer = "Done."
		m.Content = "Done."
	}
	return m
}

func newTestModel(t *testing.T, snap session.Snapshot) (Model, *fakeSession) {
	t.Helper()
	fs := newFakeSession(snap)
	m := New(fs, Options{Theme: styles.NewTheme(styles.ModeDark), ShowThoughts: true})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	return m, fs
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func press(t *testing.T, m Model, kt tea.KeyType) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(tea.KeyMsg{Type: kt})
	return next.(Model), cmd
}

// =============================================================================
// RENDERING
// =============================================================================

func TestView_BeforeResize(t *testing.T) {
	m := New(newFakeSession(session.Snapshot{}), Options{Theme: styles.NewTheme(styles.ModeDark)})
	assert.Equal(t, "Starting...", m.View())
}

func TestView_Transcript(t *testing.T) {
	user := model.NewUserMessage("user-1", "hello there", at)
	m, _ := newTestModel(t, readySnapshot(user))

	view := m.View()
	assert.Contains(t, view, model.WelcomeText)
	assert.Contains(t, view, "hello there")
	assert.Contains(t, view, "connected")
	assert.Contains(t, view, "openai/gpt-4o")
}

func TestView_StatusBar(t *testing.T) {
	snap := readySnapshot(model.NewUserMessage("user-1", "hi", at), thinking("m1", "pondering", true))
	snap.Generating = true
	snap.DroppedFrames = 2
	m, _ := newTestModel(t, snap)

	view := m.View()
	assert.Contains(t, view, "generating")
	assert.Contains(t, view, "2 dropped")

	snap.Status = transport.Disconnected
	snap.LastError = fmt.Errorf("dial: connection refused")
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	view = m.View()
	assert.Contains(t, view, "disconnected")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "Input disabled: not connected")
}

func TestView_Unconfigured(t *testing.T) {
	snap := readySnapshot()
	snap.Configured = false
	snap.Status = transport.Disconnected
	snap.ModelInfo = modelconfig.Info{Message: "Model not configured. Please configure the model."}
	m, _ := newTestModel(t, snap)

	view := m.View()
	assert.Contains(t, view, "model not configured")
	assert.Contains(t, view, "Please configure the model.")
}

func TestView_RemoteError(t *testing.T) {
	msg := thinking("m1", "", false)
	msg.ErrorText = "quota exceeded"
	m, _ := newTestModel(t, readySnapshot(model.NewUserMessage("u", "q", at), msg))
	assert.Contains(t, m.View(), "Error: quota exceeded")
}

// =============================================================================
// THOUGHTS
// =============================================================================

func TestThought_OpenWhileStreaming(t *testing.T) {
	snap := readySnapshot(model.NewUserMessage("u", "q", at), thinking("m1", "pondering deeply", true))
	m, _ := newTestModel(t, snap)
	assert.Contains(t, m.View(), "pondering deeply")

	snap.Transcript[2] = thinking("m1", "pondering deeply", false)
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	view := m.View()
	assert.NotContains(t, view, "pondering deeply")
	assert.Contains(t, view, "ctrl+t to expand")
}

func TestThought_ManualToggleSticks(t *testing.T) {
	snap := readySnapshot(model.NewUserMessage("u", "q", at), thinking("m1", "pondering deeply", true))
	m, _ := newTestModel(t, snap)

	m, _ = press(t, m, tea.KeyCtrlT)
	assert.NotContains(t, m.View(), "pondering deeply", "collapsed by hand while streaming")

	snap.Transcript[2] = thinking("m1", "pondering deeply more", true)
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	assert.NotContains(t, m.View(), "pondering deeply more", "manual collapse survives new fragments")

	m, _ = press(t, m, tea.KeyCtrlT)
	snap.Transcript[2] = thinking("m1", "pondering deeply more", false)
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	assert.Contains(t, m.View(), "pondering deeply more", "manual expand survives close")
}

func TestThought_HiddenWhenDisabled(t *testing.T) {
	snap := readySnapshot(model.NewUserMessage("u", "q", at), thinking("m1", "secret plan", true))
	fs := newFakeSession(snap)
	m := New(fs, Options{Theme: styles.NewTheme(styles.ModeDark), ShowThoughts: false})
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m = update(t, m, SnapshotMsg{Snapshot: snap})
	assert.NotContains(t, m.View(), "secret plan")
}

// =============================================================================
// INPUT
// =============================================================================

func TestSubmit_SendsAndClears(t *testing.T) {
	m, fs := newTestModel(t, readySnapshot())
	m.input.SetValue("What is Go?")

	m, cmd := press(t, m, tea.KeyEnter)
	require.NotNil(t, cmd)
	assert.Empty(t, m.input.Value())

	result, ok := cmd().(SubmitResultMsg)
	require.True(t, ok)
	assert.NoError(t, result.Err)
	assert.Equal(t, []string{"What is Go?"}, fs.submitted)
}

func TestSubmit_BlankIgnored(t *testing.T) {
	m, fs := newTestModel(t, readySnapshot())
	m.input.SetValue("   ")
	_, cmd := press(t, m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Empty(t, fs.submitted)
}

func TestSubmit_GatedLocally(t *testing.T) {
	snap := readySnapshot()
	snap.Generating = true
	m, fs := newTestModel(t, snap)
	m.input.SetValue("too soon")

	m, cmd := press(t, m, tea.KeyEnter)
	assert.Nil(t, cmd)
	assert.Empty(t, fs.submitted)
	assert.Equal(t, "too soon", m.input.Value())
	assert.Contains(t, m.View(), "response in progress")
}

func TestSubmit_GatedBySessionRestoresText(t *testing.T) {
	m, _ := newTestModel(t, readySnapshot())
	err := fmt.Errorf("%w: not connected", session.ErrGated)

	m = update(t, m, SubmitResultMsg{Text: "lost?", Err: err})
	assert.Equal(t, "lost?", m.input.Value())
	assert.Contains(t, m.View(), "not connected")
}

func TestRefreshKey(t *testing.T) {
	m, fs := newTestModel(t, readySnapshot())
	m, _ = press(t, m, tea.KeyCtrlR)
	assert.Equal(t, 1, fs.refreshed)
	assert.Contains(t, m.View(), "checking model configuration")
}

func TestQuitKey(t *testing.T) {
	m, _ := newTestModel(t, readySnapshot())
	m, cmd := press(t, m, tea.KeyCtrlC)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, m.View())
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

func TestWaitForSnapshot(t *testing.T) {
	ch := make(chan session.Snapshot, 1)
	ch <- session.Snapshot{SessionID: "abc"}
	msg := waitForSnapshot(ch)()
	snap, ok := msg.(SnapshotMsg)
	require.True(t, ok)
	assert.Equal(t, "abc", snap.Snapshot.SessionID)

	close(ch)
	assert.IsType(t, SessionClosedMsg{}, waitForSnapshot(ch)())
}

func TestSessionClosedQuits(t *testing.T) {
	m, _ := newTestModel(t, readySnapshot())
	next, cmd := m.Update(SessionClosedMsg{})
	require.NotNil(t, cmd)
	assert.True(t, next.(Model).closed)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMarkdownRendererCaches(t *testing.T) {
	r := newMarkdownRenderer("notty", 60)
	first := r.render("m1", "# Title\n\nbody")
	assert.True(t, strings.Contains(first, "Title"))
	assert.Equal(t, first, r.render("m1", "# Title\n\nbody"))
	assert.Len(t, r.cache, 1)

	r.resize(80)
	assert.Empty(t, r.cache)
	assert.Equal(t, "", r.render("m2", ""))
}
