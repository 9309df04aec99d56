// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/streamchat/internal/logging"
	"github.com/jeranaias/streamchat/internal/model"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/protocol"
	"github.com/jeranaias/streamchat/internal/reconcile"
	"github.com/jeranaias/streamchat/internal/transport"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGated is returned by Submit when input is not currently accepted.
	// The transcript is left unchanged.
	ErrGated = errors.New("session: input not accepted")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")

	// ErrNotStarted is returned by Submit before Start.
	ErrNotStarted = errors.New("session: not started")

	// ErrTurnTimeout is reported in the snapshot when a turn is force-closed.
	ErrTurnTimeout = errors.New("session: no end event before turn timeout")
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// Transport is the connection the controller drives.
type Transport interface {
	Connect(ctx context.Context, token string) error
	Send(frame []byte) error
	Events() <-chan transport.Event
	Close() error
}

// Config holds configuration for the controller.
type Config struct {
	// Token authenticates the WebSocket and the model-config lookup.
	Token string

	// TurnTimeout force-closes a turn after this long without any event.
	// Zero disables it and a turn stays generating until its end event.
	TurnTimeout time.Duration

	// ShowWelcome seeds the transcript with WelcomeMessage.
	ShowWelcome bool

	// WelcomeMessage is the greeting text (default model.WelcomeText).
	WelcomeMessage string
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		ShowWelcome:    true,
		WelcomeMessage: model.WelcomeText,
	}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the log entry.
func WithLogger(l *logrus.Entry) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock replaces time.Now for message timestamps and ids.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithTimer replaces time.After for the turn timeout.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(c *Controller) { c.after = after }
}

// =============================================================================
// CONTROLLER
// =============================================================================

type submitRequest struct {
	text  string
	reply chan error
}

type configResult struct {
	info modelconfig.Info
	err  error
}

// Controller owns one chat session. All state changes happen on a single
// goroutine; readers get copies through Snapshot and Subscribe.
type Controller struct {
	cfg    Config
	tr     Transport
	source modelconfig.Source
	log    *logrus.Entry
	now    func() time.Time
	after  func(time.Duration) <-chan time.Time
	ids    *model.IDGenerator

	sessionID string
	startTime time.Time

	submitCh  chan submitRequest
	refreshCh chan struct{}
	configCh  chan configResult
	quit      chan struct{}
	done      chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   chan struct{}

	snapMu sync.RWMutex
	snap   Snapshot

	subsMu sync.Mutex
	subs   []chan Snapshot
	closed bool

	// Loop-owned state. Never touched outside run.
	state      reconcile.State
	status     transport.Status
	connSince  time.Time
	info       modelconfig.Info
	configured bool
	connecting bool
	lastErr    error // connection and turn problems
	cfgErr     error // model-config lookup problems
	authErr    error // missing or rejected token
	dropped    int
	turnC      <-chan time.Time
	decodeWarn rate.Sometimes
}

// New creates a controller. Call Start to fetch the model configuration and
// connect.
func New(cfg Config, tr Transport, source modelconfig.Source, opts ...Option) *Controller {
	c := &Controller{
		cfg:        cfg,
		tr:         tr,
		source:     source,
		now:        time.Now,
		after:      time.After,
		sessionID:  uuid.NewString(),
		submitCh:   make(chan submitRequest),
		refreshCh:  make(chan struct{}, 1),
		configCh:   make(chan configResult, 1),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		started:    make(chan struct{}),
		status:     transport.Disconnected,
		decodeWarn: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logging.WithComponent("session")
	}
	c.log = c.log.WithField("session_id", c.sessionID)
	c.ids = model.NewIDGeneratorWithClock(c.now)
	c.startTime = c.now()

	if cfg.ShowWelcome {
		c.state = reconcile.NewState(model.NewWelcomeMessage(cfg.WelcomeMessage, c.startTime))
	} else {
		c.state = reconcile.NewState()
	}
	c.snap = c.buildSnapshot()
	return c
}

// SessionID returns the id of this session.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// Start fetches the model configuration and, when the model is configured,
// connects the transport. The event loop keeps running until ctx is done or
// Close is called. A missing or rejected token returns an error wrapping
// transport.ErrUnauthenticated; the controller still runs and reports the
// blocked state in its snapshots.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	first := false
	c.startOnce.Do(func() {
		first = true
		select {
		case <-c.quit:
			err = ErrClosed
			return
		default:
		}

		if c.cfg.Token == "" {
			c.authErr = transport.ErrUnauthenticated
			c.log.Warn("no token; input blocked until one is configured")
			err = c.authErr
		} else {
			info, fetchErr := c.source.Fetch(ctx)
			err = c.applyConfig(ctx, configResult{info: info, err: fetchErr})
		}
		snap := c.buildSnapshot()
		c.snapMu.Lock()
		c.snap = snap
		c.snapMu.Unlock()

		close(c.started)
		go c.run(ctx)
	})
	if !first {
		return errors.New("session: already started")
	}
	return err
}

// Submit sends a user message. Gate violations return an error wrapping
// ErrGated and leave the transcript unchanged. When the transport refuses
// the frame a synthetic error message is appended and the transport error
// is returned.
func (c *Controller) Submit(text string) error {
	select {
	case <-c.started:
	default:
		return ErrNotStarted
	}

	req := submitRequest{text: text, reply: make(chan error, 1)}
	select {
	case c.submitCh <- req:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

// RefreshConfig asks the loop to re-fetch the model configuration. If the
// model became configured the transport is connected.
func (c *Controller) RefreshConfig() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe returns a channel that receives every published snapshot,
// starting with the current one. Slow readers only see the latest. The
// channel is closed by Close.
func (c *Controller) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	ch <- c.Snapshot()
	if c.closed {
		close(ch)
		return ch
	}
	c.subs = append(c.subs, ch)
	return ch
}

// Close stops the loop and destroys the transport. No reconnects happen
// afterwards. Safe to call more than once.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		select {
		case <-c.started:
			<-c.done
		default:
			close(c.done)
		}
		err = c.tr.Close()

		c.snapMu.Lock()
		c.snap.Status = transport.Disconnected
		c.snap.ConnectedSince = time.Time{}
		final := c.snap
		c.snapMu.Unlock()

		c.subsMu.Lock()
		c.closed = true
		for _, ch := range c.subs {
			offer(ch, final)
			close(ch)
		}
		c.subs = nil
		c.subsMu.Unlock()

		c.log.Info("session closed")
	})
	return err
}

// Done is closed when the event loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// =============================================================================
// EVENT LOOP
// =============================================================================

func (c *Controller) run(ctx context.Context) {
	defer func() {
		select {
		case <-c.done:
		default:
			close(c.done)
		}
	}()

	events := c.tr.Events()
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.quit:
			return

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleTransportEvent(ev)

		case req := <-c.submitCh:
			req.reply <- c.handleSubmit(req.text)

		case <-c.refreshCh:
			go func() {
				info, err := c.source.Fetch(ctx)
				select {
				case c.configCh <- configResult{info: info, err: err}:
				case <-c.quit:
				case <-ctx.Done():
				}
			}()
			continue

		case res := <-c.configCh:
			_ = c.applyConfig(ctx, res)

		case <-c.turnC:
			c.turnC = nil
			if c.state.Generating {
				c.log.WithField("timeout", c.cfg.TurnTimeout).Warn("turn timed out without end event")
				c.state = reconcile.ForceClose(c.state)
				c.lastErr = ErrTurnTimeout
			}
		}
		c.publish()
	}
}

func (c *Controller) handleTransportEvent(ev transport.Event) {
	switch ev.Kind {
	case transport.EventStatus:
		c.status = ev.Status
		switch ev.Status {
		case transport.Connected:
			c.connSince = c.now()
			c.lastErr = nil
			c.authErr = nil
			c.log.Info("connected")
		case transport.Disconnected:
			c.connSince = time.Time{}
			if ev.Err != nil {
				c.lastErr = ev.Err
			}
			if transport.IsPolicyViolation(ev.Err) {
				c.authErr = fmt.Errorf("%w: %w", transport.ErrUnauthenticated, ev.Err)
			}
		}

	case transport.EventGaveUp:
		c.status = transport.Disconnected
		c.connecting = false
		c.lastErr = ev.Err
		c.log.WithError(ev.Err).Error("transport gave up reconnecting")

	case transport.EventFrame:
		c.handleFrame(ev.Frame)
	}
}

func (c *Controller) handleFrame(frame []byte) {
	ev, err := protocol.Decode(frame)
	if err != nil {
		c.dropped++
		c.log.WithError(err).Debug("dropping undecodable frame")
		c.decodeWarn.Do(func() {
			c.log.WithError(err).WithField("dropped", c.dropped).Warn("dropping undecodable frames")
		})
		return
	}

	if unk, ok := ev.(protocol.Unknown); ok {
		c.log.WithField("type", unk.Kind).Debug("ignoring unknown event type")
	}

	c.state = reconcile.Apply(c.state, ev)

	if c.state.Generating {
		c.armTurnTimer()
	} else {
		c.turnC = nil
	}
}

func (c *Controller) handleSubmit(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: empty message", ErrGated)
	}
	if reason := c.gateReason(); reason != "" {
		return fmt.Errorf("%w: %s", ErrGated, reason)
	}

	now := c.now()
	frame, err := protocol.EncodeOutbound(text, now)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := c.tr.Send(frame); err != nil {
		c.log.WithError(err).Warn("send failed")
		c.state = reconcile.SendFailed(c.state, c.ids.Error(), now)
		c.turnC = nil
		return err
	}

	c.state = reconcile.BeginTurn(c.state, c.ids.User(), text, now)
	c.armTurnTimer()
	return nil
}

func (c *Controller) gateReason() string {
	s := Snapshot{Unauthenticated: c.authErr != nil, Configured: c.configured, Status: c.status, Generating: c.state.Generating}
	return s.GateReason()
}

func (c *Controller) armTurnTimer() {
	if c.cfg.TurnTimeout > 0 {
		c.turnC = c.after(c.cfg.TurnTimeout)
	}
}

// applyConfig records a model-config result and connects on the first
// configured result.
func (c *Controller) applyConfig(ctx context.Context, res configResult) error {
	if res.err != nil {
		c.configured = false
		if errors.Is(res.err, modelconfig.ErrUnauthorized) {
			c.log.WithError(res.err).Warn("token rejected by model config lookup")
			c.cfgErr = nil
			c.authErr = fmt.Errorf("%w: %w", transport.ErrUnauthenticated, res.err)
			return c.authErr
		}
		c.log.WithError(res.err).Warn("model config lookup failed")
		c.cfgErr = fmt.Errorf("model config: %w", res.err)
		return nil
	}

	c.cfgErr = nil
	c.authErr = nil
	c.info = res.info
	c.configured = res.info.Configured()
	if !c.configured {
		c.log.WithField("message", res.info.Message).Info("model not configured")
		return nil
	}
	if c.connecting {
		return nil
	}

	if err := c.tr.Connect(ctx, c.cfg.Token); err != nil {
		c.lastErr = err
		c.log.WithError(err).Warn("connect refused")
		return err
	}
	c.connecting = true
	return nil
}

// =============================================================================
// PUBLISHING
// =============================================================================

func (c *Controller) buildSnapshot() Snapshot {
	return Snapshot{
		SessionID:       c.sessionID,
		StartTime:       c.startTime,
		Status:          c.status,
		ConnectedSince:  c.connSince,
		Generating:      c.state.Generating,
		Configured:      c.configured,
		Unauthenticated: c.authErr != nil,
		ModelInfo:       c.info,
		Transcript:      c.state.Transcript.Clone(),
		ActiveMessageID: c.state.ActiveMessageID,
		LastError:       c.lastError(),
		DroppedFrames:   c.dropped,
	}
}

func (c *Controller) lastError() error {
	if c.authErr != nil {
		return c.authErr
	}
	if c.lastErr != nil {
		return c.lastErr
	}
	return c.cfgErr
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		offer(ch, snap)
	}
}

// offer replaces any unread snapshot in ch with snap.
func offer(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}
