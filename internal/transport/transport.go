// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/streamchat/internal/logging"
)

const (
	// eventBuffer is the capacity of the Events channel.
	eventBuffer = 256

	// writeTimeout bounds a single outbound frame write.
	writeTimeout = 10 * time.Second

	closePolicyViolation = websocket.ClosePolicyViolation
)

// =============================================================================
// STATUS AND EVENTS
// =============================================================================

// Status is the connection state.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind distinguishes the things delivered on Events.
type EventKind int

const (
	// EventStatus reports a status change.
	EventStatus EventKind = iota
	// EventFrame carries one inbound text frame.
	EventFrame
	// EventGaveUp reports that the reconnect policy is exhausted. The
	// transport stays Disconnected until Connect is called again.
	EventGaveUp
)

// Event is a status change or an inbound frame.
type Event struct {
	Kind   EventKind
	Status Status
	Frame  []byte

	// Err is set on Disconnected status events and on EventGaveUp.
	Err error

	// Attempt is the dial attempt number for Connecting, and the count of
	// consecutive failures for Disconnected.
	Attempt int
}

// =============================================================================
// CONNECTION ABSTRACTION
// =============================================================================

// Conn is the subset of *websocket.Conn the transport needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// deadlineSetter is implemented by *websocket.Conn.
type deadlineSetter interface {
	SetWriteDeadline(t time.Time) error
}

// controlWriter is implemented by *websocket.Conn.
type controlWriter interface {
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

// Dialer opens a connection to a fully built URL.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

// Dial implements Dialer.
func (d WSDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", redact(rawURL), resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", redact(rawURL), err)
	}
	return conn, nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the gorilla dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithPolicy sets the reconnect policy.
func WithPolicy(p ReconnectPolicy) Option {
	return func(t *Transport) { t.policy = p }
}

// WithLogger sets the log entry used by the transport.
func WithLogger(l *logrus.Entry) Option {
	return func(t *Transport) { t.log = l }
}

// WithClock replaces time.After for reconnect delays.
func WithClock(after func(time.Duration) <-chan time.Time) Option {
	return func(t *Transport) { t.after = after }
}

// Transport is a self-healing WebSocket connection to the chat endpoint.
type Transport struct {
	endpoint string
	dialer   Dialer
	policy   ReconnectPolicy
	log      *logrus.Entry
	after    func(time.Duration) <-chan time.Time

	events chan Event

	connectMu sync.Mutex // serializes Connect and Close
	writeMu   sync.Mutex // serializes frame writes

	mu     sync.Mutex
	status Status
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New creates a transport for endpoint, e.g. ws://host/api/ws/chat.
func New(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		endpoint: endpoint,
		dialer:   WSDialer{},
		policy:   DefaultReconnectPolicy(),
		after:    time.After,
		events:   make(chan Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.log == nil {
		t.log = logging.WithComponent("transport")
	}
	return t
}

// Events returns the ordered stream of status changes and inbound frames.
// The channel is closed by Close.
func (t *Transport) Events() <-chan Event {
	return t.events
}

// Status returns the current connection state.
func (t *Transport) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Connect starts (or restarts) the connection using token. It returns as
// soon as the supervisor is running; progress is reported on Events.
func (t *Transport) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrUnauthenticated
	}
	target, err := BuildURL(t.endpoint, token)
	if err != nil {
		return err
	}

	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	t.stopSupervisor()

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	t.mu.Lock()
	t.cancel = cancel
	t.done = done
	t.mu.Unlock()

	go t.supervise(runCtx, target, done)
	return nil
}

// Send writes one text frame. It fails with ErrNotConnected unless the
// connection is open.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	status := t.status
	t.mu.Unlock()

	if status != Connected || conn == nil {
		return ErrNotConnected
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if ds, ok := conn.(deadlineSetter); ok {
		_ = ds.SetWriteDeadline(time.Now().Add(writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		// Force the read loop to notice so the supervisor reconnects.
		conn.Close()
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Close stops reconnecting, closes the connection and closes Events.
// It is safe to call more than once.
func (t *Transport) Close() error {
	t.connectMu.Lock()
	defer t.connectMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	wasDown := t.status == Disconnected
	t.mu.Unlock()

	if conn != nil {
		if cw, ok := conn.(controlWriter); ok {
			t.writeMu.Lock()
			_ = cw.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			t.writeMu.Unlock()
		}
	}

	t.stopSupervisor()

	t.mu.Lock()
	t.status = Disconnected
	t.mu.Unlock()

	if !wasDown {
		select {
		case t.events <- Event{Kind: EventStatus, Status: Disconnected, Err: ErrClosed}:
		default:
		}
	}
	close(t.events)
	return nil
}

// stopSupervisor cancels the running supervisor and waits for it to exit.
// Caller holds connectMu.
func (t *Transport) stopSupervisor() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// =============================================================================
// SUPERVISOR
// =============================================================================

func (t *Transport) supervise(ctx context.Context, target string, done chan struct{}) {
	defer close(done)
	// A cancelled ctx ends the supervisor without an event; the status
	// must not keep reporting a connection nobody serves.
	defer func() {
		if ctx.Err() != nil {
			t.mu.Lock()
			t.status = Disconnected
			t.mu.Unlock()
		}
	}()

	failures := 0
	for {
		t.setStatus(ctx, Connecting, nil, failures+1)

		conn, err := t.dialer.Dial(ctx, target)
		if ctx.Err() != nil {
			if conn != nil {
				conn.Close()
			}
			return
		}

		if err != nil {
			failures++
			t.log.WithError(err).WithField("attempt", failures).Warn("dial failed")
			t.setStatus(ctx, Disconnected, &ClosedError{Err: err}, failures)
		} else {
			failures = 0
			t.attach(conn)
			t.setStatus(ctx, Connected, nil, 0)
			t.log.Info("connected")

			err = t.readLoop(ctx, conn)
			t.detach(conn)
			if ctx.Err() != nil {
				return
			}
			failures++
			cerr := closedError(err)
			t.log.WithError(err).Warn("connection lost")
			t.setStatus(ctx, Disconnected, cerr, failures)
		}

		if t.policy.Exhausted(failures) {
			t.log.WithField("failures", failures).Error("giving up reconnecting")
			t.emit(ctx, Event{
				Kind:    EventGaveUp,
				Status:  Disconnected,
				Err:     fmt.Errorf("%w after %d attempts", ErrGaveUp, failures),
				Attempt: failures,
			})
			return
		}

		delay := t.policy.Next(failures)
		t.log.WithField("delay", delay).Debug("reconnect scheduled")
		select {
		case <-t.after(delay):
		case <-ctx.Done():
			return
		}
	}
}

// readLoop forwards text frames until the connection fails or ctx ends.
func (t *Transport) readLoop(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			t.log.WithField("type", mt).Debug("ignoring non-text frame")
			continue
		}
		t.emit(ctx, Event{Kind: EventFrame, Status: Connected, Frame: data})
	}
}

func (t *Transport) attach(conn Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
}

func (t *Transport) detach(conn Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	conn.Close()
}

func (t *Transport) setStatus(ctx context.Context, s Status, err error, attempt int) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
	t.emit(ctx, Event{Kind: EventStatus, Status: s, Err: err, Attempt: attempt})
}

// emit delivers ev unless the supervisor is being stopped.
func (t *Transport) emit(ctx context.Context, ev Event) {
	select {
	case t.events <- ev:
	case <-ctx.Done():
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// BuildURL appends the token query parameter to endpoint.
func BuildURL(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func closedError(err error) *ClosedError {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &ClosedError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return &ClosedError{Err: err}
}

// redact hides the token in log and error output.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid url>"
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
