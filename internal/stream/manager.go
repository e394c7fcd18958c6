package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"analyst-chat/internal/logging"
	"analyst-chat/internal/session"
)

type State int

const (
	Idle State = iota
	Connecting
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Live reports whether a connection in this state still holds the session.
func (s State) Live() bool { return s == Connecting || s == Active }

var ErrIdleTimeout = errors.New("stream idle timeout")

const (
	LostConnectionMessage = "Error: Lost connection to the analysis stream. Please try again."
	TimeoutMessage        = "Error: The analysis stream went quiet for too long. Please try again."
)

// Subscription is one open event stream. Next returns io.EOF once the
// transport has nothing more to deliver. Close must unblock a pending Next.
type Subscription interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

type Transport interface {
	Open(ctx context.Context, sessionID string) (Subscription, error)
}

type Observer interface {
	StatusChanged(sessionID, status string)
	StateChanged(sessionID string, from, to State)
}

// Hooks adapts plain functions to Observer; nil fields are skipped.
type Hooks struct {
	OnStatus func(sessionID, status string)
	OnState  func(sessionID string, from, to State)
}

func (h Hooks) StatusChanged(sessionID, status string) {
	if h.OnStatus != nil {
		h.OnStatus(sessionID, status)
	}
}

func (h Hooks) StateChanged(sessionID string, from, to State) {
	if h.OnState != nil {
		h.OnState(sessionID, from, to)
	}
}

type Options struct {
	// IdleTimeout closes a stream that delivers nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	Observer    Observer
}

// Conn is the handle for one connection attempt. Its presence in the
// manager's registry while Connecting or Active is the single-flight guard.
type Conn struct {
	sessionID string
	state     State
	status    string
	ctx       context.Context
	cancel    context.CancelFunc
	sub       Subscription
	released  bool
	err       error
}

func (c *Conn) SessionID() string { return c.sessionID }
func (c *Conn) State() State { return c.state }

// Err is the error that closed the connection, if any.
func (c *Conn) Err() error { return c.err }

// Manager owns the live event stream of every session. Subscribe, Attach,
// Deliver and Close mutate state and must be called from the event loop;
// Open and Receive only perform I/O and may run elsewhere.
type Manager struct {
	transport   Transport
	store       *session.Store
	conns       map[string]*Conn
	idleTimeout time.Duration
	observer    Observer
}

func NewManager(t Transport, store *session.Store, opts Options) *Manager {
	m := &Manager{
		transport:   t,
		store:       store,
		conns:       make(map[string]*Conn),
		idleTimeout: opts.IdleTimeout,
		observer:    opts.Observer,
	}
	if m.observer == nil {
		m.observer = Hooks{}
	}
	return m
}

func (m *Manager) State(sessionID string) State {
	if c, ok := m.conns[sessionID]; ok {
		return c.state
	}
	return Idle
}

func (m *Manager) Status(sessionID string) string {
	if c, ok := m.conns[sessionID]; ok {
		return c.status
	}
	return ""
}

// Live counts connections that are Connecting or Active.
func (m *Manager) Live() int {
	n := 0
	for _, c := range m.conns {
		if c.state.Live() {
			n++
		}
	}
	return n
}

// Subscribe registers a new connection for sessionID and moves it to
// Connecting. It returns false, and does nothing, while another connection
// for the same session is still live.
func (m *Manager) Subscribe(ctx context.Context, sessionID string) (*Conn, bool) {
	if prev, ok := m.conns[sessionID]; ok && prev.state.Live() {
		logging.Debug(ctx, "stream subscribe ignored, connection live",
			slog.String("session_id", sessionID),
			slog.String("state", prev.state.String()))
		return nil, false
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Conn{sessionID: sessionID, state: Idle, ctx: cctx, cancel: cancel}
	m.conns[sessionID] = c
	m.transition(c, Connecting)
	logging.Info(ctx, "stream connecting", slog.String("session_id", sessionID))
	return c, true
}

// Open dials the transport for c.
func (m *Manager) Open(c *Conn) (Subscription, error) {
	return m.transport.Open(c.ctx, c.sessionID)
}

// Attach hands the result of Open back to the loop. It reports whether the
// caller should start receiving frames.
func (m *Manager) Attach(c *Conn, sub Subscription, err error) bool {
	if !m.current(c) {
		if sub != nil {
			_ = sub.Close()
		}
		return false
	}
	if err != nil {
		m.fail(c, err)
		return false
	}
	c.sub = sub
	return true
}

// Receive waits for the next frame on c, applying the idle timeout.
func (m *Manager) Receive(c *Conn) (Frame, error) {
	if c.sub == nil {
		return Frame{}, errors.New("stream not attached")
	}
	if m.idleTimeout <= 0 {
		return c.sub.Next(c.ctx)
	}
	ctx, cancel := context.WithTimeout(c.ctx, m.idleTimeout)
	defer cancel()
	f, err := c.sub.Next(ctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && c.ctx.Err() == nil {
		return Frame{}, ErrIdleTimeout
	}
	return f, err
}

// Deliver applies one Receive result to the session. It reports whether the
// caller should keep receiving.
func (m *Manager) Deliver(c *Conn, f Frame, err error) bool {
	if !m.current(c) {
		return false
	}
	if err != nil {
		m.fail(c, err)
		return false
	}
	if c.state == Connecting {
		m.transition(c, Active)
	}

	evt := Classify(f)
	logging.Trace(c.ctx, "stream frame",
		slog.String("session_id", c.sessionID),
		slog.String("kind", evt.Kind.String()))

	switch evt.Kind {
	case FrameEnd:
		logging.Info(c.ctx, "stream finished", slog.String("session_id", c.sessionID))
		m.shutdown(c, nil)
		return false
	case FrameProgress:
		m.setStatus(c, evt.Status)
	case FrameResponse:
		m.setStatus(c, "")
		msg := session.AssistantMessage(evt.Response.Text, evt.Response.RunID)
		if _, err := m.store.Append(c.sessionID, msg); err != nil {
			logging.Warn(c.ctx, "stream response dropped",
				slog.String("session_id", c.sessionID),
				slog.String("error", err.Error()))
		}
	case FrameUnknown:
		logging.Debug(c.ctx, "stream event ignored",
			slog.String("session_id", c.sessionID),
			slog.String("type", evt.Type))
	default:
		logging.Warn(c.ctx, "stream frame unparseable",
			slog.String("session_id", c.sessionID),
			slog.String("error", evt.Err.Error()))
	}
	return true
}

// Close ends the session's connection. Closing twice, or closing a session
// with no connection, is a no-op.
func (m *Manager) Close(sessionID string) {
	c, ok := m.conns[sessionID]
	if !ok || !c.state.Live() {
		return
	}
	logging.Info(c.ctx, "stream closed", slog.String("session_id", sessionID))
	m.shutdown(c, nil)
}

func (m *Manager) CloseAll() {
	for id := range m.conns {
		m.Close(id)
	}
}

// Run drives one session's stream to completion on the calling goroutine.
// It returns nil when the stream ended with the sentinel or was already live.
func (m *Manager) Run(ctx context.Context, sessionID string) error {
	c, ok := m.Subscribe(ctx, sessionID)
	if !ok {
		return nil
	}
	return m.Drive(c)
}

// Drive opens c and delivers its frames until the connection closes.
func (m *Manager) Drive(c *Conn) error {
	defer func() {
		if m.current(c) {
			m.shutdown(c, nil)
		}
	}()

	sub, err := m.Open(c)
	if !m.Attach(c, sub, err) {
		return c.err
	}
	for {
		f, err := m.Receive(c)
		if !m.Deliver(c, f, err) {
			return c.err
		}
	}
}

// SessionChanged closes and forgets the connection of a dropped session.
func (m *Manager) SessionChanged(change session.Change) {
	if change.Kind != session.Dropped {
		return
	}
	m.Close(change.Session.ID)
	delete(m.conns, change.Session.ID)
}

func (m *Manager) current(c *Conn) bool {
	return c != nil && m.conns[c.sessionID] == c && c.state.Live()
}

func (m *Manager) fail(c *Conn, err error) {
	if c.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		m.shutdown(c, nil)
		return
	}

	notice := LostConnectionMessage
	if errors.Is(err, ErrIdleTimeout) {
		notice = TimeoutMessage
	}
	logging.Error(c.ctx, "stream failed",
		slog.String("session_id", c.sessionID),
		slog.String("state", c.state.String()),
		slog.String("error", err.Error()))

	m.shutdown(c, err)
	if _, appendErr := m.store.Append(c.sessionID, session.NewMessage(session.RoleAssistant, notice)); appendErr != nil {
		logging.Warn(c.ctx, "stream failure notice dropped",
			slog.String("session_id", c.sessionID),
			slog.String("error", appendErr.Error()))
	}
}

// shutdown moves c to Closed, clears its status and releases the
// subscription exactly once.
func (m *Manager) shutdown(c *Conn, err error) {
	if c.err == nil {
		c.err = err
	}
	m.setStatus(c, "")
	m.transition(c, Closed)
	if c.released {
		return
	}
	c.released = true
	c.cancel()
	if c.sub != nil {
		if cerr := c.sub.Close(); cerr != nil {
			logging.Debug(c.ctx, "stream release failed",
				slog.String("session_id", c.sessionID),
				slog.String("error", cerr.Error()))
		}
	}
}

func (m *Manager) setStatus(c *Conn, status string) {
	if c.status == status {
		return
	}
	c.status = status
	m.observer.StatusChanged(c.sessionID, status)
}

var transitions = map[State][]State{
	Idle:       {Connecting},
	Connecting: {Active, Closed},
	Active:     {Closed},
}

func (m *Manager) transition(c *Conn, to State) {
	from := c.state
	for _, allowed := range transitions[from] {
		if allowed == to {
			c.state = to
			m.observer.StateChanged(c.sessionID, from, to)
			return
		}
	}
	if from != to {
		logging.Debug(c.ctx, "stream transition rejected",
			slog.String("session_id", c.sessionID),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}
