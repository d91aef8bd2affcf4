// Package channel owns the client's single connection to the collaboration server:
// connect, subscribe, reconnect, disconnect and the publish primitives used by the stores.
package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/protocol"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

const (
	DefaultReconnectDelay = 5 * time.Second
	// DefaultLiveness outlasts the server's ping period with room for one late ping.
	DefaultLiveness = 75 * time.Second
)

var (
	ErrMissingToken = errors.New("channel: missing auth token")
	ErrNotConnected = errors.New("channel: not connected")
	ErrServerSilent = errors.New("channel: no traffic from server within liveness window")
)

type Option func(*Manager)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithReconnectPolicy sets the policy used between connection attempts. A fresh
// BackOff is requested per Connect; returning backoff.Stop ends the reconnect loop.
func WithReconnectPolicy(policy func() backoff.BackOff) Option {
	return func(m *Manager) { m.policy = policy }
}

// WithMaxAttempts caps consecutive failed attempts with the default constant delay.
func WithMaxAttempts(delay time.Duration, attempts uint64) Option {
	return func(m *Manager) {
		m.policy = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), attempts)
		}
	}
}

// WithLiveness sets how long the connection may stay silent, pings included, before it
// is treated as dead. Zero disables the read deadline.
func WithLiveness(window time.Duration) Option {
	return func(m *Manager) { m.liveness = window }
}

func WithEventHandler(h func(protocol.Event)) Option {
	return func(m *Manager) { m.handler = h }
}

func WithStateHandler(h func(State)) Option {
	return func(m *Manager) { m.onStateChange = h }
}

// WithErrorHandler receives transport failures so they can be shown to the user.
func WithErrorHandler(h func(error)) Option {
	return func(m *Manager) { m.onError = h }
}

// WithFallback registers a one-shot content fetch run after every transport failure
// while the manager waits to reconnect.
func WithFallback(f func(ctx context.Context)) Option {
	return func(m *Manager) { m.fallback = f }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

type Manager struct {
	url    string
	noteID string

	dialer        Dialer
	policy        func() backoff.BackOff
	liveness      time.Duration
	handler       func(protocol.Event)
	onStateChange func(State)
	onError       func(error)
	fallback      func(ctx context.Context)
	logger        *slog.Logger

	mu     sync.Mutex
	state  State
	conn   Conn
	cancel context.CancelFunc
	done   chan struct{}

	writeMu sync.Mutex
}

func NewManager(url, noteID string, opts ...Option) *Manager {
	m := &Manager{
		url:    url,
		noteID: noteID,
		dialer: WebsocketDialer{},
		policy: func() backoff.BackOff {
			return backoff.NewConstantBackOff(DefaultReconnectDelay)
		},
		liveness: DefaultLiveness,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) NoteID() string {
	return m.noteID
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection loop in the background. Calling it while a loop is
// already running is a no-op, so the subscription set is never duplicated.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		m.logger.Warn("Refusing to connect without an auth token", "note_id", m.noteID)
		m.reportError(ErrMissingToken)
		return ErrMissingToken
	}

	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	go m.run(runCtx, token, done)
	return nil
}

// Disconnect stops the loop and closes the transport. It is safe to call repeatedly and
// must not be called from the event handler.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Manager) run(ctx context.Context, token string, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.cancel()
			m.cancel, m.done = nil, nil
		}
		m.mu.Unlock()
		close(done)
	}()

	policy := m.policy()
	for {
		m.setState(Connecting, nil)

		conn, err := m.dialer.Dial(ctx, m.url, token)
		if err == nil {
			policy.Reset()
			err = m.serve(ctx, conn)
		}

		m.setState(Disconnected, nil)
		if ctx.Err() != nil {
			return
		}

		m.logger.Error("Channel transport failed", "note_id", m.noteID, "error", err)
		m.reportError(err)
		if m.fallback != nil {
			m.fallback(ctx)
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			m.logger.Warn("Giving up reconnecting", "note_id", m.noteID)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// serve subscribes on a fresh connection and pumps inbound events until the
// connection fails or ctx is cancelled.
func (m *Manager) serve(ctx context.Context, conn Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	extend := armLiveness(conn, m.liveness)

	if err := m.send(protocol.TypeSubscribe, "", protocol.SubscribePayload{
		Destinations: protocol.NoteDestinations(m.noteID),
	}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := m.send(protocol.TypeJoin, "", protocol.JoinPayload{NoteID: m.noteID}); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	m.setState(Connected, conn)
	m.logger.Info("Channel connected", "note_id", m.noteID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if isTimeout(err) {
				return fmt.Errorf("%w: %v", ErrServerSilent, err)
			}
			return err
		}
		extend()

		event, err := protocol.DecodeEvent(data)
		if err != nil {
			m.logger.Warn("Dropping inbound message", "error", err)
			continue
		}
		if m.handler != nil {
			m.handler(event)
		}
	}
}

func (m *Manager) setState(state State, conn Conn) {
	m.mu.Lock()
	if state != Connected {
		m.conn = nil
	} else {
		m.conn = conn
	}
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	if changed && m.onStateChange != nil {
		m.onStateChange(state)
	}
}

func (m *Manager) reportError(err error) {
	if m.onError != nil && err != nil {
		m.onError(err)
	}
}

func (m *Manager) PublishOperation(op domain.Operation) error {
	return m.publish(protocol.TypeOperation, protocol.OperationsTopic(m.noteID), protocol.OperationPayload{
		NoteID:    m.noteID,
		Operation: op,
	})
}

func (m *Manager) PublishCursor(position int) error {
	return m.publish(protocol.TypeCursor, protocol.CursorsTopic(m.noteID), protocol.CursorPayload{
		NoteID:   m.noteID,
		Position: position,
	})
}

func (m *Manager) PublishTyping(isTyping bool) error {
	return m.publish(protocol.TypeTyping, protocol.TypingTopic(m.noteID), protocol.TypingPayload{
		NoteID:   m.noteID,
		IsTyping: isTyping,
	})
}

// PublishWindowPosition satisfies layout.Publisher.
func (m *Manager) PublishWindowPosition(ctx context.Context, pos domain.WindowPosition) error {
	return m.publish(protocol.TypeWindowPosition, protocol.UserWindowPosition, protocol.WindowPositionPayload{
		X:      pos.X,
		Y:      pos.Y,
		Width:  pos.Width,
		Height: pos.Height,
	})
}

// Resync re-announces the session so the server pushes a fresh snapshot.
func (m *Manager) Resync() error {
	return m.publish(protocol.TypeJoin, "", protocol.JoinPayload{NoteID: m.noteID})
}

func (m *Manager) publish(msgType protocol.MessageType, destination string, payload interface{}) error {
	if m.State() != Connected {
		return ErrNotConnected
	}
	return m.send(msgType, destination, payload)
}

func (m *Manager) send(msgType protocol.MessageType, destination string, payload interface{}) error {
	data, err := protocol.Encode(msgType, destination, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}
