// Package connection owns the single authenticated event-stream connection of
// a client session: dialing, reconnection with backoff, identity announcement
// and typed event dispatch.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/realtime/api"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/transport"
	"socialchat/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// State of the connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

var (
	// ErrUnauthorized is surfaced when the relay rejects the token; never retried
	ErrUnauthorized = transport.ErrUnauthorized

	// ErrReconnectFailed means every reconnection attempt failed; Connect again
	ErrReconnectFailed = errors.New("connection: reconnection attempts exhausted")

	ErrNotConnected = errors.New("connection: not connected")
	ErrNoIdentity   = errors.New("connection: no identity")
)

// StateChange is delivered to observers on every transition
type StateChange struct {
	From      State
	To        State
	SocketID  string
	Reconnect bool // connected again after an unrequested drop
	Err       error
}

// Handler receives decoded inbound events
type Handler func(events.Event)

// SubscriptionID identifies a handler registered with On
type SubscriptionID uint64

// Prober checks relay liveness before a reconnect
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Provider is the connection capability consumed by rooms, messaging, call
// and incoming. Tests substitute realtimetest.Provider.
type Provider interface {
	EnsureConnection(ctx context.Context) bool
	Emit(ctx context.Context, ev events.Event) error
	On(name string, h Handler) SubscriptionID
	Off(id SubscriptionID)
	Observe(fn func(StateChange)) (cancel func())
	State() State
	SocketID() string
}

// Options configures a Manager
type Options struct {
	Config config.ClientConfig
	Dialer transport.Dialer
	Tokens api.TokenSource
	Prober Prober
}

type subscription struct {
	id      SubscriptionID
	handler Handler
}

// Manager is the connection service. One per authenticated session.
type Manager struct {
	cfg    config.ClientConfig
	dialer transport.Dialer
	tokens api.TokenSource
	prober Prober

	mu        sync.Mutex
	state     State
	identity  string
	tr        transport.Transport
	cancel    context.CancelFunc
	gen       uint64
	connected bool // reached connected at least once in this generation
	lastErr   error

	handlers map[string][]subscription
	names    map[SubscriptionID]string
	nextSub  SubscriptionID

	observers map[uint64]func(StateChange)
	obsOrder  []uint64
	nextObs   uint64

	// serializes observer notification so transitions are seen in order
	notifyMu sync.Mutex
}

// NewManager creates a disconnected manager
func NewManager(opts Options) *Manager {
	if opts.Tokens == nil {
		opts.Tokens = api.StaticTokens("")
	}
	if opts.Dialer == nil {
		opts.Dialer = transport.NewDialer(opts.Config)
	}

	return &Manager{
		cfg:       opts.Config,
		dialer:    opts.Dialer,
		tokens:    opts.Tokens,
		prober:    opts.Prober,
		state:     StateDisconnected,
		handlers:  make(map[string][]subscription),
		names:     make(map[SubscriptionID]string),
		observers: make(map[uint64]func(StateChange)),
	}
}

// Connect starts the connection loop for identity. While a connection for
// the same identity is connecting or connected the call is a no-op.
// Connect does not wait; use WaitConnected or EnsureConnection.
func (m *Manager) Connect(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrNoIdentity
	}

	m.mu.Lock()
	if m.state != StateDisconnected && m.identity == identity {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if _, err := m.tokens.GetValidToken(ctx); err != nil {
		return fmt.Errorf("connection: get token: %w", err)
	}

	m.mu.Lock()
	if m.state != StateDisconnected && m.identity == identity {
		m.mu.Unlock()
		return nil
	}

	stale := m.stopLocked()
	m.identity = identity
	m.lastErr = nil
	m.gen++
	gen := m.gen
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	change := m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	if stale != nil {
		stale.Close()
	}
	m.notify(change)

	logger.LogConnectionEvent("connect", "", map[string]interface{}{"user_id": identity})

	go m.run(loopCtx, gen)
	return nil
}

// EnsureConnection reports whether a live connection exists, reconnecting
// with the remembered identity when needed. It probes the relay, refreshes
// the token and waits up to EnsureTimeout for the connected transition.
func (m *Manager) EnsureConnection(ctx context.Context) bool {
	if m.State() == StateConnected {
		return true
	}

	identity := m.Identity()
	if identity == "" {
		return false
	}

	if m.cfg.EnsureTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.EnsureTimeout)
		defer cancel()
	}

	if m.prober != nil {
		if err := m.prober.Probe(ctx); err != nil {
			logger.WithError(err).Debug("Relay probe failed")
			return false
		}
	}

	if _, err := m.tokens.Refresh(ctx); err != nil {
		logger.WithError(err).Warn("Token refresh failed")
		return false
	}

	if err := m.Connect(ctx, identity); err != nil {
		return false
	}

	return m.WaitConnected(ctx) == nil
}

// Disconnect removes every event handler, closes the transport and forgets
// the identity. State observers stay registered and see the transition.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	tr := m.stopLocked()
	m.gen++
	m.identity = ""
	m.lastErr = nil
	m.handlers = make(map[string][]subscription)
	m.names = make(map[SubscriptionID]string)
	change := m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if tr != nil {
		tr.Close()
	}
	m.notify(change)
}

// Emit sends an event on the live transport
func (m *Manager) Emit(ctx context.Context, ev events.Event) error {
	m.mu.Lock()
	tr := m.tr
	ready := m.state == StateConnected && tr != nil
	m.mu.Unlock()

	if !ready {
		return ErrNotConnected
	}

	f, err := events.Encode(ev)
	if err != nil {
		return err
	}
	return tr.Send(ctx, f)
}

// On registers h for inbound events named name
func (m *Manager) On(name string, h Handler) SubscriptionID {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextSub++
	id := m.nextSub
	m.handlers[name] = append(m.handlers[name], subscription{id: id, handler: h})
	m.names[id] = name
	return id
}

// Off removes a handler; unknown ids are ignored
func (m *Manager) Off(id SubscriptionID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name, ok := m.names[id]
	if !ok {
		return
	}
	delete(m.names, id)

	subs := m.handlers[name]
	for i, s := range subs {
		if s.id == id {
			m.handlers[name] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(m.handlers[name]) == 0 {
		delete(m.handlers, name)
	}
}

// Subscribed reports whether id is still registered
func (m *Manager) Subscribed(id SubscriptionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.names[id]
	return ok
}

// HandlerCount returns the number of handlers registered for name
func (m *Manager) HandlerCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers[name])
}

// Observe registers fn for state transitions until cancel is called.
// Observers run one at a time in transition order and must not call
// Connect or Disconnect.
func (m *Manager) Observe(fn func(StateChange)) (cancel func()) {
	m.mu.Lock()
	m.nextObs++
	id := m.nextObs
	m.observers[id] = fn
	m.obsOrder = append(m.obsOrder, id)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.observers, id)
			for i, v := range m.obsOrder {
				if v == id {
					m.obsOrder = append(m.obsOrder[:i:i], m.obsOrder[i+1:]...)
					break
				}
			}
		})
	}
}

// WaitConnected blocks until the connected state, a terminal failure or
// ctx expiry.
func (m *Manager) WaitConnected(ctx context.Context) error {
	wake := make(chan struct{}, 1)
	cancel := m.Observe(func(StateChange) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		m.mu.Lock()
		state, lastErr := m.state, m.lastErr
		m.mu.Unlock()

		switch state {
		case StateConnected:
			return nil
		case StateDisconnected:
			if lastErr != nil {
				return lastErr
			}
			return ErrNotConnected
		}

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SocketID is the relay-assigned id of the live transport, empty otherwise
func (m *Manager) SocketID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tr == nil {
		return ""
	}
	return m.tr.ID()
}

func (m *Manager) Identity() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

// LastError is the failure that moved the manager to disconnected
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// run owns one connection generation: dial, serve, redial on drops
func (m *Manager) run(ctx context.Context, gen uint64) {
	for {
		tr, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.fail(gen, err)
			return
		}

		if !m.attach(gen, tr) {
			tr.Close()
			return
		}

		err = m.serve(ctx, tr)
		if ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			return
		}
		m.tr = nil
		if !m.cfg.Reconnection {
			m.lastErr = err
			change := m.setStateLocked(StateDisconnected, err)
			m.mu.Unlock()
			m.notify(change)
			return
		}
		change := m.setStateLocked(StateConnecting, err)
		m.mu.Unlock()

		logger.LogConnectionEvent("dropped", tr.ID(), map[string]interface{}{
			"transport": tr.Name(),
			"error":     fmt.Sprint(err),
		})
		m.notify(change)
	}
}

// dial tries to open a transport, retrying transient failures with
// exponential backoff up to ReconnectionAttempts retries.
func (m *Manager) dial(ctx context.Context) (transport.Transport, error) {
	var (
		tr      transport.Transport
		attempt int
	)

	operation := func() error {
		attempt++

		attemptCtx := ctx
		if m.cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, m.cfg.AttemptTimeout)
			defer cancel()
		}

		token, err := m.tokens.GetValidToken(attemptCtx)
		if err != nil {
			return err
		}

		t, err := m.dialer.Dial(attemptCtx, transport.Target{BaseURL: m.cfg.ServerURL, Token: token})
		if err != nil {
			if errors.Is(err, transport.ErrUnauthorized) {
				return backoff.Permanent(err)
			}
			logger.WithFields(map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			}).Debug("Connection attempt failed")
			return err
		}
		tr = t
		return nil
	}

	retries := 0
	if m.cfg.Reconnection && m.cfg.ReconnectionAttempts > 0 {
		retries = m.cfg.ReconnectionAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.ReconnectionDelay
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = m.cfg.ReconnectionDelayMax
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.MaxElapsedTime = 0

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	if err == nil {
		return tr, nil
	}
	if errors.Is(err, transport.ErrUnauthorized) || ctx.Err() != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %v", ErrReconnectFailed, err)
}

// attach installs tr as the live transport and announces the identity
func (m *Manager) attach(gen uint64, tr transport.Transport) bool {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return false
	}
	m.tr = tr
	reconnect := m.connected
	m.connected = true
	identity := m.identity
	change := m.setStateLocked(StateConnected, nil)
	change.SocketID = tr.ID()
	change.Reconnect = reconnect
	m.mu.Unlock()

	f := events.MustEncode(events.JoinUser{UserID: identity})
	if err := tr.Send(context.Background(), f); err != nil {
		logger.WithError(err).Warn("Failed to announce identity")
	}

	logger.LogConnectionEvent("connected", tr.ID(), map[string]interface{}{
		"transport": tr.Name(),
		"user_id":   identity,
		"reconnect": reconnect,
	})

	m.notify(change)
	return true
}

// serve reads frames until the transport fails, dispatching each in order
func (m *Manager) serve(ctx context.Context, tr transport.Transport) error {
	for {
		f, err := tr.Receive(ctx)
		if err != nil {
			return err
		}

		ev, err := events.Decode(f)
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"event": f.Event,
				"error": err.Error(),
			}).Warn("Dropping undecodable event")
			continue
		}

		if serverErr, ok := ev.(events.ServerError); ok {
			logger.WithField("socket_id", tr.ID()).Warnf("Relay rejected frame: %s", serverErr.Message)
		}

		m.dispatch(f.Event, ev)
	}
}

func (m *Manager) dispatch(name string, ev events.Event) {
	m.mu.Lock()
	subs := append([]subscription(nil), m.handlers[name]...)
	m.mu.Unlock()

	for _, s := range subs {
		m.invoke(name, s, ev)
	}
}

func (m *Manager) invoke(name string, s subscription, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(map[string]interface{}{
				"event": name,
				"panic": fmt.Sprint(r),
			}).Error("Event handler panicked")
		}
	}()
	s.handler(ev)
}

func (m *Manager) fail(gen uint64, err error) {
	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.lastErr = err
	m.tr = nil
	change := m.setStateLocked(StateDisconnected, err)
	m.mu.Unlock()

	logger.LogConnectionEvent("failed", "", map[string]interface{}{"error": err.Error()})
	m.notify(change)
}

// stopLocked cancels the loop and detaches the transport; the caller
// closes the returned transport after unlocking.
func (m *Manager) stopLocked() transport.Transport {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	tr := m.tr
	m.tr = nil
	m.connected = false
	return tr
}

func (m *Manager) setStateLocked(to State, err error) *StateChange {
	from := m.state
	m.state = to
	if from == to && err == nil {
		return nil
	}
	return &StateChange{From: from, To: to, Err: err}
}

func (m *Manager) notify(change *StateChange) {
	if change == nil {
		return
	}

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	m.mu.Lock()
	fns := make([]func(StateChange), 0, len(m.obsOrder))
	for _, id := range m.obsOrder {
		fns = append(fns, m.observers[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(*change)
	}
}
