// Package realtimetest provides in-memory fakes of the connection layer:
// a Provider for the modules built on top of it and a scripted Dialer for
// the Manager itself.
package realtimetest

import (
	"context"
	"sync"

	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
)

// Provider is a connection.Provider that records emitted events and lets a
// test deliver inbound events synchronously.
type Provider struct {
	mu        sync.Mutex
	state     connection.State
	ensure    bool
	socketID  string
	emitErr   error
	emitted   []events.Event
	handlers  map[string][]handlerEntry
	names     map[connection.SubscriptionID]string
	nextID    connection.SubscriptionID
	observers map[int]func(connection.StateChange)
	nextObs   int
}

type handlerEntry struct {
	id connection.SubscriptionID
	fn connection.Handler
}

var _ connection.Provider = (*Provider)(nil)

// NewProvider returns a connected provider
func NewProvider() *Provider {
	return &Provider{
		state:     connection.StateConnected,
		ensure:    true,
		socketID:  "sock-test",
		handlers:  make(map[string][]handlerEntry),
		names:     make(map[connection.SubscriptionID]string),
		observers: make(map[int]func(connection.StateChange)),
	}
}

// SetEnsure fixes the result of EnsureConnection
func (p *Provider) SetEnsure(ok bool) {
	p.mu.Lock()
	p.ensure = ok
	p.mu.Unlock()
}

// FailEmits makes every Emit return err until called with nil
func (p *Provider) FailEmits(err error) {
	p.mu.Lock()
	p.emitErr = err
	p.mu.Unlock()
}

func (p *Provider) EnsureConnection(context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensure
}

func (p *Provider) Emit(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.emitErr != nil {
		return p.emitErr
	}
	p.emitted = append(p.emitted, ev)
	return nil
}

func (p *Provider) On(name string, h connection.Handler) connection.SubscriptionID {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.handlers[name] = append(p.handlers[name], handlerEntry{id: p.nextID, fn: h})
	p.names[p.nextID] = name
	return p.nextID
}

func (p *Provider) Off(id connection.SubscriptionID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	name, ok := p.names[id]
	if !ok {
		return
	}
	delete(p.names, id)
	entries := p.handlers[name]
	for i, e := range entries {
		if e.id == id {
			p.handlers[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
}

func (p *Provider) Observe(fn func(connection.StateChange)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextObs++
	id := p.nextObs
	p.observers[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) State() connection.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Provider) SocketID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.socketID
}

// SetState moves the fake to state and notifies observers. Connected also
// makes EnsureConnection succeed, disconnected makes it fail.
func (p *Provider) SetState(state connection.State, reconnect bool) {
	p.mu.Lock()
	from := p.state
	p.state = state
	switch state {
	case connection.StateConnected:
		p.ensure = true
	case connection.StateDisconnected:
		p.ensure = false
	}
	fns := make([]func(connection.StateChange), 0, len(p.observers))
	for i := 1; i <= p.nextObs; i++ {
		if fn, ok := p.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	change := connection.StateChange{From: from, To: state, SocketID: p.SocketID(), Reconnect: reconnect}
	for _, fn := range fns {
		fn(change)
	}
}

// Deliver dispatches ev to the handlers registered for its name
func (p *Provider) Deliver(ev events.Event) {
	p.mu.Lock()
	entries := append([]handlerEntry(nil), p.handlers[ev.EventName()]...)
	p.mu.Unlock()

	for _, e := range entries {
		e.fn(ev)
	}
}

// HandlerCount returns the number of handlers registered for name
func (p *Provider) HandlerCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers[name])
}

// Emitted returns every event emitted so far
func (p *Provider) Emitted() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Event(nil), p.emitted...)
}

// EmittedNamed returns the emitted events named name
func (p *Provider) EmittedNamed(name string) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.emitted {
		if ev.EventName() == name {
			out = append(out, ev)
		}
	}
	return out
}

// ClearEmitted forgets recorded events
func (p *Provider) ClearEmitted() {
	p.mu.Lock()
	p.emitted = nil
	p.mu.Unlock()
}
