package realtimetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/transport"
)

// Transport is an in-memory transport. The test plays the relay through
// Push, Sent and Drop.
type Transport struct {
	id string

	in   chan events.Frame
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	sent   []events.Frame
	closed bool
	sentCh chan events.Frame
}

// NewTransport creates an open transport with socket id id
func NewTransport(id string) *Transport {
	return &Transport{
		id:     id,
		in:     make(chan events.Frame, 64),
		done:   make(chan struct{}),
		sentCh: make(chan events.Frame, 64),
	}
}

func (t *Transport) ID() string   { return t.id }
func (t *Transport) Name() string { return "fake" }

func (t *Transport) Send(_ context.Context, f events.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return transport.ErrClosed
	}
	t.sent = append(t.sent, f)
	select {
	case t.sentCh <- f:
	default:
	}
	return nil
}

func (t *Transport) Receive(ctx context.Context) (events.Frame, error) {
	select {
	case f := <-t.in:
		return f, nil
	case <-t.done:
		return events.Frame{}, transport.ErrClosed
	case <-ctx.Done():
		return events.Frame{}, ctx.Err()
	}
}

func (t *Transport) Close() error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	})
	return nil
}

// Drop simulates a network loss
func (t *Transport) Drop() { t.Close() }

// Closed reports whether the transport was closed
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Push delivers ev to the client as if the relay had sent it
func (t *Transport) Push(ev events.Event) {
	t.in <- events.MustEncode(ev)
}

// PushFrame delivers a raw frame
func (t *Transport) PushFrame(f events.Frame) {
	t.in <- f
}

// Sent returns the frames the client has sent
func (t *Transport) Sent() []events.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]events.Frame(nil), t.sent...)
}

// NextSent waits for the next frame sent by the client
func (t *Transport) NextSent(timeout time.Duration) (events.Frame, bool) {
	select {
	case f := <-t.sentCh:
		return f, true
	case <-time.After(timeout):
		return events.Frame{}, false
	}
}

// Dialer hands out Transports and can be scripted to fail
type Dialer struct {
	mu         sync.Mutex
	script     []error
	transports []*Transport
	dials      atomic.Int32
	dialed     chan *Transport
	tokens     []string
}

var _ transport.Dialer = (*Dialer)(nil)

func NewDialer() *Dialer {
	return &Dialer{dialed: make(chan *Transport, 16)}
}

// FailNext makes the next len(errs) dials return errs in order
func (d *Dialer) FailNext(errs ...error) {
	d.mu.Lock()
	d.script = append(d.script, errs...)
	d.mu.Unlock()
}

func (d *Dialer) Dial(ctx context.Context, target transport.Target) (transport.Transport, error) {
	n := d.dials.Add(1)

	d.mu.Lock()
	d.tokens = append(d.tokens, target.Token)
	if len(d.script) > 0 {
		err := d.script[0]
		d.script = d.script[1:]
		d.mu.Unlock()
		return nil, err
	}
	t := NewTransport(fmt.Sprintf("sock-%d", n))
	d.transports = append(d.transports, t)
	d.mu.Unlock()

	select {
	case d.dialed <- t:
	default:
	}
	return t, nil
}

// Dials counts Dial calls, failed ones included
func (d *Dialer) Dials() int {
	return int(d.dials.Load())
}

// Transports returns every transport handed out
func (d *Dialer) Transports() []*Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Transport(nil), d.transports...)
}

// Tokens returns the token presented on each dial
func (d *Dialer) Tokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.tokens...)
}

// WaitDial returns the next successfully dialed transport
func (d *Dialer) WaitDial(timeout time.Duration) *Transport {
	select {
	case t := <-d.dialed:
		return t
	case <-time.After(timeout):
		return nil
	}
}

// Tokens is a TokenSource counting refreshes
type Tokens struct {
	mu        sync.Mutex
	Token     string
	Err       error
	refreshes int
}

func (t *Tokens) GetValidToken(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Token, t.Err
}

func (t *Tokens) Refresh(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshes++
	return t.Token, t.Err
}

// Refreshes counts Refresh calls
func (t *Tokens) Refreshes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.refreshes
}
