// Package incoming is the application-wide call-offer listener. It keeps
// exactly one call-offer handler on the connection while anyone listens.
package incoming

import (
	"sync"

	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"
)

// ListenerID identifies a registered callback
type ListenerID uint64

// Listener fans inbound call offers out to every registered callback
type Listener struct {
	provider connection.Provider

	mu        sync.Mutex
	listeners map[ListenerID]func(events.CallOffer)
	order     []ListenerID
	nextID    ListenerID
	handler   connection.SubscriptionID
	attached  bool
	closed    bool
	stop      func()
}

// NewListener watches provider state so the handler survives reconnects
func NewListener(provider connection.Provider) *Listener {
	l := &Listener{
		provider:  provider,
		listeners: make(map[ListenerID]func(events.CallOffer)),
	}
	l.stop = provider.Observe(l.onStateChange)
	return l
}

// AddListener registers fn; the first listener attaches the handler
func (l *Listener) AddListener(fn func(events.CallOffer)) ListenerID {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.order = append(l.order, id)
	attach := !l.attached && !l.closed && l.provider.State() != connection.StateDisconnected
	if attach {
		l.attached = true
	}
	l.mu.Unlock()

	if attach {
		l.attach()
	}
	return id
}

// RemoveListener unregisters id; the last one out detaches the handler
func (l *Listener) RemoveListener(id ListenerID) {
	l.mu.Lock()
	if _, ok := l.listeners[id]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.listeners, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
	detach := len(l.listeners) == 0 && l.attached
	l.mu.Unlock()

	if detach {
		l.detach()
	}
}

// Len returns the number of registered listeners
func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.listeners)
}

// Attached reports whether the call-offer handler is registered
func (l *Listener) Attached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attached
}

// Close detaches the handler and stops watching the connection
func (l *Listener) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	attached := l.attached
	l.mu.Unlock()

	l.stop()
	if attached {
		l.detach()
	}
}

// attach registers the call-offer handler. On runs unlocked because a
// provider may report a state change from inside it; whichever attach
// records its id first wins and the other one backs its registration out.
func (l *Listener) attach() {
	id := l.provider.On(events.NameCallOffer, l.dispatch)

	l.mu.Lock()
	if l.handler != 0 || !l.attached || l.closed {
		l.mu.Unlock()
		l.provider.Off(id)
		return
	}
	l.handler = id
	l.mu.Unlock()
	logger.Debug("Incoming call listener attached")
}

func (l *Listener) detach() {
	l.mu.Lock()
	id := l.handler
	l.handler = 0
	l.attached = false
	l.mu.Unlock()

	if id != 0 {
		l.provider.Off(id)
	}
	logger.Debug("Incoming call listener detached")
}

func (l *Listener) onStateChange(change connection.StateChange) {
	switch change.To {
	case connection.StateConnected:
		l.mu.Lock()
		// the manager drops handlers on disconnect; a stale id is harmless to Off
		stale := l.handler
		l.handler = 0
		reattach := len(l.listeners) > 0 && !l.closed
		if reattach {
			l.attached = true
		}
		l.mu.Unlock()

		if stale != 0 {
			l.provider.Off(stale)
		}
		if reattach {
			l.attach()
		}

	case connection.StateDisconnected:
		l.mu.Lock()
		attached := l.attached
		l.mu.Unlock()
		if attached {
			l.detach()
		}
	}
}

func (l *Listener) dispatch(ev events.Event) {
	offer, ok := ev.(events.CallOffer)
	if !ok {
		return
	}

	l.mu.Lock()
	fns := make([]func(events.CallOffer), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.listeners[id])
	}
	l.mu.Unlock()

	logger.LogCallEvent("call_offer_received", offer.ConversationID, offer.Caller, map[string]interface{}{
		"is_video":  offer.IsVideo,
		"listeners": len(fns),
	})
	for _, fn := range fns {
		fn(offer)
	}
}
