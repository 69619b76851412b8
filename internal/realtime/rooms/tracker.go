// Package rooms tracks which conversation rooms the client has joined on
// the shared connection. Joins are additive; one room may be marked
// primary for the full-page chat view.
package rooms

import (
	"context"
	"sort"
	"sync"

	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"
)

// Tracker mirrors room membership and restores it after reconnects
type Tracker struct {
	provider connection.Provider

	mu      sync.Mutex
	joined  map[string]struct{}
	primary string

	stopObserving func()
}

// NewTracker creates a tracker bound to provider
func NewTracker(provider connection.Provider) *Tracker {
	t := &Tracker{
		provider: provider,
		joined:   make(map[string]struct{}),
	}
	t.stopObserving = provider.Observe(t.onStateChange)
	return t
}

// JoinConversation joins id and makes it the primary room. An empty id or
// an unavailable connection is a no-op.
func (t *Tracker) JoinConversation(ctx context.Context, id string) error {
	return t.join(ctx, id, true)
}

// JoinAdditional joins id without touching the primary room
func (t *Tracker) JoinAdditional(ctx context.Context, id string) error {
	return t.join(ctx, id, false)
}

func (t *Tracker) join(ctx context.Context, id string, primary bool) error {
	if id == "" {
		return nil
	}
	if !t.provider.EnsureConnection(ctx) {
		logger.WithField("conversation_id", id).Debug("Join skipped, no connection")
		return nil
	}

	if err := t.provider.Emit(ctx, events.JoinConversation{ConversationID: id}); err != nil {
		return err
	}

	t.mu.Lock()
	t.joined[id] = struct{}{}
	if primary {
		t.primary = id
	}
	t.mu.Unlock()

	logger.LogChatEvent("join", id, "", map[string]interface{}{"primary": primary})
	return nil
}

// LeaveConversation leaves the primary room and clears it
func (t *Tracker) LeaveConversation(ctx context.Context) error {
	t.mu.Lock()
	id := t.primary
	t.primary = ""
	t.mu.Unlock()

	if id == "" {
		return nil
	}
	return t.Leave(ctx, id)
}

// Leave leaves a specific room
func (t *Tracker) Leave(ctx context.Context, id string) error {
	t.mu.Lock()
	_, ok := t.joined[id]
	delete(t.joined, id)
	if t.primary == id {
		t.primary = ""
	}
	t.mu.Unlock()

	if !ok || t.provider.State() != connection.StateConnected {
		return nil
	}

	if err := t.provider.Emit(ctx, events.LeaveConversation{ConversationID: id}); err != nil {
		return err
	}
	logger.LogChatEvent("leave", id, "", nil)
	return nil
}

// Joined returns the joined rooms in lexical order
func (t *Tracker) Joined() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.joined))
	for id := range t.joined {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsJoined reports whether id is tracked
func (t *Tracker) IsJoined(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.joined[id]
	return ok
}

func (t *Tracker) Primary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.primary
}

// Rejoin re-emits a join for every tracked room. A fresh socket has no
// room membership on the relay.
func (t *Tracker) Rejoin(ctx context.Context) {
	for _, id := range t.Joined() {
		if err := t.provider.Emit(ctx, events.JoinConversation{ConversationID: id}); err != nil {
			logger.WithError(err).WithField("conversation_id", id).Warn("Rejoin failed")
			return
		}
	}
}

// Reset forgets every room without emitting
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.joined = make(map[string]struct{})
	t.primary = ""
	t.mu.Unlock()
}

// Close stops following connection state
func (t *Tracker) Close() {
	t.stopObserving()
}

func (t *Tracker) onStateChange(c connection.StateChange) {
	switch {
	case c.To == connection.StateConnected && c.From != connection.StateConnected:
		t.Rejoin(context.Background())
	case c.To == connection.StateDisconnected && c.Err == nil:
		// explicit disconnect clears local room state
		t.Reset()
	}
}
