package messaging

import (
	"sync"

	"socialchat/internal/models"
)

type pendingOp int

const (
	pendingNone pendingOp = iota
	pendingInsert
	pendingMutate
)

type entry struct {
	msg     *models.Message
	pending pendingOp
	backup  *models.Message
}

// Timeline is the ordered message list of one conversation. Entries are
// only ever appended or mutated in place; message identity is the sole
// key for matching local copies with server broadcasts.
type Timeline struct {
	conversationID string

	mu      sync.RWMutex
	entries []*entry
	index   map[string]int
}

// NewTimeline creates an empty timeline
func NewTimeline(conversationID string) *Timeline {
	return &Timeline{
		conversationID: conversationID,
		index:          make(map[string]int),
	}
}

// ConversationID returns the owning conversation
func (t *Timeline) ConversationID() string {
	return t.conversationID
}

// Load replaces confirmed history. Tentative sends not yet in history are
// kept after it.
func (t *Timeline) Load(history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[string]bool, len(history))
	entries := make([]*entry, 0, len(history))
	for i := range history {
		if history[i].ID == "" || seen[history[i].ID] {
			continue
		}
		seen[history[i].ID] = true
		entries = append(entries, &entry{msg: history[i].Clone()})
	}
	for _, e := range t.entries {
		if e.pending == pendingInsert && !seen[e.msg.ID] {
			entries = append(entries, e)
		}
	}

	t.entries = entries
	t.reindex()
}

// Tentative appends an unconfirmed local copy. It reports false when the
// identity is already present.
func (t *Timeline) Tentative(m models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.index[m.ID]; ok {
		return false
	}
	t.append(&entry{msg: m.Clone(), pending: pendingInsert})
	return true
}

// Apply records an authoritative copy. An absent identity is appended and
// Apply reports true; a pending local copy is confirmed in place; a
// confirmed copy is left untouched.
func (t *Timeline) Apply(m models.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[m.ID]
	if !ok {
		t.append(&entry{msg: m.Clone()})
		return true
	}

	e := t.entries[i]
	if e.pending == pendingInsert {
		e.msg = m.Clone()
		e.pending = pendingNone
	}
	return false
}

// Mutate applies fn tentatively, keeping a backup for Reconcile
func (t *Timeline) Mutate(id string, fn func(*models.Message)) (models.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return models.Message{}, ErrUnknownMessage
	}

	e := t.entries[i]
	switch e.pending {
	case pendingInsert:
		return models.Message{}, ErrMessagePending
	case pendingNone:
		e.backup = e.msg.Clone()
		e.pending = pendingMutate
	}
	fn(e.msg)
	return *e.backup.Clone(), nil
}

// Update applies a confirmed change in place. A backup held for a pending
// mutation receives the change too, so a rollback keeps it.
func (t *Timeline) Update(id string, fn func(*models.Message)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.index[id]
	if !ok {
		return ErrUnknownMessage
	}

	e := t.entries[i]
	fn(e.msg)
	if e.backup != nil {
		fn(e.backup)
	}
	return nil
}

// Reconcile settles the pending operation on id. ok confirms it, with
// server replacing the local copy when given; !ok rolls it back: a
// tentative insert is removed, a tentative mutation restored.
func (t *Timeline) Reconcile(id string, ok bool, server *models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, found := t.index[id]
	if !found {
		return
	}
	e := t.entries[i]

	switch e.pending {
	case pendingInsert:
		if !ok {
			t.entries = append(t.entries[:i], t.entries[i+1:]...)
			t.reindex()
			return
		}
	case pendingMutate:
		if !ok {
			e.msg = e.backup
		}
	case pendingNone:
		if !ok {
			return
		}
	}

	if ok && server != nil {
		e.msg = server.Clone()
	}
	e.pending = pendingNone
	e.backup = nil
}

// Messages returns a copy of the list in display order
func (t *Timeline) Messages() []models.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e.msg.Clone()
	}
	return out
}

// Get returns a copy of one message
func (t *Timeline) Get(id string) (models.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.index[id]
	if !ok {
		return models.Message{}, false
	}
	return *t.entries[i].msg.Clone(), true
}

// Pending reports whether id awaits confirmation
func (t *Timeline) Pending(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	i, ok := t.index[id]
	return ok && t.entries[i].pending != pendingNone
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// forEach runs fn on every message under the write lock
func (t *Timeline) forEach(fn func(*models.Message) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := 0
	for _, e := range t.entries {
		if fn(e.msg) {
			changed++
		}
	}
	return changed
}

func (t *Timeline) append(e *entry) {
	t.index[e.msg.ID] = len(t.entries)
	t.entries = append(t.entries, e)
}

func (t *Timeline) reindex() {
	t.index = make(map[string]int, len(t.entries))
	for i, e := range t.entries {
		t.index[e.msg.ID] = i
	}
}
