package messaging

import (
	"context"
	"net/http"
	"sort"
	"sync"

	"socialchat/internal/models"
	"socialchat/internal/realtime/api"
)

// ConversationList is the client's transient copy of its conversations
type ConversationList struct {
	api api.Requester
	me  string

	mu      sync.RWMutex
	convs   map[string]*models.Conversation
	focused string
}

// NewConversationList creates an empty list for user me
func NewConversationList(requester api.Requester, me string) *ConversationList {
	return &ConversationList{
		api:   requester,
		me:    me,
		convs: make(map[string]*models.Conversation),
	}
}

// Load fetches the conversation list from the relay
func (l *ConversationList) Load(ctx context.Context) error {
	var convs []models.Conversation
	if err := l.api.Request(ctx, http.MethodGet, "/api/conversations", nil, &convs); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.convs = make(map[string]*models.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		l.convs[c.ID] = &c
	}
	return nil
}

// Put inserts or replaces a conversation
func (l *ConversationList) Put(c models.Conversation) {
	l.mu.Lock()
	l.convs[c.ID] = &c
	l.mu.Unlock()
}

// Focus marks id as the conversation on screen; it does not accumulate
// unread messages.
func (l *ConversationList) Focus(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.focused = id
	if c, ok := l.convs[id]; ok {
		c.UnreadCount = 0
	}
}

func (l *ConversationList) Focused() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.focused
}

func (l *ConversationList) Get(id string) (models.Conversation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	c, ok := l.convs[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// All returns the conversations, most recently active first
func (l *ConversationList) All() []models.Conversation {
	l.mu.RLock()
	out := make([]models.Conversation, 0, len(l.convs))
	for _, c := range l.convs {
		out = append(out, *c)
	}
	l.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out
}

func (l *ConversationList) resetUnread(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.convs[id]; ok {
		c.UnreadCount = 0
	}
}

// observe updates the preview, activity and unread count for a new message
func (l *ConversationList) observe(m *models.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.convs[m.ConversationID]
	if !ok {
		return
	}

	if c.LastMessage == nil || !m.CreatedAt.Before(c.LastMessage.CreatedAt) {
		c.LastMessage = models.Summarize(m)
	}
	if m.CreatedAt.After(c.LastActivity) {
		c.LastActivity = m.CreatedAt
	}
	if !m.SentBy(l.me) && m.ConversationID != l.focused {
		c.UnreadCount++
	}
}
