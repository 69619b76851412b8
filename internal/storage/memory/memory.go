// Package memory is an in-process Store and PresenceStore for tests and
// single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"socialchat/internal/models"
	"socialchat/internal/storage"
)

type Store struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string]*models.Message
	byConv        map[string][]string // message ids in insertion order
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		conversations: make(map[string]*models.Conversation),
		messages:      make(map[string]*models.Message),
		byConv:        make(map[string][]string),
	}
}

func (s *Store) CreateConversation(_ context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[conv.ID]; ok {
		return storage.ErrDuplicate
	}
	c := *conv
	c.Participants = append([]models.Participant(nil), conv.Participants...)
	s.conversations[conv.ID] = &c
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := copyConversation(c)
	return &out, nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if c.HasParticipant(userID) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) TouchConversation(_ context.Context, id string, last *models.MessageSummary, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return storage.ErrNotFound
	}
	if last != nil {
		l := *last
		c.LastMessage = &l
	}
	c.LastActivity = at
	return nil
}

func (s *Store) InsertMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return storage.ErrDuplicate
	}
	s.messages[msg.ID] = msg.Clone()
	s.byConv[msg.ConversationID] = append(s.byConv[msg.ConversationID], msg.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byConv[conversationID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *s.messages[id].Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) UpdateMessage(_ context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; !ok {
		return storage.ErrNotFound
	}
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *Store) MarkRead(_ context.Context, conversationID string, reader models.UserRef, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if m.SentBy(reader.ID) {
			continue
		}
		if m.MarkRead(reader, at) {
			changed = append(changed, id)
		}
	}
	return changed, nil
}

func (s *Store) CountUnread(_ context.Context, conversationID, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, id := range s.byConv[conversationID] {
		m := s.messages[id]
		if !m.SentBy(userID) && !m.IsReadBy(userID) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close(context.Context) error { return nil }

func copyConversation(c *models.Conversation) models.Conversation {
	out := *c
	out.Participants = append([]models.Participant(nil), c.Participants...)
	if c.LastMessage != nil {
		l := *c.LastMessage
		out.LastMessage = &l
	}
	return out
}

// Presence counts sockets per user
type Presence struct {
	mu      sync.Mutex
	sockets map[string]map[string]struct{}
}

var _ storage.PresenceStore = (*Presence)(nil)

func NewPresence() *Presence {
	return &Presence{sockets: make(map[string]map[string]struct{})}
}

func (p *Presence) Connect(_ context.Context, userID, socketID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sockets[userID]
	if !ok {
		set = make(map[string]struct{})
		p.sockets[userID] = set
	}
	set[socketID] = struct{}{}
	return len(set) == 1, nil
}

func (p *Presence) Disconnect(_ context.Context, userID, socketID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sockets[userID]
	if !ok {
		return false, nil
	}
	if _, had := set[socketID]; !had {
		return false, nil
	}
	delete(set, socketID)
	if len(set) == 0 {
		delete(p.sockets, userID)
		return true, nil
	}
	return false, nil
}

func (p *Presence) Online(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sockets[userID]) > 0, nil
}

func (p *Presence) OnlineUsers(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.sockets))
	for id := range p.sockets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (p *Presence) Close() error { return nil }
