package models

import (
	"time"
)

// MessageType represents different kinds of chat messages
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeEmote  MessageType = "emote"
	MessageTypeSystem MessageType = "system"
)

// RecalledContent replaces the content of a recalled message
const RecalledContent = "This message has been recalled"

// Valid reports whether t can be sent by a user
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeEmote:
		return true
	}
	return false
}

// Reaction is one user's reaction to a message
type Reaction struct {
	User      UserRef   `bson:"user" json:"user"`
	Type      string    `bson:"type" json:"type"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// ReadReceipt records that Reader has seen a message
type ReadReceipt struct {
	Reader UserRef   `bson:"reader" json:"reader"`
	ReadAt time.Time `bson:"read_at" json:"readAt"`
}

// Message belongs to exactly one conversation. ID is globally unique and is
// the only key used to reconcile local copies with server broadcasts.
type Message struct {
	ID             string        `bson:"_id" json:"_id"`
	ConversationID string        `bson:"conversation_id" json:"conversationId"`
	Sender         *UserRef      `bson:"sender,omitempty" json:"sender,omitempty"` // nil for system messages
	Type           MessageType   `bson:"type" json:"type"`
	Content        string        `bson:"content" json:"content"`
	Attachment     string        `bson:"attachment,omitempty" json:"attachment,omitempty"`
	CreatedAt      time.Time     `bson:"created_at" json:"createdAt"`
	Edited         bool          `bson:"edited" json:"edited"`
	Deleted        bool          `bson:"deleted" json:"deleted"`
	DeletedAt      *time.Time    `bson:"deleted_at,omitempty" json:"deletedAt,omitempty"`
	Reactions      []Reaction    `bson:"reactions" json:"reactions"`
	ReadBy         []ReadReceipt `bson:"read_by" json:"readBy"`
}

// SentBy reports whether userID authored the message
func (m *Message) SentBy(userID string) bool {
	return m.Sender != nil && m.Sender.ID == userID
}

// LatestReaction returns the reaction that is rendered, the most recent one
func (m *Message) LatestReaction() *Reaction {
	var latest *Reaction
	for i := range m.Reactions {
		r := &m.Reactions[i]
		if latest == nil || !r.CreatedAt.Before(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// ToggleReaction adds, replaces or removes user's reaction and reports
// whether a reaction of reactionType remains.
func (m *Message) ToggleReaction(user UserRef, reactionType string, at time.Time) bool {
	for i, r := range m.Reactions {
		if r.User.ID != user.ID {
			continue
		}
		if r.Type == reactionType {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return false
		}
		m.Reactions[i].Type = reactionType
		m.Reactions[i].CreatedAt = at
		return true
	}
	m.Reactions = append(m.Reactions, Reaction{User: user, Type: reactionType, CreatedAt: at})
	return true
}

// IsReadBy reports whether userID has a receipt on the message
func (m *Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.Reader.ID == userID {
			return true
		}
	}
	return false
}

// MarkRead appends a receipt for reader unless one exists
func (m *Message) MarkRead(reader UserRef, at time.Time) bool {
	if m.IsReadBy(reader.ID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{Reader: reader, ReadAt: at})
	return true
}

// Recall soft-deletes the message in place. History keeps the entry.
func (m *Message) Recall(at time.Time) {
	m.Content = RecalledContent
	m.Attachment = ""
	m.Deleted = true
	m.DeletedAt = &at
}

// Clone returns a deep copy safe to mutate
func (m *Message) Clone() *Message {
	c := *m
	if m.Sender != nil {
		s := *m.Sender
		c.Sender = &s
	}
	if m.DeletedAt != nil {
		d := *m.DeletedAt
		c.DeletedAt = &d
	}
	c.Reactions = append([]Reaction(nil), m.Reactions...)
	c.ReadBy = append([]ReadReceipt(nil), m.ReadBy...)
	return &c
}
