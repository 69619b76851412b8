package models

import (
	"time"
)

// ConversationType represents the kind of chat channel
type ConversationType string

const (
	ConversationPrivate ConversationType = "private"
	ConversationGroup   ConversationType = "group"
	ConversationChatbot ConversationType = "chatbot"
)

// Valid reports whether t is a known conversation type
func (t ConversationType) Valid() bool {
	switch t {
	case ConversationPrivate, ConversationGroup, ConversationChatbot:
		return true
	}
	return false
}

// Participant is a member of a conversation
type Participant struct {
	User     UserRef    `bson:"user" json:"user"`
	Nickname string     `bson:"nickname,omitempty" json:"nickname,omitempty"`
	Role     string     `bson:"role,omitempty" json:"role,omitempty"` // member, admin
	LeftAt   *time.Time `bson:"left_at,omitempty" json:"leftAt,omitempty"`
}

// Active reports whether the participant has not left
func (p Participant) Active() bool {
	return p.LeftAt == nil
}

// MessageSummary is the last-message preview shown in conversation lists
type MessageSummary struct {
	ID        string      `bson:"_id" json:"_id"`
	SenderID  string      `bson:"sender_id,omitempty" json:"senderId,omitempty"`
	Type      MessageType `bson:"type" json:"type"`
	Content   string      `bson:"content" json:"content"`
	CreatedAt time.Time   `bson:"created_at" json:"createdAt"`
}

// Conversation represents a chat channel
type Conversation struct {
	ID           string           `bson:"_id" json:"_id"`
	Type         ConversationType `bson:"type" json:"type"`
	Name         string           `bson:"name,omitempty" json:"name,omitempty"`
	Participants []Participant    `bson:"participants" json:"participants"`
	LastActivity time.Time        `bson:"last_activity" json:"lastActivity"`
	LastMessage  *MessageSummary  `bson:"last_message,omitempty" json:"lastMessage,omitempty"`
	UnreadCount  int              `bson:"-" json:"unreadCount"`
	CreatedAt    time.Time        `bson:"created_at" json:"createdAt"`
}

// HasParticipant reports whether userID is an active participant
func (c *Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.User.ID == userID && p.Active() {
			return true
		}
	}
	return false
}

// ActiveParticipantIDs returns the ids of participants that have not left
func (c *Conversation) ActiveParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		if p.Active() {
			ids = append(ids, p.User.ID)
		}
	}
	return ids
}

// Summarize builds the list preview for a message
func Summarize(m *Message) *MessageSummary {
	s := &MessageSummary{
		ID:        m.ID,
		Type:      m.Type,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
	if m.Sender != nil {
		s.SenderID = m.Sender.ID
	}
	return s
}
