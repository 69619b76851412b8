// Package storage defines the persistence contracts of the relay.
// Implementations live in the memory, mongo and redis subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"socialchat/internal/models"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate id")
)

// Store holds conversations and their messages
type Store interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	// ListConversations returns the conversations userID actively takes part
	// in, most recent activity first.
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	TouchConversation(ctx context.Context, id string, last *models.MessageSummary, at time.Time) error

	InsertMessage(ctx context.Context, msg *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns up to limit messages in ascending time order,
	// the most recent ones when the conversation has more.
	ListMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	UpdateMessage(ctx context.Context, msg *models.Message) error
	// MarkRead adds a receipt for reader to every message of the
	// conversation not sent by reader and returns the ids it changed.
	MarkRead(ctx context.Context, conversationID string, reader models.UserRef, at time.Time) ([]string, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)

	Close(ctx context.Context) error
}

// PresenceStore tracks which users have at least one open socket
type PresenceStore interface {
	// Connect records socketID for userID and reports whether it is the
	// user's first socket.
	Connect(ctx context.Context, userID, socketID string) (bool, error)
	// Disconnect removes socketID and reports whether it was the last one
	Disconnect(ctx context.Context, userID, socketID string) (bool, error)
	Online(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
	Close() error
}
