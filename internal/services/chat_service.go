package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"socialchat/internal/models"
	"socialchat/internal/realtime/events"
	"socialchat/internal/storage"
	"socialchat/internal/utils"
	"socialchat/internal/websocket"
	"socialchat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrNotParticipant  = errors.New("not a participant of this conversation")
	ErrNotSender       = errors.New("only the sender can recall a message")
	ErrMessageRecalled = errors.New("message has been recalled")
	ErrDuplicateID     = errors.New("message id already in use")
)

// ValidationFailure lists the fields a request failed on
type ValidationFailure struct {
	Errors []utils.ValidationError
}

func (e *ValidationFailure) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for _, v := range e.Errors {
		fields = append(fields, v.Field)
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

// Broadcaster fans an event out to a room and a set of users
type Broadcaster interface {
	Deliver(roomID string, userIDs []string, ev events.Event, exclude *websocket.Client) int
}

type SendMessageRequest struct {
	ID         string             `json:"_id" validate:"omitempty,objectid"`
	Type       models.MessageType `json:"type" validate:"omitempty,message_type"`
	Content    string             `json:"content" validate:"required_without=Attachment,max=4000"`
	Attachment string             `json:"attachment" validate:"max=2048"`
}

type ReactionRequest struct {
	Type string `json:"type" validate:"required,max=32"`
}

type CreateConversationRequest struct {
	Type         models.ConversationType `json:"type" validate:"required,conversation_type"`
	Name         string                  `json:"name" validate:"max=100"`
	Participants []models.UserRef        `json:"participants" validate:"required,min=1"`
}

// ChatService persists conversation activity and broadcasts it to the
// conversation's room and participants.
type ChatService struct {
	store storage.Store
	hub   Broadcaster
	now   func() time.Time

	// reactions and recalls are read-modify-write on a message
	mu sync.Mutex
}

func NewChatService(store storage.Store, hub Broadcaster) *ChatService {
	return &ChatService{
		store: store,
		hub:   hub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ListConversations returns userID's conversations with unread counts
func (s *ChatService) ListConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		n, err := s.store.CountUnread(ctx, convs[i].ID, userID)
		if err != nil {
			return nil, fmt.Errorf("count unread: %w", err)
		}
		convs[i].UnreadCount = n
	}
	return convs, nil
}

// CreateConversation creates a conversation with creator as first
// participant. A private conversation between the same two users is
// returned instead of duplicated.
func (s *ChatService) CreateConversation(ctx context.Context, creator models.UserRef, req CreateConversationRequest) (*models.Conversation, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	creatorRole := "member"
	if req.Type == models.ConversationGroup {
		creatorRole = "admin"
	}
	participants := []models.Participant{{User: creator, Role: creatorRole}}
	seen := map[string]struct{}{creator.ID: {}}
	for _, u := range req.Participants {
		if u.IsZero() {
			continue
		}
		if _, dup := seen[u.ID]; dup {
			continue
		}
		seen[u.ID] = struct{}{}
		participants = append(participants, models.Participant{User: u, Role: "member"})
	}

	if req.Type == models.ConversationPrivate {
		if len(participants) != 2 {
			return nil, &ValidationFailure{Errors: []utils.ValidationError{{
				Field:   "participants",
				Tag:     "len",
				Message: "a private conversation has exactly one other participant",
			}}}
		}
		existing, err := s.findPrivate(ctx, creator.ID, participants[1].User.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := s.now()
	conv := &models.Conversation{
		ID:           primitive.NewObjectID().Hex(),
		Type:         req.Type,
		Name:         req.Name,
		Participants: participants,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	logger.LogChatEvent("conversation_created", conv.ID, creator.ID, map[string]interface{}{
		"type":         conv.Type,
		"participants": len(participants),
	})
	return conv, nil
}

func (s *ChatService) findPrivate(ctx context.Context, a, b string) (*models.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, a)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	for i := range convs {
		if convs[i].Type == models.ConversationPrivate && convs[i].HasParticipant(b) {
			return &convs[i], nil
		}
	}
	return nil, nil
}

// History returns the latest limit messages of a conversation, oldest first
func (s *ChatService) History(ctx context.Context, userID, conversationID string, limit int) ([]models.Message, error) {
	if _, err := s.participantConversation(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	msgs, err := s.store.ListMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// SendMessage stores a message under the client-chosen id when given and
// broadcasts it. Resending an id the same sender already stored in the same
// conversation returns the stored message without a second broadcast.
func (s *ChatService) SendMessage(ctx context.Context, sender models.UserRef, conversationID string, req SendMessageRequest) (*models.Message, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	conv, err := s.participantConversation(ctx, conversationID, sender.ID)
	if err != nil {
		return nil, err
	}
	sender = profileIn(conv, sender)

	msgType := req.Type
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	id := req.ID
	if id == "" {
		id = primitive.NewObjectID().Hex()
	}

	msg := &models.Message{
		ID:             id,
		ConversationID: conversationID,
		Sender:         &sender,
		Type:           msgType,
		Content:        req.Content,
		Attachment:     req.Attachment,
		CreatedAt:      s.now(),
		Reactions:      []models.Reaction{},
		ReadBy:         []models.ReadReceipt{},
	}

	if err := s.store.InsertMessage(ctx, msg); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		existing, getErr := s.store.GetMessage(ctx, id)
		if getErr != nil {
			return nil, fmt.Errorf("load duplicate: %w", getErr)
		}
		if existing.ConversationID != conversationID || !existing.SentBy(sender.ID) {
			return nil, ErrDuplicateID
		}
		return existing, nil
	}

	if err := s.store.TouchConversation(ctx, conversationID, models.Summarize(msg), msg.CreatedAt); err != nil {
		logger.LogError(err, "touch_conversation", map[string]interface{}{"conversation_id": conversationID})
	}

	delivered := s.hub.Deliver(conversationID, conv.ActiveParticipantIDs(), events.MessageCreated{Message: *msg}, nil)

	logger.LogChatEvent("message_sent", conversationID, sender.ID, map[string]interface{}{
		"message_id": msg.ID,
		"type":       msg.Type,
		"delivered":  delivered,
	})
	return msg, nil
}

// ToggleReaction adds, switches or removes user's reaction and returns the
// message's reactions afterwards.
func (s *ChatService) ToggleReaction(ctx context.Context, user models.UserRef, messageID string, req ReactionRequest) ([]models.Reaction, error) {
	if errs := utils.ValidateStruct(req); len(errs) > 0 {
		return nil, &ValidationFailure{Errors: errs}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, conv, err := s.participantMessage(ctx, messageID, user.ID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted {
		return nil, ErrMessageRecalled
	}
	user = profileIn(conv, user)

	msg.ToggleReaction(user, req.Type, s.now())
	if msg.Reactions == nil {
		msg.Reactions = []models.Reaction{}
	}
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	s.hub.Deliver(conv.ID, conv.ActiveParticipantIDs(), events.ReactionsUpdated{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
		Reactions:      msg.Reactions,
	}, nil)

	logger.LogChatEvent("reaction_toggled", conv.ID, user.ID, map[string]interface{}{
		"message_id": msg.ID,
		"reaction":   req.Type,
	})
	return msg.Reactions, nil
}

// RecallMessage soft-deletes a message. Only its sender may recall it and
// recalling twice is a no-op.
func (s *ChatService) RecallMessage(ctx context.Context, userID, messageID string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, conv, err := s.participantMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if !msg.SentBy(userID) {
		return nil, ErrNotSender
	}
	if msg.Deleted {
		return msg, nil
	}

	msg.Recall(s.now())
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("update message: %w", err)
	}

	if conv.LastMessage != nil && conv.LastMessage.ID == msg.ID {
		if err := s.store.TouchConversation(ctx, conv.ID, models.Summarize(msg), conv.LastActivity); err != nil {
			logger.LogError(err, "touch_conversation", map[string]interface{}{"conversation_id": conv.ID})
		}
	}

	s.hub.Deliver(conv.ID, conv.ActiveParticipantIDs(), events.MessageRecalled{
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}, nil)

	logger.LogChatEvent("message_recalled", conv.ID, userID, map[string]interface{}{"message_id": msg.ID})
	return msg, nil
}

// MarkRead records reader as having read every message of the
// conversation sent by someone else. It returns how many messages changed.
func (s *ChatService) MarkRead(ctx context.Context, reader models.UserRef, conversationID string) (int, error) {
	conv, err := s.participantConversation(ctx, conversationID, reader.ID)
	if err != nil {
		return 0, err
	}
	reader = profileIn(conv, reader)

	ids, err := s.store.MarkRead(ctx, conversationID, reader, s.now())
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if len(ids) > 0 {
		logger.LogChatEvent("messages_read", conversationID, reader.ID, map[string]interface{}{"count": len(ids)})
	}
	return len(ids), nil
}

func (s *ChatService) participantConversation(ctx context.Context, conversationID, userID string) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *ChatService) participantMessage(ctx context.Context, messageID, userID string) (*models.Message, *models.Conversation, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	conv, err := s.participantConversation(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, conv, nil
}

// profileIn fills name and avatar from the participant entry, which is
// fresher than token claims.
func profileIn(conv *models.Conversation, u models.UserRef) models.UserRef {
	for _, p := range conv.Participants {
		if p.User.ID != u.ID {
			continue
		}
		if p.User.Name != "" {
			u.Name = p.User.Name
		}
		if p.User.Avatar != "" {
			u.Avatar = p.User.Avatar
		}
		break
	}
	return u
}
