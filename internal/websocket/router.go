package websocket

import (
	"context"
	"errors"
	"time"

	"socialchat/internal/metrics"
	"socialchat/internal/models"
	"socialchat/internal/realtime/events"
	"socialchat/internal/storage"
	"socialchat/pkg/logger"
)

const routeTimeout = 5 * time.Second

// HandleFrame routes one inbound frame from c
func (h *Hub) HandleFrame(c *Client, frame events.Frame) {
	ev, err := events.Decode(frame)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEvent) {
			c.Emit(events.ServerError{Message: "unknown event: " + frame.Event})
			return
		}
		c.Emit(events.ServerError{Message: "invalid " + frame.Event + " payload"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), routeTimeout)
	defer cancel()

	switch e := ev.(type) {
	case events.JoinUser:
		h.handleJoinUser(ctx, c, e)
	case events.JoinConversation:
		h.handleJoinConversation(ctx, c, e)
	case events.LeaveConversation:
		if e.ConversationID != "" {
			h.Leave(c, e.ConversationID)
		}
	case events.CallOffer:
		h.handleCallOffer(ctx, c, e)
	case events.CallAnswer:
		h.routeCallSignal(ctx, c, e.ConversationID, e)
	case events.CallCandidate:
		h.routeCallSignal(ctx, c, e.ConversationID, e)
	case events.CallEnd:
		h.routeCallSignal(ctx, c, e.ConversationID, e)
	default:
		c.Emit(events.ServerError{Message: frame.Event + " cannot be sent by clients"})
	}
}

func (h *Hub) handleJoinUser(ctx context.Context, c *Client, e events.JoinUser) {
	if e.UserID != c.UserID {
		c.Emit(events.ServerError{Message: "join-user does not match the authenticated user"})
		return
	}
	if !c.announce() {
		return
	}

	first, err := h.presence.Connect(ctx, c.UserID, c.ID)
	if err != nil {
		logger.LogError(err, "presence_connect", map[string]interface{}{"user_id": c.UserID})
		return
	}
	logger.LogConnectionEvent("user_announced", c.ID, map[string]interface{}{
		"user_id":      c.UserID,
		"first_socket": first,
	})
	if first {
		h.notifyFriends(ctx, c.UserID, events.FriendOnline{UserID: c.UserID})
	}
}

func (h *Hub) handleJoinConversation(ctx context.Context, c *Client, e events.JoinConversation) {
	if e.ConversationID == "" {
		return
	}
	conv, err := h.directory.GetConversation(ctx, e.ConversationID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.Emit(events.ServerError{Message: "conversation not found"})
		return
	case err != nil:
		logger.LogError(err, "join_conversation", map[string]interface{}{"conversation_id": e.ConversationID})
		c.Emit(events.ServerError{Message: "could not join conversation"})
		return
	case !conv.HasParticipant(c.UserID):
		c.Emit(events.ServerError{Message: "not a participant of this conversation"})
		return
	}
	h.Join(c, e.ConversationID)
}

// handleCallOffer stamps the caller on the offer and rings the other
// active participants on every socket they have open.
func (h *Hub) handleCallOffer(ctx context.Context, c *Client, e events.CallOffer) {
	e.Caller = c.UserID
	e.CallerSocketID = c.ID
	e.CallerInfo = &models.CallerInfo{ID: c.UserID}

	conv, err := h.lookupForCall(ctx, c, e.ConversationID)
	if err != nil {
		return
	}
	if conv != nil {
		for _, p := range conv.Participants {
			if p.User.ID == c.UserID {
				e.CallerInfo.Name = p.User.Name
				if p.Nickname != "" {
					e.CallerInfo.Name = p.Nickname
				}
				e.CallerInfo.Avatar = p.User.Avatar
				break
			}
		}
	}

	h.deliverCallSignal(c, e.ConversationID, conv, e)
}

func (h *Hub) routeCallSignal(ctx context.Context, c *Client, conversationID string, ev events.Event) {
	conv, err := h.lookupForCall(ctx, c, conversationID)
	if err != nil {
		return
	}
	h.deliverCallSignal(c, conversationID, conv, ev)
}

// lookupForCall returns nil without error when participants are unknown
// and signals fall back to room routing.
func (h *Hub) lookupForCall(ctx context.Context, c *Client, conversationID string) (*models.Conversation, error) {
	if conversationID == "" {
		return nil, nil
	}
	conv, err := h.directory.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.LogError(err, "call_routing", map[string]interface{}{"conversation_id": conversationID})
		}
		return nil, nil
	}
	if !conv.HasParticipant(c.UserID) {
		c.Emit(events.ServerError{Message: "not a participant of this conversation"})
		return nil, errors.New("not a participant")
	}
	return conv, nil
}

func (h *Hub) deliverCallSignal(c *Client, conversationID string, conv *models.Conversation, ev events.Event) {
	var delivered int
	switch {
	case conv != nil:
		peers := make([]string, 0, len(conv.Participants))
		for _, id := range conv.ActiveParticipantIDs() {
			if id != c.UserID {
				peers = append(peers, id)
			}
		}
		delivered = h.BroadcastToUsers(peers, ev, c)
	case conversationID != "":
		delivered = h.BroadcastToRoom(conversationID, ev, c)
	default:
		// no conversation named: every room the sender is in
		for _, room := range c.Rooms() {
			delivered += h.BroadcastToRoom(room, ev, c)
		}
	}

	metrics.CallSignals.WithLabelValues(ev.EventName()).Inc()
	logger.LogCallEvent(ev.EventName(), conversationID, c.UserID, map[string]interface{}{
		"socket_id": c.ID,
		"delivered": delivered,
	})
}
