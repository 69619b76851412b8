// Package messaging delivers chat messages: sends go through the request
// API, broadcasts arrive over the event stream, and both meet in a
// per-conversation Timeline keyed by message identity.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"socialchat/internal/models"
	"socialchat/internal/realtime/api"
	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrUnknownMessage = errors.New("messaging: unknown message")
	ErrMessagePending = errors.New("messaging: message not yet confirmed")
	ErrEmptyMessage   = errors.New("messaging: empty message")
	ErrInvalidType    = errors.New("messaging: invalid message type")
)

// SendError reports a failed send. Content is handed back so the caller
// can restore the input.
type SendError struct {
	Content string
	Err     error
}

func (e *SendError) Error() string { return "send failed: " + e.Err.Error() }
func (e *SendError) Unwrap() error { return e.Err }

// ChangeKind describes a timeline change
type ChangeKind string

const (
	ChangeAdded     ChangeKind = "added"
	ChangeConfirmed ChangeKind = "confirmed"
	ChangeRemoved   ChangeKind = "removed"
	ChangeUpdated   ChangeKind = "updated"
	ChangeReverted  ChangeKind = "reverted"
)

// Change is delivered to subscribers
type Change struct {
	ConversationID string
	MessageID      string
	Kind           ChangeKind
}

type sendRequest struct {
	ID         string             `json:"_id"`
	Type       models.MessageType `json:"type"`
	Content    string             `json:"content"`
	Attachment string             `json:"attachment,omitempty"`
}

type reactionRequest struct {
	Type string `json:"type"`
}

// Pipeline is the message delivery service of one signed-in user
type Pipeline struct {
	api      api.Requester
	provider connection.Provider
	me       models.UserRef
	list     *ConversationList
	now      func() time.Time

	mu        sync.Mutex
	timelines map[string]*Timeline
	subs      map[int]func(Change)
	subOrder  []int
	nextSub   int
	handlers  []connection.SubscriptionID
	stopObs   func()
	closed    bool
}

// NewPipeline creates a pipeline and attaches its event handlers
func NewPipeline(requester api.Requester, provider connection.Provider, me models.UserRef) *Pipeline {
	p := &Pipeline{
		api:       requester,
		provider:  provider,
		me:        me,
		list:      NewConversationList(requester, me.ID),
		now:       time.Now,
		timelines: make(map[string]*Timeline),
		subs:      make(map[int]func(Change)),
	}

	p.attach()
	p.stopObs = provider.Observe(func(c connection.StateChange) {
		if c.To == connection.StateConnected {
			p.attach()
		}
	})
	return p
}

// Conversations returns the conversation list kept up to date by the pipeline
func (p *Pipeline) Conversations() *ConversationList {
	return p.list
}

// attach (re)registers the inbound handlers. An explicit disconnect drops
// every handler on the connection, so this runs again on each connect.
func (p *Pipeline) attach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	for _, id := range p.handlers {
		p.provider.Off(id)
	}
	p.handlers = []connection.SubscriptionID{
		p.provider.On(events.NameNewMessage, p.onNewMessage),
		p.provider.On(events.NameReactionsUpdated, p.onReactionsUpdated),
		p.provider.On(events.NameMessageRecalled, p.onMessageRecalled),
	}
}

// Timeline returns the timeline for conversationID, creating it empty
func (p *Pipeline) Timeline(conversationID string) *Timeline {
	p.mu.Lock()
	defer p.mu.Unlock()

	tl, ok := p.timelines[conversationID]
	if !ok {
		tl = NewTimeline(conversationID)
		p.timelines[conversationID] = tl
	}
	return tl
}

func (p *Pipeline) lookup(conversationID string) (*Timeline, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tl, ok := p.timelines[conversationID]
	return tl, ok
}

// Open loads the history of conversationID
func (p *Pipeline) Open(ctx context.Context, conversationID string) (*Timeline, error) {
	start := time.Now()

	var history []models.Message
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	if err := p.api.Request(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	tl := p.Timeline(conversationID)
	tl.Load(history)

	logger.LogPerformance("open_conversation", time.Since(start), map[string]interface{}{
		"conversation_id": conversationID,
		"messages":        len(history),
	})
	return tl, nil
}

// Send persists a message and returns the confirmed record. The message is
// shown tentatively until the relay answers; on failure it is removed and
// a *SendError carrying content is returned.
func (p *Pipeline) Send(ctx context.Context, conversationID, content string, msgType models.MessageType, attachment string) (*models.Message, error) {
	if msgType == "" {
		msgType = models.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, &SendError{Content: content, Err: ErrInvalidType}
	}
	if content == "" && attachment == "" {
		return nil, &SendError{Content: content, Err: ErrEmptyMessage}
	}

	me := p.me
	msg := models.Message{
		ID:             primitive.NewObjectID().Hex(),
		ConversationID: conversationID,
		Sender:         &me,
		Type:           msgType,
		Content:        content,
		Attachment:     attachment,
		CreatedAt:      p.now(),
	}

	tl := p.Timeline(conversationID)
	tl.Tentative(msg)
	p.publish(Change{ConversationID: conversationID, MessageID: msg.ID, Kind: ChangeAdded})

	var confirmed models.Message
	path := fmt.Sprintf("/api/conversations/%s/messages", conversationID)
	body := sendRequest{ID: msg.ID, Type: msgType, Content: content, Attachment: attachment}

	if err := p.api.Request(ctx, http.MethodPost, path, body, &confirmed); err != nil {
		tl.Reconcile(msg.ID, false, nil)
		p.publish(Change{ConversationID: conversationID, MessageID: msg.ID, Kind: ChangeRemoved})

		logger.LogError(err, "send_message", map[string]interface{}{"conversation_id": conversationID})
		return nil, &SendError{Content: content, Err: err}
	}

	if confirmed.ID == "" {
		confirmed = msg
	}
	tl.Reconcile(msg.ID, true, &confirmed)
	p.list.observe(&confirmed)
	p.publish(Change{ConversationID: conversationID, MessageID: msg.ID, Kind: ChangeConfirmed})

	logger.LogChatEvent("message_sent", conversationID, p.me.ID, map[string]interface{}{"message_id": msg.ID})
	return &confirmed, nil
}

// ToggleReaction adds, switches or removes my reaction on a message
func (p *Pipeline) ToggleReaction(ctx context.Context, conversationID, messageID, reaction string) error {
	tl, ok := p.lookup(conversationID)
	if !ok {
		return ErrUnknownMessage
	}
	if _, ok := tl.Get(messageID); !ok {
		return ErrUnknownMessage
	}

	var reactions []models.Reaction
	path := fmt.Sprintf("/api/messages/%s/reactions", messageID)
	if err := p.api.Request(ctx, http.MethodPut, path, reactionRequest{Type: reaction}, &reactions); err != nil {
		return fmt.Errorf("toggle reaction: %w", err)
	}

	if err := tl.Update(messageID, func(m *models.Message) { m.Reactions = reactions }); err != nil {
		return err
	}
	p.publish(Change{ConversationID: conversationID, MessageID: messageID, Kind: ChangeUpdated})
	return nil
}

// Recall soft-deletes a message immediately and reverts it when the relay
// rejects the recall.
func (p *Pipeline) Recall(ctx context.Context, conversationID, messageID string) error {
	tl, ok := p.lookup(conversationID)
	if !ok {
		return ErrUnknownMessage
	}

	at := p.now()
	if _, err := tl.Mutate(messageID, func(m *models.Message) { m.Recall(at) }); err != nil {
		return err
	}
	p.publish(Change{ConversationID: conversationID, MessageID: messageID, Kind: ChangeUpdated})

	path := fmt.Sprintf("/api/messages/%s", messageID)
	if err := p.api.Request(ctx, http.MethodDelete, path, nil, nil); err != nil {
		tl.Reconcile(messageID, false, nil)
		p.publish(Change{ConversationID: conversationID, MessageID: messageID, Kind: ChangeReverted})

		logger.LogError(err, "recall_message", map[string]interface{}{
			"conversation_id": conversationID,
			"message_id":      messageID,
		})
		return fmt.Errorf("recall: %w", err)
	}

	tl.Reconcile(messageID, true, nil)
	return nil
}

// MarkRead marks every message in the conversation as read by me
func (p *Pipeline) MarkRead(ctx context.Context, conversationID string) error {
	path := fmt.Sprintf("/api/conversations/%s/read", conversationID)
	if err := p.api.Request(ctx, http.MethodPost, path, nil, nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}

	p.list.resetUnread(conversationID)

	if tl, ok := p.lookup(conversationID); ok {
		me, at := p.me, p.now()
		changed := tl.forEach(func(m *models.Message) bool {
			return !m.SentBy(me.ID) && m.MarkRead(me, at)
		})
		if changed > 0 {
			p.publish(Change{ConversationID: conversationID, Kind: ChangeUpdated})
		}
	}
	return nil
}

// Subscribe registers fn for timeline changes
func (p *Pipeline) Subscribe(fn func(Change)) (cancel func()) {
	p.mu.Lock()
	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	p.subOrder = append(p.subOrder, id)
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if _, ok := p.subs[id]; ok {
			delete(p.subs, id)
			for i, v := range p.subOrder {
				if v == id {
					p.subOrder = append(p.subOrder[:i:i], p.subOrder[i+1:]...)
					break
				}
			}
		}
		p.mu.Unlock()
	}
}

// Close detaches the pipeline from the connection
func (p *Pipeline) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handlers := p.handlers
	p.handlers = nil
	p.mu.Unlock()

	for _, id := range handlers {
		p.provider.Off(id)
	}
	p.stopObs()
}

// Messages are matched by the conversation id they carry, not by the room
// that delivered them.
func (p *Pipeline) onNewMessage(ev events.Event) {
	created, ok := ev.(events.MessageCreated)
	if !ok {
		return
	}
	msg := created.Message
	if msg.ConversationID == "" {
		logger.WithField("message_id", msg.ID).Warn("Dropping message without conversation")
		return
	}

	p.list.observe(&msg)

	tl, ok := p.lookup(msg.ConversationID)
	if !ok {
		return
	}

	wasPending := tl.Pending(msg.ID)
	if tl.Apply(msg) {
		p.publish(Change{ConversationID: msg.ConversationID, MessageID: msg.ID, Kind: ChangeAdded})
	} else if wasPending {
		p.publish(Change{ConversationID: msg.ConversationID, MessageID: msg.ID, Kind: ChangeConfirmed})
	}
}

func (p *Pipeline) onReactionsUpdated(ev events.Event) {
	upd, ok := ev.(events.ReactionsUpdated)
	if !ok {
		return
	}
	tl, ok := p.lookup(upd.ConversationID)
	if !ok {
		return
	}
	if err := tl.Update(upd.MessageID, func(m *models.Message) { m.Reactions = upd.Reactions }); err != nil {
		return
	}
	p.publish(Change{ConversationID: upd.ConversationID, MessageID: upd.MessageID, Kind: ChangeUpdated})
}

func (p *Pipeline) onMessageRecalled(ev events.Event) {
	rec, ok := ev.(events.MessageRecalled)
	if !ok {
		return
	}
	tl, ok := p.lookup(rec.ConversationID)
	if !ok {
		return
	}
	at := p.now()
	if err := tl.Update(rec.MessageID, func(m *models.Message) {
		if !m.Deleted {
			m.Recall(at)
		}
	}); err != nil {
		return
	}
	p.publish(Change{ConversationID: rec.ConversationID, MessageID: rec.MessageID, Kind: ChangeUpdated})
}

func (p *Pipeline) publish(c Change) {
	p.mu.Lock()
	fns := make([]func(Change), 0, len(p.subOrder))
	for _, id := range p.subOrder {
		fns = append(fns, p.subs[id])
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
