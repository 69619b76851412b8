// Package events defines the event-stream wire contract shared by the relay
// and the client core. Every named event maps to exactly one Go type, and all
// inbound frames go through Decode.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"socialchat/internal/models"

	"github.com/pion/webrtc/v3"
)

// Event names
const (
	NameConnected         = "connected"
	NameError             = "error"
	NameJoinUser          = "join-user"
	NameJoinConversation  = "join-conversation"
	NameLeaveConversation = "leave-conversation"
	NameNewMessage        = "new-message"
	NameReactionsUpdated  = "message-reactions-updated"
	NameMessageRecalled   = "message-recalled"
	NameCallOffer         = "call-offer"
	NameCallAnswer        = "call-answer"
	NameCallCandidate     = "call-candidate"
	NameCallEnd           = "call-end"
	NameFriendOnline      = "friend-online"
	NameFriendOffline     = "friend-offline"
)

// ErrUnknownEvent is returned by Decode for names outside the contract
var ErrUnknownEvent = errors.New("unknown event")

// Frame is the unit carried by every transport
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is implemented by every payload type
type Event interface {
	EventName() string
}

// Connected is the handshake frame sent by the relay on a new socket
type Connected struct {
	SocketID string `json:"sid"`
}

// ServerError reports a rejected client frame
type ServerError struct {
	Message string `json:"message"`
}

// JoinUser announces the authenticated identity for user-scoped routing
type JoinUser struct {
	UserID string `json:"userId"`
}

// JoinConversation subscribes the socket to a conversation room
type JoinConversation struct {
	ConversationID string `json:"conversationId"`
}

// LeaveConversation unsubscribes the socket from a conversation room
type LeaveConversation struct {
	ConversationID string `json:"conversationId"`
}

// MessageCreated carries the authoritative copy of a new message
type MessageCreated struct {
	Message models.Message `json:"message"`
}

// ReactionsUpdated replaces the reaction list of one message
type ReactionsUpdated struct {
	ConversationID string            `json:"conversationId"`
	MessageID      string            `json:"messageId"`
	Reactions      []models.Reaction `json:"reactions"`
}

// MessageRecalled soft-deletes one message
type MessageRecalled struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// CallOffer is sent by the caller with conversationId and isVideo; the relay
// adds the caller fields before delivering it.
type CallOffer struct {
	Offer          webrtc.SessionDescription `json:"offer"`
	ConversationID string                    `json:"conversationId"`
	IsVideo        bool                      `json:"isVideo"`
	Caller         string                    `json:"caller,omitempty"`
	CallerSocketID string                    `json:"callerSocketId,omitempty"`
	CallerInfo     *models.CallerInfo        `json:"callerInfo,omitempty"`
}

// CallAnswer carries the callee's answer
type CallAnswer struct {
	Answer         webrtc.SessionDescription `json:"answer"`
	ConversationID string                    `json:"conversationId,omitempty"`
}

// CallCandidate carries one ICE candidate
type CallCandidate struct {
	Candidate      webrtc.ICECandidateInit `json:"candidate"`
	ConversationID string                  `json:"conversationId,omitempty"`
}

// CallEnd terminates the call on the receiving side
type CallEnd struct {
	ConversationID string `json:"conversationId,omitempty"`
}

// FriendOnline and FriendOffline carry presence changes
type FriendOnline struct {
	UserID string `json:"userId"`
}

type FriendOffline struct {
	UserID string `json:"userId"`
}

func (Connected) EventName() string         { return NameConnected }
func (ServerError) EventName() string       { return NameError }
func (JoinUser) EventName() string          { return NameJoinUser }
func (JoinConversation) EventName() string  { return NameJoinConversation }
func (LeaveConversation) EventName() string { return NameLeaveConversation }
func (MessageCreated) EventName() string    { return NameNewMessage }
func (ReactionsUpdated) EventName() string  { return NameReactionsUpdated }
func (MessageRecalled) EventName() string   { return NameMessageRecalled }
func (CallOffer) EventName() string         { return NameCallOffer }
func (CallAnswer) EventName() string        { return NameCallAnswer }
func (CallCandidate) EventName() string     { return NameCallCandidate }
func (CallEnd) EventName() string           { return NameCallEnd }
func (FriendOnline) EventName() string      { return NameFriendOnline }
func (FriendOffline) EventName() string     { return NameFriendOffline }

// Decode turns a frame into its typed event
func Decode(f Frame) (Event, error) {
	var (
		ev  Event
		err error
	)

	switch f.Event {
	case NameConnected:
		ev, err = decodeInto[Connected](f.Data)
	case NameError:
		ev, err = decodeInto[ServerError](f.Data)
	case NameJoinUser:
		ev, err = decodeInto[JoinUser](f.Data)
	case NameJoinConversation:
		ev, err = decodeInto[JoinConversation](f.Data)
	case NameLeaveConversation:
		ev, err = decodeInto[LeaveConversation](f.Data)
	case NameNewMessage:
		ev, err = decodeMessageCreated(f.Data)
	case NameReactionsUpdated:
		ev, err = decodeInto[ReactionsUpdated](f.Data)
	case NameMessageRecalled:
		ev, err = decodeInto[MessageRecalled](f.Data)
	case NameCallOffer:
		ev, err = decodeInto[CallOffer](f.Data)
	case NameCallAnswer:
		ev, err = decodeInto[CallAnswer](f.Data)
	case NameCallCandidate:
		ev, err = decodeInto[CallCandidate](f.Data)
	case NameCallEnd:
		ev, err = decodeInto[CallEnd](f.Data)
	case NameFriendOnline:
		ev, err = decodeInto[FriendOnline](f.Data)
	case NameFriendOffline:
		ev, err = decodeInto[FriendOffline](f.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, f.Event)
	}

	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.Event, err)
	}
	return ev, nil
}

// Encode wraps an event into a frame
func Encode(ev Event) (Frame, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", ev.EventName(), err)
	}
	return Frame{Event: ev.EventName(), Data: data}, nil
}

// MustEncode is Encode for events built from known-good values
func MustEncode(ev Event) Frame {
	f, err := Encode(ev)
	if err != nil {
		panic(err)
	}
	return f
}

func decodeInto[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// new-message is emitted either as {"message": {...}} or as the bare message
// object; both forms are accepted.
func decodeMessageCreated(data json.RawMessage) (Event, error) {
	var wrapped MessageCreated
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Message.ID != "" {
		return wrapped, nil
	}

	var bare models.Message
	if err := json.Unmarshal(data, &bare); err != nil {
		return nil, err
	}
	if bare.ID == "" {
		return nil, errors.New("message without identity")
	}
	return MessageCreated{Message: bare}, nil
}
