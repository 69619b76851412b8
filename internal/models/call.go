package models

// CallDirection tells who placed the call
type CallDirection string

const (
	CallIncoming CallDirection = "incoming"
	CallOutgoing CallDirection = "outgoing"
)

// MediaKind is the media a call carries
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaVoice MediaKind = "voice"
)

// KindFor maps the wire isVideo flag to a media kind
func KindFor(isVideo bool) MediaKind {
	if isVideo {
		return MediaVideo
	}
	return MediaVoice
}

// CallState is the state of one call session
type CallState string

const (
	CallIdle       CallState = "idle"
	CallRinging    CallState = "ringing"
	CallConnecting CallState = "connecting"
	CallActive     CallState = "active"
	CallEnded      CallState = "ended"
	CallError      CallState = "error"
)

// Terminal reports whether no further transitions are possible
func (s CallState) Terminal() bool {
	return s == CallEnded || s == CallError
}

// CallerInfo is the caller profile attached to inbound offers
type CallerInfo struct {
	ID     string `json:"_id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}
