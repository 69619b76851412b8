package call

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// PeerState mirrors the WebRTC peer connection states
type PeerState string

const (
	PeerNew          PeerState = "new"
	PeerConnecting   PeerState = "connecting"
	PeerConnected    PeerState = "connected"
	PeerDisconnected PeerState = "disconnected"
	PeerFailed       PeerState = "failed"
	PeerClosed       PeerState = "closed"
)

// Negotiating reports whether the connection has not settled yet
func (s PeerState) Negotiating() bool {
	return s == PeerNew || s == PeerConnecting
}

// TrackKind is audio or video
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// PeerConfig configures a new peer connection
type PeerConfig struct {
	ICEServers []webrtc.ICEServer
}

// PeerConnection is the subset of a WebRTC peer connection the relay drives
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(LocalTrack) error
	ConnectionState() PeerState
	// OnICECandidate receives nil when gathering completes
	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(func(PeerState))
	OnTrack(func(RemoteTrack))
	Close() error
}

// PeerFactory creates peer connections
type PeerFactory interface {
	NewPeer(cfg PeerConfig) (PeerConnection, error)
}

// Constraints selects the devices to capture
type Constraints struct {
	Audio bool
	Video bool
}

// MediaDevices grants access to capture devices
type MediaDevices interface {
	GetUserMedia(ctx context.Context, c Constraints) (MediaStream, error)
}

// MediaStream is a set of captured local tracks
type MediaStream interface {
	Tracks() []LocalTrack
	Stop()
}

// LocalTrack is a captured track; Stop releases the device
type LocalTrack interface {
	ID() string
	Kind() TrackKind
	Live() bool
	Stop()
}

// RemoteTrack is a track received from the peer
type RemoteTrack interface {
	ID() string
	Kind() TrackKind
}

// Sink renders remote media
type Sink interface {
	AttachVideo(RemoteTrack)
	AttachAudio(RemoteTrack)
}

// NopSink discards remote media
type NopSink struct{}

func (NopSink) AttachVideo(RemoteTrack) {}
func (NopSink) AttachAudio(RemoteTrack) {}
