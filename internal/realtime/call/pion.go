package call

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
)

// ErrUnsupportedTrack is returned when a track has no pion representation
var ErrUnsupportedTrack = errors.New("call: track cannot be sent by this peer")

// pionTrack is implemented by local tracks backed by pion
type pionTrack interface {
	TrackLocal() webrtc.TrackLocal
}

// PionFactory creates pion peer connections
type PionFactory struct {
	api *webrtc.API
}

// NewPionFactory returns a factory using pion's default codecs
func NewPionFactory() (*PionFactory, error) {
	return NewPionFactoryWith(webrtc.SettingEngine{})
}

// NewPionFactoryWith is NewPionFactory with custom ICE and network settings
func NewPionFactoryWith(se webrtc.SettingEngine) (*PionFactory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("call: register codecs: %w", err)
	}
	return &PionFactory{api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))}, nil
}

func (f *PionFactory) NewPeer(cfg PeerConfig) (PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
	if err != nil {
		return nil, fmt.Errorf("call: new peer connection: %w", err)
	}
	return &pionPeer{pc: pc}, nil
}

// ICEServersFromURLs builds one ICE server entry per STUN url
func ICEServersFromURLs(urls []string) []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(urls))
	for _, u := range urls {
		servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
	}
	return servers
}

type pionPeer struct {
	pc *webrtc.PeerConnection
}

func (p *pionPeer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(d webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(d)
}

func (p *pionPeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(d)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) AddTrack(t LocalTrack) error {
	pt, ok := t.(pionTrack)
	if !ok {
		return ErrUnsupportedTrack
	}
	_, err := p.pc.AddTrack(pt.TrackLocal())
	return err
}

func (p *pionPeer) ConnectionState() PeerState {
	return PeerState(p.pc.ConnectionState().String())
}

func (p *pionPeer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(PeerState)) {
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(PeerState(s.String()))
	})
}

func (p *pionPeer) OnTrack(fn func(RemoteTrack)) {
	p.pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(pionRemote{t: t})
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}

type pionRemote struct {
	t *webrtc.TrackRemote
}

func (r pionRemote) ID() string      { return r.t.ID() }
func (r pionRemote) Kind() TrackKind { return TrackKind(r.t.Kind().String()) }

// SyntheticDevices produces silent pion sample tracks. Headless clients
// use it in place of a camera and microphone.
type SyntheticDevices struct{}

func (SyntheticDevices) GetUserMedia(ctx context.Context, c Constraints) (MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.Audio && !c.Video {
		return nil, errors.New("call: no media requested")
	}

	streamID := "synthetic-" + uuid.NewString()
	stream := &syntheticStream{}

	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, newSyntheticTrack(t, TrackAudio))
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, err
		}
		stream.tracks = append(stream.tracks, newSyntheticTrack(t, TrackVideo))
	}
	return stream, nil
}

type syntheticStream struct {
	tracks []LocalTrack
}

func (s *syntheticStream) Tracks() []LocalTrack { return s.tracks }

func (s *syntheticStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

type syntheticTrack struct {
	track *webrtc.TrackLocalStaticSample
	kind  TrackKind
	live  atomic.Bool
}

func newSyntheticTrack(t *webrtc.TrackLocalStaticSample, kind TrackKind) *syntheticTrack {
	st := &syntheticTrack{track: t, kind: kind}
	st.live.Store(true)
	return st
}

func (t *syntheticTrack) ID() string                    { return t.track.ID() }
func (t *syntheticTrack) Kind() TrackKind               { return t.kind }
func (t *syntheticTrack) Live() bool                    { return t.live.Load() }
func (t *syntheticTrack) Stop()                         { t.live.Store(false) }
func (t *syntheticTrack) TrackLocal() webrtc.TrackLocal { return t.track }
