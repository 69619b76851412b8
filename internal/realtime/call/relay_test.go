package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/internal/realtime/realtimetest"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePeer struct {
	mu         sync.Mutex
	state      PeerState
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []LocalTrack
	closed     bool
	remoteErr  error

	onCandidate func(*webrtc.ICECandidateInit)
	onState     func(PeerState)
	onTrack     func(RemoteTrack)
}

func (p *fakePeer) CreateOffer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-sdp"}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-sdp"}, nil
}

func (p *fakePeer) SetLocalDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = &d
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remoteErr != nil {
		return p.remoteErr
	}
	p.remote = &d
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *fakePeer) AddTrack(t LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, t)
	return nil
}

func (p *fakePeer) ConnectionState() PeerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *fakePeer) OnICECandidate(fn func(*webrtc.ICECandidateInit)) { p.onCandidate = fn }
func (p *fakePeer) OnConnectionStateChange(fn func(PeerState))     { p.onState = fn }
func (p *fakePeer) OnTrack(fn func(RemoteTrack))                   { p.onTrack = fn }

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.state = PeerClosed
	return nil
}

func (p *fakePeer) setState(s PeerState) {
	p.mu.Lock()
	p.state = s
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) remoteCandidates() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.candidates...)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakeFactory) NewPeer(PeerConfig) (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{state: PeerNew}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

type fakeTrack struct {
	kind TrackKind
	mu   sync.Mutex
	live bool
}

func (t *fakeTrack) ID() string      { return string(t.kind) }
func (t *fakeTrack) Kind() TrackKind { return t.kind }
func (t *fakeTrack) Live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live
}
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.live = false
	t.mu.Unlock()
}

type fakeStream struct {
	tracks  []LocalTrack
	stopped bool
}

func (s *fakeStream) Tracks() []LocalTrack { return s.tracks }
func (s *fakeStream) Stop()                { s.stopped = true }

type fakeDevices struct {
	err     error
	streams []*fakeStream
}

func (d *fakeDevices) GetUserMedia(_ context.Context, c Constraints) (MediaStream, error) {
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{}
	if c.Audio {
		s.tracks = append(s.tracks, &fakeTrack{kind: TrackAudio, live: true})
	}
	if c.Video {
		s.tracks = append(s.tracks, &fakeTrack{kind: TrackVideo, live: true})
	}
	d.streams = append(d.streams, s)
	return s, nil
}

type recordingSink struct {
	mu    sync.Mutex
	video []string
	audio []string
}

func (s *recordingSink) AttachVideo(t RemoteTrack) {
	s.mu.Lock()
	s.video = append(s.video, t.ID())
	s.mu.Unlock()
}

func (s *recordingSink) AttachAudio(t RemoteTrack) {
	s.mu.Lock()
	s.audio = append(s.audio, t.ID())
	s.mu.Unlock()
}

type remoteTrack struct {
	id   string
	kind TrackKind
}

func (t remoteTrack) ID() string      { return t.id }
func (t remoteTrack) Kind() TrackKind { return t.kind }

type harness struct {
	relay    *Relay
	provider *realtimetest.Provider
	factory  *fakeFactory
	devices  *fakeDevices
	sink     *recordingSink
}

func newHarness(t *testing.T, setup, fallback time.Duration) *harness {
	t.Helper()
	h := &harness{
		provider: realtimetest.NewProvider(),
		factory:  &fakeFactory{},
		devices:  &fakeDevices{},
		sink:     &recordingSink{},
	}
	h.relay = NewRelay(Options{
		ConversationID: "c1",
		Provider:       h.provider,
		Factory:        h.factory,
		Devices:        h.devices,
		Sink:           h.sink,
		Config: config.CallConfig{
			STUNServers:     []string{"stun:stun.example.org:3478"},
			SetupTimeout:    setup,
			FallbackTimeout: fallback,
		},
	})
	t.Cleanup(h.relay.Close)
	return h
}

func (h *harness) assertTornDown(t *testing.T) {
	t.Helper()
	peer := h.factory.last()
	if peer != nil {
		assert.True(t, peer.isClosed(), "peer closed")
	}
	for _, s := range h.devices.streams {
		assert.True(t, s.stopped, "stream stopped")
		for _, tr := range s.tracks {
			assert.False(t, tr.Live(), "track %s stopped", tr.Kind())
		}
	}
	assert.Zero(t, h.provider.HandlerCount(events.NameCallAnswer))
	assert.Zero(t, h.provider.HandlerCount(events.NameCallCandidate))
	assert.Zero(t, h.provider.HandlerCount(events.NameCallEnd))
	assert.Equal(t, models.CallIdle, h.relay.State())
}

func incomingOffer(video bool) events.CallOffer {
	return events.CallOffer{
		Offer:          webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"},
		ConversationID: "c1",
		IsVideo:        video,
		Caller:         "u2",
		CallerInfo:     &models.CallerInfo{ID: "u2", Name: "Bea"},
	}
}

func TestStart_EmitsOffer(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)

	require.NoError(t, h.relay.Start(context.Background(), models.MediaVideo))

	offers := h.provider.EmittedNamed(events.NameCallOffer)
	require.Len(t, offers, 1)
	offer := offers[0].(events.CallOffer)
	assert.Equal(t, "c1", offer.ConversationID)
	assert.True(t, offer.IsVideo)
	assert.Equal(t, "offer-sdp", offer.Offer.SDP)

	snap := h.relay.Current()
	require.NotNil(t, snap)
	assert.Equal(t, models.CallConnecting, snap.State)
	assert.Equal(t, models.CallOutgoing, snap.Direction)
	assert.Len(t, h.factory.last().tracks, 2)
}

func TestStart_Rejections(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		h := newHarness(t, time.Minute, time.Minute)
		h.provider.SetEnsure(false)

		err := h.relay.Start(context.Background(), models.MediaVoice)
		assert.ErrorIs(t, err, connection.ErrNotConnected)
		assert.Nil(t, h.relay.Current())
	})

	t.Run("call in progress", func(t *testing.T) {
		h := newHarness(t, time.Minute, time.Minute)
		require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))

		err := h.relay.Start(context.Background(), models.MediaVoice)
		assert.ErrorIs(t, err, ErrCallInProgress)
		assert.Len(t, h.provider.EmittedNamed(events.NameCallOffer), 1)
	})

	t.Run("media unavailable", func(t *testing.T) {
		h := newHarness(t, time.Minute, time.Minute)
		h.devices.err = errors.New("permission denied")

		err := h.relay.Start(context.Background(), models.MediaVideo)
		assert.Error(t, err)
		snap := h.relay.Current()
		require.NotNil(t, snap)
		assert.Equal(t, models.CallError, snap.State)
		assert.Equal(t, ReasonMediaUnavailable, snap.Reason)
		h.assertTornDown(t)
	})

	t.Run("offer not delivered", func(t *testing.T) {
		h := newHarness(t, time.Minute, time.Minute)
		h.provider.FailEmits(errors.New("socket closed"))

		err := h.relay.Start(context.Background(), models.MediaVoice)
		assert.Error(t, err)
		assert.Equal(t, ReasonSignalingFailed, h.relay.Current().Reason)
		h.assertTornDown(t)
	})
}

func TestStart_NoAnswerTimesOut(t *testing.T) {
	h := newHarness(t, 50*time.Millisecond, time.Minute)

	var mu sync.Mutex
	var states []models.CallState
	h.relay.OnStateChange(func(s Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))

	require.Eventually(t, func() bool {
		return h.relay.State() == models.CallIdle
	}, time.Second, 5*time.Millisecond)

	snap := h.relay.Current()
	require.NotNil(t, snap)
	assert.Equal(t, models.CallError, snap.State)
	assert.Equal(t, ReasonNoResponse, snap.Reason)
	assert.Len(t, h.provider.EmittedNamed(events.NameCallEnd), 1)
	h.assertTornDown(t)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.CallState{models.CallConnecting, models.CallError}, states)
}

func TestAnswer_ConnectsAndStopsNoAnswerTimer(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))

	h.provider.Deliver(events.CallAnswer{
		Answer:         webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"},
		ConversationID: "c1",
	})
	peer := h.factory.last()
	require.NotNil(t, peer.remote)
	assert.Equal(t, "remote-answer", peer.remote.SDP)

	peer.setState(PeerConnecting)
	peer.setState(PeerConnected)
	assert.Equal(t, models.CallActive, h.relay.State())

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, models.CallActive, h.relay.State())
	assert.Empty(t, h.provider.EmittedNamed(events.NameCallEnd))
	assert.False(t, h.relay.Current().ConnectedAt.IsZero())
}

// answersDuringOffer delivers the callee's answer and the connected peer
// state before Emit of the offer returns.
type answersDuringOffer struct {
	*realtimetest.Provider
	factory *fakeFactory
}

func (p *answersDuringOffer) Emit(ctx context.Context, ev events.Event) error {
	if err := p.Provider.Emit(ctx, ev); err != nil {
		return err
	}
	if _, ok := ev.(events.CallOffer); ok {
		p.Deliver(events.CallAnswer{
			Answer:         webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "fast"},
			ConversationID: "c1",
		})
		p.factory.last().setState(PeerConnected)
	}
	return nil
}

func TestAnswer_BeforeOfferEmitReturns(t *testing.T) {
	factory := &fakeFactory{}
	provider := &answersDuringOffer{Provider: realtimetest.NewProvider(), factory: factory}
	relay := NewRelay(Options{
		ConversationID: "c1",
		Provider:       provider,
		Factory:        factory,
		Devices:        &fakeDevices{},
		Config:         config.CallConfig{SetupTimeout: 50 * time.Millisecond, FallbackTimeout: 50 * time.Millisecond},
	})
	defer relay.Close()

	require.NoError(t, relay.Start(context.Background(), models.MediaVoice))
	assert.Equal(t, models.CallActive, relay.State())

	relay.mu.Lock()
	require.NotNil(t, relay.sess)
	assert.Nil(t, relay.sess.noAnswer, "no-answer timer stopped")
	assert.Nil(t, relay.sess.fallback, "fallback timer stopped")
	relay.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, models.CallActive, relay.State())
	assert.Empty(t, provider.EmittedNamed(events.NameCallEnd))
}

func TestAnswer_StaleIsDiscarded(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	answer := events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "late"}}

	// no session
	h.provider.Deliver(answer)
	assert.Nil(t, h.relay.Current())

	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	h.provider.Deliver(answer)
	h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "second"}})

	assert.Equal(t, "late", h.factory.last().remote.SDP)

	// answer for another conversation
	require.NoError(t, h.relay.Hangup(context.Background()))
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	h.provider.Deliver(events.CallAnswer{Answer: answer.Answer, ConversationID: "other"})
	assert.Nil(t, h.factory.last().remote)
}

func TestAnswer_RemoteDescriptionRejected(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	h.factory.last().remoteErr = errors.New("bad sdp")

	h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}})

	snap := h.relay.Current()
	assert.Equal(t, models.CallError, snap.State)
	assert.Equal(t, ReasonNegotiationFailed, snap.Reason)
	h.assertTornDown(t)
}

func TestFallback_FlipsToActive(t *testing.T) {
	h := newHarness(t, time.Minute, 30*time.Millisecond)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))

	// the fallback waits for the remote description
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, models.CallConnecting, h.relay.State())

	h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}})
	h.factory.last().setState(PeerConnecting)

	require.Eventually(t, func() bool {
		return h.relay.State() == models.CallActive
	}, time.Second, 5*time.Millisecond)

	// a later failure still ends in error
	h.factory.last().setState(PeerFailed)
	assert.Equal(t, models.CallError, h.relay.Current().State)
	h.assertTornDown(t)
}

func TestCandidates_QueuedUntilRemoteDescription(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	peer := h.factory.last()

	h.provider.Deliver(events.CallCandidate{Candidate: webrtc.ICECandidateInit{Candidate: "cand-1"}, ConversationID: "c1"})
	h.provider.Deliver(events.CallCandidate{Candidate: webrtc.ICECandidateInit{Candidate: "cand-2"}, ConversationID: "c1"})
	assert.Empty(t, peer.remoteCandidates())

	h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}})
	h.provider.Deliver(events.CallCandidate{Candidate: webrtc.ICECandidateInit{Candidate: "cand-3"}})

	got := peer.remoteCandidates()
	require.Len(t, got, 3)
	assert.Equal(t, "cand-1", got[0].Candidate)
	assert.Equal(t, "cand-2", got[1].Candidate)
	assert.Equal(t, "cand-3", got[2].Candidate)
}

func TestCandidates_LateAfterCloseDiscarded(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}})
	peer := h.factory.last()

	require.NoError(t, h.relay.Hangup(context.Background()))
	h.provider.Deliver(events.CallCandidate{Candidate: webrtc.ICECandidateInit{Candidate: "late"}})

	assert.Empty(t, peer.remoteCandidates())
}

func TestCandidates_LocalRelayedImmediately(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))
	peer := h.factory.last()

	peer.onCandidate(&webrtc.ICECandidateInit{Candidate: "local-1"})
	peer.onCandidate(nil)

	sent := h.provider.EmittedNamed(events.NameCallCandidate)
	require.Len(t, sent, 1)
	c := sent[0].(events.CallCandidate)
	assert.Equal(t, "local-1", c.Candidate.Candidate)
	assert.Equal(t, "c1", c.ConversationID)

	require.NoError(t, h.relay.Hangup(context.Background()))
	peer.onCandidate(&webrtc.ICECandidateInit{Candidate: "local-2"})
	assert.Len(t, h.provider.EmittedNamed(events.NameCallCandidate), 1)
}

func TestIncoming_AcceptAnswers(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Receive(incomingOffer(true)))

	snap := h.relay.Current()
	assert.Equal(t, models.CallRinging, snap.State)
	assert.Equal(t, models.CallIncoming, snap.Direction)
	assert.Equal(t, models.MediaVideo, snap.Kind)
	assert.Equal(t, "Bea", snap.Caller.Name)

	// candidates can arrive before the user accepts
	h.provider.Deliver(events.CallCandidate{Candidate: webrtc.ICECandidateInit{Candidate: "early"}})

	require.NoError(t, h.relay.Accept(context.Background()))
	peer := h.factory.last()
	assert.Equal(t, "remote-offer", peer.remote.SDP)
	assert.Equal(t, "answer-sdp", peer.local.SDP)
	if got := peer.remoteCandidates(); assert.Len(t, got, 1) {
		assert.Equal(t, "early", got[0].Candidate)
	}

	answers := h.provider.EmittedNamed(events.NameCallAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, "c1", answers[0].(events.CallAnswer).ConversationID)

	peer.onTrack(remoteTrack{id: "rv", kind: TrackVideo})
	peer.onTrack(remoteTrack{id: "ra", kind: TrackAudio})
	assert.Equal(t, []string{"rv"}, h.sink.video)
	assert.Equal(t, []string{"ra"}, h.sink.audio)
}

func TestIncoming_VoiceRoutesVideoTrackToAudio(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Receive(incomingOffer(false)))
	require.NoError(t, h.relay.Accept(context.Background()))

	h.factory.last().onTrack(remoteTrack{id: "rv", kind: TrackVideo})
	assert.Empty(t, h.sink.video)
	assert.Equal(t, []string{"rv"}, h.sink.audio)
	assert.Len(t, h.devices.streams[0].tracks, 1)
}

func TestIncoming_Decline(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Receive(incomingOffer(false)))

	require.NoError(t, h.relay.Decline(context.Background()))

	assert.Len(t, h.provider.EmittedNamed(events.NameCallEnd), 1)
	assert.Equal(t, ReasonDeclined, h.relay.Current().Reason)
	assert.Nil(t, h.factory.last())
	h.assertTornDown(t)

	assert.ErrorIs(t, h.relay.Accept(context.Background()), ErrNoSession)
}

func TestIncoming_SecondOfferRejected(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Receive(incomingOffer(false)))
	assert.ErrorIs(t, h.relay.Receive(incomingOffer(true)), ErrCallInProgress)

	other := incomingOffer(false)
	other.ConversationID = "c9"
	require.NoError(t, h.relay.Hangup(context.Background()))
	assert.ErrorIs(t, h.relay.Receive(other), ErrNoSession)
}

func TestTeardown(t *testing.T) {
	active := func(t *testing.T) *harness {
		h := newHarness(t, time.Minute, time.Minute)
		require.NoError(t, h.relay.Start(context.Background(), models.MediaVideo))
		h.provider.Deliver(events.CallAnswer{Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}})
		h.factory.last().setState(PeerConnected)
		require.Equal(t, models.CallActive, h.relay.State())
		return h
	}

	t.Run("hangup", func(t *testing.T) {
		h := active(t)
		require.NoError(t, h.relay.Hangup(context.Background()))
		assert.Len(t, h.provider.EmittedNamed(events.NameCallEnd), 1)
		assert.Equal(t, models.CallEnded, h.relay.Current().State)
		h.assertTornDown(t)
	})

	t.Run("remote end", func(t *testing.T) {
		h := active(t)
		h.provider.Deliver(events.CallEnd{ConversationID: "c1"})
		assert.Empty(t, h.provider.EmittedNamed(events.NameCallEnd))
		assert.Equal(t, ReasonRemoteEnded, h.relay.Current().Reason)
		h.assertTornDown(t)
	})

	t.Run("peer failure", func(t *testing.T) {
		h := active(t)
		h.factory.last().setState(PeerFailed)
		assert.Equal(t, models.CallError, h.relay.Current().State)
		h.assertTornDown(t)
	})

	t.Run("peer disconnect", func(t *testing.T) {
		h := active(t)
		h.factory.last().setState(PeerDisconnected)
		assert.Equal(t, models.CallEnded, h.relay.Current().State)
		h.assertTornDown(t)
	})

	t.Run("close", func(t *testing.T) {
		h := active(t)
		h.relay.Close()
		assert.Empty(t, h.provider.EmittedNamed(events.NameCallEnd))
		h.assertTornDown(t)
		assert.ErrorIs(t, h.relay.Start(context.Background(), models.MediaVoice), ErrSessionClosed)
	})
}

func TestFinish_Idempotent(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute)
	require.NoError(t, h.relay.Start(context.Background(), models.MediaVoice))

	var mu sync.Mutex
	var terminal int
	h.relay.OnStateChange(func(s Snapshot) {
		if s.State.Terminal() {
			mu.Lock()
			terminal++
			mu.Unlock()
		}
	})

	require.NoError(t, h.relay.Hangup(context.Background()))
	h.provider.Deliver(events.CallEnd{})
	h.relay.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, terminal)
	assert.ErrorIs(t, h.relay.Hangup(context.Background()), ErrNoSession)
}
