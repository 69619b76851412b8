// Package call runs the WebRTC call signalling for one conversation view:
// offer, answer, ICE candidate and end exchange over the event stream,
// with a no-answer timeout and a fallback to active after a grace period.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/models"
	"socialchat/internal/realtime/connection"
	"socialchat/internal/realtime/events"
	"socialchat/pkg/logger"

	"github.com/pion/webrtc/v3"
)

// Human readable reasons carried by terminal snapshots
const (
	ReasonNoResponse        = "no response from recipient"
	ReasonNegotiationFailed = "call negotiation failed"
	ReasonMediaUnavailable  = "camera or microphone unavailable"
	ReasonSignalingFailed   = "could not reach recipient"
	ReasonRemoteEnded       = "call ended by the other side"
	ReasonPeerDisconnected  = "connection lost"
	ReasonDeclined          = "call declined"
	ReasonHangup            = "call ended"
)

var (
	ErrCallInProgress = errors.New("call: another call is in progress")
	ErrNoSession      = errors.New("call: no matching call session")
	ErrSessionClosed  = errors.New("call: session closed")
)

// Snapshot is the observable state of the current or last call
type Snapshot struct {
	ConversationID string
	State          models.CallState
	Reason         string
	Direction      models.CallDirection
	Kind           models.MediaKind
	Caller         *models.CallerInfo
	StartedAt      time.Time
	ConnectedAt    time.Time
	Duration       time.Duration
}

// Options configures a Relay
type Options struct {
	ConversationID string
	Provider       connection.Provider
	Factory        PeerFactory
	Devices        MediaDevices
	Sink           Sink
	Config         config.CallConfig
	// ICEServers overrides Config.STUNServers, e.g. with TURN credentials
	ICEServers []webrtc.ICEServer
}

type session struct {
	direction models.CallDirection
	kind      models.MediaKind
	state     models.CallState
	reason    string
	caller    *models.CallerInfo
	offer     webrtc.SessionDescription

	peer   PeerConnection
	stream MediaStream

	remoteSet      bool
	awaitingAnswer bool
	queued         []webrtc.ICECandidateInit

	noAnswer *time.Timer
	fallback *time.Timer

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
}

// Relay owns at most one call session. Every exit path goes through
// finish, which releases media, peer, timers and signalling handlers.
type Relay struct {
	conversationID string
	provider       connection.Provider
	factory        PeerFactory
	devices        MediaDevices
	sink           Sink
	cfg            config.CallConfig
	iceServers     []webrtc.ICEServer
	now            func() time.Time

	mu        sync.Mutex
	sess      *session
	last      *Snapshot
	handlers  []connection.SubscriptionID
	observers map[int]func(Snapshot)
	nextObs   int
	closed    bool
}

// NewRelay creates an idle relay for one conversation
func NewRelay(opts Options) *Relay {
	if opts.Sink == nil {
		opts.Sink = NopSink{}
	}
	servers := opts.ICEServers
	if len(servers) == 0 {
		servers = ICEServersFromURLs(opts.Config.STUNServers)
	}

	return &Relay{
		conversationID: opts.ConversationID,
		provider:       opts.Provider,
		factory:        opts.Factory,
		devices:        opts.Devices,
		sink:           opts.Sink,
		cfg:            opts.Config,
		iceServers:     servers,
		now:            time.Now,
		observers:      make(map[int]func(Snapshot)),
	}
}

// Start places an outbound call
func (r *Relay) Start(ctx context.Context, kind models.MediaKind) error {
	if !r.provider.EnsureConnection(ctx) {
		return connection.ErrNotConnected
	}

	s := &session{
		direction: models.CallOutgoing,
		kind:      kind,
		state:     models.CallConnecting,
		startedAt: r.now(),
	}
	if err := r.install(s); err != nil {
		return err
	}
	r.logEvent("call_start", s, nil)

	peer, err := r.prepare(ctx, s)
	if err != nil {
		return err
	}

	offer, err := peer.CreateOffer()
	if err == nil {
		err = peer.SetLocalDescription(offer)
	}
	if err != nil {
		r.finish(s, models.CallError, ReasonNegotiationFailed, err)
		return fmt.Errorf("call: create offer: %w", err)
	}

	// The answer may arrive before Emit returns, so the no-answer timer is
	// armed first; onAnswer and finish both stop it.
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	s.awaitingAnswer = true
	s.noAnswer = time.AfterFunc(r.cfg.SetupTimeout, func() { r.onNoAnswer(s) })
	r.mu.Unlock()

	err = r.provider.Emit(ctx, events.CallOffer{
		Offer:          offer,
		ConversationID: r.conversationID,
		IsVideo:        kind == models.MediaVideo,
	})
	if err != nil {
		r.finish(s, models.CallError, ReasonSignalingFailed, err)
		return fmt.Errorf("call: send offer: %w", err)
	}
	return nil
}

// Receive registers an inbound offer as a ringing session
func (r *Relay) Receive(offer events.CallOffer) error {
	if offer.ConversationID != "" && r.conversationID != "" && offer.ConversationID != r.conversationID {
		return ErrNoSession
	}

	s := &session{
		direction: models.CallIncoming,
		kind:      models.KindFor(offer.IsVideo),
		state:     models.CallRinging,
		caller:    offer.CallerInfo,
		offer:     offer.Offer,
		startedAt: r.now(),
	}
	if err := r.install(s); err != nil {
		return err
	}

	r.logEvent("call_ringing", s, map[string]interface{}{"caller": offer.Caller})
	return nil
}

// Accept answers the ringing session
func (r *Relay) Accept(ctx context.Context) error {
	r.mu.Lock()
	s := r.sess
	if s == nil || s.direction != models.CallIncoming || s.state != models.CallRinging {
		r.mu.Unlock()
		return ErrNoSession
	}
	s.state = models.CallConnecting
	snap := r.snapshotLocked(s)
	r.mu.Unlock()
	r.publish(snap)

	peer, err := r.prepare(ctx, s)
	if err != nil {
		return err
	}

	if err := peer.SetRemoteDescription(s.offer); err != nil {
		r.finish(s, models.CallError, ReasonNegotiationFailed, err)
		return fmt.Errorf("call: apply offer: %w", err)
	}
	if !r.remoteApplied(s, peer) {
		return ErrSessionClosed
	}

	answer, err := peer.CreateAnswer()
	if err == nil {
		err = peer.SetLocalDescription(answer)
	}
	if err != nil {
		r.finish(s, models.CallError, ReasonNegotiationFailed, err)
		return fmt.Errorf("call: create answer: %w", err)
	}

	err = r.provider.Emit(ctx, events.CallAnswer{Answer: answer, ConversationID: r.conversationID})
	if err != nil {
		r.finish(s, models.CallError, ReasonSignalingFailed, err)
		return fmt.Errorf("call: send answer: %w", err)
	}

	r.logEvent("call_accepted", s, nil)
	return nil
}

// Decline rejects the ringing session and tells the caller
func (r *Relay) Decline(ctx context.Context) error {
	r.mu.Lock()
	s := r.sess
	if s == nil || s.state != models.CallRinging {
		r.mu.Unlock()
		return ErrNoSession
	}
	r.mu.Unlock()

	err := r.provider.Emit(ctx, events.CallEnd{ConversationID: r.conversationID})
	r.finish(s, models.CallEnded, ReasonDeclined, nil)
	return err
}

// Hangup ends the current session and tells the peer
func (r *Relay) Hangup(ctx context.Context) error {
	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()
	if s == nil {
		return ErrNoSession
	}

	err := r.provider.Emit(ctx, events.CallEnd{ConversationID: r.conversationID})
	if err != nil {
		logger.WithError(err).Debug("call-end not delivered")
	}
	r.finish(s, models.CallEnded, ReasonHangup, nil)
	return nil
}

// Close tears down any session; the relay accepts no new calls after it
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	s := r.sess
	r.mu.Unlock()

	if s != nil {
		r.finish(s, models.CallEnded, "", nil)
	}
}

// OnStateChange registers fn for every snapshot change
func (r *Relay) OnStateChange(fn func(Snapshot)) (cancel func()) {
	r.mu.Lock()
	r.nextObs++
	id := r.nextObs
	r.observers[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Current returns the live session, or the terminal snapshot of the last
// one, or nil before any call.
func (r *Relay) Current() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sess != nil {
		snap := r.snapshotLocked(r.sess)
		return &snap
	}
	if r.last != nil {
		snap := *r.last
		return &snap
	}
	return nil
}

// State is idle when no session is live
func (r *Relay) State() models.CallState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return models.CallIdle
	}
	return r.sess.state
}

// install makes s the current session and attaches signalling handlers
func (r *Relay) install(s *session) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrSessionClosed
	}
	if r.sess != nil {
		r.mu.Unlock()
		return ErrCallInProgress
	}

	r.sess = s
	r.last = nil
	r.handlers = []connection.SubscriptionID{
		r.provider.On(events.NameCallAnswer, r.onAnswer),
		r.provider.On(events.NameCallCandidate, r.onCandidate),
		r.provider.On(events.NameCallEnd, r.onEnd),
	}
	snap := r.snapshotLocked(s)
	r.mu.Unlock()

	r.publish(snap)
	return nil
}

// prepare acquires media and builds the peer connection for s
func (r *Relay) prepare(ctx context.Context, s *session) (PeerConnection, error) {
	stream, err := r.devices.GetUserMedia(ctx, Constraints{Audio: true, Video: s.kind == models.MediaVideo})
	if err != nil {
		r.finish(s, models.CallError, ReasonMediaUnavailable, err)
		return nil, fmt.Errorf("call: get user media: %w", err)
	}

	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		stream.Stop()
		return nil, ErrSessionClosed
	}
	s.stream = stream
	r.mu.Unlock()

	peer, err := r.factory.NewPeer(PeerConfig{ICEServers: r.iceServers})
	if err != nil {
		r.finish(s, models.CallError, ReasonNegotiationFailed, err)
		return nil, err
	}

	peer.OnICECandidate(func(c *webrtc.ICECandidateInit) { r.onLocalCandidate(s, c) })
	peer.OnConnectionStateChange(func(st PeerState) { r.onPeerState(s, st) })
	peer.OnTrack(func(t RemoteTrack) { r.onRemoteTrack(s, t) })

	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		peer.Close()
		return nil, ErrSessionClosed
	}
	s.peer = peer
	r.mu.Unlock()

	for _, t := range stream.Tracks() {
		if err := peer.AddTrack(t); err != nil {
			r.finish(s, models.CallError, ReasonMediaUnavailable, err)
			return nil, fmt.Errorf("call: add track: %w", err)
		}
	}
	return peer, nil
}

// remoteApplied flushes queued candidates once the remote description is
// set and arms the fallback timer.
func (r *Relay) remoteApplied(s *session, peer PeerConnection) bool {
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return false
	}
	s.remoteSet = true
	queued := s.queued
	s.queued = nil
	if s.fallback == nil && s.state == models.CallConnecting {
		s.fallback = time.AfterFunc(r.cfg.FallbackTimeout, func() { r.onFallback(s) })
	}
	r.mu.Unlock()

	for _, c := range queued {
		if err := peer.AddICECandidate(c); err != nil {
			logger.WithError(err).Debug("Queued ICE candidate rejected")
		}
	}
	return true
}

func (r *Relay) onAnswer(ev events.Event) {
	answer, ok := ev.(events.CallAnswer)
	if !ok || !r.forThisConversation(answer.ConversationID) {
		return
	}

	r.mu.Lock()
	s := r.sess
	if s == nil || s.direction != models.CallOutgoing || !s.awaitingAnswer || s.peer == nil {
		r.mu.Unlock()
		logger.Debug("Discarding unexpected call-answer")
		return
	}
	s.awaitingAnswer = false
	if s.noAnswer != nil {
		s.noAnswer.Stop()
		s.noAnswer = nil
	}
	peer := s.peer
	r.mu.Unlock()

	if err := peer.SetRemoteDescription(answer.Answer); err != nil {
		r.finish(s, models.CallError, ReasonNegotiationFailed, err)
		return
	}
	r.remoteApplied(s, peer)
	r.logEvent("call_answered", s, nil)
}

// Remote candidates wait until the remote description is set and are
// dropped once the peer is gone.
func (r *Relay) onCandidate(ev events.Event) {
	cand, ok := ev.(events.CallCandidate)
	if !ok || !r.forThisConversation(cand.ConversationID) {
		return
	}

	r.mu.Lock()
	s := r.sess
	if s == nil {
		r.mu.Unlock()
		return
	}
	if s.peer == nil || !s.remoteSet {
		s.queued = append(s.queued, cand.Candidate)
		r.mu.Unlock()
		return
	}
	peer := s.peer
	r.mu.Unlock()

	if peer.ConnectionState() == PeerClosed {
		return
	}
	if err := peer.AddICECandidate(cand.Candidate); err != nil {
		logger.WithError(err).Debug("ICE candidate rejected")
	}
}

func (r *Relay) onEnd(ev events.Event) {
	end, ok := ev.(events.CallEnd)
	if !ok || !r.forThisConversation(end.ConversationID) {
		return
	}

	r.mu.Lock()
	s := r.sess
	r.mu.Unlock()

	if s != nil {
		r.finish(s, models.CallEnded, ReasonRemoteEnded, nil)
	}
}

// Local candidates are relayed one by one as they are discovered
func (r *Relay) onLocalCandidate(s *session, c *webrtc.ICECandidateInit) {
	if c == nil || !r.isCurrent(s) {
		return
	}
	err := r.provider.Emit(context.Background(), events.CallCandidate{Candidate: *c, ConversationID: r.conversationID})
	if err != nil {
		logger.WithError(err).Debug("ICE candidate not relayed")
	}
}

func (r *Relay) onPeerState(s *session, st PeerState) {
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}

	switch st {
	case PeerConnected:
		if s.state == models.CallConnecting {
			r.activateLocked(s)
			snap := r.snapshotLocked(s)
			r.mu.Unlock()
			r.publish(snap)
			r.logEvent("call_active", s, nil)
			return
		}
		r.mu.Unlock()

	case PeerFailed:
		r.mu.Unlock()
		r.finish(s, models.CallError, ReasonNegotiationFailed, errors.New("peer connection failed"))

	case PeerDisconnected, PeerClosed:
		active := s.state == models.CallActive
		r.mu.Unlock()
		if active {
			r.finish(s, models.CallEnded, ReasonPeerDisconnected, nil)
		}

	default:
		r.mu.Unlock()
	}
}

func (r *Relay) onRemoteTrack(s *session, t RemoteTrack) {
	if !r.isCurrent(s) {
		return
	}
	if s.kind == models.MediaVideo && t.Kind() == TrackVideo {
		r.sink.AttachVideo(t)
		return
	}
	r.sink.AttachAudio(t)
}

func (r *Relay) onNoAnswer(s *session) {
	r.mu.Lock()
	if r.sess != s || !s.awaitingAnswer {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	// stop the callee's ringing
	if err := r.provider.Emit(context.Background(), events.CallEnd{ConversationID: r.conversationID}); err != nil {
		logger.WithError(err).Debug("call-end not delivered")
	}
	r.finish(s, models.CallError, ReasonNoResponse, nil)
}

// The fallback only flips a session whose peer is still negotiating; a
// later failure still ends in error.
func (r *Relay) onFallback(s *session) {
	r.mu.Lock()
	if r.sess != s || s.state != models.CallConnecting || s.peer == nil {
		r.mu.Unlock()
		return
	}
	peer := s.peer
	r.mu.Unlock()

	if !peer.ConnectionState().Negotiating() {
		return
	}

	r.mu.Lock()
	if r.sess != s || s.state != models.CallConnecting {
		r.mu.Unlock()
		return
	}
	r.activateLocked(s)
	snap := r.snapshotLocked(s)
	r.mu.Unlock()

	r.publish(snap)
	r.logEvent("call_active_fallback", s, nil)
}

func (r *Relay) activateLocked(s *session) {
	s.state = models.CallActive
	s.connectedAt = r.now()
	if s.noAnswer != nil {
		s.noAnswer.Stop()
		s.noAnswer = nil
	}
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
}

// finish is the single teardown path. It is idempotent: only the first
// call for a session does anything.
func (r *Relay) finish(s *session, state models.CallState, reason string, cause error) {
	r.mu.Lock()
	if r.sess != s {
		r.mu.Unlock()
		return
	}
	r.sess = nil

	s.state = state
	s.reason = reason
	s.endedAt = r.now()
	if s.noAnswer != nil {
		s.noAnswer.Stop()
		s.noAnswer = nil
	}
	if s.fallback != nil {
		s.fallback.Stop()
		s.fallback = nil
	}
	s.queued = nil
	s.awaitingAnswer = false

	peer, stream := s.peer, s.stream
	s.peer, s.stream = nil, nil

	handlers := r.handlers
	r.handlers = nil

	snap := r.snapshotLocked(s)
	r.last = &snap
	r.mu.Unlock()

	for _, id := range handlers {
		r.provider.Off(id)
	}
	if stream != nil {
		for _, t := range stream.Tracks() {
			t.Stop()
		}
		stream.Stop()
	}
	if peer != nil {
		if err := peer.Close(); err != nil {
			logger.WithError(err).Debug("Peer close failed")
		}
	}

	meta := map[string]interface{}{"state": string(state), "reason": reason}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	r.logEvent("call_finished", s, meta)
	r.publish(snap)
}

func (r *Relay) isCurrent(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess == s
}

func (r *Relay) forThisConversation(id string) bool {
	return id == "" || r.conversationID == "" || id == r.conversationID
}

func (r *Relay) snapshotLocked(s *session) Snapshot {
	snap := Snapshot{
		ConversationID: r.conversationID,
		State:          s.state,
		Reason:         s.reason,
		Direction:      s.direction,
		Kind:           s.kind,
		Caller:         s.caller,
		StartedAt:      s.startedAt,
		ConnectedAt:    s.connectedAt,
	}
	if !s.connectedAt.IsZero() {
		end := s.endedAt
		if end.IsZero() {
			end = r.now()
		}
		snap.Duration = end.Sub(s.connectedAt)
	}
	return snap
}

func (r *Relay) publish(snap Snapshot) {
	r.mu.Lock()
	fns := make([]func(Snapshot), 0, len(r.observers))
	for i := 1; i <= r.nextObs; i++ {
		if fn, ok := r.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (r *Relay) logEvent(event string, s *session, meta map[string]interface{}) {
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["direction"] = string(s.direction)
	meta["kind"] = string(s.kind)
	logger.LogCallEvent(event, r.conversationID, "", meta)
}
