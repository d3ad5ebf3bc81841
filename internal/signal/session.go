package signal

import (
	"log"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/disquelabs/roulette/internal/relay"
)

// Session is one participant's side of the handshake for a single room.
// Created by Coordinator.Join; torn down by Leave, a peer bye, or terminal
// failure. All relay traffic stays on the room's signaling channel.
type Session struct {
	rl  relay.Relay
	clk clock.Clock
	cfg Config
	ev  Events

	roomID string
	selfID string
	peerID string
	role   Role

	mu           sync.Mutex
	state        State
	link         PeerLink
	cancelSub    func()
	timer        *clock.Timer
	pending      []webrtc.ICECandidateInit // buffered until the remote description lands
	remoteSet    bool
	offerSent    bool
	lastOffer    *webrtc.SessionDescription // re-sent when the peer announces ready
	appliedOffer string                     // SDP of the last offer answered, dedupes re-sends
	restarts     int
	closed       bool
	onClosed     func()

	failOnce sync.Once
}

// Room returns the match room this session negotiates for.
func (s *Session) Room() string { return s.roomID }

// Peer returns the remote user ID.
func (s *Session) Peer() string { return s.peerID }

// Role returns which side offers.
func (s *Session) Role() Role { return s.role }

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// start wires the link callbacks, opens the signaling subscription, and —
// on the initiating side — sends the first offer.
func (s *Session) start() {
	s.link.OnICECandidate(func(c webrtc.ICECandidateInit) {
		if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindCandidate, c); err != nil {
			log.Printf("SIGNAL [%s]: candidate publish: %v", s.roomID, err)
		}
	})
	s.link.OnConnectionStateChange(s.onLinkState)

	ch, cancel := s.rl.Subscribe(relay.SignalRoom(s.roomID))
	s.mu.Lock()
	s.cancelSub = cancel
	s.timer = s.clk.AfterFunc(s.cfg.NegotiationTimeout, s.onNegotiationTimeout)
	s.mu.Unlock()

	s.setState(StateNegotiating)
	go s.readLoop(ch)

	if s.role == RoleInitiator {
		go s.sendOffer(false)
	} else {
		// Announce the subscription: the relay keeps no history, so an
		// offer published before this side subscribed would be lost. The
		// initiator answers a ready by re-sending its current offer.
		if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindReady, struct{}{}); err != nil {
			log.Printf("SIGNAL [%s]: ready publish: %v", s.roomID, err)
		}
	}
	log.Printf("SIGNAL [%s]: session started as %s (peer %s)", s.roomID, s.role, s.peerID)
}

// Leave tears the session down and tells the peer. Idempotent; resources
// are released before it returns.
func (s *Session) Leave() {
	if s.teardown(true) {
		s.setState(StateDisconnected)
		log.Printf("SIGNAL [%s]: left", s.roomID)
	}
}

// sendOffer builds and publishes an offer; iceRestart requests fresh
// candidates for a path retry.
func (s *Session) sendOffer(iceRestart bool) {
	offer, err := s.link.CreateOffer(iceRestart)
	if err != nil {
		log.Printf("SIGNAL [%s]: create offer: %v", s.roomID, err)
		s.fail()
		return
	}
	if err := s.link.SetLocalDescription(offer); err != nil {
		log.Printf("SIGNAL [%s]: set local offer: %v", s.roomID, err)
		s.fail()
		return
	}
	s.mu.Lock()
	s.offerSent = true
	s.lastOffer = &offer
	s.mu.Unlock()
	if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindOffer, offer); err != nil {
		log.Printf("SIGNAL [%s]: offer publish: %v", s.roomID, err)
	}
}

// readLoop dispatches signaling envelopes until the subscription closes.
func (s *Session) readLoop(ch <-chan *relay.Envelope) {
	for env := range ch {
		if env.From != s.peerID {
			continue
		}
		switch env.Kind {
		case relay.KindReady:
			s.handleReady()
		case relay.KindOffer:
			s.handleOffer(env)
		case relay.KindAnswer:
			s.handleAnswer(env)
		case relay.KindCandidate:
			s.handleCandidate(env)
		case relay.KindBye:
			s.handleBye()
			return
		}
	}
}

// handleReady answers the responder's subscription announcement by
// re-sending the current offer. The first offer races the responder's
// subscribe; this closes the gap without spending an ICE restart.
func (s *Session) handleReady() {
	if s.role != RoleInitiator {
		return
	}
	s.mu.Lock()
	offer := s.lastOffer
	st := s.state
	s.mu.Unlock()
	if offer == nil || st == StateConnected {
		// Offer creation still in flight; sendOffer publishes once done.
		return
	}
	log.Printf("SIGNAL [%s]: peer ready, re-sending offer", s.roomID)
	if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindOffer, offer); err != nil {
		log.Printf("SIGNAL [%s]: offer re-publish: %v", s.roomID, err)
	}
}

func (s *Session) handleOffer(env *relay.Envelope) {
	if s.role != RoleResponder {
		log.Printf("SIGNAL [%s]: offer received on initiating side, dropping", s.roomID)
		return
	}
	var sdp webrtc.SessionDescription
	if err := env.Decode(&sdp); err != nil {
		log.Printf("SIGNAL [%s]: bad offer: %v", s.roomID, err)
		return
	}
	s.mu.Lock()
	if sdp.SDP == s.appliedOffer {
		// A re-sent copy of an offer already answered.
		s.mu.Unlock()
		return
	}
	s.appliedOffer = sdp.SDP
	s.mu.Unlock()
	if err := s.link.SetRemoteDescription(sdp); err != nil {
		log.Printf("SIGNAL [%s]: set remote offer: %v", s.roomID, err)
		s.fail()
		return
	}
	s.flushCandidates()

	answer, err := s.link.CreateAnswer()
	if err != nil {
		log.Printf("SIGNAL [%s]: create answer: %v", s.roomID, err)
		s.fail()
		return
	}
	if err := s.link.SetLocalDescription(answer); err != nil {
		log.Printf("SIGNAL [%s]: set local answer: %v", s.roomID, err)
		s.fail()
		return
	}
	if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindAnswer, answer); err != nil {
		log.Printf("SIGNAL [%s]: answer publish: %v", s.roomID, err)
	}
}

func (s *Session) handleAnswer(env *relay.Envelope) {
	s.mu.Lock()
	sent := s.offerSent
	s.mu.Unlock()
	if s.role != RoleInitiator || !sent {
		// Strict ordering: an answer with no outstanding offer is a
		// protocol violation from the peer, not a reason to die.
		log.Printf("SIGNAL [%s]: answer before offer, dropping", s.roomID)
		return
	}
	var sdp webrtc.SessionDescription
	if err := env.Decode(&sdp); err != nil {
		log.Printf("SIGNAL [%s]: bad answer: %v", s.roomID, err)
		return
	}
	if err := s.link.SetRemoteDescription(sdp); err != nil {
		log.Printf("SIGNAL [%s]: set remote answer: %v", s.roomID, err)
		s.fail()
		return
	}
	s.flushCandidates()
}

// handleCandidate buffers trickled candidates until the remote description
// is applied, then feeds them through in arrival order.
func (s *Session) handleCandidate(env *relay.Envelope) {
	var c webrtc.ICECandidateInit
	if err := env.Decode(&c); err != nil {
		log.Printf("SIGNAL [%s]: bad candidate: %v", s.roomID, err)
		return
	}
	s.mu.Lock()
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	if err := s.link.AddICECandidate(c); err != nil {
		log.Printf("SIGNAL [%s]: add candidate: %v", s.roomID, err)
	}
}

// flushCandidates marks the remote description applied and drains the
// buffer in the order candidates arrived.
func (s *Session) flushCandidates() {
	s.mu.Lock()
	s.remoteSet = true
	buffered := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, c := range buffered {
		if err := s.link.AddICECandidate(c); err != nil {
			log.Printf("SIGNAL [%s]: add buffered candidate: %v", s.roomID, err)
		}
	}
}

func (s *Session) handleBye() {
	if s.teardown(false) {
		s.setState(StateDisconnected)
		log.Printf("SIGNAL [%s]: peer %s left", s.roomID, s.peerID)
		if s.ev.PeerDisconnected != nil {
			s.ev.PeerDisconnected()
		}
	}
}

func (s *Session) onLinkState(st webrtc.PeerConnectionState) {
	switch st {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		s.setState(StateConnected)
		log.Printf("SIGNAL [%s]: connected", s.roomID)
	case webrtc.PeerConnectionStateDisconnected:
		// ICE may still recover; report but keep the session alive.
		s.setState(StateDisconnected)
		log.Printf("SIGNAL [%s]: transport disconnected", s.roomID)
	case webrtc.PeerConnectionStateFailed:
		s.onNegotiationTimeout()
	}
}

// onNegotiationTimeout fires when connected was not reached in time, or
// when the transport reports failure. Spends a restart if any remain;
// otherwise the session fails terminally.
func (s *Session) onNegotiationTimeout() {
	s.mu.Lock()
	if s.closed || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	if s.restarts < s.cfg.ICERestarts {
		s.restarts++
		attempt := s.restarts
		s.timer = s.clk.AfterFunc(s.cfg.NegotiationTimeout, s.onNegotiationTimeout)
		s.mu.Unlock()
		log.Printf("SIGNAL [%s]: negotiation timed out, ICE restart %d/%d", s.roomID, attempt, s.cfg.ICERestarts)
		// Only the initiating side re-offers; the responder re-arms and
		// waits for the restart offer.
		if s.role == RoleInitiator {
			go s.sendOffer(true)
		}
		return
	}
	s.mu.Unlock()
	s.fail()
}

// fail marks the session terminally failed, exactly once.
func (s *Session) fail() {
	s.failOnce.Do(func() {
		s.teardown(true)
		s.setState(StateFailed)
		log.Printf("SIGNAL [%s]: negotiation failed after %d restarts", s.roomID, s.cfg.ICERestarts)
		if s.ev.Failed != nil {
			s.ev.Failed(ErrNegotiationFailed)
		}
	})
}

// teardown releases the subscription, timer and link. Returns false when
// already torn down. sendBye tells the peer this side is gone.
func (s *Session) teardown(sendBye bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	cancel := s.cancelSub
	timer := s.timer
	onClosed := s.onClosed
	s.mu.Unlock()

	if sendBye {
		if err := s.rl.Publish(relay.SignalRoom(s.roomID), relay.KindBye, struct{}{}); err != nil {
			log.Printf("SIGNAL [%s]: bye publish: %v", s.roomID, err)
		}
	}
	if timer != nil {
		timer.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if err := s.link.Close(); err != nil {
		log.Printf("SIGNAL [%s]: link close: %v", s.roomID, err)
	}
	if onClosed != nil {
		onClosed()
	}
	return true
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	if s.ev.StateChange != nil {
		s.ev.StateChange(st)
	}
}
