// Package signal drives the handshake that converges two matched clients
// to a connected peer media link. Each participant runs its own session
// state machine against a shared relay room; roles are derived from the
// user IDs so both sides agree on who offers without extra coordination.
//
// The state machine talks to the peer connection through the PeerLink
// interface only. The Pion-backed link lives in media.go; tests substitute
// a fake.
package signal

import (
	"errors"
	"time"

	"github.com/pion/webrtc/v4"
)

// Role says which side constructs the initial offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// RoleFor assigns roles deterministically and symmetrically: the
// lexicographically smaller user ID initiates, as in the original client.
func RoleFor(selfID, peerID string) Role {
	if selfID < peerID {
		return RoleInitiator
	}
	return RoleResponder
}

// State is the per-participant connection state.
type State string

const (
	StateIdle         State = "idle"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Errors surfaced through Events.Failed.
var (
	// ErrNegotiationFailed — handshake or path failure after the
	// configured restarts were spent.
	ErrNegotiationFailed = errors.New("negotiation failed")
	// ErrAlreadyJoined — a session for the room already exists.
	ErrAlreadyJoined = errors.New("session already joined for room")
)

// PeerLink is the only surface the session needs from the peer connection.
// *webrtc.PeerConnection satisfies it through the adapter in media.go.
type PeerLink interface {
	// CreateOffer builds an offer; iceRestart requests new credentials
	// for a path retry.
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate registers the trickle callback. A nil candidate
	// signals end of gathering and is not forwarded.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

// LinkFactory builds the PeerLink for a session.
type LinkFactory func(ev Events) (PeerLink, error)

// Events carries the session callbacks. All fire on session goroutines,
// never under locks; nil callbacks are skipped.
type Events struct {
	// RemoteTrack fires when remote media starts arriving (real links only).
	RemoteTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	// PeerDisconnected fires when the remote side leaves or its relay
	// presence dies. The session is torn down and not retried.
	PeerDisconnected func()
	// StateChange reports every state transition.
	StateChange func(State)
	// Failed fires once with the terminal error when negotiation fails.
	Failed func(error)
}

// Config bounds the handshake.
type Config struct {
	// NegotiationTimeout is the time allowed to reach connected before a
	// restart (or failure) is triggered. Default 12 s.
	NegotiationTimeout time.Duration
	// ICERestarts is how many path retries are attempted before the
	// session fails. 0 means fail on the first timeout.
	ICERestarts int
	// ICEServers for the real peer connection.
	ICEServers []string
}

// DefaultICEServers matches the STUN set the original client shipped.
var DefaultICEServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

func (c Config) withDefaults() Config {
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = 12 * time.Second
	}
	if c.ICERestarts < 0 {
		c.ICERestarts = 0
	}
	if len(c.ICEServers) == 0 {
		c.ICEServers = DefaultICEServers
	}
	return c
}
