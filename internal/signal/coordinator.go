package signal

import (
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/disquelabs/roulette/internal/match"
	"github.com/disquelabs/roulette/internal/relay"
)

// Coordinator owns the active sessions of one client, at most one per
// room. It hands each new match a Session that negotiates over the relay.
type Coordinator struct {
	rl      relay.Relay
	clk     clock.Clock
	cfg     Config
	factory LinkFactory

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option tweaks Coordinator construction.
type Option func(*Coordinator)

// WithClock substitutes the wall clock, for tests.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.clk = clk }
}

// WithLinkFactory substitutes the peer link constructor. The default
// builds a Pion peer connection per the coordinator's Config; tests and
// headless deployments install their own.
func WithLinkFactory(f LinkFactory) Option {
	return func(c *Coordinator) { c.factory = f }
}

// NewCoordinator builds a coordinator over a relay handle.
func NewCoordinator(rl relay.Relay, cfg Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		rl:       rl,
		clk:      clock.New(),
		cfg:      cfg.withDefaults(),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.factory == nil {
		c.factory = func(ev Events) (PeerLink, error) {
			return NewMediaLink(c.cfg, nil, nil, ev)
		}
	}
	return c
}

// Join starts negotiating the given match. The role is derived from the
// user IDs so both participants agree without coordination. Exactly one
// session may exist per room; a second Join for the same room returns
// ErrAlreadyJoined.
func (c *Coordinator) Join(m *match.Match, selfID string, ev Events) (*Session, error) {
	peerID := m.Peer(selfID)

	c.mu.Lock()
	if _, ok := c.sessions[m.RoomID]; ok {
		c.mu.Unlock()
		return nil, ErrAlreadyJoined
	}
	c.mu.Unlock()

	link, err := c.factory(ev)
	if err != nil {
		return nil, err
	}

	s := &Session{
		rl:     c.rl,
		clk:    c.clk,
		cfg:    c.cfg,
		ev:     ev,
		roomID: m.RoomID,
		selfID: selfID,
		peerID: peerID,
		role:   RoleFor(selfID, peerID),
		state:  StateIdle,
		link:   link,
	}
	s.onClosed = func() { c.drop(m.RoomID) }

	c.mu.Lock()
	if _, ok := c.sessions[m.RoomID]; ok {
		c.mu.Unlock()
		link.Close()
		return nil, ErrAlreadyJoined
	}
	c.sessions[m.RoomID] = s
	c.mu.Unlock()

	s.start()
	return s, nil
}

// Session returns the active session for a room, or nil.
func (c *Coordinator) Session(roomID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[roomID]
}

// Leave tears down the room's session if one exists.
func (c *Coordinator) Leave(roomID string) {
	if s := c.Session(roomID); s != nil {
		s.Leave()
	}
}

// Close leaves every active session.
func (c *Coordinator) Close() {
	c.mu.Lock()
	active := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		active = append(active, s)
	}
	c.mu.Unlock()
	for _, s := range active {
		s.Leave()
	}
}

func (c *Coordinator) drop(roomID string) {
	c.mu.Lock()
	delete(c.sessions, roomID)
	c.mu.Unlock()
}
