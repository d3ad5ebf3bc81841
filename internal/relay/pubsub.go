package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
)

// PubSub is a gossipsub-backed relay. Each room maps to one gossipsub topic;
// envelopes travel as JSON. Topics are joined lazily on first Publish or
// Subscribe and left again when the last local subscription is cancelled.
type PubSub struct {
	ps     *pubsub.PubSub
	selfID string
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]*psRoom
	closed bool
}

type psRoom struct {
	topic *pubsub.Topic
	sub   *pubsub.Subscription
	done  chan struct{}

	mu        sync.Mutex
	listeners map[chan *Envelope]struct{}
}

// NewPubSub creates a gossipsub relay on an existing libp2p host. selfID is
// the application-level user identity, not the peer ID; it stamps outbound
// envelopes and suppresses self-echo.
func NewPubSub(ctx context.Context, h host.Host, selfID string) (*PubSub, error) {
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("gossipsub: %w", err)
	}
	rctx, cancel := context.WithCancel(ctx)
	return &PubSub{
		ps:     ps,
		selfID: selfID,
		ctx:    rctx,
		cancel: cancel,
		rooms:  make(map[string]*psRoom),
	}, nil
}

func (p *PubSub) room(name string) (*psRoom, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if r, ok := p.rooms[name]; ok {
		return r, nil
	}

	topic, err := p.ps.Join(name)
	if err != nil {
		return nil, fmt.Errorf("join topic %s: %w", name, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("subscribe topic %s: %w", name, err)
	}

	r := &psRoom{
		topic:     topic,
		sub:       sub,
		done:      make(chan struct{}),
		listeners: make(map[chan *Envelope]struct{}),
	}
	p.rooms[name] = r
	go p.readLoop(name, r)
	return r, nil
}

// readLoop drains one topic subscription and fans envelopes out to local
// listeners.
func (p *PubSub) readLoop(name string, r *psRoom) {
	for {
		msg, err := r.sub.Next(p.ctx)
		if err != nil {
			return // subscription or context cancelled
		}

		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("RELAY: bad envelope on %s from %s: %v", name, msg.ReceivedFrom, err)
			continue
		}
		// Gossipsub already drops messages from our own peer ID, but two
		// handles for different users can share one host.
		if env.From == p.selfID {
			continue
		}
		env.Room = name

		r.mu.Lock()
		for ch := range r.listeners {
			select {
			case ch <- &env:
			default:
			}
		}
		r.mu.Unlock()
	}
}

// Publish broadcasts payload to the room's topic.
func (p *PubSub) Publish(room, kind string, payload any) error {
	r, err := p.room(room)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(&Envelope{Room: room, From: p.selfID, Kind: kind, Payload: raw})
	if err != nil {
		return err
	}
	return r.topic.Publish(p.ctx, data)
}

// Subscribe returns a channel of envelopes for the room.
func (p *PubSub) Subscribe(room string) (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, 64)

	r, err := p.room(room)
	if err != nil {
		close(ch)
		return ch, func() {}
	}

	r.mu.Lock()
	r.listeners[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.listeners, ch)
			empty := len(r.listeners) == 0
			r.mu.Unlock()
			close(ch)
			if empty {
				p.leaveRoom(room)
			}
		})
	}
	return ch, cancel
}

// leaveRoom tears down a topic once nothing local listens to it.
func (p *PubSub) leaveRoom(name string) {
	p.mu.Lock()
	r, ok := p.rooms[name]
	if ok {
		r.mu.Lock()
		if len(r.listeners) > 0 {
			// A new subscriber raced us; keep the room.
			r.mu.Unlock()
			p.mu.Unlock()
			return
		}
		r.mu.Unlock()
		delete(p.rooms, name)
	}
	p.mu.Unlock()

	if ok {
		r.sub.Cancel()
		if err := r.topic.Close(); err != nil {
			log.Printf("RELAY: close topic %s: %v", name, err)
		}
	}
}

// Close cancels all subscriptions and leaves all topics.
func (p *PubSub) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	rooms := p.rooms
	p.rooms = make(map[string]*psRoom)
	p.mu.Unlock()

	p.cancel()
	for name, r := range rooms {
		r.sub.Cancel()
		if err := r.topic.Close(); err != nil {
			log.Printf("RELAY: close topic %s: %v", name, err)
		}
		r.mu.Lock()
		for ch := range r.listeners {
			close(ch)
		}
		r.listeners = nil
		r.mu.Unlock()
	}
	return nil
}
