package relay

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Bus is an in-process relay shared by all clients of one process. It backs
// the package tests and single-node deployments where matched clients live
// in the same process as the pairing service.
type Bus struct {
	mu    sync.RWMutex
	rooms map[string]map[*busSub]struct{}
}

type busSub struct {
	owner string // subscriber identity, for self-echo suppression
	ch    chan *Envelope
	once  sync.Once
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{rooms: make(map[string]map[*busSub]struct{})}
}

// Client returns a relay handle bound to selfID.
func (b *Bus) Client(selfID string) Relay {
	return &busClient{bus: b, selfID: selfID}
}

func (b *Bus) publish(env *Envelope) {
	b.mu.RLock()
	subs := b.rooms[env.Room]
	for s := range subs {
		if s.owner == env.From {
			continue
		}
		select {
		case s.ch <- env:
		default:
			// Subscriber buffer full, drop. Best-effort by contract.
		}
	}
	b.mu.RUnlock()
}

func (b *Bus) subscribe(room, owner string) (*busSub, func()) {
	s := &busSub{owner: owner, ch: make(chan *Envelope, 64)}
	b.mu.Lock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*busSub]struct{})
	}
	b.rooms[room][s] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.rooms[room], s)
			if len(b.rooms[room]) == 0 {
				delete(b.rooms, room)
			}
			b.mu.Unlock()
			close(s.ch)
		})
	}
	return s, cancel
}

type busClient struct {
	bus    *Bus
	selfID string

	mu      sync.Mutex
	cancels []func()
	closed  bool
}

func (c *busClient) Publish(room, kind string, payload any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	c.bus.publish(&Envelope{Room: room, From: c.selfID, Kind: kind, Payload: raw})
	return nil
}

func (c *busClient) Subscribe(room string) (<-chan *Envelope, func()) {
	s, cancel := c.bus.subscribe(room, c.selfID)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return s.ch, func() {}
	}
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	return s.ch, cancel
}

func (c *busClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, fn := range cancels {
		fn()
	}
	return nil
}
