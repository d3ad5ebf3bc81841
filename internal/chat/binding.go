package chat

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/disquelabs/roulette/internal/relay"
	"github.com/disquelabs/roulette/internal/util"
)

// ErrNotJoined is the contract violation for Send before Join.
var ErrNotJoined = errors.New("chat: send before join")

// historySize bounds the in-memory transcript.
const historySize = 100

// Binding is one user's subscription to a room's chat channel.
type Binding struct {
	rl relay.Relay

	mu          sync.Mutex
	roomID      string
	userID      string
	displayName string
	joined      bool
	cancel      func()
	history     *util.RingBuffer[*Message]
	present     map[string]*Presence

	onMessage  func(*Message)
	onPresence func([]Presence)
}

// NewBinding creates an unjoined binding over a relay handle.
func NewBinding(rl relay.Relay) *Binding {
	return &Binding{
		rl:      rl,
		history: util.NewRingBuffer[*Message](historySize),
		present: make(map[string]*Presence),
	}
}

// Join subscribes to the room's chat channel and announces presence.
// Joining while joined first leaves the previous room, matching how the
// original client rebinds when the user is re-paired.
func (b *Binding) Join(roomID, userID, displayName string, onMessage func(*Message), onPresenceChange func([]Presence)) error {
	userID, err := util.ValidateUserID(userID)
	if err != nil {
		return err
	}

	b.Leave()

	ch, cancel := b.rl.Subscribe(relay.ChatRoom(roomID))

	b.mu.Lock()
	b.roomID = roomID
	b.userID = userID
	b.displayName = displayName
	b.joined = true
	b.cancel = cancel
	b.onMessage = onMessage
	b.onPresence = onPresenceChange
	b.present = map[string]*Presence{
		userID: {UserID: userID, DisplayName: displayName, JoinedAt: time.Now().UnixMilli()},
	}
	b.mu.Unlock()

	go b.readLoop(ch)

	if err := b.rl.Publish(relay.ChatRoom(roomID), relay.KindPresence, &presencePayload{
		Event:       "join",
		UserID:      userID,
		DisplayName: displayName,
	}); err != nil {
		log.Printf("CHAT: presence join publish: %v", err)
	}

	log.Printf("CHAT: %s joined room %s", userID, roomID)
	return nil
}

// Send broadcasts a text message to the room. Best-effort: no delivery
// guarantee, but the local transcript always records it.
func (b *Binding) Send(text string) error {
	b.mu.Lock()
	if !b.joined {
		b.mu.Unlock()
		return ErrNotJoined
	}
	roomID, userID, name := b.roomID, b.userID, b.displayName
	b.mu.Unlock()

	msg := NewMessage(userID, name, text)
	b.deliver(msg)
	return b.rl.Publish(relay.ChatRoom(roomID), relay.KindChat, msg)
}

// History returns the transcript so far, oldest first.
func (b *Binding) History() []*Message {
	return b.history.Snapshot()
}

// Participants returns who is currently present, self included.
func (b *Binding) Participants() []Presence {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.participantsLocked()
}

func (b *Binding) participantsLocked() []Presence {
	out := make([]Presence, 0, len(b.present))
	for _, p := range b.present {
		out = append(out, *p)
	}
	return out
}

// Leave announces departure and unsubscribes. Idempotent.
func (b *Binding) Leave() {
	b.mu.Lock()
	if !b.joined {
		b.mu.Unlock()
		return
	}
	roomID, userID, name := b.roomID, b.userID, b.displayName
	cancel := b.cancel
	b.joined = false
	b.cancel = nil
	b.onMessage = nil
	b.onPresence = nil
	b.present = make(map[string]*Presence)
	b.mu.Unlock()

	if err := b.rl.Publish(relay.ChatRoom(roomID), relay.KindPresence, &presencePayload{
		Event:       "leave",
		UserID:      userID,
		DisplayName: name,
	}); err != nil {
		log.Printf("CHAT: presence leave publish: %v", err)
	}
	if cancel != nil {
		cancel()
	}
	b.history.Clear()
	log.Printf("CHAT: %s left room %s", userID, roomID)
}

// readLoop dispatches inbound envelopes until the subscription closes.
func (b *Binding) readLoop(ch <-chan *relay.Envelope) {
	for env := range ch {
		switch env.Kind {
		case relay.KindChat:
			var msg Message
			if err := env.Decode(&msg); err != nil {
				log.Printf("CHAT: bad message from %s: %v", env.From, err)
				continue
			}
			if msg.Timestamp == 0 {
				msg.Timestamp = time.Now().UnixMilli()
			}
			b.deliver(&msg)

		case relay.KindPresence:
			var p presencePayload
			if err := env.Decode(&p); err != nil {
				log.Printf("CHAT: bad presence from %s: %v", env.From, err)
				continue
			}
			b.handlePresence(&p)
		}
	}
}

func (b *Binding) handlePresence(p *presencePayload) {
	b.mu.Lock()
	if !b.joined {
		b.mu.Unlock()
		return
	}
	switch p.Event {
	case "join":
		b.present[p.UserID] = &Presence{
			UserID:      p.UserID,
			DisplayName: p.DisplayName,
			JoinedAt:    time.Now().UnixMilli(),
		}
	case "leave":
		delete(b.present, p.UserID)
	}
	onPresence := b.onPresence
	parts := b.participantsLocked()
	b.mu.Unlock()

	name := p.DisplayName
	if name == "" {
		name = p.UserID
	}
	if p.Event == "join" {
		b.deliver(systemMessage(name + " joined the room"))
	} else {
		b.deliver(systemMessage(name + " left the room"))
	}
	if onPresence != nil {
		onPresence(parts)
	}
}

func (b *Binding) deliver(msg *Message) {
	b.mu.Lock()
	joined := b.joined
	onMessage := b.onMessage
	b.mu.Unlock()
	if !joined {
		return
	}
	b.history.Push(msg)
	if onMessage != nil {
		onMessage(msg)
	}
}
