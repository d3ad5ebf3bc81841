package chat

import (
	"testing"
	"time"

	"github.com/disquelabs/roulette/internal/relay"
)

func recvMsg(t *testing.T, ch <-chan *Message) *Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSendBeforeJoin(t *testing.T) {
	bus := relay.NewBus()
	b := NewBinding(bus.Client("alice"))
	if err := b.Send("hello?"); err != ErrNotJoined {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	bus := relay.NewBus()
	a := NewBinding(bus.Client("alice"))
	b := NewBinding(bus.Client("bob"))

	aMsgs := make(chan *Message, 16)
	bMsgs := make(chan *Message, 16)

	if err := a.Join("alice-bob", "alice", "Alice", func(m *Message) { aMsgs <- m }, nil); err != nil {
		t.Fatal(err)
	}
	if err := b.Join("alice-bob", "bob", "Bob", func(m *Message) { bMsgs <- m }, nil); err != nil {
		t.Fatal(err)
	}

	// Alice sees Bob's join as a system line.
	sys := recvMsg(t, aMsgs)
	if sys.Type != MessageTypeSystem {
		t.Fatalf("expected system message, got %+v", sys)
	}

	if err := a.Send("oi!"); err != nil {
		t.Fatal(err)
	}

	// Sender gets a local copy immediately.
	own := recvMsg(t, aMsgs)
	if own.Content != "oi!" || own.UserID != "alice" {
		t.Fatalf("local echo wrong: %+v", own)
	}
	// Receiver gets it over the relay.
	got := recvMsg(t, bMsgs)
	if got.Content != "oi!" || got.UserID != "alice" || got.DisplayName != "Alice" {
		t.Fatalf("delivered message wrong: %+v", got)
	}

	if n := len(a.History()); n != 2 {
		t.Fatalf("alice history = %d, want 2", n)
	}
}

func TestPresence(t *testing.T) {
	bus := relay.NewBus()
	a := NewBinding(bus.Client("alice"))
	b := NewBinding(bus.Client("bob"))

	presence := make(chan []Presence, 16)
	if err := a.Join("r", "alice", "Alice", nil, func(ps []Presence) { presence <- ps }); err != nil {
		t.Fatal(err)
	}
	if err := b.Join("r", "bob", "Bob", nil, nil); err != nil {
		t.Fatal(err)
	}

	select {
	case ps := <-presence:
		if len(ps) != 2 {
			t.Fatalf("expected 2 participants, got %v", ps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("presence change never fired")
	}

	b.Leave()
	select {
	case ps := <-presence:
		if len(ps) != 1 || ps[0].UserID != "alice" {
			t.Fatalf("expected alice alone, got %v", ps)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("presence change on leave never fired")
	}
}

func TestLeaveIdempotent(t *testing.T) {
	bus := relay.NewBus()
	a := NewBinding(bus.Client("alice"))
	if err := a.Join("r", "alice", "Alice", nil, nil); err != nil {
		t.Fatal(err)
	}
	a.Leave()
	a.Leave() // second leave is a no-op

	if err := a.Send("x"); err != ErrNotJoined {
		t.Fatalf("send after leave: %v", err)
	}
	if len(a.History()) != 0 {
		t.Fatal("history must clear on leave")
	}
}

// Chat stays operable while the peer's video session is gone — the binding
// has no dependency on negotiation state, only on the relay.
func TestChatIndependentOfSession(t *testing.T) {
	bus := relay.NewBus()
	a := NewBinding(bus.Client("alice"))
	b := NewBinding(bus.Client("bob"))

	bMsgs := make(chan *Message, 16)
	a.Join("r", "alice", "Alice", nil, nil)
	b.Join("r", "bob", "Bob", func(m *Message) { bMsgs <- m }, nil)

	if err := a.Send("still here"); err != nil {
		t.Fatal(err)
	}
	msg := recvMsg(t, bMsgs)
	for msg.Type == MessageTypeSystem {
		msg = recvMsg(t, bMsgs)
	}
	if msg.Content != "still here" {
		t.Fatalf("got %+v", msg)
	}
}
