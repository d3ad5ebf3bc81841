package relay

import (
	"testing"
	"time"
)

func recvEnv(t *testing.T, ch <-chan *Envelope) *Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestBusFanout(t *testing.T) {
	bus := NewBus()
	a := bus.Client("alice")
	b := bus.Client("bob")
	c := bus.Client("carol")

	bCh, bCancel := b.Subscribe("room:x")
	defer bCancel()
	cCh, cCancel := c.Subscribe("room:x")
	defer cCancel()

	if err := a.Publish("room:x", KindChat, map[string]string{"text": "hi"}); err != nil {
		t.Fatal(err)
	}

	for _, ch := range []<-chan *Envelope{bCh, cCh} {
		env := recvEnv(t, ch)
		if env.From != "alice" || env.Kind != KindChat {
			t.Fatalf("unexpected envelope %+v", env)
		}
		var payload map[string]string
		if err := env.Decode(&payload); err != nil {
			t.Fatal(err)
		}
		if payload["text"] != "hi" {
			t.Fatalf("payload lost: %v", payload)
		}
	}
}

func TestBusNoSelfEcho(t *testing.T) {
	bus := NewBus()
	a := bus.Client("alice")

	aCh, cancel := a.Subscribe("room:x")
	defer cancel()

	a.Publish("room:x", KindChat, "hello")
	select {
	case env := <-aCh:
		t.Fatalf("received own publish: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusRoomIsolation(t *testing.T) {
	bus := NewBus()
	a := bus.Client("alice")
	b := bus.Client("bob")

	other, cancel := b.Subscribe("room:other")
	defer cancel()

	a.Publish("room:x", KindChat, "hello")
	select {
	case env := <-other:
		t.Fatalf("leaked across rooms: %+v", env)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusCancelIdempotent(t *testing.T) {
	bus := NewBus()
	b := bus.Client("bob")

	ch, cancel := b.Subscribe("room:x")
	cancel()
	cancel() // second cancel must not panic

	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after cancel")
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	a := bus.Client("alice")
	b := bus.Client("bob")

	ch, _ := b.Subscribe("room:x")
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Fatal("subscription should close with the client")
	}
	if err := b.Publish("room:x", KindChat, "x"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// Other clients are unaffected.
	if err := a.Publish("room:x", KindChat, "x"); err != nil {
		t.Fatal(err)
	}
}
