package app

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/disquelabs/roulette/internal/match"
	"github.com/disquelabs/roulette/internal/relay"
)

func recvEnv(t *testing.T, ch <-chan *relay.Envelope) *relay.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func TestJoinPairsTwoUsers(t *testing.T) {
	bus := relay.NewBus()
	mm := match.New()
	defer mm.Close()

	svc := NewQueueService(bus.Client("pairing-node"), mm)
	svc.Start()
	defer svc.Close()

	alice := bus.Client("alice")
	bob := bus.Client("bob")
	defer alice.Close()
	defer bob.Close()

	aCh, aCancel := alice.Subscribe(relay.UserRoom("alice"))
	defer aCancel()
	bCh, bCancel := bob.Subscribe(relay.UserRoom("bob"))
	defer bCancel()

	if err := alice.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if err := bob.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "bob"}); err != nil {
		t.Fatal(err)
	}

	aEnv := recvEnv(t, aCh)
	bEnv := recvEnv(t, bCh)
	if aEnv.Kind != relay.KindMatched || bEnv.Kind != relay.KindMatched {
		t.Fatalf("kinds %s / %s, want matched", aEnv.Kind, bEnv.Kind)
	}

	var aMatch, bMatch match.Match
	if err := aEnv.Decode(&aMatch); err != nil {
		t.Fatal(err)
	}
	if err := bEnv.Decode(&bMatch); err != nil {
		t.Fatal(err)
	}
	if aMatch.RoomID != "alice-bob" || aMatch.RoomID != bMatch.RoomID || aMatch.ID != bMatch.ID {
		t.Fatalf("matches disagree: %+v vs %+v", aMatch, bMatch)
	}
}

func TestJoinTimesOutWithNoMatch(t *testing.T) {
	bus := relay.NewBus()
	clk := clock.NewMock()
	mm := match.New(match.WithClock(clk), match.WithDefaultTimeout(30*time.Second))
	defer mm.Close()

	svc := NewQueueService(bus.Client("pairing-node"), mm)
	svc.Start()
	defer svc.Close()

	carol := bus.Client("carol")
	defer carol.Close()
	ch, cancel := carol.Subscribe(relay.UserRoom("carol"))
	defer cancel()

	if err := carol.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "carol"}); err != nil {
		t.Fatal(err)
	}
	// Let the service enqueue before advancing the clock.
	deadline := time.Now().Add(2 * time.Second)
	for mm.Waiting() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mm.Waiting() != 1 {
		t.Fatal("carol never entered the queue")
	}

	clk.Add(30 * time.Second)
	env := recvEnv(t, ch)
	if env.Kind != relay.KindNoMatch {
		t.Fatalf("kind %s, want no-match", env.Kind)
	}
	var notice NoMatchNotice
	if err := env.Decode(&notice); err != nil {
		t.Fatal(err)
	}
	if notice.Reason != "queue timeout" {
		t.Fatalf("reason %q", notice.Reason)
	}
}

func TestDuplicateJoinRejected(t *testing.T) {
	bus := relay.NewBus()
	mm := match.New()
	defer mm.Close()

	svc := NewQueueService(bus.Client("pairing-node"), mm)
	svc.Start()
	defer svc.Close()

	dave := bus.Client("dave")
	defer dave.Close()
	ch, cancel := dave.Subscribe(relay.UserRoom("dave"))
	defer cancel()

	dave.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "dave"})
	dave.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "dave"})

	// The second join is answered with a rejection while the first keeps
	// waiting in the queue.
	env := recvEnv(t, ch)
	if env.Kind != relay.KindNoMatch {
		t.Fatalf("kind %s, want no-match rejection", env.Kind)
	}
	if mm.Waiting() != 1 {
		t.Fatalf("waiting = %d, want 1", mm.Waiting())
	}
}

func TestLeaveWithdraws(t *testing.T) {
	bus := relay.NewBus()
	mm := match.New()
	defer mm.Close()

	svc := NewQueueService(bus.Client("pairing-node"), mm)
	svc.Start()
	defer svc.Close()

	erin := bus.Client("erin")
	defer erin.Close()

	erin.Publish(relay.RoomQueue, relay.KindQueueJoin, &JoinRequest{UserID: "erin"})
	deadline := time.Now().Add(2 * time.Second)
	for mm.Waiting() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	erin.Publish(relay.RoomQueue, relay.KindQueueLeave, &LeaveRequest{UserID: "erin"})
	deadline = time.Now().Add(2 * time.Second)
	for mm.Waiting() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if mm.Waiting() != 0 {
		t.Fatal("erin still queued after leave")
	}
}
