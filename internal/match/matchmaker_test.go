package match

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/disquelabs/roulette/internal/queue"
)

func waitFor(t *testing.T, ch <-chan *Match) *Match {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for match")
		return nil
	}
}

func TestImmediatePairing(t *testing.T) {
	m := New()
	defer m.Close()

	aCh := make(chan *Match, 1)
	bCh := make(chan *Match, 1)

	if err := m.Enqueue("bob", queue.Profile{}, queue.Filters{}, 0, Events{
		Matched: func(mt *Match) { bCh <- mt },
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Enqueue("alice", queue.Profile{}, queue.Filters{}, 0, Events{
		Matched: func(mt *Match) { aCh <- mt },
	}); err != nil {
		t.Fatal(err)
	}

	ma := waitFor(t, aCh)
	mb := waitFor(t, bCh)

	if ma.RoomID != mb.RoomID {
		t.Fatalf("room IDs differ: %s vs %s", ma.RoomID, mb.RoomID)
	}
	if ma.ID != mb.ID {
		t.Fatalf("match IDs differ: %s vs %s", ma.ID, mb.ID)
	}
	if ma.UserA != "alice" || ma.UserB != "bob" {
		t.Fatalf("participants not sorted: %s / %s", ma.UserA, ma.UserB)
	}
	if ma.RoomID != "alice-bob" {
		t.Fatalf("unexpected room ID %s", ma.RoomID)
	}
	if m.Waiting() != 0 {
		t.Fatalf("queue should be empty, has %d", m.Waiting())
	}
}

func TestEnqueueRejectsDuplicate(t *testing.T) {
	m := New()
	defer m.Close()

	if err := m.Enqueue("alice", queue.Profile{}, queue.Filters{Region: "nowhere"}, 0, Events{}); err != nil {
		t.Fatal(err)
	}
	if err := m.Enqueue("alice", queue.Profile{}, queue.Filters{}, 0, Events{}); err != queue.ErrAlreadyQueued {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}
}

func TestTimeoutFiresExactlyOnce(t *testing.T) {
	clk := clock.NewMock()
	m := New(WithClock(clk))
	defer m.Close()

	fired := make(chan struct{}, 4)
	err := m.Enqueue("carol", queue.Profile{}, queue.Filters{Region: "mars"}, time.Second, Events{
		NoMatch: func() { fired <- struct{}{} },
	})
	if err != nil {
		t.Fatal(err)
	}

	clk.Add(999 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("NoMatch fired before the timeout")
	case <-time.After(50 * time.Millisecond):
	}

	clk.Add(time.Millisecond)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("NoMatch never fired")
	}

	// Pushing the clock further must not re-fire.
	clk.Add(10 * time.Second)
	select {
	case <-fired:
		t.Fatal("NoMatch fired twice")
	case <-time.After(50 * time.Millisecond):
	}

	if m.Waiting() != 0 {
		t.Fatalf("expired entry still in queue")
	}
}

func TestNoTimeoutAfterMatch(t *testing.T) {
	clk := clock.NewMock()
	m := New(WithClock(clk))
	defer m.Close()

	noMatch := make(chan struct{}, 1)
	matched := make(chan *Match, 1)
	if err := m.Enqueue("dave", queue.Profile{}, queue.Filters{}, time.Second, Events{
		Matched: func(mt *Match) { matched <- mt },
		NoMatch: func() { noMatch <- struct{}{} },
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Enqueue("erin", queue.Profile{}, queue.Filters{}, time.Second, Events{}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, matched)

	clk.Add(time.Minute)
	select {
	case <-noMatch:
		t.Fatal("NoMatch fired after a successful match")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeave(t *testing.T) {
	m := New()
	defer m.Close()

	left := make(chan struct{}, 2)
	if err := m.Enqueue("frank", queue.Profile{}, queue.Filters{Region: "mars"}, 0, Events{
		Left: func() { left <- struct{}{} },
	}); err != nil {
		t.Fatal(err)
	}

	m.Leave("frank")
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		t.Fatal("Left never fired")
	}

	// Second leave is a no-op.
	m.Leave("frank")
	select {
	case <-left:
		t.Fatal("Left fired twice")
	case <-time.After(50 * time.Millisecond):
	}

	if err := m.Enqueue("frank", queue.Profile{}, queue.Filters{Region: "mars"}, 0, Events{}); err != nil {
		t.Fatalf("re-enqueue after leave: %v", err)
	}
}

// TestNoDoublePairing runs many concurrent unfiltered enqueues and checks
// every user ends up in at most one match.
func TestNoDoublePairing(t *testing.T) {
	m := New()
	defer m.Close()

	const n = 100
	var mu sync.Mutex
	seen := make(map[string][]string) // userID → match IDs

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("user-%03d", i)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Enqueue(id, queue.Profile{}, queue.Filters{}, time.Minute, Events{
				Matched: func(mt *Match) {
					mu.Lock()
					seen[id] = append(seen[id], mt.ID)
					mu.Unlock()
				},
			})
		}(id)
	}
	wg.Wait()

	// Let the async callbacks drain.
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for id, matches := range seen {
		if len(matches) > 1 {
			t.Fatalf("%s appeared in %d matches", id, len(matches))
		}
	}
	if len(seen)+m.Waiting() != n {
		t.Fatalf("accounting: %d matched + %d waiting != %d", len(seen), m.Waiting(), n)
	}
}

// TestEveryEnqueueSettles hammers concurrent enqueues with a short timeout
// and requires each one to resolve as Matched or NoMatch — nobody may be
// claimed by a pairing pass yet never notified.
func TestEveryEnqueueSettles(t *testing.T) {
	const rounds = 20
	const users = 32

	for r := 0; r < rounds; r++ {
		m := New(WithDefaultTimeout(200 * time.Millisecond))

		settled := make(chan string, users)
		var wg sync.WaitGroup
		for i := 0; i < users; i++ {
			id := fmt.Sprintf("user-%02d", i)
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				err := m.Enqueue(id, queue.Profile{}, queue.Filters{}, 0, Events{
					Matched: func(*Match) { settled <- id },
					NoMatch: func() { settled <- id },
				})
				if err != nil {
					t.Errorf("enqueue %s: %v", id, err)
				}
			}(id)
		}
		wg.Wait()

		for i := 0; i < users; i++ {
			select {
			case <-settled:
			case <-time.After(2 * time.Second):
				t.Fatalf("round %d: only %d/%d enqueues settled", r, i, users)
			}
		}
		if m.Waiting() != 0 {
			t.Fatalf("round %d: %d entries stuck in queue", r, m.Waiting())
		}
		m.Close()
	}
}

// A rejected duplicate must not disturb the original subscription.
func TestDuplicateEnqueueKeepsOriginalWaiter(t *testing.T) {
	m := New()
	defer m.Close()

	matched := make(chan *Match, 1)
	if err := m.Enqueue("gina", queue.Profile{}, queue.Filters{}, 0, Events{
		Matched: func(mt *Match) { matched <- mt },
	}); err != nil {
		t.Fatal(err)
	}
	if err := m.Enqueue("gina", queue.Profile{}, queue.Filters{}, 0, Events{}); err != queue.ErrAlreadyQueued {
		t.Fatalf("expected ErrAlreadyQueued, got %v", err)
	}

	// The first subscription still fires when a partner arrives.
	if err := m.Enqueue("hugo", queue.Profile{}, queue.Filters{}, 0, Events{}); err != nil {
		t.Fatal(err)
	}
	mt := waitFor(t, matched)
	if mt.RoomID != "gina-hugo" {
		t.Fatalf("unexpected room %s", mt.RoomID)
	}
}

// TestFilterRespect generates random filter sets and checks that no match
// ever pairs mutually incompatible entries.
func TestFilterRespect(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	regions := []string{"", "eu", "us", "br"}
	topics := []string{"", "music", "games", "films"}

	m := New()
	defer m.Close()

	profiles := make(map[string]queue.Profile)
	filters := make(map[string]queue.Filters)

	var mu sync.Mutex
	var matches []*Match

	const n = 80
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("rand-%03d", i)
		prof := queue.Profile{
			Age:    16 + rng.Intn(40),
			Region: regions[1+rng.Intn(len(regions)-1)],
			Topics: []string{topics[1+rng.Intn(len(topics)-1)]},
		}
		var f queue.Filters
		if rng.Intn(2) == 0 {
			f.MinAge = 18
		}
		if rng.Intn(3) == 0 {
			f.MaxAge = 30 + rng.Intn(20)
		}
		f.Region = regions[rng.Intn(len(regions))]
		f.Topic = topics[rng.Intn(len(topics))]

		profiles[id] = prof
		filters[id] = f

		m.Enqueue(id, prof, f, time.Minute, Events{
			Matched: func(mt *Match) {
				mu.Lock()
				matches = append(matches, mt)
				mu.Unlock()
			},
		})
	}

	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, mt := range matches {
		fa, fb := filters[mt.UserA], filters[mt.UserB]
		pa, pb := profiles[mt.UserA], profiles[mt.UserB]
		if !fa.Accepts(pb) || !fb.Accepts(pa) {
			t.Fatalf("incompatible pair %s / %s", mt.UserA, mt.UserB)
		}
	}
}

func TestPeer(t *testing.T) {
	mt := newMatch("zoe", "adam", time.Now())
	if mt.Peer("adam") != "zoe" || mt.Peer("zoe") != "adam" {
		t.Fatalf("Peer lookup broken: %+v", mt)
	}
}
