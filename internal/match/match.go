// Package match pairs waiting strangers into two-party matches. It owns the
// queue store, runs the atomic pairing pass on every enqueue, and notifies
// subscribers through callbacks so no caller ever blocks waiting for a
// partner.
package match

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is how long an entry waits for a partner before NoMatch.
const DefaultTimeout = 30 * time.Second

// Match is an immutable pairing of two queue entries. UserA sorts before
// UserB; the room ID is derived from the sorted pair so both clients compute
// the same room without coordination.
type Match struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	UserA     string    `json:"user_a"`
	UserB     string    `json:"user_b"`
	CreatedAt time.Time `json:"created_at"`
}

// Peer returns the other participant's user ID.
func (m *Match) Peer(selfID string) string {
	if selfID == m.UserA {
		return m.UserB
	}
	return m.UserA
}

func newMatch(a, b string, now time.Time) *Match {
	ids := []string{a, b}
	sort.Strings(ids)
	return &Match{
		ID:        uuid.NewString(),
		RoomID:    ids[0] + "-" + ids[1],
		UserA:     ids[0],
		UserB:     ids[1],
		CreatedAt: now,
	}
}

// Events carries the subscriber callbacks for one enqueue. Exactly one of
// Matched / NoMatch / Left fires per enqueue; all fire on their own
// goroutine, never under the matchmaker lock. Nil callbacks are skipped.
type Events struct {
	Matched func(*Match)
	NoMatch func()
	Left    func()
}
