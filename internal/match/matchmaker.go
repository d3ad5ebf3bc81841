package match

import (
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/disquelabs/roulette/internal/queue"
	"github.com/disquelabs/roulette/internal/util"
)

// Matchmaker consumes the queue store to produce atomic pairings. Callers
// register callbacks at enqueue time and are notified on match, timeout or
// explicit leave.
type Matchmaker struct {
	store *queue.Store
	clk   clock.Clock

	defaultTimeout time.Duration

	mu      sync.Mutex
	waiting map[string]*waiter // userID → live subscription
	closed  bool
}

// waiter tracks one live subscription. done flips exactly once, under the
// matchmaker lock, when the entry settles (matched, timed out or left).
type waiter struct {
	events Events
	timer  *clock.Timer
	done   bool
}

// Option configures a Matchmaker.
type Option func(*Matchmaker)

// WithClock injects a clock; tests use a mock to drive timeouts.
func WithClock(c clock.Clock) Option {
	return func(m *Matchmaker) { m.clk = c }
}

// WithDefaultTimeout overrides the 30 s default queue timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Matchmaker) {
		if d > 0 {
			m.defaultTimeout = d
		}
	}
}

// New creates a matchmaker over its own empty store.
func New(opts ...Option) *Matchmaker {
	m := &Matchmaker{
		store:          queue.NewStore(),
		clk:            clock.New(),
		defaultTimeout: DefaultTimeout,
		waiting:        make(map[string]*waiter),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Enqueue inserts the user into the queue and runs an immediate pairing
// pass. Returns queue.ErrAlreadyQueued if the user already has a live entry.
// timeout <= 0 selects the default. The call never blocks on a partner.
func (m *Matchmaker) Enqueue(userID string, prof queue.Profile, f queue.Filters, timeout time.Duration, ev Events) error {
	userID, err := util.ValidateUserID(userID)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}

	now := m.clk.Now()
	entry := &queue.Entry{
		UserID:     userID,
		Profile:    prof,
		Filters:    f,
		EnqueuedAt: now,
		ExpiresAt:  now.Add(timeout),
	}

	// Register the subscription before the entry becomes claimable: the
	// moment Add publishes it, a concurrent pairing pass may settle it and
	// must find its callbacks.
	w := &waiter{events: ev}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if _, ok := m.waiting[userID]; ok {
		m.mu.Unlock()
		return queue.ErrAlreadyQueued
	}
	m.waiting[userID] = w
	m.mu.Unlock()

	if err := m.store.Add(entry); err != nil {
		m.mu.Lock()
		if m.waiting[userID] == w {
			delete(m.waiting, userID)
		}
		m.mu.Unlock()
		return err
	}

	// A Close between registration and Add cleared the waiter; take the
	// just-added entry back out with it.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.store.Remove(userID)
		return ErrClosed
	}
	m.mu.Unlock()

	if partner := m.store.TakeCompatible(entry); partner != nil {
		m.settlePair(entry, partner)
		return nil
	}

	// No partner yet — arm the timeout, unless a concurrent pass already
	// settled us between TakeCompatible and here.
	m.mu.Lock()
	if !w.done {
		w.timer = m.clk.AfterFunc(timeout, func() { m.expire(userID) })
	}
	m.mu.Unlock()

	log.Printf("MATCH: %s waiting (timeout %s, %d in queue)", userID, timeout, m.store.Len())
	return nil
}

// Leave removes the user's live entry if present. Idempotent; a no-op when
// the user is already matched or expired.
func (m *Matchmaker) Leave(userID string) {
	if !m.store.Remove(userID) {
		return
	}

	m.mu.Lock()
	w := m.waiting[userID]
	var left func()
	if w != nil && !w.done {
		w.done = true
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(m.waiting, userID)
		left = w.events.Left
	}
	m.mu.Unlock()

	log.Printf("MATCH: %s left the queue", userID)
	if left != nil {
		go left()
	}
}

// Waiting returns the number of live queue entries.
func (m *Matchmaker) Waiting() int {
	return m.store.Len()
}

// Close stops all timers and drops all subscriptions without notifying.
func (m *Matchmaker) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	for id, w := range m.waiting {
		w.done = true
		if w.timer != nil {
			w.timer.Stop()
		}
		m.store.Remove(id)
	}
	m.waiting = make(map[string]*waiter)
}

// settlePair builds the Match for two entries already removed from the
// store and fires both Matched callbacks.
func (m *Matchmaker) settlePair(a, b *queue.Entry) {
	mt := newMatch(a.UserID, b.UserID, m.clk.Now())

	m.mu.Lock()
	var fns []func(*Match)
	for _, id := range []string{a.UserID, b.UserID} {
		w := m.waiting[id]
		if w == nil || w.done {
			continue
		}
		w.done = true
		if w.timer != nil {
			w.timer.Stop()
		}
		delete(m.waiting, id)
		if w.events.Matched != nil {
			fns = append(fns, w.events.Matched)
		}
	}
	m.mu.Unlock()

	log.Printf("MATCH: paired %s + %s → room %s", mt.UserA, mt.UserB, mt.RoomID)
	for _, fn := range fns {
		go fn(mt)
	}
}

// expire fires when an entry's timeout elapses without a partner.
func (m *Matchmaker) expire(userID string) {
	// Losing the store removal means a pairing pass or Leave got there
	// first; they own the notification.
	if !m.store.Remove(userID) {
		return
	}

	m.mu.Lock()
	w := m.waiting[userID]
	var noMatch func()
	if w != nil && !w.done {
		w.done = true
		delete(m.waiting, userID)
		noMatch = w.events.NoMatch
	}
	m.mu.Unlock()

	log.Printf("MATCH: %s timed out with no partner", userID)
	if noMatch != nil {
		go noMatch()
	}
}
