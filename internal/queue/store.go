package queue

import (
	"errors"
	"sync"
)

// ErrAlreadyQueued is returned by Add when the user already has a live entry.
var ErrAlreadyQueued = errors.New("user already queued")

// Store keeps waiting entries in FIFO order. Every mutation runs under one
// mutex — this is the single shared critical section of the whole core, so
// a pairing pass can check compatibility and remove both entries without
// another caller observing the intermediate state.
type Store struct {
	mu      sync.Mutex
	order   []string          // user IDs, oldest first
	entries map[string]*Entry // userID → entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Add inserts an entry. A userID may have at most one live entry.
func (s *Store) Add(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[e.UserID]; ok {
		return ErrAlreadyQueued
	}
	s.entries[e.UserID] = e
	s.order = append(s.order, e.UserID)
	return nil
}

// Remove deletes the entry for userID if present. Idempotent; reports
// whether an entry was actually removed.
func (s *Store) Remove(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(userID)
}

func (s *Store) removeLocked(userID string) bool {
	if _, ok := s.entries[userID]; !ok {
		return false
	}
	delete(s.entries, userID)
	for i, id := range s.order {
		if id == userID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// TakeCompatible scans waiting entries oldest-first for the first entry
// mutually compatible with e and, if found, removes both e and the partner
// in the same critical section. This is the atomic pairing step: two
// concurrent passes can never both claim the same entry.
//
// e must already be in the store. Returns the partner entry, or nil when no
// compatible partner is waiting.
func (s *Store) TakeCompatible(e *Entry) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[e.UserID]; !ok {
		return nil // already matched, left, or expired
	}

	for _, id := range s.order {
		if id == e.UserID {
			continue
		}
		cand := s.entries[id]
		if Compatible(e, cand) {
			s.removeLocked(e.UserID)
			s.removeLocked(id)
			return cand
		}
	}
	return nil
}

// Get returns the live entry for userID, if any.
func (s *Store) Get(userID string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	return e, ok
}

// Len returns the number of waiting entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns the waiting entries oldest-first.
func (s *Store) Snapshot() []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Entry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}
