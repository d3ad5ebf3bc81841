package track

import "sync"

// Synthetic is a hand-driven Provider for tests and demos: callers push
// states with Emit and every subscriber sees them.
type Synthetic struct {
	mu     sync.Mutex
	subs   map[chan State]struct{}
	closed bool
}

// NewSynthetic creates an empty synthetic provider.
func NewSynthetic() *Synthetic {
	return &Synthetic{subs: make(map[chan State]struct{})}
}

// Subscribe implements Provider.
func (s *Synthetic) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Emit delivers a state to all subscribers. Non-blocking; a full subscriber
// loses the update, matching real detector behaviour where only the latest
// box matters.
func (s *Synthetic) Emit(st State) {
	s.mu.Lock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
	s.mu.Unlock()
}

// Close shuts the provider down and closes all subscriber channels.
func (s *Synthetic) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
	}
	s.subs = make(map[chan State]struct{})
	s.mu.Unlock()
}
