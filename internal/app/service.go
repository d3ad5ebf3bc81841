package app

import (
	"log"
	"time"

	"github.com/disquelabs/roulette/internal/match"
	"github.com/disquelabs/roulette/internal/queue"
	"github.com/disquelabs/roulette/internal/relay"
)

// JoinRequest is what a client publishes on the queue room to enter the
// pool. TimeoutSec <= 0 selects the node's default.
type JoinRequest struct {
	UserID     string        `json:"user_id"`
	Profile    queue.Profile `json:"profile"`
	Filters    queue.Filters `json:"filters"`
	TimeoutSec int           `json:"timeout_seconds,omitempty"`
}

// LeaveRequest withdraws a waiting user.
type LeaveRequest struct {
	UserID string `json:"user_id"`
}

// NoMatchNotice is sent on the user's room when no partner was found, or
// when the join itself was rejected.
type NoMatchNotice struct {
	Reason string `json:"reason"`
}

// QueueService answers queue traffic on the relay: joins and leaves come
// in on the shared queue room, results go back on each user's own room.
type QueueService struct {
	rl     relay.Relay
	mm     *match.Matchmaker
	cancel func()
}

func NewQueueService(rl relay.Relay, mm *match.Matchmaker) *QueueService {
	return &QueueService{rl: rl, mm: mm}
}

// Start subscribes to the queue room and serves until Close.
func (s *QueueService) Start() {
	ch, cancel := s.rl.Subscribe(relay.RoomQueue)
	s.cancel = cancel
	go func() {
		for env := range ch {
			s.handle(env)
		}
	}()
	log.Printf("QUEUE: service listening on %q", relay.RoomQueue)
}

func (s *QueueService) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *QueueService) handle(env *relay.Envelope) {
	switch env.Kind {
	case relay.KindQueueJoin:
		var req JoinRequest
		if err := env.Decode(&req); err != nil {
			log.Printf("QUEUE: bad join from %s: %v", env.From, err)
			return
		}
		s.join(&req)

	case relay.KindQueueLeave:
		var req LeaveRequest
		if err := env.Decode(&req); err != nil {
			log.Printf("QUEUE: bad leave from %s: %v", env.From, err)
			return
		}
		s.mm.Leave(req.UserID)
	}
}

func (s *QueueService) join(req *JoinRequest) {
	userID := req.UserID
	timeout := time.Duration(req.TimeoutSec) * time.Second

	err := s.mm.Enqueue(userID, req.Profile, req.Filters, timeout, match.Events{
		Matched: func(m *match.Match) {
			s.reply(userID, relay.KindMatched, m)
		},
		NoMatch: func() {
			s.reply(userID, relay.KindNoMatch, &NoMatchNotice{Reason: "queue timeout"})
		},
	})
	if err != nil {
		// Rejections answer on the same channel a timeout would, so
		// clients need only one result path.
		s.reply(userID, relay.KindNoMatch, &NoMatchNotice{Reason: err.Error()})
	}
}

func (s *QueueService) reply(userID, kind string, payload any) {
	if err := s.rl.Publish(relay.UserRoom(userID), kind, payload); err != nil {
		log.Printf("QUEUE: reply %s to %s: %v", kind, userID, err)
	}
}
