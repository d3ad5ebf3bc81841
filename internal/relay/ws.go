package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame is the wire format spoken with a broker that fans room traffic
// out to every connected client. "sub"/"unsub" manage server-side room
// membership; "pub" carries an envelope.
type wsFrame struct {
	Op       string    `json:"op"` // "sub" | "unsub" | "pub"
	Room     string    `json:"room,omitempty"`
	Envelope *Envelope `json:"envelope,omitempty"`
}

const wsWriteTimeout = 5 * time.Second

// WSRelay is a websocket relay client for deployments where a hosted broker
// (rather than a peer-to-peer mesh) carries the room traffic, mirroring the
// original hosted realtime channel.
type WSRelay struct {
	selfID string
	conn   *websocket.Conn

	writeMu sync.Mutex // gorilla conns allow one concurrent writer

	mu     sync.Mutex
	rooms  map[string]map[chan *Envelope]struct{}
	closed bool
}

// DialWS connects to the broker at url and starts the read loop.
func DialWS(url, selfID string) (*WSRelay, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay broker: %w", err)
	}
	w := &WSRelay{
		selfID: selfID,
		conn:   conn,
		rooms:  make(map[string]map[chan *Envelope]struct{}),
	}
	go w.readLoop()
	log.Printf("RELAY: connected to broker %s as %s", url, selfID)
	return w, nil
}

func (w *WSRelay) writeFrame(f *wsFrame) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(f)
}

func (w *WSRelay) readLoop() {
	for {
		var f wsFrame
		if err := w.conn.ReadJSON(&f); err != nil {
			w.teardown(err)
			return
		}
		if f.Op != "pub" || f.Envelope == nil {
			continue
		}
		env := f.Envelope
		if env.From == w.selfID {
			continue
		}

		w.mu.Lock()
		for ch := range w.rooms[env.Room] {
			select {
			case ch <- env:
			default:
			}
		}
		w.mu.Unlock()
	}
}

// Publish sends an envelope to the broker for fanout.
func (w *WSRelay) Publish(room, kind string, payload any) error {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return w.writeFrame(&wsFrame{
		Op:       "pub",
		Room:     room,
		Envelope: &Envelope{Room: room, From: w.selfID, Kind: kind, Payload: raw},
	})
}

// Subscribe registers for a room, asking the broker to include us in its
// fanout when this is the first local listener.
func (w *WSRelay) Subscribe(room string) (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, 64)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	first := w.rooms[room] == nil
	if first {
		w.rooms[room] = make(map[chan *Envelope]struct{})
	}
	w.rooms[room][ch] = struct{}{}
	w.mu.Unlock()

	if first {
		if err := w.writeFrame(&wsFrame{Op: "sub", Room: room}); err != nil {
			log.Printf("RELAY: sub %s: %v", room, err)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.rooms[room], ch)
			last := len(w.rooms[room]) == 0
			if last {
				delete(w.rooms, room)
			}
			closed := w.closed
			w.mu.Unlock()
			close(ch)
			if last && !closed {
				if err := w.writeFrame(&wsFrame{Op: "unsub", Room: room}); err != nil {
					log.Printf("RELAY: unsub %s: %v", room, err)
				}
			}
		})
	}
	return ch, cancel
}

// Close drops the broker connection and all subscriptions.
func (w *WSRelay) Close() error {
	w.teardown(nil)
	return w.conn.Close()
}

func (w *WSRelay) teardown(err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	rooms := w.rooms
	w.rooms = make(map[string]map[chan *Envelope]struct{})
	w.mu.Unlock()

	if err != nil {
		log.Printf("RELAY: broker connection lost: %v", err)
	}
	for _, subs := range rooms {
		for ch := range subs {
			close(ch)
		}
	}
}
