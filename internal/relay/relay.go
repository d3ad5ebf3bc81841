// Package relay defines the room-keyed broadcast channel that carries
// signaling, chat and queue traffic between matched clients, plus three
// interchangeable transports: an in-process bus, libp2p gossipsub, and a
// websocket client for server-brokered deployments.
package relay

import (
	"encoding/json"
	"errors"
)

// ErrClosed is returned by Publish after the relay handle is closed.
var ErrClosed = errors.New("relay closed")

// Envelope is one message delivered to a room's subscribers.
type Envelope struct {
	Room    string          `json:"room"`
	From    string          `json:"from"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("empty payload")
	}
	return json.Unmarshal(e.Payload, v)
}

// Relay is a best-effort publish/subscribe channel keyed by room name.
// No delivery or ordering guarantee beyond what the transport provides.
// Subscribers never receive their own publishes; a handle is bound to one
// sender identity.
type Relay interface {
	// Publish broadcasts payload to the room's current subscribers.
	Publish(room, kind string, payload any) error

	// Subscribe returns a channel of envelopes for the room and a cancel
	// func. Cancel is idempotent and closes the channel. Slow consumers
	// lose messages rather than block the relay.
	Subscribe(room string) (<-chan *Envelope, func())

	// Close releases the handle; all subscriptions are cancelled.
	Close() error
}
