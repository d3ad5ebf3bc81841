// Package chat binds an ephemeral text channel to a match's room. The
// binding lives independently of the video session: it opens as soon as the
// match exists and keeps working until this side leaves, whatever the
// negotiation is doing. Nothing is persisted; the transcript dies with the
// binding.
package chat

import (
	"time"

	"github.com/google/uuid"
)

// MessageType distinguishes user text from presence-derived system lines.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"
)

// Message is one chat line as delivered to the caller.
type Message struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name"`
	Content     string      `json:"content"`
	Type        MessageType `json:"type"`
	Timestamp   int64       `json:"timestamp"` // unix milliseconds
}

// NewMessage creates a user text message.
func NewMessage(userID, displayName, content string) *Message {
	return &Message{
		ID:          uuid.NewString(),
		UserID:      userID,
		DisplayName: displayName,
		Content:     content,
		Type:        MessageTypeText,
		Timestamp:   time.Now().UnixMilli(),
	}
}

func systemMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		UserID:    "system",
		Content:   content,
		Type:      MessageTypeSystem,
		Timestamp: time.Now().UnixMilli(),
	}
}

// presencePayload travels on presence envelopes so each side can mirror
// the other's joins and leaves.
type presencePayload struct {
	Event       string `json:"event"` // "join" | "leave"
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
}

// Presence describes one participant as reported through callbacks.
type Presence struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	JoinedAt    int64  `json:"joined_at"`
}
