package relay

// ── Room name helpers ─────────────────────────────────────────────────────────
// Single source of truth for the room naming scheme shared by every
// transport. A match's room ID is the sorted user-ID pair joined with "-";
// these helpers scope it per concern so chat and signaling traffic never mix.

const (
	// RoomQueue carries enqueue/leave requests to the pairing node.
	RoomQueue = "queue"

	roomChatPrefix   = "room:"   // + roomID — chat broadcasts + presence
	roomSignalPrefix = "webrtc:" // + roomID — offer/answer/candidate/bye
	roomUserPrefix   = "user:"   // + userID — queue results back to one user
)

// ChatRoom returns the chat room name for a match room ID.
func ChatRoom(roomID string) string { return roomChatPrefix + roomID }

// SignalRoom returns the signaling room name for a match room ID.
func SignalRoom(roomID string) string { return roomSignalPrefix + roomID }

// UserRoom returns the per-user room the pairing node answers on.
func UserRoom(userID string) string { return roomUserPrefix + userID }

// ── Envelope kind constants ───────────────────────────────────────────────────
// Value of Envelope.Kind per concern.
const (
	// Session signaling. "ready" is the responder announcing its
	// subscription so the initiator can re-send an offer that predated it.
	KindReady     = "ready"
	KindOffer     = "offer"
	KindAnswer    = "answer"
	KindCandidate = "candidate"
	KindBye       = "bye"

	// Chat binding.
	KindChat     = "chat"
	KindPresence = "presence"

	// Queue service (pairing node).
	KindQueueJoin  = "queue-join"
	KindQueueLeave = "queue-leave"
	KindMatched    = "matched"
	KindNoMatch    = "no-match"
)
