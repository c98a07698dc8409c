package scheduler

import "encoding/json"

// Event is the generic payload the scheduler moves through a named queue.
// The Matrix event body itself is opaque to the scheduler — it only needs
// an identity, a type (for the default queue selector) and a room id (for
// processors that need it).
type Event struct {
	ID      string
	Type    string
	RoomID  string
	Content json.RawMessage
}

// IsMessageType reports whether this looks like a message-send event, per
// the default QueueMessages selector.
func (e Event) IsMessageType() bool {
	return e.Type == "m.room.message" || e.Type == "m.sticker"
}
