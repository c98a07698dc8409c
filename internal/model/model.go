// Package model defines the types and collaborator interfaces shared by the
// scheduler, sync engine, and interactive auth driver: sync tokens and
// state, per-room deltas, and the narrow interfaces those components use to
// reach into room state, event mapping, and session storage without owning
// that state themselves.
package model

import "encoding/json"

// SyncToken is the opaque since-token the homeserver hands back on every
// /sync response. Treated as an opaque string throughout — never parsed.
type SyncToken string

// SyncState is the lifecycle state of a sync engine instance.
type SyncState string

const (
	SyncStateInitial  SyncState = "INITIAL"
	SyncStatePrepared SyncState = "PREPARED"
	SyncStateSyncing  SyncState = "SYNCING"
	SyncStateError    SyncState = "ERROR"
	SyncStateStopped  SyncState = "STOPPED"
)

// MatrixEvent is the decoded shape of any event delivered over /sync,
// whether state, timeline, or ephemeral. Content stays raw; callers decode
// the fields their event type needs.
type MatrixEvent struct {
	Type           string          `json:"type"`
	EventID        string          `json:"event_id,omitempty"`
	Sender         string          `json:"sender,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	Content        json.RawMessage `json:"content"`
	Unsigned       json.RawMessage `json:"unsigned,omitempty"`
}

// RoomDelta is everything one /sync response carried for a single room.
// Transient: consumed by a RoomModel then discarded.
type RoomDelta struct {
	RoomID       string
	Membership   string // "join", "invite", or "leave"
	State        []MatrixEvent
	Timeline     []MatrixEvent
	Ephemeral    []MatrixEvent
	AccountData  []MatrixEvent
	UnreadCounts map[string]int // e.g. "highlight_count", "notification_count"
	PrevBatch    string
	Limited      bool
	IsNewRoom    bool
}

// SessionStore is the Olm-style account/session persistence boundary. The
// account critical section is exposed as a closure rather than separate
// load/store calls so unpickle-operate-pickle-store is one block that
// cannot be split across a yield point.
type SessionStore interface {
	WithAccount(fn func(account []byte) ([]byte, error)) error
	GetSessions(identityKey string) ([]string, error)
	StoreSession(identityKey, sessionID string, blob []byte) error
}

// RoomModel is the per-room state/timeline sink the sync engine writes
// into. Implementations own how state and timeline are persisted and
// indexed; the sync engine only ever calls these methods in order.
type RoomModel interface {
	RoomID() string
	SetStateEvents(events []MatrixEvent)
	AddEventsToTimeline(events []MatrixEvent, limited bool, prevBatch string)
	AddEvents(kind string, events []MatrixEvent) // ephemeral/account-data
	AddAccountData(events []MatrixEvent)
	SetUnreadNotificationCount(kind string, n int)
	Recalculate(userID string)
	SetPaginationToken(token string)
	OldStatePaginationToken() string
}

// RoomModelFactory constructs or looks up the RoomModel for a room id.
type RoomModelFactory func(roomID string) RoomModel

// EventMapper turns raw JSON into a MatrixEvent, stamping room_id when the
// sync context requires it (state/timeline events inside a room's sync
// section arrive without room_id; this backfills it from the section key).
type EventMapper interface {
	MapEvent(raw json.RawMessage, roomID string) (MatrixEvent, error)
}
