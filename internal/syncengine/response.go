package syncengine

import (
	"encoding/json"
)

// syncResponse is the decoded shape of a GET /sync reply, restricted to
// the fields this engine acts on. Event payloads are kept as raw JSON
// here and only turned into model.MatrixEvent by the engine's mapper,
// which is also responsible for backfilling room_id where the wire
// format omits it.
type syncResponse struct {
	NextBatch string       `json:"next_batch"`
	Presence  eventsHolder `json:"presence"`
	Rooms     roomsSection `json:"rooms"`
}

type eventsHolder struct {
	Events []json.RawMessage `json:"events"`
}

type roomsSection struct {
	Join   map[string]joinRoom   `json:"join"`
	Invite map[string]inviteRoom `json:"invite"`
	Leave  map[string]leaveRoom  `json:"leave"`
}

type joinRoom struct {
	State       eventsHolder     `json:"state"`
	Timeline    timelineSection  `json:"timeline"`
	Ephemeral   eventsHolder     `json:"ephemeral"`
	AccountData eventsHolder     `json:"account_data"`
	UnreadNotif unreadNotifCount `json:"unread_notifications"`
}

type timelineSection struct {
	Events    []json.RawMessage `json:"events"`
	PrevBatch string            `json:"prev_batch"`
	Limited   bool              `json:"limited"`
}

type unreadNotifCount struct {
	HighlightCount    int `json:"highlight_count"`
	NotificationCount int `json:"notification_count"`
}

type inviteRoom struct {
	InviteState eventsHolder `json:"invite_state"`
}

type leaveRoom struct {
	Timeline timelineSection `json:"timeline"`
}

func decodeSyncResponse(data []byte) (syncResponse, error) {
	var resp syncResponse
	err := json.Unmarshal(data, &resp)
	return resp, err
}

func decodeInto(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
