package model

import "encoding/json"

// DefaultMapper decodes MatrixEvent directly via encoding/json and backfills
// RoomID when the sync response omitted it (state/timeline events nested
// under a room's sync section never carry room_id of their own).
type DefaultMapper struct{}

func (DefaultMapper) MapEvent(raw json.RawMessage, roomID string) (MatrixEvent, error) {
	var ev MatrixEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return MatrixEvent{}, err
	}
	if ev.RoomID == "" {
		ev.RoomID = roomID
	}
	return ev, nil
}
