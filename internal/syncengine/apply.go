package syncengine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nextlevelbuilder/matrixclaw/internal/bus"
	"github.com/nextlevelbuilder/matrixclaw/internal/model"
)

// applyResponse implements spec §4.5's main-loop body: persist the new
// since-token before emitting anything, then presence, then invite/join/
// leave sections in that order.
func (e *Engine) applyResponse(ctx context.Context, resp syncResponse) {
	e.mu.Lock()
	e.since = resp.NextBatch
	e.mu.Unlock()
	if err := e.tokens.SetSyncToken(ctx, resp.NextBatch); err != nil {
		// Reported on the bus, not fatal: worst case a restart replays a few events.
		e.bus.Broadcast(bus.Event{Name: "sync.token_persist_error", Payload: err})
	}

	for _, ev := range e.mapEvents("", resp.Presence.Events) {
		e.bus.Broadcast(bus.Event{Name: "event", Payload: ev})
	}

	for roomID, section := range resp.Rooms.Invite {
		e.applyInvite(roomID, section)
	}
	for roomID, section := range resp.Rooms.Join {
		e.applyJoin(roomID, section)
	}
	for roomID, section := range resp.Rooms.Leave {
		e.applyLeave(roomID, section)
	}
}

// mapEvents decodes each raw event through the engine's EventMapper,
// which stamps room_id where the wire format omitted it (state/timeline
// events nested in a room's sync section never carry their own). Events
// that fail to decode are logged and dropped rather than aborting the
// whole batch.
func (e *Engine) mapEvents(roomID string, raw []json.RawMessage) []model.MatrixEvent {
	events := make([]model.MatrixEvent, 0, len(raw))
	for _, r := range raw {
		ev, err := e.mapper.MapEvent(r, roomID)
		if err != nil {
			slog.Warn("syncengine: dropping unparseable event", "room_id", roomID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events
}

// isBrandNew reports whether roomID had no local model before this batch,
// recording it as known for future calls.
func (e *Engine) isBrandNew(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.knownRooms[roomID] {
		return false
	}
	e.knownRooms[roomID] = true
	return true
}

func (e *Engine) applyInvite(roomID string, section inviteRoom) {
	brandNew := e.isBrandNew(roomID)
	rm := e.rooms(roomID)

	stateEvents := e.mapEvents(roomID, section.InviteState.Events)
	rm.SetStateEvents(stateEvents)
	rm.Recalculate(e.cfg.UserID)

	if brandNew {
		e.bus.Broadcast(bus.Event{Name: "Room", Payload: roomID})
	}
	for _, ev := range stateEvents {
		e.bus.Broadcast(bus.Event{Name: "RoomState.events", Payload: ev})
	}
}

func (e *Engine) applyJoin(roomID string, section joinRoom) {
	brandNew := e.isBrandNew(roomID)
	rm := e.rooms(roomID)

	rm.SetStateEvents(e.mapEvents(roomID, section.State.Events))

	rm.SetUnreadNotificationCount("highlight_count", section.UnreadNotif.HighlightCount)
	rm.SetUnreadNotificationCount("notification_count", section.UnreadNotif.NotificationCount)

	if section.Timeline.Limited || brandNew {
		// Set before timeline events are added so listeners reacting by
		// scrolling back observe the correct token.
		rm.SetPaginationToken(section.Timeline.PrevBatch)
	}

	timelineEvents := e.mapEvents(roomID, section.Timeline.Events)
	rm.AddEventsToTimeline(timelineEvents, section.Timeline.Limited, section.Timeline.PrevBatch)
	rm.AddEvents("ephemeral", e.mapEvents(roomID, section.Ephemeral.Events))
	rm.AddAccountData(e.mapEvents(roomID, section.AccountData.Events))

	rm.Recalculate(e.cfg.UserID)

	if brandNew {
		e.bus.Broadcast(bus.Event{Name: "Room", Payload: roomID})
	}
	for _, ev := range timelineEvents {
		e.bus.Broadcast(bus.Event{Name: "event", Payload: ev})
	}
}

func (e *Engine) applyLeave(roomID string, section leaveRoom) {
	e.isBrandNew(roomID) // still marks it known, even though leave bookkeeping is minimal
	rm := e.rooms(roomID)
	rm.AddEventsToTimeline(e.mapEvents(roomID, section.Timeline.Events), section.Timeline.Limited, section.Timeline.PrevBatch)
}
