package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/nextlevelbuilder/matrixclaw/internal/bus"
	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
)

// Peek begins peeking a room: an initial sync scoped to roomID followed by
// a polling loop against /events?from=…, filtered to that room id.
// StopPeeking cancels the loop by nulling the tracked peek id — an
// in-flight poll still returns but its continuation sees the id no longer
// matches and stops rather than scheduling another.
func (e *Engine) Peek(ctx context.Context, roomID string) error {
	id := roomID
	e.mu.Lock()
	e.peekID = &id
	e.mu.Unlock()

	pr, err := e.gw.AuthorizedRequest(ctx, "GET", fmt.Sprintf("/rooms/%s/initialSync", url.PathEscape(roomID)), nil, nil, httpapi.RequestOpts{})
	if err != nil {
		return err
	}
	reply, err := pr.Wait(ctx)
	if err != nil {
		return err
	}

	var initial struct {
		Messages struct {
			End string `json:"end"`
		} `json:"messages"`
	}
	if err := decodeInto(reply.Data, &initial); err != nil {
		return err
	}

	go e.pollEvents(ctx, roomID, initial.Messages.End)
	return nil
}

// StopPeeking ends the current peek loop, if any.
func (e *Engine) StopPeeking() {
	e.mu.Lock()
	e.peekID = nil
	e.mu.Unlock()
}

func (e *Engine) pollEvents(ctx context.Context, roomID, from string) {
	for {
		if !e.isPeeking(roomID) {
			return
		}

		query := url.Values{"from": {from}, "timeout": {"30000"}, "room_id": {roomID}}
		pr, err := e.gw.AuthorizedRequest(ctx, "GET", "/events", query, nil, httpapi.RequestOpts{})
		if err != nil {
			return
		}
		reply, err := pr.Wait(ctx)

		if !e.isPeeking(roomID) {
			// stopPeeking landed while this poll was outstanding: let it
			// settle but never schedule another.
			return
		}
		if err != nil {
			return
		}

		var decoded struct {
			Chunk []json.RawMessage `json:"chunk"`
			End   string            `json:"end"`
		}
		if err := decodeInto(reply.Data, &decoded); err != nil {
			return
		}

		for _, ev := range e.mapEvents(roomID, decoded.Chunk) {
			if ev.RoomID != roomID {
				continue
			}
			e.bus.Broadcast(bus.Event{Name: "event", Payload: ev})
		}

		from = decoded.End
	}
}

func (e *Engine) isPeeking(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peekID != nil && *e.peekID == roomID
}
