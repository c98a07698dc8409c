package syncengine

import (
	"context"
	"net/url"

	"github.com/nextlevelbuilder/matrixclaw/internal/filter"
	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
)

// SyncLeftRooms issues a one-shot /sync with include_leave:true and
// timeline.limit=1 to recover historic left rooms. Rooms already known
// locally are skipped so their timeline isn't duplicated.
func (e *Engine) SyncLeftRooms(ctx context.Context) error {
	def := filter.New()
	def.SetIncludeLeave(true)
	def.SetTimelineLimit(1)
	body, err := def.MarshalJSON()
	if err != nil {
		return err
	}

	query := url.Values{"filter": {string(body)}}
	pr, err := e.gw.AuthorizedRequest(ctx, "GET", "/sync", query, nil, httpapi.RequestOpts{})
	if err != nil {
		return err
	}
	reply, err := pr.Wait(ctx)
	if err != nil {
		return err
	}

	resp, err := decodeSyncResponse(reply.Data)
	if err != nil {
		return err
	}

	for roomID, section := range resp.Rooms.Leave {
		e.mu.Lock()
		alreadyKnown := e.knownRooms[roomID]
		e.mu.Unlock()
		if alreadyKnown {
			continue
		}
		e.applyLeave(roomID, section)
	}
	return nil
}
