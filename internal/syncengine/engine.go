// Package syncengine owns the long-poll /sync conversation with a
// homeserver and transforms each response into a normalized stream of
// room/state/timeline changes, fanned out over a bus.Bus.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/bus"
	"github.com/nextlevelbuilder/matrixclaw/internal/filter"
	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/model"
)

// BufferPeriod is added to PollTimeout to get the client-side hard
// deadline for one /sync call, so the gateway's local timeout never fires
// before the server's own long-poll timeout could legitimately return.
const BufferPeriod = 80 * time.Second

const syncFilterNamePrefix = "FILTER_SYNC_"

// Config is this engine's construction record, per spec §6.3.
type Config struct {
	UserID                   string
	Guest                    bool
	PollTimeout              time.Duration
	InitialSyncLimit         int
	ResolveInvitesToProfiles bool
	PendingEventOrdering     string
}

// Engine drives one /sync conversation. Construct with New, then Start; a
// single Engine is not safe to Start more than once concurrently.
type Engine struct {
	cfg    Config
	gw     *httpapi.Gateway
	bus    *bus.Bus
	rooms  model.RoomModelFactory
	mapper model.EventMapper
	tokens TokenStore

	syncFilterID string
	inlineFilter *filter.Def

	mu         sync.Mutex
	state      model.SyncState
	since      string
	knownRooms map[string]bool
	peekID     *string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a sync Engine. gw is used for authorized sync/versions
// requests; bus receives Room/RoomState/event/sync notifications; rooms
// looks up or creates the per-room model; tokens persists the since-token
// and cached filter id across restarts.
func New(cfg Config, gw *httpapi.Gateway, b *bus.Bus, rooms model.RoomModelFactory, mapper model.EventMapper, tokens TokenStore) *Engine {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		gw:         gw,
		bus:        b,
		rooms:      rooms,
		mapper:     mapper,
		tokens:     tokens,
		state:      model.SyncStateInitial,
		knownRooms: make(map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// State returns the current SyncState.
func (e *Engine) State() model.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stop ends the main loop and any in-progress keep-alive loop. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// Start resolves preconditions (push rules, filter id) then runs the main
// loop until ctx is cancelled or Stop is called. Blocks.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.resolvePreconditions(ctx); err != nil {
		e.setState(model.SyncStateError)
		return err
	}

	if tok, ok, err := e.tokens.GetSyncToken(ctx); err == nil && ok {
		e.mu.Lock()
		e.since = tok
		e.mu.Unlock()
	}

	firstSuccess := true

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		default:
		}

		resp, err := e.poll(ctx)
		if err != nil {
			e.setState(model.SyncStateError)
			if keepAliveErr := e.runKeepAlive(ctx); keepAliveErr != nil {
				return keepAliveErr
			}
			continue
		}

		e.applyResponse(ctx, resp)

		if firstSuccess {
			e.setState(model.SyncStatePrepared)
			firstSuccess = false
		}
		e.setState(model.SyncStateSyncing)
	}
}

// resolvePreconditions fetches push rules (skipped for guests) and
// resolves the sync filter id, creating and caching it if absent. Guests
// cannot create filters server-side, so they get an inline filter instead.
func (e *Engine) resolvePreconditions(ctx context.Context) error {
	if !e.cfg.Guest {
		if pr, err := e.gw.AuthorizedRequest(ctx, "GET", "/pushrules/", nil, nil, httpapi.RequestOpts{}); err == nil {
			if _, err := pr.Wait(ctx); err != nil {
				slog.Warn("syncengine: push rule fetch failed, continuing without them", "err", err)
			}
		}
	}

	def := filter.New()
	def.SetTimelineLimit(e.cfg.InitialSyncLimit)

	if e.cfg.Guest {
		e.inlineFilter = def
		return nil
	}

	name := syncFilterNamePrefix + e.cfg.UserID
	if id, ok, err := e.tokens.GetFilterID(ctx, name); err == nil && ok {
		e.syncFilterID = id
		return nil
	}

	body, err := def.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal sync filter: %w", err)
	}
	pr, err := e.gw.AuthorizedRequest(ctx, "POST", fmt.Sprintf("/user/%s/filter", url.PathEscape(e.cfg.UserID)), nil, json.RawMessage(body), httpapi.RequestOpts{})
	if err != nil {
		return err
	}
	reply, err := pr.Wait(ctx)
	if err != nil {
		return err
	}
	var created struct {
		FilterID string `json:"filter_id"`
	}
	if err := json.Unmarshal(reply.Data, &created); err != nil {
		return fmt.Errorf("decode filter create reply: %w", err)
	}
	if err := e.tokens.SetFilterID(ctx, name, created.FilterID); err != nil {
		slog.Warn("syncengine: failed to cache filter id", "err", err)
	}
	e.syncFilterID = created.FilterID
	return nil
}

// poll issues one GET /sync call with the client-side buffer deadline.
func (e *Engine) poll(ctx context.Context) (syncResponse, error) {
	e.mu.Lock()
	since := e.since
	e.mu.Unlock()

	query := e.filterQuery()
	query.Set("timeout", fmt.Sprintf("%d", e.cfg.PollTimeout.Milliseconds()))
	if since != "" {
		query.Set("since", since)
	}

	pr, err := e.gw.AuthorizedRequest(ctx, "GET", "/sync", query, nil, httpapi.RequestOpts{
		LocalTimeoutMs: int((e.cfg.PollTimeout + BufferPeriod).Milliseconds()),
	})
	if err != nil {
		return syncResponse{}, err
	}
	reply, err := pr.Wait(ctx)
	if err != nil {
		return syncResponse{}, err
	}
	return decodeSyncResponse(reply.Data)
}

func (e *Engine) filterQuery() url.Values {
	query := url.Values{}
	if e.syncFilterID != "" {
		query.Set("filter", e.syncFilterID)
	} else if e.inlineFilter != nil {
		body, _ := e.inlineFilter.MarshalJSON()
		query.Set("filter", string(body))
	}
	return query
}

func (e *Engine) setState(s model.SyncState) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.bus.Broadcast(bus.Event{Name: "sync", Payload: s})
}

var nowFunc = time.Now
