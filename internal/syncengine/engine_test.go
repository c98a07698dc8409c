package syncengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/matrixclaw/internal/bus"
	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/model"
	"github.com/nextlevelbuilder/matrixclaw/internal/realtime"
)

type memTokenStore struct {
	mu       sync.Mutex
	token    string
	hasToken bool
	filters  map[string]string
}

func newMemTokenStore() *memTokenStore {
	return &memTokenStore{filters: map[string]string{}}
}

func (m *memTokenStore) GetSyncToken(ctx context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, m.hasToken, nil
}

func (m *memTokenStore) SetSyncToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token, m.hasToken = token, true
	return nil
}

func (m *memTokenStore) GetFilterID(ctx context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.filters[name]
	return id, ok, nil
}

func (m *memTokenStore) SetFilterID(ctx context.Context, name, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filters[name] = id
	return nil
}

type recordingRoomModel struct {
	mu          sync.Mutex
	id          string
	state       []model.MatrixEvent
	timeline    []model.MatrixEvent
	limited     bool
	paginationT string
}

func (r *recordingRoomModel) RoomID() string { return r.id }
func (r *recordingRoomModel) SetStateEvents(events []model.MatrixEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = events
}
func (r *recordingRoomModel) AddEventsToTimeline(events []model.MatrixEvent, limited bool, prevBatch string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limited {
		r.timeline = nil
	}
	r.timeline = append(r.timeline, events...)
	r.limited = limited
}
func (r *recordingRoomModel) AddEvents(kind string, events []model.MatrixEvent) {}
func (r *recordingRoomModel) AddAccountData(events []model.MatrixEvent)         {}
func (r *recordingRoomModel) SetUnreadNotificationCount(kind string, n int)     {}
func (r *recordingRoomModel) Recalculate(userID string)                        {}
func (r *recordingRoomModel) SetPaginationToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paginationT = token
}
func (r *recordingRoomModel) OldStatePaginationToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paginationT
}

func (r *recordingRoomModel) snapshotTimeline() []model.MatrixEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.MatrixEvent, len(r.timeline))
	copy(out, r.timeline)
	return out
}

type fakeMapper struct{}

func (fakeMapper) MapEvent(raw json.RawMessage, roomID string) (model.MatrixEvent, error) {
	var ev model.MatrixEvent
	err := json.Unmarshal(raw, &ev)
	return ev, err
}

// newTestHarness wires an Engine against an httptest server that serves a
// fixed sequence of /sync bodies, one per call, then blocks.
func newTestHarness(t *testing.T, syncBodies []string) (*Engine, *recordingRoomModel, func()) {
	t.Helper()
	var callCount int
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case req.URL.Path == "/_matrix/client/r0/pushrules/":
			w.Write([]byte(`{}`))
		case req.URL.Path == "/_matrix/client/r0/sync":
			mu.Lock()
			idx := callCount
			callCount++
			mu.Unlock()
			if idx >= len(syncBodies) {
				<-req.Context().Done()
				return
			}
			w.Write([]byte(syncBodies[idx]))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	gw := httpapi.New(httpapi.Config{
		BaseURL:        srv.URL,
		HTTPClient:     srv.Client(),
		AccessToken:    "tok",
		LocalTimeoutMs: 5000,
	}, realtime.New())

	room := &recordingRoomModel{id: "!a:example.org"}
	rooms := model.RoomModelFactory(func(roomID string) model.RoomModel { return room })

	b := bus.New()
	tokens := newMemTokenStore()
	tokens.SetFilterID(context.Background(), syncFilterNamePrefix+"@u:example.org", "f1")

	e := New(Config{UserID: "@u:example.org", PollTimeout: time.Second}, gw, b, rooms, fakeMapper{}, tokens)

	return e, room, srv.Close
}

func TestInitialSyncOneRoom(t *testing.T) {
	body := `{"next_batch":"t1","rooms":{"join":{"!a:example.org":{
		"state":{"events":[{"type":"m.room.create"}]},
		"timeline":{"events":[{"type":"m.room.message","event_id":"msg1"}],"prev_batch":"p1","limited":false}
	}}}}`

	e, room, closeSrv := newTestHarness(t, []string{body})
	defer closeSrv()

	sub := e.bus.Subscribe("sync")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Start(ctx)

	deadline := time.After(time.Second)
	var states []model.SyncState
	for len(states) < 2 {
		select {
		case ev := <-sub:
			states = append(states, ev.Payload.(model.SyncState))
		case <-deadline:
			t.Fatalf("timed out waiting for sync states, got %v", states)
		}
	}
	e.Stop()

	if states[0] != model.SyncStatePrepared || states[1] != model.SyncStateSyncing {
		t.Fatalf("states = %v, want [PREPARED SYNCING]", states)
	}

	timeline := room.snapshotTimeline()
	if len(timeline) != 1 || timeline[0].EventID != "msg1" {
		t.Fatalf("timeline = %+v", timeline)
	}

	tokens := e.tokens.(*memTokenStore)
	tok, ok, _ := tokens.GetSyncToken(context.Background())
	if !ok || tok != "t1" {
		t.Fatalf("stored token = %q, ok=%v, want t1", tok, ok)
	}
}

func TestLimitedTimelineReplacesLiveTimeline(t *testing.T) {
	first := `{"next_batch":"t1","rooms":{"join":{"!a:example.org":{
		"state":{"events":[]},
		"timeline":{"events":[{"type":"m.room.message","event_id":"msg1"}],"prev_batch":"p1","limited":false}
	}}}}`
	second := `{"next_batch":"t2","rooms":{"join":{"!a:example.org":{
		"state":{"events":[]},
		"timeline":{"events":[{"type":"m.room.message","event_id":"msg2"}],"prev_batch":"p2","limited":true}
	}}}}`

	e, room, closeSrv := newTestHarness(t, []string{first, second})
	defer closeSrv()

	sub := e.bus.Subscribe("sync")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go e.Start(ctx)

	deadline := time.After(time.Second)
	var seen int
	for seen < 3 {
		select {
		case <-sub:
			seen++
		case <-deadline:
			t.Fatalf("timed out after %d sync states", seen)
		}
	}
	e.Stop()

	timeline := room.snapshotTimeline()
	if len(timeline) != 1 || timeline[0].EventID != "msg2" {
		t.Fatalf("timeline = %+v, want only msg2", timeline)
	}
	if room.OldStatePaginationToken() != "p2" {
		t.Fatalf("pagination token = %q, want p2", room.OldStatePaginationToken())
	}
}
