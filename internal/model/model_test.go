package model

import "testing"

type fakeRoomModel struct {
	id    string
	state []MatrixEvent
	token string
}

func (f *fakeRoomModel) RoomID() string                     { return f.id }
func (f *fakeRoomModel) SetStateEvents(events []MatrixEvent) { f.state = events }
func (f *fakeRoomModel) AddEventsToTimeline(events []MatrixEvent, limited bool, prevBatch string) {}
func (f *fakeRoomModel) AddEvents(kind string, events []MatrixEvent)   {}
func (f *fakeRoomModel) AddAccountData(events []MatrixEvent)           {}
func (f *fakeRoomModel) SetUnreadNotificationCount(kind string, n int) {}
func (f *fakeRoomModel) Recalculate(userID string)                     {}
func (f *fakeRoomModel) SetPaginationToken(token string)               { f.token = token }
func (f *fakeRoomModel) OldStatePaginationToken() string               { return f.token }

func TestRoomModelFactoryReturnsSameInstancePerRoom(t *testing.T) {
	rooms := map[string]RoomModel{}
	factory := RoomModelFactory(func(roomID string) RoomModel {
		if rm, ok := rooms[roomID]; ok {
			return rm
		}
		rm := &fakeRoomModel{id: roomID}
		rooms[roomID] = rm
		return rm
	})

	a := factory("!a:example.org")
	b := factory("!a:example.org")
	if a != b {
		t.Fatal("expected the same RoomModel instance for repeated lookups of the same room")
	}

	a.SetStateEvents([]MatrixEvent{{Type: "m.room.create"}})
	if len(rooms["!a:example.org"].(*fakeRoomModel).state) != 1 {
		t.Fatal("state not recorded on the shared instance")
	}
}
