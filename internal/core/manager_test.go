package core

import (
	"context"
	"testing"

	"github.com/rtcmeet/signaling/internal/domain"
)

func TestManagerGetOrCreateReturnsSameRoom(t *testing.T) {
	m := NewManager(newFakeEngine(), domain.RoomSettings{MaxParticipants: 4})

	r1, err := m.GetOrCreate(context.Background(), "room1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r2, err := m.GetOrCreate(context.Background(), "room1")
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if r1 != r2 {
		t.Fatalf("two instances for one room id")
	}
	if r1.Settings().MaxParticipants != 4 {
		t.Fatalf("defaults not applied: %+v", r1.Settings())
	}
}

func TestManagerStopClosesRouter(t *testing.T) {
	engine := newFakeEngine()
	m := NewManager(engine, domain.RoomSettings{})

	room, err := m.GetOrCreate(context.Background(), "room1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	router := room.Router().(*fakeRouter)

	m.Stop("room1")
	if !router.closed {
		t.Fatalf("router survived Stop")
	}
	if _, ok := m.Get("room1"); ok {
		t.Fatalf("room still listed after Stop")
	}

	// Stop of an unknown room is a no-op.
	m.Stop("room1")
}

func TestManagerList(t *testing.T) {
	m := NewManager(newFakeEngine(), domain.RoomSettings{})
	room, _ := m.GetOrCreate(context.Background(), "room1")
	m.GetOrCreate(context.Background(), "room2")

	if _, err := room.Admit("s1", testUser(t, "u1"), "", &fakeSignal{}); err != nil {
		t.Fatalf("admit: %v", err)
	}

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("got %d rooms, want 2", len(list))
	}
	counts := map[domain.RoomID]int{}
	for _, s := range list {
		counts[s.RoomID] = s.Participants
	}
	if counts["room1"] != 1 || counts["room2"] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}
