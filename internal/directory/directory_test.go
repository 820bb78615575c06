package directory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

func testDirectory() *Directory {
	return New(NewMemoryStore(), time.Minute, 5)
}

func TestRecordAndDropConnectionCountsSockets(t *testing.T) {
	ctx := context.Background()
	d := testDirectory()

	if err := d.RecordConnection(ctx, "room1", "u1", "c1"); err != nil {
		t.Fatalf("record c1: %v", err)
	}
	if err := d.RecordConnection(ctx, "room1", "u1", "c2"); err != nil {
		t.Fatalf("record c2: %v", err)
	}

	remaining, err := d.DropConnection(ctx, "room1", "u1", "c1")
	if err != nil {
		t.Fatalf("drop c1: %v", err)
	}
	if remaining != 1 {
		t.Fatalf("remaining = %d, want 1", remaining)
	}
	members, err := d.ListMembers(ctx, "room1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(members) != 1 || members[0] != "u1" {
		t.Fatalf("members = %v, want [u1]", members)
	}

	remaining, err = d.DropConnection(ctx, "room1", "u1", "c2")
	if err != nil {
		t.Fatalf("drop c2: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
	members, _ = d.ListMembers(ctx, "room1")
	if len(members) != 0 {
		t.Fatalf("user not pruned: %v", members)
	}
}

func TestDropConnectionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	d := testDirectory()

	if err := d.RecordConnection(ctx, "room1", "u1", "c1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := d.DropConnection(ctx, "room1", "u1", "c1"); err != nil {
		t.Fatalf("first drop: %v", err)
	}
	remaining, err := d.DropConnection(ctx, "room1", "u1", "c1")
	if err != nil {
		t.Fatalf("second drop: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("remaining = %d, want 0", remaining)
	}
}

func TestDropUserRemovesAllSockets(t *testing.T) {
	ctx := context.Background()
	d := testDirectory()

	d.RecordConnection(ctx, "room1", "u1", "c1")
	d.RecordConnection(ctx, "room1", "u1", "c2")
	d.RecordConnection(ctx, "room1", "u2", "c3")

	if err := d.DropUser(ctx, "room1", "u1"); err != nil {
		t.Fatalf("drop user: %v", err)
	}
	members, _ := d.ListMembers(ctx, "room1")
	if len(members) != 1 || members[0] != "u2" {
		t.Fatalf("members = %v, want [u2]", members)
	}
}

func TestEnsureRoomRegistered(t *testing.T) {
	ctx := context.Background()
	d := testDirectory()

	known, err := d.RoomIsKnown(ctx, "room1")
	if err != nil || known {
		t.Fatalf("fresh room known=%v err=%v", known, err)
	}
	if err := d.EnsureRoomRegistered(ctx, "room1"); err != nil {
		t.Fatalf("register: %v", err)
	}
	known, _ = d.RoomIsKnown(ctx, "room1")
	if !known {
		t.Fatalf("room not registered")
	}
	// Re-register must not error and keeps the room alive.
	if err := d.EnsureRoomRegistered(ctx, "room1"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
}

func TestPersistSnapshotAndPurge(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	d := New(store, time.Minute, 5)

	d.RecordConnection(ctx, "room1", "u1", "c1")
	snap := core.RoomSnapshot{
		Info: domain.RoomInfo{
			RoomID:     "room1",
			HostID:     "u1",
			SubHostIDs: []domain.UserID{"u2"},
			CreatedAt:  time.Now(),
			Settings:   domain.RoomSettings{MaxParticipants: 8, AllowChat: true},
		},
	}
	if err := d.PersistSnapshot(ctx, snap); err != nil {
		t.Fatalf("persist: %v", err)
	}
	meta, err := store.HGetAll(ctx, roomMetaKey("room1"))
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta["host"] != "u1" {
		t.Fatalf("host = %q, want u1", meta["host"])
	}
	subs, _ := store.SMembers(ctx, roomSubHostsKey("room1"))
	if len(subs) != 1 || subs[0] != "u2" {
		t.Fatalf("subhosts = %v, want [u2]", subs)
	}

	if err := d.PurgeRoom(ctx, "room1"); err != nil {
		t.Fatalf("purge: %v", err)
	}
	known, _ := d.RoomIsKnown(ctx, "room1")
	if known {
		t.Fatalf("room survived purge")
	}
	sockets, _ := store.SCard(ctx, userSocketsKey("room1", "u1"))
	if sockets != 0 {
		t.Fatalf("socket set survived purge")
	}
}

func TestChatHistoryTrimsToCap(t *testing.T) {
	ctx := context.Background()
	d := testDirectory() // cap of 5

	for i := 0; i < 8; i++ {
		msg := domain.ChatMessage{
			ID:        fmt.Sprintf("m%d", i),
			RoomID:    "room1",
			UserID:    "u1",
			Username:  "alice",
			Message:   fmt.Sprintf("hello %d", i),
			Type:      domain.MessageText,
			Timestamp: time.Now(),
		}
		if err := d.AppendChat(ctx, msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	history, err := d.ChatHistory(ctx, "room1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("got %d messages, want 5", len(history))
	}
	if history[0].ID != "m3" || history[4].ID != "m7" {
		t.Fatalf("wrong window: first=%s last=%s", history[0].ID, history[4].ID)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.SAdd(ctx, "k", "v"); err != nil {
		t.Fatalf("sadd: %v", err)
	}
	if err := store.Expire(ctx, "k", -time.Second); err != nil {
		t.Fatalf("expire: %v", err)
	}
	exists, _ := store.Exists(ctx, "k")
	if exists {
		t.Fatalf("expired key still visible")
	}
}
