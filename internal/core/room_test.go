package core

import (
	"context"
	"testing"

	"github.com/rtcmeet/signaling/internal/domain"
)

func testUser(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := domain.NewUser(domain.UserID(id), "user-"+id)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	return u
}

func testRoom(settings domain.RoomSettings) *Room {
	return NewRoom("room1", settings, &fakeRouter{})
}

func admit(t *testing.T, r *Room, sid string, uid string, role domain.Role) (AdmitResult, *fakeSignal) {
	t.Helper()
	sig := &fakeSignal{}
	res, err := r.Admit(SessionID(sid), testUser(t, uid), role, sig)
	if err != nil {
		t.Fatalf("admit %s: %v", uid, err)
	}
	return res, sig
}

func TestAdmitFirstJoinerIsHost(t *testing.T) {
	r := testRoom(domain.RoomSettings{})

	res, _ := admit(t, r, "s1", "u1", domain.RoleParticipant)
	if res.Participant.Role != domain.RoleHost {
		t.Fatalf("first joiner role = %s, want host", res.Participant.Role)
	}
	if !res.NewParticipant || res.Reconnected {
		t.Fatalf("unexpected admit result: %+v", res)
	}

	res2, _ := admit(t, r, "s2", "u2", "")
	if res2.Participant.Role != domain.RoleParticipant {
		t.Fatalf("second joiner role = %s, want participant", res2.Participant.Role)
	}
}

func TestAdmitHonorsRequestedSubHostRole(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	res, _ := admit(t, r, "s2", "u2", domain.RoleSubHost)
	if res.Participant.Role != domain.RoleSubHost {
		t.Fatalf("role = %s, want subhost", res.Participant.Role)
	}
	if !r.IsSubHost("u2") {
		t.Fatalf("u2 not tracked as sub-host")
	}
}

func TestAdmitRoomFull(t *testing.T) {
	r := testRoom(domain.RoomSettings{MaxParticipants: 2})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", "")

	_, err := r.Admit("s3", testUser(t, "u3"), "", &fakeSignal{})
	if err != ErrRoomFull {
		t.Fatalf("err = %v, want ErrRoomFull", err)
	}
}

func TestAdmitReconnectReplacesOldPeer(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	prod := &fakeProducer{id: "p1", kind: MediaKindAudio}
	if err := r.AddProducer("s1", prod, ""); err != nil {
		t.Fatalf("add producer: %v", err)
	}

	res, _ := admit(t, r, "s2", "u1", "")
	if !res.Reconnected {
		t.Fatalf("expected reconnect")
	}
	if res.ReplacedSID != "s1" {
		t.Fatalf("replaced sid = %s, want s1", res.ReplacedSID)
	}
	if !prod.closed {
		t.Fatalf("old peer's producer survived the reconnect")
	}
	if r.ParticipantCount() != 1 {
		t.Fatalf("participant count = %d, want 1", r.ParticipantCount())
	}
	// A rejoining host keeps the host seat.
	if res.Participant.Role != domain.RoleHost {
		t.Fatalf("role after reconnect = %s, want host", res.Participant.Role)
	}
	// The old connection no longer owns a peer: a late release of it
	// must be a no-op.
	stale := r.Release("s1", true)
	if stale.Released {
		t.Fatalf("stale release tore down state")
	}
	if r.ParticipantCount() != 1 {
		t.Fatalf("stale release removed the participant")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	first := r.Release("s1", true)
	if !first.Released || !first.ParticipantRemoved {
		t.Fatalf("first release: %+v", first)
	}
	second := r.Release("s1", true)
	if second.Released {
		t.Fatalf("second release reported work done")
	}
}

func TestReleaseKeepsParticipantWhileOtherConnectionsRemain(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	res := r.Release("s1", false)
	if !res.Released || res.ParticipantRemoved {
		t.Fatalf("release with live siblings removed the participant: %+v", res)
	}
	if r.ParticipantCount() != 1 {
		t.Fatalf("participant vanished")
	}
}

func TestHostSuccessionPrefersFirstSubHost(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "host", "")
	admit(t, r, "s2", "early", "")
	admit(t, r, "s3", "subA", domain.RoleSubHost)
	admit(t, r, "s4", "subB", domain.RoleSubHost)

	res := r.Release("s1", true)
	if !res.WasHost {
		t.Fatalf("expected host departure")
	}
	if res.NewHostID != "subA" {
		t.Fatalf("new host = %s, want subA", res.NewHostID)
	}
	if !r.IsHost("subA") || r.IsSubHost("subA") {
		t.Fatalf("subA not promoted cleanly")
	}
	p, _ := r.Participant("subA")
	if p.Role != domain.RoleHost {
		t.Fatalf("subA role = %s, want host", p.Role)
	}
}

func TestHostSuccessionFallsBackToEarliestJoined(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "host", "")
	admit(t, r, "s2", "second", "")
	admit(t, r, "s3", "third", "")

	res := r.Release("s1", true)
	if res.NewHostID != "second" {
		t.Fatalf("new host = %s, want second", res.NewHostID)
	}
}

func TestReleaseLastParticipantEmptiesRoom(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	res := r.Release("s1", true)
	if !res.RoomEmpty {
		t.Fatalf("expected empty room")
	}
	if res.NewHostID != "" {
		t.Fatalf("promoted a host in an empty room")
	}
}

func TestEvictTearsDownPeerAndPromotes(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	_, sig2 := admit(t, r, "s2", "u2", "")
	_ = sig2

	prod := &fakeProducer{id: "p1", kind: MediaKindVideo}
	if err := r.AddProducer("s2", prod, ""); err != nil {
		t.Fatalf("add producer: %v", err)
	}

	res, err := r.Evict("u2")
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if !res.ParticipantRemoved || !prod.closed {
		t.Fatalf("evict left state behind: %+v", res)
	}
	if _, ok := r.Participant("u2"); ok {
		t.Fatalf("u2 still present")
	}

	if _, err := r.Evict("u2"); err != ErrParticipantNotFound {
		t.Fatalf("second evict err = %v, want ErrParticipantNotFound", err)
	}
}

func TestSetRoleHostAssignmentDemotesPriorHost(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", "")

	res, err := r.SetRole("u2", domain.RoleHost)
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if res.DemotedHostID != "u1" {
		t.Fatalf("demoted = %s, want u1", res.DemotedHostID)
	}
	if !r.IsHost("u2") || r.IsHost("u1") {
		t.Fatalf("host seat not transferred")
	}
	p, _ := r.Participant("u1")
	if p.Role != domain.RoleParticipant {
		t.Fatalf("u1 role = %s, want participant", p.Role)
	}
}

func TestSetRoleParticipantDropsSubHost(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", domain.RoleSubHost)

	if _, err := r.SetRole("u2", domain.RoleParticipant); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if r.IsSubHost("u2") || r.CanAdminister("u2") {
		t.Fatalf("u2 still administers")
	}
}

func TestMutePausesOnlyAudioProducers(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	audio := &fakeProducer{id: "a", kind: MediaKindAudio}
	video := &fakeProducer{id: "v", kind: MediaKindVideo}
	if err := r.AddProducer("s1", audio, ""); err != nil {
		t.Fatalf("add audio: %v", err)
	}
	if err := r.AddProducer("s1", video, ""); err != nil {
		t.Fatalf("add video: %v", err)
	}

	if err := r.Mute(context.Background(), "u1", true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if !audio.paused || video.paused {
		t.Fatalf("pause hit the wrong producers: audio=%v video=%v", audio.paused, video.paused)
	}
	p, _ := r.Participant("u1")
	if !p.IsMuted {
		t.Fatalf("mute state not recorded")
	}

	if err := r.Mute(context.Background(), "u1", false); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if audio.paused {
		t.Fatalf("audio still paused after unmute")
	}
}

func TestMuteWithoutProducersStillFlipsState(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")

	if err := r.Mute(context.Background(), "u1", true); err != nil {
		t.Fatalf("mute: %v", err)
	}
	p, _ := r.Participant("u1")
	if !p.IsMuted {
		t.Fatalf("mute state not recorded without producers")
	}
}

func TestListActiveProducersExcludesSelf(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", "")
	admit(t, r, "s3", "u3", "")

	r.AddProducer("s1", &fakeProducer{id: "p1", kind: MediaKindAudio}, "")
	r.AddProducer("s2", &fakeProducer{id: "p2", kind: MediaKindVideo}, "screen")

	got := r.ListActiveProducers("s3", "u3")
	if len(got) != 2 {
		t.Fatalf("got %d producers, want 2", len(got))
	}
	for _, info := range got {
		if info.SocketID == "s3" || info.UserID == "u3" {
			t.Fatalf("listing leaked the excluded connection: %+v", info)
		}
	}

	own := r.ListActiveProducers("s1", "u1")
	if len(own) != 1 || own[0].ProducerID != "p2" {
		t.Fatalf("got %+v, want only p2", own)
	}
	if own[0].AppTag != "screen" {
		t.Fatalf("app tag lost: %+v", own[0])
	}
}

func TestSnapshotKeepsJoinOrder(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", "")
	admit(t, r, "s3", "u3", "")
	r.Release("s2", true)

	snap := r.Snapshot()
	if len(snap.Participants) != 2 {
		t.Fatalf("got %d participants, want 2", len(snap.Participants))
	}
	if snap.Participants[0].UserID != "u1" || snap.Participants[1].UserID != "u3" {
		t.Fatalf("join order lost: %+v", snap.Participants)
	}
	if snap.Info.HostID != "u1" {
		t.Fatalf("host = %s, want u1", snap.Info.HostID)
	}
}

func TestBroadcastExcludesSenderAndReportsDrops(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	_, sig1 := admit(t, r, "s1", "u1", "")
	_, sig2 := admit(t, r, "s2", "u2", "")
	_, sig3 := admit(t, r, "s3", "u3", "")
	sig3.reject = true

	res := r.Broadcast("s1", Frame(`{"type":"x"}`))
	if res.SentTo != 1 {
		t.Fatalf("sent to %d, want 1", res.SentTo)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "s3" {
		t.Fatalf("dropped = %v, want [s3]", res.Dropped)
	}
	if sig1.sent() != 0 || sig2.sent() != 1 {
		t.Fatalf("delivery wrong: sender=%d other=%d", sig1.sent(), sig2.sent())
	}
}

func TestStreamLifecycle(t *testing.T) {
	r := testRoom(domain.RoomSettings{})
	admit(t, r, "s1", "u1", "")
	admit(t, r, "s2", "u2", "")

	if _, err := r.StopStream(); err != ErrStreamNotLive {
		t.Fatalf("stop before start err = %v", err)
	}

	stream, err := r.StartStream("u1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !stream.IsLive || stream.ViewerCount != 2 || stream.HostID != "u1" {
		t.Fatalf("stream: %+v", stream)
	}
	if _, err := r.StartStream("u1"); err != ErrStreamLive {
		t.Fatalf("double start err = %v", err)
	}

	r.Release("s2", true)
	synced, changed := r.SyncStreamViewers()
	if !changed || synced.ViewerCount != 1 {
		t.Fatalf("viewer sync: changed=%v count=%d", changed, synced.ViewerCount)
	}

	stopped, err := r.StopStream()
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.IsLive {
		t.Fatalf("stream still live after stop")
	}
	if _, changed := r.SyncStreamViewers(); changed {
		t.Fatalf("viewer sync fired on a dead stream")
	}
}
