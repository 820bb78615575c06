package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/directory"
	"github.com/rtcmeet/signaling/internal/domain"
)

// Orchestrator sequences room mutations against the directory. The
// in-process Room is the source of truth; directory writes are a
// derived, best-effort cache refreshed after every mutating operation.
type Orchestrator struct {
	Rooms     *core.Manager
	Directory *directory.Directory
	Registry  *Registry
}

type JoinResult struct {
	Room      *core.Room
	Admit     core.AdmitResult
	Snapshot  core.RoomSnapshot
	Producers []core.ProducerInfo
}

type LeaveResult struct {
	RoomID  domain.RoomID
	Room    *core.Room
	Release core.ReleaseResult
	// FullyLeft is true when the user has no connection left in the
	// room, in this or any other tab.
	FullyLeft bool
}

// Join admits the connection into the room, creating the room on first
// join. A connection already joined elsewhere leaves that room first.
func (o *Orchestrator) Join(ctx context.Context, sid core.SessionID, user *domain.User, roomID domain.RoomID, requestedRole domain.Role, signal core.SignalConnection) (JoinResult, error) {
	if _, ok := o.Registry.RoomOf(sid); ok {
		if res, left := o.Leave(ctx, sid); left {
			log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("room", string(res.RoomID)).Msg("left previous room on join")
		}
	}

	room, err := o.Rooms.GetOrCreate(ctx, roomID)
	if err != nil {
		return JoinResult{}, err
	}

	admit, err := room.Admit(sid, user, requestedRole, signal)
	if err != nil {
		return JoinResult{}, err
	}

	if err := o.Directory.EnsureRoomRegistered(ctx, roomID); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory register")
	}
	if err := o.Directory.RecordConnection(ctx, roomID, user.ID, sid); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory record")
	}
	snap := room.Snapshot()
	if admit.Participant.Role == domain.RoleHost {
		if err := o.Directory.SetHost(ctx, roomID, user.ID); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory set host")
		}
	}
	o.SyncRoom(ctx, room)

	o.Registry.SetRoom(sid, roomID)

	return JoinResult{
		Room:      room,
		Admit:     admit,
		Snapshot:  snap,
		Producers: room.ListActiveProducers(sid, user.ID),
	}, nil
}

// Leave releases the connection's peer and reconciles the directory.
// Safe to call for connections that never joined or already left.
func (o *Orchestrator) Leave(ctx context.Context, sid core.SessionID) (LeaveResult, bool) {
	roomID, ok := o.Registry.RoomOf(sid)
	if !ok {
		return LeaveResult{}, false
	}
	room, ok := o.Rooms.Get(roomID)
	if !ok {
		o.Registry.ClearRoom(sid)
		return LeaveResult{}, false
	}

	user, _ := o.Registry.User(sid)
	lastConnection := true
	if user != nil {
		remaining, err := o.Directory.DropConnection(ctx, roomID, user.ID, sid)
		if err != nil {
			// Count unknown. Keep the participant: another tab may be
			// alive, and the TTL reconciles a wrong guess.
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory drop")
			lastConnection = false
		} else {
			lastConnection = remaining == 0
		}
	}

	release := room.Release(sid, lastConnection)
	if !release.Released && lastConnection && user != nil && !room.HasLivePeer(user.ID) {
		// The live peer went down earlier while sibling sockets kept
		// the membership alive; this socket was the last of them.
		if evicted, err := room.Evict(user.ID); err == nil {
			release = evicted
		}
	}
	o.Registry.ClearRoom(sid)

	if release.RoomEmpty {
		o.Rooms.Stop(roomID)
		if err := o.Directory.PurgeRoom(ctx, roomID); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory purge")
		}
	} else if release.ParticipantRemoved {
		if release.NewHostID != "" {
			if err := o.Directory.SetHost(ctx, roomID, release.NewHostID); err != nil {
				log.Warn().Err(err).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory set host")
			}
		}
		o.SyncRoom(ctx, room)
	}

	return LeaveResult{
		RoomID:    roomID,
		Room:      room,
		Release:   release,
		FullyLeft: release.Released && release.ParticipantRemoved,
	}, release.Released
}

// Disconnect handles voluntary close and transport failure alike.
func (o *Orchestrator) Disconnect(ctx context.Context, sid core.SessionID) (LeaveResult, bool) {
	res, left := o.Leave(ctx, sid)
	o.Registry.Remove(sid)
	return res, left
}

// RemoveParticipant evicts a user on host order: all their directory
// sockets are dropped, their sessions unbound and their live peer torn
// down, regardless of how many tabs they had open.
func (o *Orchestrator) RemoveParticipant(ctx context.Context, room *core.Room, userID domain.UserID) (core.ReleaseResult, error) {
	roomID := room.ID()
	release, err := room.Evict(userID)
	if err != nil {
		return core.ReleaseResult{}, err
	}
	if derr := o.Directory.DropUser(ctx, roomID, userID); derr != nil {
		log.Warn().Err(derr).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory drop user")
	}
	o.Registry.ClearUserRoom(roomID, userID)

	if release.RoomEmpty {
		o.Rooms.Stop(roomID)
		if derr := o.Directory.PurgeRoom(ctx, roomID); derr != nil {
			log.Warn().Err(derr).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory purge")
		}
	} else {
		if release.NewHostID != "" {
			if derr := o.Directory.SetHost(ctx, roomID, release.NewHostID); derr != nil {
				log.Warn().Err(derr).Str("module", "app.orch").Str("room", string(roomID)).Msg("directory set host")
			}
		}
		o.SyncRoom(ctx, room)
	}
	return release, nil
}

// SyncRoom re-persists the room snapshot to the directory after a
// mutating operation. Failures are logged, never propagated: the
// directory is a cache of the authoritative in-process state.
func (o *Orchestrator) SyncRoom(ctx context.Context, room *core.Room) {
	if err := o.Directory.PersistSnapshot(ctx, room.Snapshot()); err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("room", string(room.ID())).Msg("directory sync")
	}
}

// AppendChat stores a chat message for the room and returns it with
// its assigned id and timestamp.
func (o *Orchestrator) AppendChat(ctx context.Context, roomID domain.RoomID, user *domain.User, text string, msgType domain.MessageType) (domain.ChatMessage, error) {
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		UserID:    user.ID,
		Username:  user.Username,
		Message:   text,
		Type:      msgType,
		Timestamp: time.Now(),
	}
	if err := o.Directory.AppendChat(ctx, msg); err != nil {
		return domain.ChatMessage{}, err
	}
	return msg, nil
}

func (o *Orchestrator) ChatHistory(ctx context.Context, roomID domain.RoomID) ([]domain.ChatMessage, error) {
	return o.Directory.ChatHistory(ctx, roomID)
}
