package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/app"
	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

func (ctl *Controller) handleJoin(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		Room        string `json:"roomId" validate:"required,max=64"`
		DisplayName string `json:"displayName" validate:"omitempty,max=36"`
		Role        string `json:"role" validate:"omitempty,oneof=participant subhost"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad join payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}

	user, ok := ctl.Orch.Registry.User(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "identity missing")
		return
	}
	if p.DisplayName != "" {
		user.Username = p.DisplayName
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()

	// Moving rooms: the old room hears the departure before the new
	// one sees the join, the same way a disconnect would tell it.
	if _, joined := ctl.Orch.Registry.RoomOf(sid); joined {
		if prev, left := ctl.Orch.Leave(rctx, sid); left {
			ctl.notifyDeparture(sid, prev)
		}
	}

	res, err := ctl.Orch.Join(rctx, sid, user, domain.RoomID(p.Room), domain.Role(p.Role), c)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrRoomFull):
			ctl.fail(c, id, codeRoomFull, "room full")
		default:
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("join")
			ctl.fail(c, id, codeEngineFailure, "failed to join")
		}
		return
	}

	reply := struct {
		RoomID       domain.RoomID        `json:"roomId"`
		Role         domain.Role          `json:"role"`
		Capabilities json.RawMessage      `json:"capabilities"`
		Participants []domain.Participant `json:"participants"`
		Producers    []core.ProducerInfo  `json:"producers"`
		Settings     domain.RoomSettings  `json:"settings"`
		HostID       domain.UserID        `json:"hostId"`
		Reconnected  bool                 `json:"reconnected"`
		Stream       *domain.StreamInfo   `json:"stream,omitempty"`
	}{
		RoomID:       res.Room.ID(),
		Role:         res.Admit.Participant.Role,
		Capabilities: res.Room.Router().Capabilities(),
		Participants: res.Snapshot.Participants,
		Producers:    res.Producers,
		Settings:     res.Snapshot.Info.Settings,
		HostID:       res.Snapshot.Info.HostID,
		Reconnected:  res.Admit.Reconnected,
	}
	if stream, ok := res.Room.Stream(); ok {
		reply.Stream = &stream
	}
	ctl.ack(c, id, reply)

	// Observers distinguish a flapping connection from a new attendee.
	if res.Admit.Reconnected {
		ctl.broadcast(res.Room, sid, struct {
			Type        string             `json:"type"`
			Participant domain.Participant `json:"participant"`
			OldSocketID core.SessionID     `json:"oldSocketId,omitempty"`
		}{Type: "participantRejoined", Participant: res.Admit.Participant, OldSocketID: res.Admit.ReplacedSID})
	} else {
		ctl.broadcast(res.Room, sid, struct {
			Type        string             `json:"type"`
			Participant domain.Participant `json:"participant"`
		}{Type: "participantJoined", Participant: res.Admit.Participant})
	}
	ctl.syncStreamViewers(res.Room)
}

func (ctl *Controller) handleLeave(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64) {
	rctx, cancel := reqCtx(ctx)
	defer cancel()
	res, left := ctl.Orch.Leave(rctx, sid)
	ctl.ack(c, id, nil)
	if left {
		ctl.notifyDeparture(sid, res)
	}
}

// onDisconnect runs for voluntary close and transport failure alike.
// Teardown uses a fresh context: cleanup must finish even when the
// server context is already gone.
func (ctl *Controller) onDisconnect(_ context.Context, sid core.SessionID) {
	rctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, left := ctl.Orch.Disconnect(rctx, sid)
	if left {
		if res.FullyLeft {
			ctl.chatLimiter.Forget(res.Release.UserID)
		}
		ctl.notifyDeparture(sid, res)
	}
}

// notifyDeparture tells the rest of the room what the departure meant:
// fully left, or still connected from another tab.
func (ctl *Controller) notifyDeparture(sid core.SessionID, res app.LeaveResult) {
	ctl.broadcast(res.Room, sid, struct {
		Type      string         `json:"type"`
		UserID    domain.UserID  `json:"userId"`
		Username  string         `json:"username"`
		SocketID  core.SessionID `json:"socketId"`
		FullyLeft bool           `json:"fullyLeft"`
	}{Type: "participantLeft", UserID: res.Release.UserID, Username: res.Release.Username, SocketID: sid, FullyLeft: res.FullyLeft})

	if res.Release.NewHostID != "" {
		ctl.broadcast(res.Room, "", roleChangedNotice(res.Release.NewHostID, domain.RoleHost))
	}
	if !res.Release.RoomEmpty {
		ctl.syncStreamViewers(res.Room)
	}
}

func (ctl *Controller) syncStreamViewers(room *core.Room) {
	if stream, changed := room.SyncStreamViewers(); changed {
		ctl.broadcast(room, "", struct {
			Type        string `json:"type"`
			ViewerCount int    `json:"viewerCount"`
		}{Type: "streamViewers", ViewerCount: stream.ViewerCount})
	}
}
