package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

// Administrative requests. Room exposes the predicates; the policy
// lives here: hosts and sub-hosts may mute, only the host removes
// participants or manages roles, and the host seat itself is
// untouchable.

func (ctl *Controller) handleMuteParticipant(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		UserID string `json:"userId" validate:"required,max=36"`
		Muted  *bool  `json:"muted" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad muteParticipant payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	target := domain.UserID(p.UserID)
	// Anyone may mute themselves; muting others takes admin rights.
	if target != user.ID && !room.CanAdminister(user.ID) {
		ctl.fail(c, id, codeNotAuthorized, "host or sub-host required")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	if err := room.Mute(rctx, target, *p.Muted); err != nil {
		switch {
		case errors.Is(err, core.ErrParticipantNotFound):
			ctl.fail(c, id, codeTargetNotFound, "no such participant")
		default:
			log.Error().Err(err).Str("module", "signal").Str("user", p.UserID).Msg("mute")
			ctl.fail(c, id, codeEngineFailure, "mute failed")
		}
		return
	}
	ctl.ack(c, id, nil)
	ctl.notifyParticipantUpdated(room, target)
}

func (ctl *Controller) handleToggleVideo(_ context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		Enabled *bool `json:"enabled" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad toggleVideo payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	if err := room.SetVideoEnabled(user.ID, *p.Enabled); err != nil {
		ctl.fail(c, id, codeTargetNotFound, "no such participant")
		return
	}
	ctl.ack(c, id, nil)
	ctl.notifyParticipantUpdated(room, user.ID)
}

func (ctl *Controller) handleAssignSubHost(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		UserID string `json:"userId" validate:"required,max=36"`
		Role   string `json:"role" validate:"required,oneof=subhost participant"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad assignSubHost payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	if !room.IsHost(user.ID) {
		ctl.fail(c, id, codeNotAuthorized, "host required")
		return
	}
	target := domain.UserID(p.UserID)
	if target == user.ID {
		ctl.fail(c, id, codeBadPayload, "cannot change own role")
		return
	}

	res, err := room.SetRole(target, domain.Role(p.Role))
	if err != nil {
		switch {
		case errors.Is(err, core.ErrParticipantNotFound):
			ctl.fail(c, id, codeTargetNotFound, "no such participant")
		default:
			ctl.fail(c, id, codeBadPayload, "invalid role")
		}
		return
	}
	ctl.ack(c, id, nil)
	ctl.broadcast(room, "", roleChangedNotice(target, res.Role))

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	ctl.Orch.SyncRoom(rctx, room)
}

func (ctl *Controller) handleRemoveParticipant(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		UserID string `json:"userId" validate:"required,max=36"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad removeParticipant payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	target := domain.UserID(p.UserID)
	if !room.IsHost(user.ID) {
		ctl.fail(c, id, codeNotAuthorized, "host required")
		return
	}
	if room.IsHost(target) {
		ctl.fail(c, id, codeIsHost, "the host cannot be removed")
		return
	}

	// The target hears about the removal before their peer is torn
	// down; afterwards there is no signal endpoint left to tell.
	tp, found := room.Participant(target)
	if found && tp.PrimarySocketID != "" {
		ctl.sendTo(room, core.SessionID(tp.PrimarySocketID), struct {
			Type   string        `json:"type"`
			RoomID domain.RoomID `json:"roomId"`
		}{Type: "removed", RoomID: room.ID()})
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	release, err := ctl.Orch.RemoveParticipant(rctx, room, target)
	if err != nil {
		ctl.fail(c, id, codeTargetNotFound, "no such participant")
		return
	}
	ctl.ack(c, id, nil)

	ctl.broadcast(room, "", struct {
		Type     string        `json:"type"`
		UserID   domain.UserID `json:"userId"`
		Username string        `json:"username"`
	}{Type: "participantRemoved", UserID: release.UserID, Username: release.Username})
	if release.NewHostID != "" {
		ctl.broadcast(room, "", roleChangedNotice(release.NewHostID, domain.RoleHost))
	}
	if !release.RoomEmpty {
		ctl.syncStreamViewers(room)
	}
}

func (ctl *Controller) notifyParticipantUpdated(room *core.Room, userID domain.UserID) {
	p, ok := room.Participant(userID)
	if !ok {
		return
	}
	ctl.broadcast(room, "", struct {
		Type           string        `json:"type"`
		UserID         domain.UserID `json:"userId"`
		IsMuted        bool          `json:"isMuted"`
		IsVideoEnabled bool          `json:"isVideoEnabled"`
	}{Type: "participantUpdated", UserID: userID, IsMuted: p.IsMuted, IsVideoEnabled: p.IsVideoEnabled})
}

func roleChangedNotice(userID domain.UserID, role domain.Role) any {
	return struct {
		Type   string        `json:"type"`
		UserID domain.UserID `json:"userId"`
		Role   domain.Role   `json:"role"`
	}{Type: "roleChanged", UserID: userID, Role: role}
}
