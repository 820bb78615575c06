package signal

import (
	"context"
	"errors"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

// Live broadcast control. Going live and ending the stream are host
// actions; everything else about the stream travels as notices.

func (ctl *Controller) handleStreamStart(_ context.Context, sid core.SessionID, c *WsSignalConn, id int64) {
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	if !room.IsHost(user.ID) {
		ctl.fail(c, id, codeNotAuthorized, "host required")
		return
	}
	stream, err := room.StartStream(user.ID)
	if err != nil {
		if errors.Is(err, core.ErrStreamLive) {
			ctl.fail(c, id, codeStreamState, "stream already live")
			return
		}
		ctl.fail(c, id, codeEngineFailure, "stream start failed")
		return
	}
	ctl.ack(c, id, struct {
		Stream domain.StreamInfo `json:"stream"`
	}{Stream: stream})
	ctl.broadcast(room, sid, streamNotice("streamStarted", stream))
}

func (ctl *Controller) handleStreamStop(_ context.Context, sid core.SessionID, c *WsSignalConn, id int64) {
	room, user, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	if !room.IsHost(user.ID) {
		ctl.fail(c, id, codeNotAuthorized, "host required")
		return
	}
	stream, err := room.StopStream()
	if err != nil {
		if errors.Is(err, core.ErrStreamNotLive) {
			ctl.fail(c, id, codeStreamState, "stream not live")
			return
		}
		ctl.fail(c, id, codeEngineFailure, "stream stop failed")
		return
	}
	ctl.ack(c, id, struct {
		Stream domain.StreamInfo `json:"stream"`
	}{Stream: stream})
	ctl.broadcast(room, sid, streamNotice("streamStopped", stream))
}

func streamNotice(kind string, stream domain.StreamInfo) any {
	return struct {
		Type   string            `json:"type"`
		Stream domain.StreamInfo `json:"stream"`
	}{Type: kind, Stream: stream}
}
