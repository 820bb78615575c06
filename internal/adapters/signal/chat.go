package signal

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

func (ctl *Controller) handleChatSend(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		Message string `json:"message" validate:"required,max=500"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad chatSend payload")
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
	if !room.Settings().AllowChat {
		ctl.fail(c, id, codeChatDisabled, "chat is disabled in this room")
		return
	}
	if !ctl.chatLimiter.Allow(user.ID) {
		ctl.fail(c, id, codeRateLimited, "too many messages")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	msg, err := ctl.Orch.AppendChat(rctx, room.ID(), user, p.Message, domain.MessageText)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room.ID())).Msg("chat append")
		ctl.fail(c, id, codeEngineFailure, "message not stored")
		return
	}
	ctl.ack(c, id, struct {
		Message domain.ChatMessage `json:"message"`
	}{Message: msg})
	ctl.broadcast(room, sid, struct {
		Type    string             `json:"type"`
		Message domain.ChatMessage `json:"message"`
	}{Type: "chatMessage", Message: msg})
}

func (ctl *Controller) handleChatHistory(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64) {
	room, _, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	msgs, err := ctl.Orch.ChatHistory(rctx, room.ID())
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(room.ID())).Msg("chat history")
		ctl.fail(c, id, codeEngineFailure, "history unavailable")
		return
	}
	ctl.ack(c, id, struct {
		Messages []domain.ChatMessage `json:"messages"`
	}{Messages: msgs})
}
