package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
)

// Error codes returned in structured failure replies. They never close
// the connection; only authentication failure and protocol violations
// do that.
const (
	codeBadPayload        = "bad_payload"
	codeNotJoined         = "not_joined"
	codeRoomFull          = "room_full"
	codeTransportNotFound = "transport_not_found"
	codeConsumerNotFound  = "consumer_not_found"
	codeProducerGone      = "producer_gone"
	codeCannotConsume     = "cannot_consume"
	codeTargetNotFound    = "participant_not_found"
	codeNotAuthorized     = "not_authorized"
	codeIsHost            = "cannot_remove_host"
	codeChatDisabled      = "chat_disabled"
	codeRateLimited       = "rate_limited"
	codeScreenShareOff    = "screen_share_disabled"
	codeStreamState       = "stream_state"
	codeEngineFailure     = "engine_failure"
)

type envelope struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func encode(v any) (core.Frame, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return core.Frame(b), nil
}

func (ctl *Controller) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Info().Err(err).Str("module", "signal").Msg("writePump ping failed")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, sid core.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		ctl.onDisconnect(ctx, sid)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.handleSignal(ctx, sid, c, data)
		}
	}
}

func (ctl *Controller) handleSignal(ctx context.Context, sid core.SessionID, c *WsSignalConn, data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "join":
		ctl.handleJoin(ctx, sid, c, env.ID, data)
	case "leave":
		ctl.handleLeave(ctx, sid, c, env.ID)
	case "createTransport":
		ctl.handleCreateTransport(ctx, sid, c, env.ID, data)
	case "connectTransport":
		ctl.handleConnectTransport(ctx, sid, c, env.ID, data)
	case "produce":
		ctl.handleProduce(ctx, sid, c, env.ID, data)
	case "consume":
		ctl.handleConsume(ctx, sid, c, env.ID, data)
	case "resumeConsumer":
		ctl.handleResumeConsumer(ctx, sid, c, env.ID, data)
	case "muteParticipant":
		ctl.handleMuteParticipant(ctx, sid, c, env.ID, data)
	case "removeParticipant":
		ctl.handleRemoveParticipant(ctx, sid, c, env.ID, data)
	case "assignSubHost":
		ctl.handleAssignSubHost(ctx, sid, c, env.ID, data)
	case "toggleVideo":
		ctl.handleToggleVideo(ctx, sid, c, env.ID, data)
	case "chatSend":
		ctl.handleChatSend(ctx, sid, c, env.ID, data)
	case "chatHistory":
		ctl.handleChatHistory(ctx, sid, c, env.ID)
	case "streamStart":
		ctl.handleStreamStart(ctx, sid, c, env.ID)
	case "streamStop":
		ctl.handleStreamStop(ctx, sid, c, env.ID)
	case "ping":
		ctl.handlePing(c)
	case "whoami":
		ctl.handleWhoAmI(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown signal")
	}
}

func (ctl *Controller) sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = c.TrySend(b)
}

// ack carries a successful reply for one request.
func (ctl *Controller) ack(c *WsSignalConn, id int64, data any) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
		ID   int64  `json:"id"`
		Data any    `json:"data,omitempty"`
	}{Type: "ack", ID: id, Data: data})
}

// fail carries a structured failure for one request. Failures are
// scoped to the request: the connection and everyone else's state are
// untouched.
func (ctl *Controller) fail(c *WsSignalConn, id int64, code, msg string) {
	ctl.sendJSON(c, struct {
		Type  string `json:"type"`
		ID    int64  `json:"id"`
		Code  string `json:"code"`
		Error string `json:"error"`
	}{Type: "error", ID: id, Code: code, Error: msg})
}

func (ctl *Controller) handlePing(c *WsSignalConn) {
	ctl.sendJSON(c, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

func (ctl *Controller) handleWhoAmI(sid core.SessionID, c *WsSignalConn) {
	user, ok := ctl.Orch.Registry.User(sid)
	if !ok {
		return
	}
	resp := struct {
		Type     string `json:"type"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Room     string `json:"room,omitempty"`
	}{Type: "whoami", UserID: string(user.ID), Username: user.Username}
	if roomID, ok := ctl.Orch.Registry.RoomOf(sid); ok {
		resp.Room = string(roomID)
	}
	ctl.sendJSON(c, resp)
}
