package signal

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

func (ctl *Controller) handleCreateTransport(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		Direction string `json:"direction" validate:"required,oneof=send recv"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad createTransport payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, _, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	t, err := room.Router().CreateTransport(rctx, core.TransportDirection(p.Direction))
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("createTransport")
		ctl.fail(c, id, codeEngineFailure, "transport creation failed")
		return
	}
	if err := room.AddTransport(sid, t); err != nil {
		// Lost a race with our own disconnect; the peer that would own
		// the handle is gone, so the handle must die with it.
		_ = t.Close()
		ctl.fail(c, id, codeNotJoined, "connection no longer in room")
		return
	}
	ctl.ack(c, id, struct {
		TransportID string          `json:"transportId"`
		Parameters  json.RawMessage `json:"parameters"`
	}{TransportID: t.ID(), Parameters: t.Parameters()})
}

func (ctl *Controller) handleConnectTransport(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		TransportID string          `json:"transportId" validate:"required"`
		Security    json.RawMessage `json:"security" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad connectTransport payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, _, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	t, ok := room.Transport(sid, p.TransportID)
	if !ok {
		ctl.fail(c, id, codeTransportNotFound, "unknown transport")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	payload, err := t.Connect(rctx, p.Security)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("transport", p.TransportID).Msg("connectTransport")
		ctl.fail(c, id, codeEngineFailure, "transport connect failed")
		return
	}
	ctl.ack(c, id, struct {
		Payload json.RawMessage `json:"payload,omitempty"`
	}{Payload: payload})
}

func (ctl *Controller) handleProduce(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		TransportID   string          `json:"transportId" validate:"required"`
		Kind          string          `json:"kind" validate:"required,oneof=audio video"`
		RTPParameters json.RawMessage `json:"rtpParameters" validate:"required"`
		AppTag        string          `json:"appTag" validate:"omitempty,max=32"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad produce payload")
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
	if p.AppTag == "screen" && !room.Settings().AllowScreenShare {
		ctl.fail(c, id, codeScreenShareOff, "screen sharing is disabled in this room")
		return
	}
	t, ok := room.Transport(sid, p.TransportID)
	if !ok {
		ctl.fail(c, id, codeTransportNotFound, "unknown transport")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	kind := core.MediaKind(p.Kind)
	prod, err := t.Produce(rctx, kind, p.RTPParameters)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("kind", p.Kind).Msg("produce")
		ctl.fail(c, id, codeEngineFailure, "produce failed")
		return
	}
	if err := room.AddProducer(sid, prod, p.AppTag); err != nil {
		_ = prod.Close()
		ctl.fail(c, id, codeNotJoined, "connection no longer in room")
		return
	}

	// A participant muted before their audio arrived produces paused.
	if kind == core.MediaKindAudio {
		if part, ok := room.Participant(user.ID); ok && part.IsMuted {
			if err := prod.Pause(rctx); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("producer", prod.ID()).Msg("pause muted producer")
			}
		}
	}

	ctl.ack(c, id, struct {
		ProducerID string `json:"producerId"`
	}{ProducerID: prod.ID()})

	ctl.broadcast(room, sid, struct {
		Type       string         `json:"type"`
		ProducerID string         `json:"producerId"`
		SocketID   core.SessionID `json:"socketId"`
		UserID     domain.UserID  `json:"userId"`
		Kind       core.MediaKind `json:"kind"`
		AppTag     string         `json:"appTag,omitempty"`
	}{Type: "newProducer", ProducerID: prod.ID(), SocketID: sid, UserID: user.ID, Kind: kind, AppTag: p.AppTag})
}

func (ctl *Controller) handleConsume(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		TransportID     string          `json:"transportId" validate:"required"`
		ProducerID      string          `json:"producerId" validate:"required"`
		RTPCapabilities json.RawMessage `json:"rtpCapabilities" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad consume payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, _, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	if !room.Router().CanConsume(p.ProducerID, p.RTPCapabilities) {
		ctl.fail(c, id, codeCannotConsume, "cannot consume this producer")
		return
	}
	t, ok := room.Transport(sid, p.TransportID)
	if !ok {
		ctl.fail(c, id, codeTransportNotFound, "unknown transport")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	cons, err := t.Consume(rctx, p.ProducerID, p.RTPCapabilities)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrProducerGone):
			ctl.fail(c, id, codeProducerGone, "producer no longer exists")
		case errors.Is(err, core.ErrCannotConsume):
			ctl.fail(c, id, codeCannotConsume, "cannot consume this producer")
		default:
			log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("producer", p.ProducerID).Msg("consume")
			ctl.fail(c, id, codeEngineFailure, "consume failed")
		}
		return
	}
	if err := room.AddConsumer(sid, cons); err != nil {
		_ = cons.Close()
		ctl.fail(c, id, codeNotJoined, "connection no longer in room")
		return
	}
	ctl.ack(c, id, struct {
		ConsumerID string          `json:"consumerId"`
		ProducerID string          `json:"producerId"`
		Kind       core.MediaKind  `json:"kind"`
		Parameters json.RawMessage `json:"parameters"`
	}{ConsumerID: cons.ID(), ProducerID: cons.ProducerID(), Kind: cons.Kind(), Parameters: cons.Parameters()})
}

func (ctl *Controller) handleResumeConsumer(ctx context.Context, sid core.SessionID, c *WsSignalConn, id int64, data []byte) {
	var p struct {
		ConsumerID string `json:"consumerId" validate:"required"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		ctl.fail(c, id, codeBadPayload, "bad resumeConsumer payload")
		return
	}
	if err := ctl.validate.Struct(p); err != nil {
		ctl.fail(c, id, codeBadPayload, err.Error())
		return
	}
	room, _, ok := ctl.joined(sid)
	if !ok {
		ctl.fail(c, id, codeNotJoined, "join a room first")
		return
	}
	cons, ok := room.Consumer(sid, p.ConsumerID)
	if !ok {
		ctl.fail(c, id, codeConsumerNotFound, "unknown consumer")
		return
	}

	rctx, cancel := reqCtx(ctx)
	defer cancel()
	if err := cons.Resume(rctx); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("consumer", p.ConsumerID).Msg("resumeConsumer")
		ctl.fail(c, id, codeEngineFailure, "resume failed")
		return
	}
	ctl.ack(c, id, nil)
}
