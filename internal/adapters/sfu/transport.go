package sfu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
)

var errWrongDirection = errors.New("wrong transport direction")

// Transport wraps one PeerConnection serving a single direction.
type Transport struct {
	id     string
	dir    core.TransportDirection
	pc     *webrtc.PeerConnection
	router *Router

	mu      sync.Mutex
	pending map[core.MediaKind][]*relay // producers waiting for their remote track
	closed  bool
}

func (t *Transport) bind() {
	t.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info().Str("module", "sfu").Str("transport", t.id).Str("kind", track.Kind().String()).Str("track", track.ID()).Msg("remote track")
		t.claimTrack(track)
	})
	t.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "sfu").Str("transport", t.id).Str("ice_state", s.String()).Msg("ICE state")
	})
}

// claimTrack hands an arriving remote track to the oldest producer of
// the matching kind that is still waiting for its media.
func (t *Transport) claimTrack(track *webrtc.TrackRemote) {
	kind := core.MediaKind(track.Kind().String())
	t.mu.Lock()
	queue := t.pending[kind]
	if len(queue) == 0 {
		t.mu.Unlock()
		log.Warn().Str("module", "sfu").Str("transport", t.id).Str("kind", string(kind)).Msg("unclaimed remote track")
		return
	}
	rel := queue[0]
	t.pending[kind] = queue[1:]
	t.mu.Unlock()
	rel.setSource(track)
}

func (t *Transport) ID() string                          { return t.id }
func (t *Transport) Direction() core.TransportDirection  { return t.dir }

func (t *Transport) Parameters() json.RawMessage {
	var servers []string
	for _, s := range t.router.cfg.ICEServers {
		servers = append(servers, s.URLs...)
	}
	params := struct {
		ID         string                  `json:"id"`
		Direction  core.TransportDirection `json:"direction"`
		ICEServers []string                `json:"iceServers,omitempty"`
	}{ID: t.id, Direction: t.dir, ICEServers: servers}
	raw, _ := json.Marshal(params)
	return raw
}

// Connect applies the client's SDP offer and returns the gathered
// answer. Repeat calls renegotiate, which recv transports need after
// new consumers add tracks.
func (t *Transport) Connect(_ context.Context, security json.RawMessage) (json.RawMessage, error) {
	var p struct {
		SDP string `json:"sdp"`
	}
	if err := json.Unmarshal(security, &p); err != nil {
		return nil, fmt.Errorf("bad security parameters: %w", err)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	local := t.pc.LocalDescription()
	reply, _ := json.Marshal(struct {
		SDP string `json:"sdp"`
	}{SDP: local.SDP})
	return reply, nil
}

// Produce registers a new producer on a send transport. The relay
// starts forwarding once the matching remote track arrives.
func (t *Transport) Produce(_ context.Context, kind core.MediaKind, _ json.RawMessage) (core.MediaProducer, error) {
	if t.dir != core.DirectionSend {
		return nil, errWrongDirection
	}
	id := uuid.NewString()
	rel := newRelay()
	t.router.addRelay(id, rel)

	t.mu.Lock()
	if t.pending == nil {
		t.pending = make(map[core.MediaKind][]*relay)
	}
	t.pending[kind] = append(t.pending[kind], rel)
	t.mu.Unlock()

	log.Info().Str("module", "sfu").Str("transport", t.id).Str("producer", id).Str("kind", string(kind)).Msg("producer created")
	return &Producer{id: id, kind: kind, rel: rel, router: t.router}, nil
}

// Consume subscribes a recv transport to a producer's relay. The
// consumer starts paused; Resume opens the tap.
func (t *Transport) Consume(_ context.Context, producerID string, _ json.RawMessage) (core.MediaConsumer, error) {
	if t.dir != core.DirectionRecv {
		return nil, errWrongDirection
	}
	rel, ok := t.router.relay(producerID)
	if !ok {
		return nil, core.ErrProducerGone
	}
	src := rel.source()
	if src == nil {
		return nil, core.ErrCannotConsume
	}

	local, err := webrtc.NewTrackLocalStaticRTP(src.Codec().RTPCodecCapability, uuid.NewString(), "relay")
	if err != nil {
		return nil, err
	}
	if _, err := t.pc.AddTrack(local); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	kind := core.MediaKind(src.Kind().String())
	out := newOutTrack(local) // starts paused until the client resumes
	rel.addOut(id, out)

	params, _ := json.Marshal(struct {
		ID         string         `json:"id"`
		ProducerID string         `json:"producerId"`
		Kind       core.MediaKind `json:"kind"`
		TrackID    string         `json:"trackId"`
	}{ID: id, ProducerID: producerID, Kind: kind, TrackID: local.ID()})

	log.Info().Str("module", "sfu").Str("transport", t.id).Str("consumer", id).Str("producer", producerID).Msg("consumer created")
	return &Consumer{id: id, producerID: producerID, kind: kind, rel: rel, out: out, params: params}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.pending = nil
	t.mu.Unlock()
	t.router.removeTransport(t.id)
	return t.closePC()
}

func (t *Transport) closePC() error {
	return t.pc.Close()
}

// Producer forwards one remote track to any number of consumers.
type Producer struct {
	id     string
	kind   core.MediaKind
	rel    *relay
	router *Router
}

func (p *Producer) ID() string           { return p.id }
func (p *Producer) Kind() core.MediaKind { return p.kind }

func (p *Producer) Pause(_ context.Context) error {
	p.rel.setPaused(true)
	return nil
}

func (p *Producer) Resume(_ context.Context) error {
	p.rel.setPaused(false)
	return nil
}

func (p *Producer) Close() error {
	p.router.removeRelay(p.id)
	return nil
}

// Consumer is one subscriber tap on a relay.
type Consumer struct {
	id         string
	producerID string
	kind       core.MediaKind
	rel        *relay
	out        *outTrack
	params     json.RawMessage
}

func (c *Consumer) ID() string                  { return c.id }
func (c *Consumer) ProducerID() string          { return c.producerID }
func (c *Consumer) Kind() core.MediaKind        { return c.kind }
func (c *Consumer) Parameters() json.RawMessage { return c.params }

func (c *Consumer) Resume(_ context.Context) error {
	c.out.resume()
	return nil
}

func (c *Consumer) Close() error {
	c.rel.removeOut(c.id)
	return nil
}
