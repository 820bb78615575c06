package sfu

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
)

// Router is the per-room media domain: it owns the relays that fan a
// producer's RTP out to its consumers.
type Router struct {
	cfg webrtc.Configuration

	mu         sync.RWMutex
	relays     map[string]*relay // producer id -> relay
	transports map[string]*Transport
	closed     bool
}

func newRouter(cfg webrtc.Configuration) *Router {
	return &Router{
		cfg:        cfg,
		relays:     make(map[string]*relay),
		transports: make(map[string]*Transport),
	}
}

type codecCapability struct {
	Kind      string `json:"kind"`
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
}

// Capabilities describes what the router can carry. Clients use it to
// configure their own media pipelines before producing or consuming.
func (r *Router) Capabilities() json.RawMessage {
	caps := struct {
		Codecs []codecCapability `json:"codecs"`
	}{
		Codecs: []codecCapability{
			{Kind: "audio", MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			{Kind: "video", MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		},
	}
	raw, _ := json.Marshal(caps)
	return raw
}

func (r *Router) CreateTransport(_ context.Context, dir core.TransportDirection) (core.MediaTransport, error) {
	pc, err := webrtc.NewPeerConnection(r.cfg)
	if err != nil {
		return nil, err
	}
	t := &Transport{
		id:     uuid.NewString(),
		dir:    dir,
		pc:     pc,
		router: r,
	}
	t.bind()
	r.mu.Lock()
	r.transports[t.id] = t
	r.mu.Unlock()
	log.Info().Str("module", "sfu").Str("transport", t.id).Str("direction", string(dir)).Msg("transport created")
	return t, nil
}

// CanConsume reports whether the producer's media has actually arrived
// and can be forwarded. Capability matching is by codec kind only; the
// router's codec set is fixed.
func (r *Router) CanConsume(producerID string, _ json.RawMessage) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[producerID]
	return ok && rel.hasSource()
}

func (r *Router) relay(producerID string) (*relay, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relays[producerID]
	return rel, ok
}

func (r *Router) addRelay(producerID string, rel *relay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[producerID] = rel
}

func (r *Router) removeRelay(producerID string) {
	r.mu.Lock()
	rel, ok := r.relays[producerID]
	if ok {
		delete(r.relays, producerID)
	}
	r.mu.Unlock()
	if ok {
		rel.stop()
	}
}

func (r *Router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	relays := r.relays
	transports := r.transports
	r.relays = make(map[string]*relay)
	r.transports = make(map[string]*Transport)
	r.mu.Unlock()

	for _, rel := range relays {
		rel.stop()
	}
	for _, t := range transports {
		if err := t.closePC(); err != nil {
			log.Warn().Err(err).Str("module", "sfu").Str("transport", t.id).Msg("transport close")
		}
	}
	return nil
}
