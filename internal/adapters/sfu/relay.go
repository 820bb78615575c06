package sfu

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// relay reads RTP from one remote track and forwards it to every
// subscriber's out-track.
type relay struct {
	mu   sync.RWMutex
	src  *webrtc.TrackRemote
	outs map[string]*outTrack // consumer id -> out-track

	paused  atomic.Bool
	stopped atomic.Bool
}

func newRelay() *relay {
	return &relay{outs: make(map[string]*outTrack)}
}

func (r *relay) hasSource() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.src != nil
}

func (r *relay) source() *webrtc.TrackRemote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.src
}

// setSource binds the remote track and starts the forwarding loop.
func (r *relay) setSource(track *webrtc.TrackRemote) {
	r.mu.Lock()
	if r.src != nil {
		r.mu.Unlock()
		return
	}
	r.src = track
	r.mu.Unlock()
	go r.loop(track)
}

func (r *relay) loop(src *webrtc.TrackRemote) {
	for {
		if r.stopped.Load() {
			r.markAllGone()
			return
		}
		pkt, _, err := src.ReadRTP()
		if err != nil {
			log.Info().Err(err).Str("module", "sfu.relay").Str("track", src.ID()).Msg("relay read done")
			r.markAllGone()
			return
		}
		if r.paused.Load() {
			continue
		}
		r.forward(pkt)
	}
}

func (r *relay) forward(pkt *rtp.Packet) {
	snapshot := make(map[string]*outTrack, len(r.outs))
	r.mu.RLock()
	maps.Copy(snapshot, r.outs)
	r.mu.RUnlock()

	var dirty []string
	for id, ot := range snapshot {
		if !ot.alive() {
			dirty = append(dirty, id)
			continue
		}
		if !ot.active() {
			continue
		}
		if err := ot.track.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "sfu.relay").Str("consumer", id).Msg("relay write, dropping out-track")
			ot.markGone()
			dirty = append(dirty, id)
		}
	}
	// Cleanup happens outside the read lock.
	if len(dirty) > 0 {
		r.mu.Lock()
		for _, id := range dirty {
			delete(r.outs, id)
		}
		r.mu.Unlock()
	}
}

func (r *relay) addOut(id string, ot *outTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outs[id] = ot
}

func (r *relay) removeOut(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outs[id]; ok {
		ot.markGone()
		delete(r.outs, id)
	}
}

func (r *relay) setPaused(paused bool) {
	r.paused.Store(paused)
}

func (r *relay) markAllGone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outs {
		ot.markGone()
	}
}

func (r *relay) stop() {
	r.stopped.Store(true)
	r.markAllGone()
}
