package sfu

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

// outTrack is one subscriber's tap on a relay. It follows the consumer
// lifecycle: handed out paused, unpaused by the client's resume, and
// marked gone when the consumer closes or a write fails.
type outTrack struct {
	track  *webrtc.TrackLocalStaticRTP
	paused atomic.Bool
	gone   atomic.Bool
}

func newOutTrack(track *webrtc.TrackLocalStaticRTP) *outTrack {
	ot := &outTrack{track: track}
	ot.paused.Store(true)
	return ot
}

func (ot *outTrack) resume()   { ot.paused.Store(false) }
func (ot *outTrack) markGone() { ot.gone.Store(true) }

// alive reports whether the tap still belongs in the relay's out set.
func (ot *outTrack) alive() bool { return !ot.gone.Load() }

// active reports whether packets should be written right now.
func (ot *outTrack) active() bool { return !ot.gone.Load() && !ot.paused.Load() }
