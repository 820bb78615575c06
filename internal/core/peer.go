package core

import (
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/domain"
)

// ProducerRecord pairs an engine-issued producer with the
// application tag distinguishing camera/mic from screen share.
type ProducerRecord struct {
	Producer MediaProducer
	AppTag   string
}

// Peer tracks the media resources owned by one live connection.
// Every handle is owned by exactly one Peer; all of them are closed
// when the Peer is torn down, and only then.
type Peer struct {
	SID    SessionID
	UserID domain.UserID
	Signal SignalConnection

	transports map[string]MediaTransport
	producers  map[string]*ProducerRecord
	consumers  map[string]MediaConsumer
}

func newPeer(sid SessionID, userID domain.UserID, signal SignalConnection) *Peer {
	return &Peer{
		SID:        sid,
		UserID:     userID,
		Signal:     signal,
		transports: make(map[string]MediaTransport),
		producers:  make(map[string]*ProducerRecord),
		consumers:  make(map[string]MediaConsumer),
	}
}

// closeAll tears down every handle the peer owns. Individual close
// failures are logged and swallowed: teardown must always complete.
func (p *Peer) closeAll() {
	for id, c := range p.consumers {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "core.peer").Str("sid", string(p.SID)).Str("consumer", id).Msg("consumer close")
		}
		delete(p.consumers, id)
	}
	for id, rec := range p.producers {
		if err := rec.Producer.Close(); err != nil {
			log.Warn().Err(err).Str("module", "core.peer").Str("sid", string(p.SID)).Str("producer", id).Msg("producer close")
		}
		delete(p.producers, id)
	}
	for id, t := range p.transports {
		if err := t.Close(); err != nil {
			log.Warn().Err(err).Str("module", "core.peer").Str("sid", string(p.SID)).Str("transport", id).Msg("transport close")
		}
		delete(p.transports, id)
	}
}
