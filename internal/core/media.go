package core

import (
	"context"
	"encoding/json"
	"errors"
)

// The media engine is an external SFU. The core depends only on these
// contracts; handles are opaque capability sets issued by the engine.

type MediaKind string

const (
	MediaKindAudio MediaKind = "audio"
	MediaKindVideo MediaKind = "video"
)

type TransportDirection string

const (
	DirectionSend TransportDirection = "send"
	DirectionRecv TransportDirection = "recv"
)

var (
	ErrProducerGone  = errors.New("producer gone")
	ErrCannotConsume = errors.New("incompatible capabilities")
)

// MediaProducer is one outbound media handle owned by a peer.
type MediaProducer interface {
	ID() string
	Kind() MediaKind
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Close() error
}

// MediaConsumer is one inbound media handle owned by a peer.
// Consumers start paused; the client resumes once its pipeline is ready.
type MediaConsumer interface {
	ID() string
	ProducerID() string
	Kind() MediaKind
	Parameters() json.RawMessage
	Resume(ctx context.Context) error
	Close() error
}

// MediaTransport carries media in one direction for one connection.
type MediaTransport interface {
	ID() string
	Direction() TransportDirection
	// Parameters returns the connection parameters the client needs
	// to establish the transport (ICE/DTLS or SDP, engine-defined).
	Parameters() json.RawMessage
	// Connect finishes the transport handshake with client-supplied
	// security parameters. The returned payload, if any, is relayed
	// to the client inside the ack.
	Connect(ctx context.Context, security json.RawMessage) (json.RawMessage, error)
	Produce(ctx context.Context, kind MediaKind, rtpParameters json.RawMessage) (MediaProducer, error)
	Consume(ctx context.Context, producerID string, rtpCapabilities json.RawMessage) (MediaConsumer, error)
	Close() error
}

// MediaRouter is the per-room media domain (one router per room).
type MediaRouter interface {
	Capabilities() json.RawMessage
	CreateTransport(ctx context.Context, dir TransportDirection) (MediaTransport, error)
	CanConsume(producerID string, rtpCapabilities json.RawMessage) bool
	Close() error
}

// MediaEngine creates routers and reports fatal engine death.
type MediaEngine interface {
	NewRouter(ctx context.Context) (MediaRouter, error)
	// Fatal delivers at most one error when the engine dies beyond
	// recovery. The process must terminate: in-flight room state would
	// otherwise silently desynchronize from a dead engine.
	Fatal() <-chan error
	Close() error
}
