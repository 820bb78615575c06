package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

type fakeSignal struct {
	mu     sync.Mutex
	frames []Frame
	reject bool
	closed bool
}

func (s *fakeSignal) TrySend(f Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return fmt.Errorf("buffer full")
	}
	s.frames = append(s.frames, f)
	return nil
}

func (s *fakeSignal) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *fakeSignal) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeProducer struct {
	id     string
	kind   MediaKind
	paused bool
	closed bool
}

func (p *fakeProducer) ID() string                      { return p.id }
func (p *fakeProducer) Kind() MediaKind                 { return p.kind }
func (p *fakeProducer) Pause(_ context.Context) error   { p.paused = true; return nil }
func (p *fakeProducer) Resume(_ context.Context) error  { p.paused = false; return nil }
func (p *fakeProducer) Close() error                    { p.closed = true; return nil }

type fakeConsumer struct {
	id         string
	producerID string
	kind       MediaKind
	resumed    bool
	closed     bool
}

func (c *fakeConsumer) ID() string                     { return c.id }
func (c *fakeConsumer) ProducerID() string             { return c.producerID }
func (c *fakeConsumer) Kind() MediaKind                { return c.kind }
func (c *fakeConsumer) Parameters() json.RawMessage    { return json.RawMessage(`{}`) }
func (c *fakeConsumer) Resume(_ context.Context) error { c.resumed = true; return nil }
func (c *fakeConsumer) Close() error                   { c.closed = true; return nil }

type fakeTransport struct {
	id  string
	dir TransportDirection
}

func (t *fakeTransport) ID() string                   { return t.id }
func (t *fakeTransport) Direction() TransportDirection { return t.dir }
func (t *fakeTransport) Parameters() json.RawMessage  { return json.RawMessage(`{}`) }
func (t *fakeTransport) Connect(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return nil, nil
}
func (t *fakeTransport) Produce(_ context.Context, kind MediaKind, _ json.RawMessage) (MediaProducer, error) {
	return &fakeProducer{id: t.id + "-prod", kind: kind}, nil
}
func (t *fakeTransport) Consume(_ context.Context, producerID string, _ json.RawMessage) (MediaConsumer, error) {
	return &fakeConsumer{id: t.id + "-cons", producerID: producerID, kind: MediaKindAudio}, nil
}
func (t *fakeTransport) Close() error { return nil }

type fakeRouter struct {
	mu        sync.Mutex
	closed    bool
	nextID    int
	consumable map[string]bool
}

func (r *fakeRouter) Capabilities() json.RawMessage { return json.RawMessage(`{"codecs":[]}`) }

func (r *fakeRouter) CreateTransport(_ context.Context, dir TransportDirection) (MediaTransport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return &fakeTransport{id: fmt.Sprintf("t%d", r.nextID), dir: dir}, nil
}

func (r *fakeRouter) CanConsume(producerID string, _ json.RawMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.consumable == nil {
		return true
	}
	return r.consumable[producerID]
}

func (r *fakeRouter) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

type fakeEngine struct {
	mu      sync.Mutex
	routers []*fakeRouter
	fatal   chan error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{fatal: make(chan error, 1)}
}

func (e *fakeEngine) NewRouter(_ context.Context) (MediaRouter, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &fakeRouter{}
	e.routers = append(e.routers, r)
	return r, nil
}

func (e *fakeEngine) Fatal() <-chan error { return e.fatal }
func (e *fakeEngine) Close() error        { return nil }
