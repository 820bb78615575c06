// Package sfu is the default media engine adapter: an in-process SFU
// built on pion. The core only sees the engine contracts; everything
// here stays behind them.
package sfu

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/rtcmeet/signaling/internal/core"
)

// Engine issues one Router per room.
type Engine struct {
	cfg webrtc.Configuration

	mu     sync.Mutex
	fatal  chan error
	closed bool
}

func NewEngine(iceServers []string) *Engine {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}
	return &Engine{cfg: cfg, fatal: make(chan error, 1)}
}

func (e *Engine) NewRouter(_ context.Context) (core.MediaRouter, error) {
	return newRouter(e.cfg), nil
}

// Fatal reports unrecoverable engine death. The in-process engine has
// no separate worker to lose, so the channel only closes on shutdown;
// out-of-process engines deliver their exit error here.
func (e *Engine) Fatal() <-chan error { return e.fatal }

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.fatal)
	}
	return nil
}
