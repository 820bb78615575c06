// Package signal is the per-connection protocol engine: it validates
// and sequences every request a connection may issue, drives the media
// engine through the room, and fans state-change notices out to the
// rest of the room.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/app"
	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
	"github.com/rtcmeet/signaling/internal/identity"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch     *app.Orchestrator
	Resolver identity.Resolver

	validate    *validator.Validate
	readLimit   int64
	pingPeriod  time.Duration
	chatLimiter *ChatRateLimiter
}

func NewController(orch *app.Orchestrator, resolver identity.Resolver, readLimit int64, pingPeriod time.Duration) *Controller {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	return &Controller{
		Orch:        orch,
		Resolver:    resolver,
		validate:    validator.New(),
		readLimit:   readLimit,
		pingPeriod:  pingPeriod,
		chatLimiter: NewChatRateLimiter(10, 10*time.Second),
	}
}

// WsSignalConn wraps one websocket with a buffered, non-blocking send
// side. A full buffer drops the frame instead of stalling the room.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal authenticates the connection and starts its pumps. A
// connection that fails identity resolution never reaches the socket
// layer: it is rejected with 401 before the upgrade.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	credential := c.Query("token")
	if credential == "" {
		credential = c.GetHeader("Authorization")
	}
	user, err := ctl.Resolver.Resolve(c.Request.Context(), credential)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("unauthorized connection attempt")
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.readLimit > 0 {
		ws.SetReadLimit(ctl.readLimit)
	}

	sid := core.SessionID(uuid.NewString())
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	ctl.Orch.Registry.Connect(sid, user)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

// joined resolves the connection's current room, the precondition for
// every media and admin request.
func (ctl *Controller) joined(sid core.SessionID) (*core.Room, *domain.User, bool) {
	roomID, ok := ctl.Orch.Registry.RoomOf(sid)
	if !ok {
		return nil, nil, false
	}
	room, ok := ctl.Orch.Rooms.Get(roomID)
	if !ok {
		return nil, nil, false
	}
	user, ok := ctl.Orch.Registry.User(sid)
	if !ok {
		return nil, nil, false
	}
	return room, user, true
}

func (ctl *Controller) broadcast(room *core.Room, exclude core.SessionID, v any) {
	data, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}
	res := room.Broadcast(exclude, data)
	if len(res.Dropped) > 0 {
		log.Warn().Str("module", "signal").Str("room", string(room.ID())).Int("dropped", len(res.Dropped)).Msg("broadcast backpressure")
	}
}

func (ctl *Controller) sendTo(room *core.Room, sid core.SessionID, v any) {
	data, err := encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	if err := room.Send(sid, data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("targeted send")
	}
}

// reqCtx bounds directory round trips issued on behalf of one request.
func reqCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 10*time.Second)
}
