package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

type sessionEntry struct {
	User   *domain.User
	RoomID domain.RoomID
}

// Registry binds live connections to their resolved identity and, once
// joined, to their room. It is the handler's view of the protocol
// state: no entry means unauthenticated, an entry without a room means
// authenticated-but-not-joined.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[core.SessionID]*sessionEntry)}
}

func (r *Registry) Connect(sid core.SessionID, user *domain.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{User: user}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("session bound")
}

func (r *Registry) User(sid core.SessionID) (*domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.User, true
}

func (r *Registry) SetRoom(sid core.SessionID, roomID domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.RoomID = roomID
	return true
}

func (r *Registry) ClearRoom(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.RoomID = ""
	}
}

// RoomOf reports which room the connection has joined, if any.
func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

// ClearUserRoom unbinds every session of the user from the room and
// returns the session ids it touched. Covers a removed user's extra
// tabs, whose sockets stay open but no longer belong to the room.
func (r *Registry) ClearUserRoom(roomID domain.RoomID, userID domain.UserID) []core.SessionID {
	r.mu.Lock()
	defer r.mu.Unlock()
	var cleared []core.SessionID
	for sid, e := range r.sessions {
		if e.RoomID == roomID && e.User != nil && e.User.ID == userID {
			e.RoomID = ""
			cleared = append(cleared, sid)
		}
	}
	return cleared
}

func (r *Registry) Remove(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("session removed")
}
