package core

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/domain"
)

type RoomSummary struct {
	RoomID       domain.RoomID `json:"roomId"`
	Participants int           `json:"participants"`
}

// Manager owns the set of live rooms in this process. Exactly one
// process owns a given in-memory room; the directory only mirrors it.
type Manager struct {
	engine   MediaEngine
	defaults domain.RoomSettings

	mu    sync.RWMutex
	rooms map[domain.RoomID]*Room
}

func NewManager(engine MediaEngine, defaults domain.RoomSettings) *Manager {
	return &Manager{
		engine:   engine,
		defaults: defaults,
		rooms:    make(map[domain.RoomID]*Room),
	}
}

// GetOrCreate returns the room, creating it with a fresh media router
// on first join. Router creation is slow, so it happens outside the
// manager lock; a lost race closes the extra router.
func (m *Manager) GetOrCreate(ctx context.Context, id domain.RoomID) (*Room, error) {
	m.mu.RLock()
	room, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return room, nil
	}

	router, err := m.engine.NewRouter(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if room, ok = m.rooms[id]; ok {
		m.mu.Unlock()
		if cerr := router.Close(); cerr != nil {
			log.Warn().Err(cerr).Str("module", "core.manager").Str("room", string(id)).Msg("spare router close")
		}
		return room, nil
	}
	room = NewRoom(id, m.defaults, router)
	m.rooms[id] = room
	m.mu.Unlock()
	log.Info().Str("module", "core.manager").Str("room", string(id)).Msg("room created")
	return room, nil
}

func (m *Manager) Get(id domain.RoomID) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.rooms[id]
	return room, ok
}

// Stop removes the room and closes its router.
func (m *Manager) Stop(id domain.RoomID) {
	m.mu.Lock()
	room, ok := m.rooms[id]
	if ok {
		delete(m.rooms, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if err := room.Router().Close(); err != nil {
		log.Warn().Err(err).Str("module", "core.manager").Str("room", string(id)).Msg("router close")
	}
	log.Info().Str("module", "core.manager").Str("room", string(id)).Msg("room stopped")
}

func (m *Manager) List() []RoomSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomSummary, 0, len(m.rooms))
	for id, room := range m.rooms {
		out = append(out, RoomSummary{RoomID: id, Participants: room.ParticipantCount()})
	}
	return out
}
