package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/domain"
)

var (
	ErrRoomFull            = errors.New("room full")
	ErrPeerNotFound        = errors.New("peer not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrInvalidRole         = errors.New("invalid role")
	ErrStreamLive          = errors.New("stream already live")
	ErrStreamNotLive       = errors.New("stream not live")
)

// AdmitResult reports what Admit did, so the caller can emit the
// right notice (joined vs rejoined) and sync the directory.
type AdmitResult struct {
	Participant    domain.Participant
	Reconnected    bool
	ReplacedSID    SessionID // old connection torn down during a reconnect, "" if none
	NewParticipant bool
}

// ReleaseResult reports what Release did. Released is false when the
// connection owned no peer (idempotent repeat or stale connection).
type ReleaseResult struct {
	Released           bool
	UserID             domain.UserID
	Username           string
	ParticipantRemoved bool
	WasHost            bool
	NewHostID          domain.UserID
	RoomEmpty          bool
}

// SetRoleResult carries the side effects of a role change.
type SetRoleResult struct {
	Role          domain.Role
	DemotedHostID domain.UserID
}

// ProducerInfo is the discovery record a consumer needs to subscribe.
type ProducerInfo struct {
	ProducerID string        `json:"producerId"`
	SocketID   SessionID     `json:"socketId"`
	UserID     domain.UserID `json:"userId"`
	Kind       MediaKind     `json:"kind"`
	AppTag     string        `json:"appTag"`
}

// RoomSnapshot is an immutable view of the room and its participants.
type RoomSnapshot struct {
	Info         domain.RoomInfo      `json:"info"`
	Participants []domain.Participant `json:"participants"`
}

// Room is the authoritative per-room state machine. All mutations of
// Participant and Peer state go through it; its mutex is the room's
// critical section, so an admit/release pair for one room is atomic
// relative to other admits and releases.
type Room struct {
	id        domain.RoomID
	createdAt time.Time
	router    MediaRouter

	mu           sync.RWMutex
	settings     domain.RoomSettings
	hostID       domain.UserID
	subHosts     []domain.UserID // insertion ordered, drives deterministic succession
	participants map[domain.UserID]*domain.Participant
	joinOrder    []domain.UserID
	peers        map[SessionID]*Peer
	stream       *domain.StreamInfo
}

func NewRoom(id domain.RoomID, settings domain.RoomSettings, router MediaRouter) *Room {
	return &Room{
		id:           id,
		createdAt:    time.Now(),
		router:       router,
		settings:     settings,
		participants: make(map[domain.UserID]*domain.Participant),
		peers:        make(map[SessionID]*Peer),
	}
}

func (r *Room) ID() domain.RoomID     { return r.id }
func (r *Room) Router() MediaRouter   { return r.router }
func (r *Room) CreatedAt() time.Time  { return r.createdAt }

func (r *Room) Settings() domain.RoomSettings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.settings
}

// Admit registers a Peer for the connection. A join by a userId that
// already has a Participant on another connection is a reconnect: the
// old peer is torn down first so no duplicate media survives.
func (r *Room) Admit(sid SessionID, user *domain.User, requestedRole domain.Role, signal SignalConnection) (AdmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := AdmitResult{}
	if p, ok := r.participants[user.ID]; ok {
		if old := r.peerOfUserLocked(user.ID); old != nil && old.SID != sid {
			old.closeAll()
			delete(r.peers, old.SID)
			res.ReplacedSID = old.SID
		}
		p.PrimarySocketID = string(sid)
		r.peers[sid] = newPeer(sid, user.ID, signal)
		res.Reconnected = true
		res.Participant = *p
		log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(user.ID)).Msg("participant reconnected")
		return res, nil
	}

	if r.settings.MaxParticipants > 0 && len(r.participants) >= r.settings.MaxParticipants {
		return res, ErrRoomFull
	}

	role := domain.RoleParticipant
	if requestedRole.Valid() && requestedRole != domain.RoleHost {
		role = requestedRole
	}
	// First participant always takes the host seat.
	if len(r.participants) == 0 {
		role = domain.RoleHost
	}

	p := domain.NewParticipant(user, role, string(sid))
	r.participants[user.ID] = p
	r.joinOrder = append(r.joinOrder, user.ID)
	switch role {
	case domain.RoleHost:
		r.hostID = user.ID
	case domain.RoleSubHost:
		r.subHosts = append(r.subHosts, user.ID)
	}
	r.peers[sid] = newPeer(sid, user.ID, signal)
	res.NewParticipant = true
	res.Participant = *p
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(user.ID)).Str("role", string(role)).Msg("participant admitted")
	return res, nil
}

// Release tears down the connection's peer, closing every handle it
// owns. lastConnection tells the room whether the user has other live
// connections (tracked by the directory); only the last one removes
// the Participant and triggers host succession.
func (r *Room) Release(sid SessionID, lastConnection bool) ReleaseResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	peer, ok := r.peers[sid]
	if !ok {
		return ReleaseResult{}
	}
	peer.closeAll()
	delete(r.peers, sid)

	res := ReleaseResult{Released: true, UserID: peer.UserID}
	p, ok := r.participants[peer.UserID]
	if !ok {
		res.RoomEmpty = len(r.participants) == 0
		return res
	}
	res.Username = p.Username
	if !lastConnection {
		return res
	}

	delete(r.participants, peer.UserID)
	r.joinOrder = removeID(r.joinOrder, peer.UserID)
	r.subHosts = removeID(r.subHosts, peer.UserID)
	res.ParticipantRemoved = true

	if r.hostID == peer.UserID {
		res.WasHost = true
		r.hostID = ""
		if succ := r.successorLocked(); succ != "" {
			r.hostID = succ
			r.subHosts = removeID(r.subHosts, succ)
			r.participants[succ].Role = domain.RoleHost
			res.NewHostID = succ
			log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(succ)).Msg("host promoted")
		}
	}
	res.RoomEmpty = len(r.participants) == 0
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("sid", string(sid)).Str("user", string(peer.UserID)).Msg("participant left")
	return res
}

// Evict removes a participant outright, tearing down their live peer
// if one exists. Used for host-ordered removal, where the departure
// must not wait for the user's sockets to die.
func (r *Room) Evict(userID domain.UserID) (ReleaseResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.participants[userID]
	if !ok {
		return ReleaseResult{}, ErrParticipantNotFound
	}
	res := ReleaseResult{Released: true, UserID: userID, Username: p.Username}
	if peer := r.peerOfUserLocked(userID); peer != nil {
		peer.closeAll()
		delete(r.peers, peer.SID)
	}
	delete(r.participants, userID)
	r.joinOrder = removeID(r.joinOrder, userID)
	r.subHosts = removeID(r.subHosts, userID)
	res.ParticipantRemoved = true

	if r.hostID == userID {
		res.WasHost = true
		r.hostID = ""
		if succ := r.successorLocked(); succ != "" {
			r.hostID = succ
			r.subHosts = removeID(r.subHosts, succ)
			r.participants[succ].Role = domain.RoleHost
			res.NewHostID = succ
		}
	}
	res.RoomEmpty = len(r.participants) == 0
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(userID)).Msg("participant evicted")
	return res, nil
}

// successorLocked picks the next host: first sub-host by insertion
// order, else the earliest-joined remaining participant.
func (r *Room) successorLocked() domain.UserID {
	if len(r.subHosts) > 0 {
		return r.subHosts[0]
	}
	if len(r.joinOrder) > 0 {
		return r.joinOrder[0]
	}
	return ""
}

// SetRole reassigns a participant's role. Assigning host demotes the
// prior host to participant; assigning participant drops sub-host
// membership.
func (r *Room) SetRole(userID domain.UserID, role domain.Role) (SetRoleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !role.Valid() {
		return SetRoleResult{}, ErrInvalidRole
	}
	p, ok := r.participants[userID]
	if !ok {
		return SetRoleResult{}, ErrParticipantNotFound
	}

	res := SetRoleResult{Role: role}
	switch role {
	case domain.RoleHost:
		if r.hostID != "" && r.hostID != userID {
			if prev, ok := r.participants[r.hostID]; ok {
				prev.Role = domain.RoleParticipant
				res.DemotedHostID = r.hostID
			}
		}
		r.hostID = userID
		r.subHosts = removeID(r.subHosts, userID)
	case domain.RoleSubHost:
		if r.hostID == userID {
			r.hostID = ""
		}
		if !containsID(r.subHosts, userID) {
			r.subHosts = append(r.subHosts, userID)
		}
	case domain.RoleParticipant:
		if r.hostID == userID {
			r.hostID = ""
		}
		r.subHosts = removeID(r.subHosts, userID)
	}
	p.Role = role
	log.Info().Str("module", "core.room").Str("room", string(r.id)).Str("user", string(userID)).Str("role", string(role)).Msg("role changed")
	return res, nil
}

// Mute flips the participant's mute state and pauses or resumes every
// audio producer owned by the user's live peer. A user with no audio
// handles still gets the state flip, for when media starts later.
func (r *Room) Mute(ctx context.Context, userID domain.UserID, mute bool) error {
	r.mu.Lock()
	p, ok := r.participants[userID]
	if !ok {
		r.mu.Unlock()
		return ErrParticipantNotFound
	}
	p.IsMuted = mute
	var audio []MediaProducer
	if peer := r.peerOfUserLocked(userID); peer != nil {
		for _, rec := range peer.producers {
			if rec.Producer.Kind() == MediaKindAudio {
				audio = append(audio, rec.Producer)
			}
		}
	}
	r.mu.Unlock()

	// Engine calls stay outside the room lock.
	for _, prod := range audio {
		var err error
		if mute {
			err = prod.Pause(ctx)
		} else {
			err = prod.Resume(ctx)
		}
		if err != nil {
			return fmt.Errorf("audio producer %s: %w", prod.ID(), err)
		}
	}
	return nil
}

func (r *Room) SetVideoEnabled(userID domain.UserID, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[userID]
	if !ok {
		return ErrParticipantNotFound
	}
	p.IsVideoEnabled = enabled
	return nil
}

// Authorization predicates. The signaling handler gates administrative
// requests with these; Room itself enforces no fixed policy.

func (r *Room) IsHost(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID == userID
}

func (r *Room) IsSubHost(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return containsID(r.subHosts, userID)
}

func (r *Room) CanAdminister(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID == userID || containsID(r.subHosts, userID)
}

// Handle bookkeeping. Registration can race a concurrent disconnect;
// callers must close the handle themselves when ErrPeerNotFound comes
// back, since the peer that would have owned it is already gone.

func (r *Room) AddTransport(sid SessionID, t MediaTransport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[sid]
	if !ok {
		return ErrPeerNotFound
	}
	peer.transports[t.ID()] = t
	return nil
}

func (r *Room) Transport(sid SessionID, id string) (MediaTransport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[sid]
	if !ok {
		return nil, false
	}
	t, ok := peer.transports[id]
	return t, ok
}

func (r *Room) AddProducer(sid SessionID, p MediaProducer, appTag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[sid]
	if !ok {
		return ErrPeerNotFound
	}
	peer.producers[p.ID()] = &ProducerRecord{Producer: p, AppTag: appTag}
	return nil
}

func (r *Room) AddConsumer(sid SessionID, c MediaConsumer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	peer, ok := r.peers[sid]
	if !ok {
		return ErrPeerNotFound
	}
	peer.consumers[c.ID()] = c
	return nil
}

func (r *Room) Consumer(sid SessionID, id string) (MediaConsumer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[sid]
	if !ok {
		return nil, false
	}
	c, ok := peer.consumers[id]
	return c, ok
}

// ListActiveProducers returns every producer not owned by the excluded
// connection or user. This is the catch-up list for new joiners.
func (r *Room) ListActiveProducers(excludeSID SessionID, excludeUser domain.UserID) []ProducerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProducerInfo, 0)
	for sid, peer := range r.peers {
		if sid == excludeSID {
			continue
		}
		if excludeUser != "" && peer.UserID == excludeUser {
			continue
		}
		for id, rec := range peer.producers {
			out = append(out, ProducerInfo{
				ProducerID: id,
				SocketID:   sid,
				UserID:     peer.UserID,
				Kind:       rec.Producer.Kind(),
				AppTag:     rec.AppTag,
			})
		}
	}
	return out
}

// HasLivePeer reports whether the user currently owns a connection in
// the room.
func (r *Room) HasLivePeer(userID domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peerOfUserLocked(userID) != nil
}

func (r *Room) PeerUser(sid SessionID) (domain.UserID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[sid]
	if !ok {
		return "", false
	}
	return peer.UserID, true
}

func (r *Room) Participant(userID domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *Room) ParticipantCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Snapshot returns an immutable view of the room and all participants
// in join order, for replies and for persisting to the directory.
func (r *Room) Snapshot() RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := RoomSnapshot{
		Info: domain.RoomInfo{
			RoomID:     r.id,
			HostID:     r.hostID,
			SubHostIDs: append([]domain.UserID(nil), r.subHosts...),
			CreatedAt:  r.createdAt,
			Settings:   r.settings,
		},
	}
	snap.Participants = make([]domain.Participant, 0, len(r.participants))
	for _, uid := range r.joinOrder {
		if p, ok := r.participants[uid]; ok {
			snap.Participants = append(snap.Participants, *p)
		}
	}
	return snap
}

// Broadcast fans a frame out to every connection except the sender.
// Sends are fire-and-forget: a full send buffer drops the frame for
// that connection rather than blocking the caller.
func (r *Room) Broadcast(exclude SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for sid, peer := range r.peers {
		if sid == exclude {
			continue
		}
		if err := peer.Signal.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	return res
}

// Send delivers a frame to one specific connection.
func (r *Room) Send(sid SessionID, data Frame) error {
	r.mu.RLock()
	peer, ok := r.peers[sid]
	r.mu.RUnlock()
	if !ok {
		return ErrPeerNotFound
	}
	return peer.Signal.TrySend(data)
}

// Broadcast stream state. Start/stop are host actions gated upstream.

func (r *Room) StartStream(hostID domain.UserID) (domain.StreamInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream != nil && r.stream.IsLive {
		return domain.StreamInfo{}, ErrStreamLive
	}
	now := time.Now()
	r.stream = &domain.StreamInfo{
		RoomID:      r.id,
		IsLive:      true,
		StartedAt:   &now,
		ViewerCount: len(r.participants),
		StreamKey:   uuid.NewString(),
		HostID:      hostID,
	}
	return *r.stream, nil
}

func (r *Room) StopStream() (domain.StreamInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || !r.stream.IsLive {
		return domain.StreamInfo{}, ErrStreamNotLive
	}
	r.stream.IsLive = false
	return *r.stream, nil
}

// SyncStreamViewers refreshes the live viewer count and reports
// whether a viewer-count notice should go out.
func (r *Room) SyncStreamViewers() (domain.StreamInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stream == nil || !r.stream.IsLive {
		return domain.StreamInfo{}, false
	}
	r.stream.ViewerCount = len(r.participants)
	return *r.stream, true
}

func (r *Room) Stream() (domain.StreamInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stream == nil {
		return domain.StreamInfo{}, false
	}
	return *r.stream, true
}

// SignalOf exposes the signal endpoint of a connection, for targeted
// delivery and forced closes.
func (r *Room) SignalOf(sid SessionID) (SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peer, ok := r.peers[sid]
	if !ok {
		return nil, false
	}
	return peer.Signal, true
}

func (r *Room) peerOfUserLocked(userID domain.UserID) *Peer {
	for _, peer := range r.peers {
		if peer.UserID == userID {
			return peer
		}
	}
	return nil
}

func removeID(ids []domain.UserID, id domain.UserID) []domain.UserID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func containsID(ids []domain.UserID, id domain.UserID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
