package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rtcmeet/signaling/internal/core"
	"github.com/rtcmeet/signaling/internal/domain"
)

const DefaultTTL = 5 * time.Minute

// Directory tracks room existence, membership and per-user socket
// sets across processes. Every mutating write refreshes the TTL so a
// crashed process's stale entries self-expire.
type Directory struct {
	store   Store
	ttl     time.Duration
	chatCap int
}

func New(store Store, ttl time.Duration, chatCap int) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if chatCap <= 0 {
		chatCap = 200
	}
	return &Directory{store: store, ttl: ttl, chatCap: chatCap}
}

func (d *Directory) EnsureRoomRegistered(ctx context.Context, roomID domain.RoomID) error {
	key := roomMetaKey(string(roomID))
	known, err := d.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("room exists: %w", err)
	}
	if !known {
		fields := map[string]string{
			"roomId":  string(roomID),
			"created": strconv.FormatInt(time.Now().Unix(), 10),
		}
		if err := d.store.HSet(ctx, key, fields); err != nil {
			return fmt.Errorf("register room: %w", err)
		}
	}
	return d.store.Expire(ctx, key, d.ttl)
}

func (d *Directory) RoomIsKnown(ctx context.Context, roomID domain.RoomID) (bool, error) {
	return d.store.Exists(ctx, roomMetaKey(string(roomID)))
}

// RecordConnection adds the user to the room membership and the socket
// id to the user's connection set, refreshing every touched TTL.
func (d *Directory) RecordConnection(ctx context.Context, roomID domain.RoomID, userID domain.UserID, connID core.SessionID) error {
	rid, uid := string(roomID), string(userID)
	if err := d.store.SAdd(ctx, roomMembersKey(rid), uid); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if err := d.store.SAdd(ctx, userSocketsKey(rid, uid), string(connID)); err != nil {
		return fmt.Errorf("add socket: %w", err)
	}
	d.refresh(ctx, roomMembersKey(rid), userSocketsKey(rid, uid), roomMetaKey(rid))
	return nil
}

// DropConnection removes one socket from the user's connection set and
// returns how many remain. When the set empties the user is pruned
// from the membership.
func (d *Directory) DropConnection(ctx context.Context, roomID domain.RoomID, userID domain.UserID, connID core.SessionID) (int64, error) {
	rid, uid := string(roomID), string(userID)
	if err := d.store.SRem(ctx, userSocketsKey(rid, uid), string(connID)); err != nil {
		return 0, fmt.Errorf("drop socket: %w", err)
	}
	remaining, err := d.store.SCard(ctx, userSocketsKey(rid, uid))
	if err != nil {
		return 0, fmt.Errorf("count sockets: %w", err)
	}
	if remaining == 0 {
		if err := d.store.Del(ctx, userSocketsKey(rid, uid)); err != nil {
			return 0, err
		}
		if err := d.store.SRem(ctx, roomMembersKey(rid), uid); err != nil {
			return 0, fmt.Errorf("prune member: %w", err)
		}
	}
	d.refresh(ctx, roomMembersKey(rid), roomMetaKey(rid))
	return remaining, nil
}

// DropUser removes the user and their whole socket set at once, for
// forced removals.
func (d *Directory) DropUser(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	rid, uid := string(roomID), string(userID)
	if err := d.store.Del(ctx, userSocketsKey(rid, uid)); err != nil {
		return fmt.Errorf("drop sockets: %w", err)
	}
	if err := d.store.SRem(ctx, roomMembersKey(rid), uid); err != nil {
		return fmt.Errorf("drop member: %w", err)
	}
	d.refresh(ctx, roomMembersKey(rid), roomMetaKey(rid))
	return nil
}

func (d *Directory) SetHost(ctx context.Context, roomID domain.RoomID, userID domain.UserID) error {
	key := roomMetaKey(string(roomID))
	if err := d.store.HSet(ctx, key, map[string]string{"host": string(userID)}); err != nil {
		return fmt.Errorf("set host: %w", err)
	}
	return d.store.Expire(ctx, key, d.ttl)
}

func (d *Directory) ListMembers(ctx context.Context, roomID domain.RoomID) ([]domain.UserID, error) {
	raw, err := d.store.SMembers(ctx, roomMembersKey(string(roomID)))
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]domain.UserID, len(raw))
	for i, m := range raw {
		out[i] = domain.UserID(m)
	}
	return out, nil
}

// PersistSnapshot writes the room's authoritative state as a derived
// cache: host, sub-host set and the serialized settings snapshot.
func (d *Directory) PersistSnapshot(ctx context.Context, snap core.RoomSnapshot) error {
	rid := string(snap.Info.RoomID)
	settings, err := json.Marshal(snap.Info.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	fields := map[string]string{
		"roomId":   rid,
		"host":     string(snap.Info.HostID),
		"created":  strconv.FormatInt(snap.Info.CreatedAt.Unix(), 10),
		"settings": string(settings),
	}
	if err := d.store.HSet(ctx, roomMetaKey(rid), fields); err != nil {
		return fmt.Errorf("persist meta: %w", err)
	}
	if err := d.store.Del(ctx, roomSubHostsKey(rid)); err != nil {
		return err
	}
	if len(snap.Info.SubHostIDs) > 0 {
		subs := make([]string, len(snap.Info.SubHostIDs))
		for i, id := range snap.Info.SubHostIDs {
			subs[i] = string(id)
		}
		if err := d.store.SAdd(ctx, roomSubHostsKey(rid), subs...); err != nil {
			return fmt.Errorf("persist subhosts: %w", err)
		}
	}
	d.refresh(ctx, roomMetaKey(rid), roomSubHostsKey(rid))
	return nil
}

// PurgeRoom deletes every key belonging to the room.
func (d *Directory) PurgeRoom(ctx context.Context, roomID domain.RoomID) error {
	rid := string(roomID)
	members, err := d.store.SMembers(ctx, roomMembersKey(rid))
	if err != nil {
		return fmt.Errorf("purge members: %w", err)
	}
	keys := []string{roomMetaKey(rid), roomMembersKey(rid), roomSubHostsKey(rid), roomChatKey(rid)}
	for _, uid := range members {
		keys = append(keys, userSocketsKey(rid, uid))
	}
	return d.store.Del(ctx, keys...)
}

// AppendChat stores a chat message, trims the log to the configured
// cap and refreshes the TTL.
func (d *Directory) AppendChat(ctx context.Context, msg domain.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	key := roomChatKey(string(msg.RoomID))
	if err := d.store.RPush(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("append chat: %w", err)
	}
	if err := d.store.LTrim(ctx, key, int64(-d.chatCap), -1); err != nil {
		return err
	}
	return d.store.Expire(ctx, key, d.ttl)
}

// ChatHistory returns the stored messages, oldest first.
func (d *Directory) ChatHistory(ctx context.Context, roomID domain.RoomID) ([]domain.ChatMessage, error) {
	raw, err := d.store.LRange(ctx, roomChatKey(string(roomID)), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	out := make([]domain.ChatMessage, 0, len(raw))
	for _, entry := range raw {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(entry), &msg); err != nil {
			log.Warn().Err(err).Str("module", "directory").Str("room", string(roomID)).Msg("skipping bad chat entry")
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (d *Directory) refresh(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := d.store.Expire(ctx, key, d.ttl); err != nil {
			log.Warn().Err(err).Str("module", "directory").Str("key", key).Msg("ttl refresh")
		}
	}
}
