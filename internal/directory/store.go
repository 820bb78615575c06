// Package directory is the cross-process index of active rooms and
// memberships, backed by a shared TTL key-value store. It exists for
// crash recovery and observability: the in-process Room stays the
// authoritative fast path.
package directory

import (
	"context"
	"time"
)

// Store is the narrow contract the directory needs from the shared
// key-value store: plain set/get/delete, set membership, lists and
// per-key expiry.
type Store interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	RPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
