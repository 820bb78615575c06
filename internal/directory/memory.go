package directory

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-process deployments
// and tests. Keys expire lazily on access.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memItem
}

type memItem struct {
	expiresAt time.Time // zero means no expiry
	set       map[string]struct{}
	hash      map[string]string
	list      []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*memItem)}
}

// itemLocked returns the live item for key, pruning it if expired.
func (s *MemoryStore) itemLocked(key string, create bool) *memItem {
	it, ok := s.items[key]
	if ok && !it.expiresAt.IsZero() && time.Now().After(it.expiresAt) {
		delete(s.items, key)
		ok = false
	}
	if !ok {
		if !create {
			return nil
		}
		it = &memItem{}
		s.items[key] = it
	}
	return it
}

func (s *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, true)
	if it.set == nil {
		it.set = make(map[string]struct{})
	}
	for _, m := range members {
		it.set[m] = struct{}{}
	}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return nil
	}
	for _, m := range members {
		delete(it.set, m)
	}
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return nil, nil
	}
	out := make([]string, 0, len(it.set))
	for m := range it.set {
		out = append(out, m)
	}
	return out, nil
}

func (s *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return 0, nil
	}
	return int64(len(it.set)), nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, true)
	if it.hash == nil {
		it.hash = make(map[string]string)
	}
	for k, v := range fields {
		it.hash[k] = v
	}
	return nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(it.hash))
	for k, v := range it.hash {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, true)
	it.list = append(it.list, values...)
	return nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return nil, nil
	}
	n := int64(len(it.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return nil, nil
	}
	out := make([]string, stop-start+1)
	copy(out, it.list[start:stop+1])
	return out, nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return nil
	}
	n := int64(len(it.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		it.list = nil
		return nil
	}
	it.list = append([]string(nil), it.list[start:stop+1]...)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.itemLocked(key, false) != nil, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := s.itemLocked(key, false)
	if it == nil {
		return nil
	}
	it.expiresAt = time.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.items, k)
	}
	return nil
}
