package seen

import (
	"context"
	"sync"
)

// MemoryStore is a Store that keeps ids in process memory only. Dedup does
// not survive a restart, so it must be selected explicitly (seen_store =
// "memory"); it is never a silent fallback for a failed durable store.
type MemoryStore struct {
	mu  sync.Mutex
	ids map[string]struct{}
	ord []string
}

var _ Store = (*MemoryStore)(nil)

func NewMemory() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (s *MemoryStore) TryMarkSeen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false, nil
	}
	s.ids[id] = struct{}{}
	s.ord = append(s.ord, id)
	return true, nil
}

func (s *MemoryStore) Dump(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ord...), nil
}

func (s *MemoryStore) Close() error { return nil }
