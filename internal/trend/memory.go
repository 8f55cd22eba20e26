package trend

import (
	"context"
	"sync"
)

// MemoryStore keeps ledgers in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Identity][]Entry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[Identity][]Entry)}
}

func (s *MemoryStore) Append(ctx context.Context, id Identity, entry Entry) (err error) {
	defer func() { observeAppend(BackendMemory, err) }()
	if err := ctx.Err(); err != nil {
		return err
	}
	entry, err = prepare(id, entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = append(s.entries[id], entry)
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id Identity) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Entry(nil), s.entries[id]...), nil
}

func (s *MemoryStore) Close() error { return nil }
