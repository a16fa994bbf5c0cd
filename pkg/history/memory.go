package history

import (
	"context"
	"sync"
)

// MemoryStore keeps entries in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (m *MemoryStore) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[entry.Chat] = append(m.entries[entry.Chat], entry)
	return nil
}

func (m *MemoryStore) Recent(_ context.Context, chat string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[chat]
	if len(entries) == 0 {
		return nil, nil
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Len returns the number of entries stored for chat.
func (m *MemoryStore) Len(chat string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries[chat])
}

func (m *MemoryStore) Close() error {
	return nil
}
