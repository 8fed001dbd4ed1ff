package progress

import (
	"context"
	"sync"
	"time"
)

// Store is a TTL'd key/value backend for progress records
type Store interface {
	Load(ctx context.Context, uploadID string) (Record, error)
	Save(ctx context.Context, uploadID string, rec Record, ttl time.Duration) error
}

type memoryEntry struct {
	record  Record
	expires time.Time
}

// MemoryStore is the in-process fallback used when the shared store is
// unreachable. Records written here are only visible inside this process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, uploadID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.records[uploadID]
	if !ok {
		return Record{}, ErrNotFound
	}
	if m.now().After(entry.expires) {
		delete(m.records, uploadID)
		return Record{}, ErrNotFound
	}
	return entry.record, nil
}

func (m *MemoryStore) Save(_ context.Context, uploadID string, rec Record, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.records[uploadID] = memoryEntry{record: rec, expires: now.Add(ttl)}

	// Opportunistic cleanup keeps the map bounded by live uploads
	for id, entry := range m.records {
		if now.After(entry.expires) {
			delete(m.records, id)
		}
	}
	return nil
}

// Len returns the number of live records
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
