package store

import (
	"context"
	"sync"

	"github.com/feral-file/ff-marketplace-indexer/internal/store/schema"
)

type memoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
	cursors map[string]uint64
}

// MemoryStore is an in-process entity store, used for tests and dry runs
type MemoryStore interface {
	Store
	CursorStore
	// Len returns the number of stored records
	Len() int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() MemoryStore {
	return &memoryStore{
		records: make(map[string][]byte),
		cursors: make(map[string]uint64),
	}
}

func recordKey(kind schema.Kind, id string) string {
	return string(kind) + "/" + id
}

func (m *memoryStore) Load(ctx context.Context, kind schema.Kind, id string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[recordKey(kind, id)]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (m *memoryStore) Save(ctx context.Context, record Record) error {
	return m.SaveBatch(ctx, []Record{record})
}

func (m *memoryStore) SaveBatch(ctx context.Context, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range records {
		m.records[recordKey(r.Kind, r.ID)] = append([]byte(nil), r.Data...)
	}
	return nil
}

func (m *memoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *memoryStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cursors[cursorKey(chain)], nil
}

func (m *memoryStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[cursorKey(chain)] = blockNumber
	return nil
}
