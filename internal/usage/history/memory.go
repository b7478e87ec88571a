package history

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxRecords bounds a MemoryStore created with a non-positive size.
const DefaultMaxRecords = 10000

// MemoryStore keeps the most recent records in memory.
type MemoryStore struct {
	records []Record
	maxSize int
	mu      sync.RWMutex
}

// NewMemoryStore creates a store holding at most maxSize records; the oldest
// are dropped first.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxRecords
	}
	return &MemoryStore{maxSize: maxSize}
}

func (m *MemoryStore) Save(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, r)
	if len(m.records) > m.maxSize {
		m.records = append([]Record(nil), m.records[len(m.records)-m.maxSize:]...)
	}
	return nil
}

func (m *MemoryStore) Recent(ctx context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Record{}
	for i := len(m.records) - 1; i >= 0; i-- {
		if !f.matches(m.records[i]) {
			continue
		}
		out = append(out, m.records[i])
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Totals(ctx context.Context, since time.Time) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := Totals{ByProvider: map[string]Tally{}}
	f := Filter{Since: since}
	for _, r := range m.records {
		if !f.matches(r) {
			continue
		}
		t.add(r)
		p := t.ByProvider[r.Provider]
		p.add(r)
		t.ByProvider[r.Provider] = p
	}
	return t, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }
