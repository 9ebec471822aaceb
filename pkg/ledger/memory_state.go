package ledger

import (
	"context"
	"sort"
	"sync"
)

// MemoryState is an in-process StateStore.
type MemoryState struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // packageID -> version -> record
}

func NewMemoryState() *MemoryState {
	return &MemoryState{records: make(map[string]map[string]Record)}
}

func (m *MemoryState) Create(ctx context.Context, packageID, version string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions, ok := m.records[packageID]
	if !ok {
		versions = make(map[string]Record)
		m.records[packageID] = versions
	}
	if _, exists := versions[version]; exists {
		return ErrAlreadyExists
	}
	versions[version] = Record{Value: append([]byte(nil), value...), Revision: 1}
	return nil
}

func (m *MemoryState) Read(ctx context.Context, packageID, version string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[packageID][version]
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{Value: append([]byte(nil), rec.Value...), Revision: rec.Revision}, nil
}

func (m *MemoryState) Update(ctx context.Context, packageID, version string, expected uint64, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[packageID][version]
	if !ok {
		return ErrNotFound
	}
	if rec.Revision != expected {
		return ErrRevisionConflict
	}
	m.records[packageID][version] = Record{Value: append([]byte(nil), value...), Revision: expected + 1}
	return nil
}

func (m *MemoryState) List(ctx context.Context, packageID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.records[packageID]
	keys := make([]string, 0, len(versions))
	for v := range versions {
		keys = append(keys, v)
	}
	sort.Strings(keys)

	out := make([]Record, 0, len(keys))
	for _, v := range keys {
		rec := versions[v]
		out = append(out, Record{Value: append([]byte(nil), rec.Value...), Revision: rec.Revision})
	}
	return out, nil
}

func (m *MemoryState) Close() error { return nil }
