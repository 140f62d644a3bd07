package keystore

import (
	"sync"

	"nbgrade/internal/types"
)

// Memory is a map-backed Store for tests and single-run tooling.
type Memory struct {
	mu   sync.RWMutex
	recs map[string]types.KeyRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{recs: make(map[string]types.KeyRecord)}
}

func (m *Memory) Get(principalID string) (types.KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[principalID]
	if !ok {
		return types.KeyRecord{}, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (m *Memory) Put(rec types.KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.PrincipalID] = cloneRecord(rec)
	return nil
}

func (m *Memory) List() ([]types.KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.KeyRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

// cloneRecord copies the key bytes so callers cannot alias the stored slice.
func cloneRecord(rec types.KeyRecord) types.KeyRecord {
	key := make([]byte, len(rec.Key))
	copy(key, rec.Key)
	rec.Key = key
	return rec
}
