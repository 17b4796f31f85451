package storage

import (
	"sort"
	"strings"
	"sync"
)

// memKV is a map-backed kv for tests and ephemeral runs. Values are copied on
// the way in and out so callers cannot alias the stored bytes.
type memKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

// NewMemory returns an in-memory Store.
func NewMemory() *Store { return &Store{kv: newMemKV()} }

func (m *memKV) get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return nil, errKeyNotFound
	}
	out := make([]byte, len(val))
	copy(out, val)
	return out, nil
}

func (m *memKV) set(key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	m.data[key] = cp
	return nil
}

func (m *memKV) delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; !ok {
		return errKeyNotFound
	}
	delete(m.data, key)
	return nil
}

func (m *memKV) scan(prefix string, fn func(key string, val []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		val, err := m.get(k)
		if err != nil {
			continue // deleted mid-scan
		}
		if err := fn(k, val); err != nil {
			return err
		}
	}
	return nil
}

func (m *memKV) applyBatch(muts []mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mut := range muts {
		if mut.val == nil {
			delete(m.data, mut.key)
			continue
		}
		cp := make([]byte, len(mut.val))
		copy(cp, mut.val)
		m.data[mut.key] = cp
	}
	return nil
}
