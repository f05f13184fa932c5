package store

import (
	"context"
	"sync"
)

// Memory is a Store that keeps entries in process memory.
// It is useful for tests and for running without a persistent tier.
type Memory struct {
	mu         sync.RWMutex
	namespaces map[string]map[Key][]byte
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{namespaces: make(map[string]map[Key][]byte)}
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.namespaces[key.Patch][key]
	if !ok {
		return nil, ErrNotExist
	}
	return data, nil
}

// Put implements Store.
func (m *Memory) Put(_ context.Context, key Key, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.namespaces[key.Patch]
	if !ok {
		ns = make(map[Key][]byte)
		m.namespaces[key.Patch] = ns
	}
	ns[key] = data
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces[key.Patch], key)
	return nil
}

// DeleteNamespace implements Store.
func (m *Memory) DeleteNamespace(_ context.Context, patch string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.namespaces, patch)
	return nil
}

// Len returns the number of entries across all namespaces.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, ns := range m.namespaces {
		n += len(ns)
	}
	return n
}
