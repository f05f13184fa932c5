// Package testutil provides fakes and fixtures shared by tests.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/meigma/patchcdn/store"
)

// MockStore is a concurrency-safe in-memory store.Store that counts calls and
// can inject failures.
type MockStore struct {
	mem *store.Memory

	mu                 sync.Mutex
	getErr             error
	putErr             error
	deleteNamespaceErr error

	Gets             atomic.Int64
	Puts             atomic.Int64
	DeletedNamespace []string
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{mem: store.NewMemory()}
}

// FailGet makes every Get return err. A nil err restores normal behaviour.
func (s *MockStore) FailGet(err error) {
	s.mu.Lock()
	s.getErr = err
	s.mu.Unlock()
}

// FailPut makes every Put return err.
func (s *MockStore) FailPut(err error) {
	s.mu.Lock()
	s.putErr = err
	s.mu.Unlock()
}

// FailDeleteNamespace makes every DeleteNamespace return err.
func (s *MockStore) FailDeleteNamespace(err error) {
	s.mu.Lock()
	s.deleteNamespaceErr = err
	s.mu.Unlock()
}

// Get implements store.Store.
func (s *MockStore) Get(ctx context.Context, key store.Key) ([]byte, error) {
	s.Gets.Add(1)
	s.mu.Lock()
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.mem.Get(ctx, key)
}

// Put implements store.Store.
func (s *MockStore) Put(ctx context.Context, key store.Key, data []byte) error {
	s.Puts.Add(1)
	s.mu.Lock()
	err := s.putErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.Put(ctx, key, data)
}

// Delete implements store.Store.
func (s *MockStore) Delete(ctx context.Context, key store.Key) error {
	return s.mem.Delete(ctx, key)
}

// DeleteNamespace implements store.Store.
func (s *MockStore) DeleteNamespace(ctx context.Context, patch string) error {
	s.mu.Lock()
	err := s.deleteNamespaceErr
	if err == nil {
		s.DeletedNamespace = append(s.DeletedNamespace, patch)
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.mem.DeleteNamespace(ctx, patch)
}

// Len returns the number of stored entries.
func (s *MockStore) Len() int {
	return s.mem.Len()
}

// Namespaces returns the namespaces deleted so far.
func (s *MockStore) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.DeletedNamespace...)
}
