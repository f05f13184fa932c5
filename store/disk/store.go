// Package disk provides a filesystem-backed bundle store.
package disk

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/patchcdn/internal/record"
	"github.com/meigma/patchcdn/store"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
)

// Store implements store.Store on the local filesystem.
//
// Each patch version gets its own namespace directory named by the digest of
// the version string. Entries are sharded by the hex prefix of the digest of
// their key and written atomically through a temp file and rename. Content is
// wrapped in a record envelope; entries that fail verification are removed
// and reported as missing.
//
// The store is safe for concurrent use.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
	maxBytes       int64
	bytes          atomic.Int64
	pruneMu        sync.Mutex
	log            *slog.Logger

	// active is the namespace dir of the most recent Put. Prune drains
	// other namespaces before touching it.
	active atomic.Pointer[string]
}

// Option configures a disk store.
type Option func(*Store)

// WithShardPrefixLen sets the number of hex characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the directory permissions used for store directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// WithMaxBytes sets the maximum store size in bytes. Entries of older patch
// namespaces are pruned first, then the oldest entries of the current one.
// Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(s *Store) {
		s.maxBytes = n
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.log = logger
	}
}

// New creates a disk store rooted at dir.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("disk: store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("disk: shard prefix length must be >= 0")
	}
	if s.maxBytes < 0 {
		return nil, errors.New("disk: max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	s.bytes.Store(size)
	return s, nil
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key store.Key) ([]byte, error) {
	path := s.path(key)
	b, err := os.ReadFile(path) //nolint:gosec // path is derived from a digest, not user input
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, store.ErrNotExist
		}
		return nil, err
	}
	data, err := record.Decode(key.String(), b)
	if err != nil {
		s.log.Warn("discarding invalid store entry", "key", key.String(), "error", err)
		_ = s.remove(path)
		return nil, store.ErrNotExist
	}
	return data, nil
}

// Put implements store.Store.
func (s *Store) Put(_ context.Context, key store.Key, data []byte) error {
	b, err := record.Encode(key.String(), data)
	if err != nil {
		return err
	}
	ns := s.namespaceDir(key.Patch)
	s.active.Store(&ns)
	if ok, err := s.ensureCapacity(int64(len(b))); err != nil {
		return err
	} else if !ok {
		s.log.Debug("bundle larger than store limit, not stored", "key", key.String(), "size", len(b))
		return nil
	}

	path := s.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, s.dirPerm); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	var previous int64
	if info, err := os.Stat(path); err == nil {
		previous = info.Size()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	s.bytes.Add(int64(len(b)) - previous)
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, key store.Key) error {
	return s.remove(s.path(key))
}

// DeleteNamespace implements store.Store.
func (s *Store) DeleteNamespace(_ context.Context, patch string) error {
	ns := s.namespaceDir(patch)
	size, err := dirSize(ns)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(ns); err != nil {
		return err
	}
	s.bytes.Add(-size)
	return nil
}

// MaxBytes returns the configured size limit (0 = unlimited).
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// SizeBytes returns the current store size in bytes.
func (s *Store) SizeBytes() int64 {
	return s.bytes.Load()
}

// Prune removes entries until the store is at or below targetBytes. Entries
// outside the namespace of the most recent Put go first, oldest first within
// each group. Files still being written are never removed. It returns the
// number of bytes freed.
func (s *Store) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	s.pruneMu.Lock()
	defer s.pruneMu.Unlock()

	var activeNS string
	if ns := s.active.Load(); ns != nil {
		activeNS = *ns
	}
	freed, remaining, err := pruneDir(s.dir, activeNS, targetBytes)
	if err != nil {
		return 0, err
	}
	s.bytes.Store(remaining)
	return freed, nil
}

func (s *Store) remove(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	s.bytes.Add(-info.Size())
	return nil
}

func (s *Store) namespaceDir(patch string) string {
	return filepath.Join(s.dir, digest.FromString(patch).Encoded())
}

func (s *Store) path(key store.Key) string {
	name := digest.FromString(key.String()).Encoded()
	ns := s.namespaceDir(key.Patch)
	if s.shardPrefixLen <= 0 {
		return filepath.Join(ns, name)
	}
	prefixLen := min(s.shardPrefixLen, len(name))
	return filepath.Join(ns, name[:prefixLen], name)
}

func (s *Store) ensureCapacity(need int64) (bool, error) {
	if s.maxBytes <= 0 {
		return true, nil
	}
	if need > s.maxBytes {
		return false, nil
	}
	if s.SizeBytes()+need <= s.maxBytes {
		return true, nil
	}
	if _, err := s.Prune(s.maxBytes - need); err != nil {
		return false, err
	}
	return s.SizeBytes()+need <= s.maxBytes, nil
}

var _ store.Store = (*Store)(nil)
