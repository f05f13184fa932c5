// Package bolt provides a bundle store backed by a single bbolt database file.
package bolt

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"go.etcd.io/bbolt"

	"github.com/meigma/patchcdn/internal/record"
	"github.com/meigma/patchcdn/store"
)

const namespacePrefix = "patch:"

// Store implements store.Store with one bucket per patch version.
type Store struct {
	db      *bbolt.DB
	logger  *slog.Logger
	noSync  bool
	timeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// Use only for testing or benchmarking.
func WithNoSync(noSync bool) Option {
	return func(s *Store) {
		s.noSync = noSync
	}
}

// WithTimeout sets how long Open waits for the file lock. Defaults to 1s.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// Open opens or creates the database at path.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{timeout: time.Second}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: s.timeout,
		NoSync:  s.noSync,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: opening database: %w", err)
	}
	s.db = db
	s.logger.Debug("opened bundle store", "path", path, "noSync", s.noSync)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements store.Store.
func (s *Store) Get(_ context.Context, key store.Key) ([]byte, error) {
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(key.Patch))
		if bucket == nil {
			return store.ErrNotExist
		}
		val := bucket.Get(entryKey(key))
		if val == nil {
			return store.ErrNotExist
		}
		// val is only valid for the life of the transaction.
		raw = make([]byte, len(val))
		copy(raw, val)
		return nil
	})
	if err != nil {
		return nil, err
	}

	data, err := record.Decode(key.String(), raw)
	if err != nil {
		s.logger.Warn("discarding invalid store entry", "key", key.String(), "error", err)
		if delErr := s.Delete(context.Background(), key); delErr != nil {
			s.logger.Warn("deleting invalid store entry", "key", key.String(), "error", delErr)
		}
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
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(key.Patch))
		if err != nil {
			return fmt.Errorf("bolt: creating bucket: %w", err)
		}
		if err := bucket.Put(entryKey(key), b); err != nil {
			return fmt.Errorf("bolt: putting %s: %w", key, err)
		}
		return nil
	})
}

// Delete implements store.Store.
func (s *Store) Delete(_ context.Context, key store.Key) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketName(key.Patch))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(entryKey(key))
	})
}

// DeleteNamespace implements store.Store.
func (s *Store) DeleteNamespace(_ context.Context, patch string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		name := bucketName(patch)
		if tx.Bucket(name) == nil {
			return nil
		}
		if err := tx.DeleteBucket(name); err != nil {
			return fmt.Errorf("bolt: deleting namespace %q: %w", patch, err)
		}
		return nil
	})
}

// Namespaces returns the patch versions that have a bucket.
func (s *Store) Namespaces() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			if n := string(name); len(n) >= len(namespacePrefix) && n[:len(namespacePrefix)] == namespacePrefix {
				out = append(out, n[len(namespacePrefix):])
			}
			return nil
		})
	})
	return out, err
}

func bucketName(patch string) []byte {
	return []byte(namespacePrefix + patch)
}

func entryKey(key store.Key) []byte {
	return []byte(path.Join(key.Dir, key.Name))
}

var _ store.Store = (*Store)(nil)
