// Package store defines the persistent tier of the bundle cache.
//
// Entries are grouped into namespaces, one per patch version, so a version
// switch can drop everything written for the previous version at once.
package store

import (
	"context"
	"errors"
	"path"
)

// BundleDir is the CDN directory that holds bundles for a patch.
const BundleDir = "Bundles2"

// ErrNotExist is returned by Get when no entry exists for a key.
var ErrNotExist = errors.New("store: entry does not exist")

// Key addresses one cached bundle.
type Key struct {
	Patch string
	Dir   string
	Name  string
}

// BundleKey returns the key of bundle name under patch.
func BundleKey(patch, name string) Key {
	return Key{Patch: patch, Dir: BundleDir, Name: name}
}

// String returns the key as "patch/dir/name", matching the CDN path.
func (k Key) String() string {
	return path.Join(k.Patch, k.Dir, k.Name)
}

// Store persists complete bundles across process restarts.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the bytes stored at key, or ErrNotExist.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Put stores data at key, replacing any previous value.
	Put(ctx context.Context, key Key, data []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// DeleteNamespace removes every entry written for patch.
	DeleteNamespace(ctx context.Context, patch string) error
}
