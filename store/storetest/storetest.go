// Package storetest provides a behavioural test suite shared by every
// store.Store implementation.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/patchcdn/store"
)

// Run exercises s against the store.Store contract. s must start empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		_, err := s.Get(ctx, store.BundleKey("none", "a.bundle.bin"))
		require.ErrorIs(t, err, store.ErrNotExist)
	})

	t.Run("round trip", func(t *testing.T) {
		key := store.BundleKey("rt", "Folder/a.bundle.bin")
		data := bytes.Repeat([]byte("bundle"), 1000)
		require.NoError(t, s.Put(ctx, key, data))

		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, data, got)

		require.NoError(t, s.Put(ctx, key, []byte("replaced")))
		got, err = s.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, []byte("replaced"), got)
	})

	t.Run("empty value", func(t *testing.T) {
		key := store.BundleKey("rt", "empty.bundle.bin")
		require.NoError(t, s.Put(ctx, key, nil))
		got, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("delete", func(t *testing.T) {
		key := store.BundleKey("del", "a.bundle.bin")
		require.NoError(t, s.Put(ctx, key, []byte("x")))
		require.NoError(t, s.Delete(ctx, key))
		_, err := s.Get(ctx, key)
		require.ErrorIs(t, err, store.ErrNotExist)
		require.NoError(t, s.Delete(ctx, key), "deleting a missing key")
	})

	t.Run("delete namespace", func(t *testing.T) {
		old := []store.Key{
			store.BundleKey("1.0", "_.index.bin"),
			store.BundleKey("1.0", "Data.bundle.bin"),
		}
		kept := store.BundleKey("1.1", "_.index.bin")
		for _, k := range old {
			require.NoError(t, s.Put(ctx, k, []byte(k.String())))
		}
		require.NoError(t, s.Put(ctx, kept, []byte("new")))

		require.NoError(t, s.DeleteNamespace(ctx, "1.0"))
		for _, k := range old {
			_, err := s.Get(ctx, k)
			require.ErrorIs(t, err, store.ErrNotExist, k.String())
		}
		got, err := s.Get(ctx, kept)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)

		require.NoError(t, s.DeleteNamespace(ctx, "never-written"))
	})

	t.Run("concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				key := store.BundleKey("conc", fmt.Sprintf("b%d.bundle.bin", i))
				data := []byte(key.String())
				assert.NoError(t, s.Put(ctx, key, data))
				got, err := s.Get(ctx, key)
				assert.NoError(t, err)
				assert.Equal(t, data, got)
			}()
		}
		wg.Wait()
	})
}
