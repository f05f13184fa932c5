package patchcdn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	cdnhttp "github.com/meigma/patchcdn/http"
	"github.com/meigma/patchcdn/internal/ttlcache"
	"github.com/meigma/patchcdn/store"
)

// BundleLoader fetches bundles for the current patch version through a
// memory tier, a persistent store and the CDN, in that order.
//
// BundleLoader is safe for concurrent use.
type BundleLoader struct {
	baseURL    string
	fetcher    Fetcher
	store      store.Store
	ttl        time.Duration
	clock      clock.Clock
	globalSlot bool
	advisory   func(*NetworkError)
	metrics    MetricsRecorder
	logger     *slog.Logger

	memory  *ttlcache.Cache[string, []byte]
	flights singleflight.Group
	slot    *semaphore.Weighted // nil unless globalSlot

	// gate is held shared by every FetchFile and exclusively by SetPatch.
	// patch is only written under the exclusive gate but may be read
	// without it, so hooks running inside FetchFile can call Patch.
	gate  sync.RWMutex
	patch atomic.Pointer[string]

	progress progressState

	memoryHits     atomic.Int64
	storeHits      atomic.Int64
	networkFetches atomic.Int64
	failures       atomic.Int64
}

// LoaderStats counts where FetchFile results came from.
type LoaderStats struct {
	MemoryHits     int64
	StoreHits      int64
	NetworkFetches int64
	Failures       int64
}

// NewBundleLoader creates a loader for the CDN rooted at baseURL.
// SetPatch must be called before the first FetchFile.
func NewBundleLoader(baseURL string, opts ...LoaderOption) (*BundleLoader, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("patchcdn: invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("patchcdn: base URL %q must be absolute", baseURL)
	}

	l := &BundleLoader{
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.ttl <= 0 {
		return nil, errors.New("patchcdn: memory TTL must be positive")
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.store == nil {
		l.store = store.NewMemory()
	}
	if l.fetcher == nil {
		l.fetcher = cdnhttp.NewFetcher()
	}
	if l.metrics == nil {
		l.metrics = nopMetrics{}
	}
	if l.advisory == nil {
		l.advisory = func(err *NetworkError) {
			l.logger.Warn(AdvisoryMessage, "bundle", err.Bundle, "error", err)
		}
	}
	if l.globalSlot {
		l.slot = semaphore.NewWeighted(1)
	}
	l.memory = ttlcache.New[string, []byte](l.ttl, ttlcache.WithClock(l.clock))
	return l, nil
}

// SetPatch switches the loader to version. It waits for in-flight fetches to
// finish, then drops the memory tier and the persistent namespace of the
// previous version. If the namespace cannot be dropped the previous version
// stays current and the error is returned.
func (l *BundleLoader) SetPatch(ctx context.Context, version string) error {
	if version == "" {
		return errors.New("patchcdn: empty patch version")
	}
	l.gate.Lock()
	defer l.gate.Unlock()

	prev := l.Patch()
	if prev == version {
		return nil
	}
	if prev != "" {
		l.memory.Clear()
		if err := l.store.DeleteNamespace(ctx, prev); err != nil {
			return fmt.Errorf("patchcdn: dropping cache of patch %q: %w", prev, err)
		}
	}
	l.patch.Store(&version)
	l.metrics.PatchChanged(version)
	l.logger.Info("patch version set", "version", version, "previous", prev)
	return nil
}

// Patch returns the current patch version.
func (l *BundleLoader) Patch() string {
	if p := l.patch.Load(); p != nil {
		return *p
	}
	return ""
}

// FetchFile returns the complete bytes of bundle name for the current patch.
// The returned slice is shared and must not be modified.
//
// A failed download is reported as a *NetworkError and is not retried.
func (l *BundleLoader) FetchFile(ctx context.Context, name string) ([]byte, error) {
	l.gate.RLock()
	defer l.gate.RUnlock()

	patch := l.Patch()
	if patch == "" {
		return nil, ErrNoPatch
	}

	for {
		if data, ok := l.fromMemory(name); ok {
			return data, nil
		}

		if l.slot != nil {
			return l.loadInSlot(ctx, patch, name)
		}

		v, err, _ := l.flights.Do(name, func() (any, error) {
			// A flight that finished between our memory check and Do has
			// already filled the memory tier.
			if data, ok := l.fromMemory(name); ok {
				return data, nil
			}
			return l.load(ctx, patch, name)
		})
		if err != nil {
			// The flight we joined was canceled by its owner; ours is still live.
			if isContextError(err) && ctx.Err() == nil {
				continue
			}
			return nil, err
		}
		return v.([]byte), nil
	}
}

// Progress returns the latest download progress and whether a download is
// running.
func (l *BundleLoader) Progress() (DownloadProgress, bool) {
	p := l.progress.snapshot()
	return p, p.IsDownloading
}

// Stats returns counters of where fetched bundles came from.
func (l *BundleLoader) Stats() LoaderStats {
	return LoaderStats{
		MemoryHits:     l.memoryHits.Load(),
		StoreHits:      l.storeHits.Load(),
		NetworkFetches: l.networkFetches.Load(),
		Failures:       l.failures.Load(),
	}
}

// fromMemory returns name from the memory tier. Empty entries are misses.
func (l *BundleLoader) fromMemory(name string) ([]byte, bool) {
	data, ok := l.memory.Get(name)
	if !ok || len(data) == 0 {
		return nil, false
	}
	l.memoryHits.Add(1)
	l.metrics.BundleServed(SourceMemory, len(data))
	l.logger.Debug("bundle served", "bundle", name, "source", SourceMemory)
	return data, true
}

// loadInSlot waits for the global fetch slot and holds it until name is
// loaded. A download finished by the previous holder is served from memory.
func (l *BundleLoader) loadInSlot(ctx context.Context, patch, name string) ([]byte, error) {
	if err := l.slot.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.slot.Release(1)

	if data, ok := l.fromMemory(name); ok {
		return data, nil
	}
	return l.load(ctx, patch, name)
}

// load reads name from the persistent store or the CDN and fills the memory
// tier. Only one load per bundle runs at a time.
func (l *BundleLoader) load(ctx context.Context, patch, name string) ([]byte, error) {
	key := store.BundleKey(patch, name)

	data, err := l.store.Get(ctx, key)
	switch {
	case err == nil:
		l.storeHits.Add(1)
		l.memory.Set(name, data)
		l.metrics.BundleServed(SourceStore, len(data))
		l.logger.Debug("bundle served", "bundle", name, "source", SourceStore)
		return data, nil
	case errors.Is(err, store.ErrNotExist):
	default:
		l.logger.Warn("store read failed, downloading instead", "key", key.String(), "error", err)
	}

	data, err = l.download(ctx, key)
	if err != nil {
		return nil, err
	}

	// The bytes are complete; persist them even if the caller gave up.
	if err := l.store.Put(context.WithoutCancel(ctx), key, data); err != nil {
		l.logger.Warn("store write failed", "key", key.String(), "error", err)
	}
	l.memory.Set(name, data)
	l.metrics.BundleServed(SourceNetwork, len(data))
	l.logger.Debug("bundle served", "bundle", name, "source", SourceNetwork, "size", len(data))
	return data, nil
}

func (l *BundleLoader) download(ctx context.Context, key store.Key) ([]byte, error) {
	name := key.Name
	u := l.baseURL + "/" + key.String()
	start := l.clock.Now()

	l.progress.update(DownloadProgress{BundleName: name, IsDownloading: true})
	data, err := l.fetcher.Fetch(ctx, u, func(received, total int64) {
		l.progress.update(DownloadProgress{
			BundleName:    name,
			TotalSize:     total,
			Received:      received,
			IsDownloading: true,
		})
	})
	l.progress.finish(name)

	if err != nil {
		netErr := &NetworkError{Bundle: name, URL: u, Err: err}
		var statusErr *cdnhttp.StatusError
		if errors.As(err, &statusErr) {
			netErr.StatusCode = statusErr.StatusCode
		}
		l.failures.Add(1)
		l.metrics.FetchFailed()
		if ctx.Err() == nil {
			l.advisory(netErr)
		}
		return nil, netErr
	}

	l.networkFetches.Add(1)
	l.metrics.Downloaded(int64(len(data)), l.clock.Now().Sub(start))
	return data, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
