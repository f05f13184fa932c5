package patchcdn

import (
	"log/slog"
	"time"

	"github.com/facebookgo/clock"

	"github.com/meigma/patchcdn/store"
)

// LoaderOption configures a BundleLoader.
type LoaderOption func(*BundleLoader)

// WithStore sets the persistent tier. Defaults to an in-process store.Memory.
func WithStore(s store.Store) LoaderOption {
	return func(l *BundleLoader) {
		l.store = s
	}
}

// WithFetcher sets how bundles are downloaded. Defaults to an http.Fetcher
// using http.DefaultClient.
func WithFetcher(f Fetcher) LoaderOption {
	return func(l *BundleLoader) {
		l.fetcher = f
	}
}

// WithTTL sets how long an unused bundle stays in the memory tier.
// Defaults to DefaultTTL.
func WithTTL(d time.Duration) LoaderOption {
	return func(l *BundleLoader) {
		l.ttl = d
	}
}

// WithClock sets the clock used for memory expiry and download timing.
func WithClock(c clock.Clock) LoaderOption {
	return func(l *BundleLoader) {
		l.clock = c
	}
}

// WithGlobalFetchSlot limits the loader to one download at a time across all
// bundles. A caller that finds the slot taken waits for it to free up and
// then checks the memory tier again before downloading.
//
// By default downloads are coordinated per bundle: concurrent requests for
// one bundle share a download while different bundles download in parallel.
func WithGlobalFetchSlot() LoaderOption {
	return func(l *BundleLoader) {
		l.globalSlot = true
	}
}

// WithProgress registers fn to receive every progress update.
// fn must be safe for concurrent calls and must not block. It runs inside
// FetchFile, so it may call Patch, Progress and Stats but must not call
// FetchFile or SetPatch.
func WithProgress(fn func(DownloadProgress)) LoaderOption {
	return func(l *BundleLoader) {
		l.progress.onChange = fn
	}
}

// WithAdvisory sets the callback invoked when a download fails. The default
// logs AdvisoryMessage at warn level. Like the progress hook, fn runs inside
// FetchFile and must not call FetchFile or SetPatch.
func WithAdvisory(fn func(err *NetworkError)) LoaderOption {
	return func(l *BundleLoader) {
		l.advisory = fn
	}
}

// WithMetrics sets the metrics recorder. Its methods run inside FetchFile and
// SetPatch and must not call back into the loader.
func WithMetrics(m MetricsRecorder) LoaderOption {
	return func(l *BundleLoader) {
		l.metrics = m
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *BundleLoader) {
		l.logger = logger
	}
}
