package patchcdn

import (
	"context"
	"time"

	"github.com/meigma/patchcdn/bundleindex"
	cdnhttp "github.com/meigma/patchcdn/http"
)

// Re-export index types from bundleindex for the public API.
type (
	// Tables is an immutable decoded index snapshot.
	Tables = bundleindex.Tables

	// FileLocation is the bundle and decompressed byte range holding a file.
	FileLocation = bundleindex.Location

	// DirContent lists the direct children of a directory as full paths.
	DirContent = bundleindex.DirContent

	// RawIndex holds the sections of a decompressed index bundle.
	RawIndex = bundleindex.RawIndex
)

const (
	// IndexBundleName is the CDN file name of the root index bundle.
	IndexBundleName = "_.index.bin"

	// DefaultTTL is how long an unused bundle stays in the memory tier.
	DefaultTTL = 20 * time.Second

	// AdvisoryMessage is reported when a bundle download fails, since the
	// usual cause is a patch version the CDN does not serve.
	AdvisoryMessage = "You may need to adjust the patch version."
)

// Codec decompresses bundles.
type Codec interface {
	// Decompress returns the whole decompressed content of bundle.
	Decompress(bundle []byte) ([]byte, error)

	// DecompressRange returns content bytes [offset, offset+size) of bundle.
	DecompressRange(bundle []byte, offset, size int) ([]byte, error)
}

// TableDecoder splits an index into tables and answers path queries on them.
type TableDecoder interface {
	Decode(index []byte) (RawIndex, error)
	Resolve(path string, t *Tables) (FileLocation, bool, error)
	ResolveBatch(paths []string, t *Tables) ([]*FileLocation, error)
	DirContent(dir string, t *Tables) (DirContent, bool, error)
	RootDirs(t *Tables) ([]string, error)
}

// Fetcher downloads a URL into a complete buffer, reporting progress.
type Fetcher interface {
	Fetch(ctx context.Context, url string, progress cdnhttp.ProgressFunc) ([]byte, error)
}

// MetricsRecorder observes loader and index activity.
// Implementations must be safe for concurrent calls.
type MetricsRecorder interface {
	BundleServed(source string, size int)
	FetchFailed()
	Downloaded(bytes int64, d time.Duration)
	PatchChanged(version string)
	IndexLoaded(files, dirs int, d time.Duration)
}

// Sources reported to MetricsRecorder.BundleServed.
const (
	SourceMemory  = "memory"
	SourceStore   = "store"
	SourceNetwork = "network"
)

type nopMetrics struct{}

func (nopMetrics) BundleServed(string, int)            {}
func (nopMetrics) FetchFailed()                        {}
func (nopMetrics) Downloaded(int64, time.Duration)     {}
func (nopMetrics) PatchChanged(string)                 {}
func (nopMetrics) IndexLoaded(int, int, time.Duration) {}
