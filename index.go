package patchcdn

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/meigma/patchcdn/bundle"
	"github.com/meigma/patchcdn/bundleindex"
)

// Index resolves file paths against the root index bundle of a patch.
//
// Queries read the current [Tables] snapshot once and never block. LoadIndex
// builds a complete new snapshot before swapping it in, so readers see either
// the old tables or the new ones.
type Index struct {
	loader  *BundleLoader
	codec   Codec
	decoder TableDecoder
	metrics MetricsRecorder
	logger  *slog.Logger

	tables atomic.Pointer[Tables]

	watchMu   sync.Mutex
	watchers  map[int]func(*Tables)
	nextWatch int
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithIndexCodec sets the bundle codec. Defaults to bundle.NewCodec().
func WithIndexCodec(c Codec) IndexOption {
	return func(idx *Index) {
		idx.codec = c
	}
}

// WithIndexDecoder sets the table decoder. Defaults to bundleindex.Decoder.
func WithIndexDecoder(d TableDecoder) IndexOption {
	return func(idx *Index) {
		idx.decoder = d
	}
}

// WithIndexMetrics sets the metrics recorder.
func WithIndexMetrics(m MetricsRecorder) IndexOption {
	return func(idx *Index) {
		idx.metrics = m
	}
}

// WithIndexLogger sets the logger. A nil logger discards output.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(idx *Index) {
		idx.logger = logger
	}
}

// NewIndex creates an unloaded Index that fetches bundles through loader.
func NewIndex(loader *BundleLoader, opts ...IndexOption) *Index {
	idx := &Index{
		loader:   loader,
		watchers: make(map[int]func(*Tables)),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.codec == nil {
		idx.codec = bundle.NewCodec()
	}
	if idx.decoder == nil {
		idx.decoder = bundleindex.Decoder{}
	}
	if idx.metrics == nil {
		idx.metrics = nopMetrics{}
	}
	if idx.logger == nil {
		idx.logger = slog.New(slog.DiscardHandler)
	}
	return idx
}

// LoadIndex fetches and decodes the index bundle of the loader's current
// patch and publishes the result. On error the previous snapshot is kept.
func (idx *Index) LoadIndex(ctx context.Context) error {
	start := idx.loader.clock.Now()

	data, err := idx.loader.FetchFile(ctx, IndexBundleName)
	if err != nil {
		return err
	}
	content, err := idx.codec.Decompress(data)
	if err != nil {
		return decodeError(fmt.Errorf("index bundle: %w", err))
	}
	raw, err := idx.decoder.Decode(content)
	if err != nil {
		return decodeError(err)
	}
	pathReps, err := idx.codec.Decompress(raw.PathRepsBundle)
	if err != nil {
		return decodeError(fmt.Errorf("path representation: %w", err))
	}

	t := &Tables{
		BundlesInfo: raw.BundlesInfo,
		FilesInfo:   raw.FilesInfo,
		DirsInfo:    raw.DirsInfo,
		PathReps:    pathReps,
	}
	idx.tables.Store(t)

	elapsed := idx.loader.clock.Now().Sub(start)
	idx.metrics.IndexLoaded(t.FileCount(), t.DirCount(), elapsed)
	idx.logger.Info("index loaded",
		"patch", idx.loader.Patch(),
		"files", t.FileCount(),
		"dirs", t.DirCount(),
		"duration", elapsed,
	)
	idx.notify(t)
	return nil
}

// IsLoaded reports whether a snapshot has been published.
func (idx *Index) IsLoaded() bool {
	return idx.tables.Load() != nil
}

// Tables returns the current snapshot, or nil before the first load.
func (idx *Index) Tables() *Tables {
	return idx.tables.Load()
}

// LoadFileContent returns the decompressed bytes of the file at path.
func (idx *Index) LoadFileContent(ctx context.Context, path string) ([]byte, error) {
	t := idx.tables.Load()
	if t == nil {
		return nil, ErrNotLoaded
	}
	loc, ok, err := idx.decoder.Resolve(path, t)
	if err != nil {
		return nil, decodeError(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	data, err := idx.loader.FetchFile(ctx, loc.Bundle)
	if err != nil {
		return nil, err
	}
	content, err := idx.codec.DecompressRange(data, int(loc.Offset), int(loc.Size))
	if err != nil {
		return nil, decodeError(fmt.Errorf("%s in %s: %w", path, loc.Bundle, err))
	}
	return content, nil
}

// GetFileInfo resolves path without fetching its bundle.
func (idx *Index) GetFileInfo(path string) (FileLocation, error) {
	t := idx.tables.Load()
	if t == nil {
		return FileLocation{}, ErrNotLoaded
	}
	loc, ok, err := idx.decoder.Resolve(path, t)
	if err != nil {
		return FileLocation{}, decodeError(err)
	}
	if !ok {
		return FileLocation{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return loc, nil
}

// GetDirContent lists the files and subdirectories directly under path.
func (idx *Index) GetDirContent(path string) (DirContent, error) {
	t := idx.tables.Load()
	if t == nil {
		return DirContent{}, ErrNotLoaded
	}
	content, ok, err := idx.decoder.DirContent(path, t)
	if err != nil {
		return DirContent{}, decodeError(err)
	}
	if !ok {
		return DirContent{}, fmt.Errorf("%w: directory %s", ErrNotFound, path)
	}
	return content, nil
}

// GetRootDirs returns the top-level directories of the index.
func (idx *Index) GetRootDirs() ([]string, error) {
	t := idx.tables.Load()
	if t == nil {
		return nil, ErrNotLoaded
	}
	dirs, err := idx.decoder.RootDirs(t)
	if err != nil {
		return nil, decodeError(err)
	}
	return dirs, nil
}

// GetBatchFileInfo resolves every path against one snapshot. The result has
// one entry per path, nil where the path is not in the index.
func (idx *Index) GetBatchFileInfo(paths []string) ([]*FileLocation, error) {
	t := idx.tables.Load()
	if t == nil {
		return nil, ErrNotLoaded
	}
	locs, err := idx.decoder.ResolveBatch(paths, t)
	if err != nil {
		return nil, decodeError(err)
	}
	return locs, nil
}

// Watch registers fn to be called with every newly published snapshot.
// Calling the returned function unregisters fn.
func (idx *Index) Watch(fn func(*Tables)) (cancel func()) {
	idx.watchMu.Lock()
	id := idx.nextWatch
	idx.nextWatch++
	idx.watchers[id] = fn
	idx.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			idx.watchMu.Lock()
			delete(idx.watchers, id)
			idx.watchMu.Unlock()
		})
	}
}

func (idx *Index) notify(t *Tables) {
	idx.watchMu.Lock()
	fns := make([]func(*Tables), 0, len(idx.watchers))
	for _, fn := range idx.watchers {
		fns = append(fns, fn)
	}
	idx.watchMu.Unlock()

	for _, fn := range fns {
		fn(t)
	}
}
