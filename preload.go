package patchcdn

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const (
	// DataDir is the directory that holds the game's data tables.
	DataDir = "data"

	// DataTableExt is the extension of 64-bit data tables.
	DataTableExt = ".dat64"
)

// PreloadResult reports the outcome for one requested path.
type PreloadResult struct {
	Path     string
	Location *FileLocation // nil when the path is not in the index
	Data     []byte        // nil when a visit function consumed the bytes
	Err      error
}

// PreloadOption configures Preload.
type PreloadOption func(*preloadConfig)

type preloadConfig struct {
	concurrency int
	visit       func(path string, data []byte) error
}

// WithPreloadConcurrency sets how many bundles are fetched at once.
// Defaults to 1, which fetches bundles sequentially.
func WithPreloadConcurrency(n int) PreloadOption {
	return func(cfg *preloadConfig) {
		cfg.concurrency = n
	}
}

// WithPreloadVisit passes each file's bytes to fn instead of retaining them
// in the results. An error from fn is recorded for that path only.
// fn is called from multiple goroutines when concurrency is above 1.
func WithPreloadVisit(fn func(path string, data []byte) error) PreloadOption {
	return func(cfg *preloadConfig) {
		cfg.visit = fn
	}
}

// Preload reads many files with each owning bundle fetched at most once.
//
// The result has one entry per path in input order. Failures are recorded
// per path and never stop the other paths. The returned error is non-nil only
// when the index is not loaded or ctx ends before all bundles were visited.
func Preload(ctx context.Context, idx *Index, paths []string, opts ...PreloadOption) ([]PreloadResult, error) {
	cfg := preloadConfig{concurrency: 1}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.concurrency < 1 {
		cfg.concurrency = 1
	}

	locs, err := idx.GetBatchFileInfo(paths)
	if err != nil {
		return nil, err
	}

	results := make([]PreloadResult, len(paths))
	var (
		order    []string
		byBundle = make(map[string][]int)
	)
	for i, p := range paths {
		results[i] = PreloadResult{Path: p, Location: locs[i]}
		if locs[i] == nil {
			results[i].Err = fmt.Errorf("%w: %s", ErrNotFound, p)
			continue
		}
		b := locs[i].Bundle
		if _, seen := byBundle[b]; !seen {
			order = append(order, b)
		}
		byBundle[b] = append(byBundle[b], i)
	}

	var g errgroup.Group
	g.SetLimit(cfg.concurrency)
	for _, name := range order {
		members := byBundle[name]
		g.Go(func() error {
			idx.preloadBundle(ctx, name, members, results, cfg.visit)
			return nil
		})
	}
	_ = g.Wait()

	idx.logger.Debug("preload finished", "paths", len(paths), "bundles", len(order))
	return results, ctx.Err()
}

// preloadBundle fetches one bundle and fills results for the paths it owns.
// Each goroutine writes a disjoint set of result entries.
func (idx *Index) preloadBundle(ctx context.Context, name string, members []int, results []PreloadResult, visit func(string, []byte) error) {
	data, err := idx.loader.FetchFile(ctx, name)
	if err != nil {
		for _, i := range members {
			results[i].Err = err
		}
		return
	}
	for _, i := range members {
		loc := results[i].Location
		content, err := idx.codec.DecompressRange(data, int(loc.Offset), int(loc.Size))
		if err != nil {
			results[i].Err = decodeError(fmt.Errorf("%s in %s: %w", results[i].Path, name, err))
			continue
		}
		if visit != nil {
			results[i].Err = visit(results[i].Path, content)
			continue
		}
		results[i].Data = content
	}
}

// DataTables lists the files with extension ext directly under dir.
// Empty arguments default to DataDir and DataTableExt.
func DataTables(idx *Index, dir, ext string) ([]string, error) {
	if dir == "" {
		dir = DataDir
	}
	if ext == "" {
		ext = DataTableExt
	}
	content, err := idx.GetDirContent(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, f := range content.Files {
		if strings.HasSuffix(strings.ToLower(f), strings.ToLower(ext)) {
			out = append(out, f)
		}
	}
	return out, nil
}
