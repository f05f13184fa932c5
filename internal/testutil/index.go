package testutil

import (
	"testing"

	"github.com/meigma/patchcdn/bundle"
	"github.com/meigma/patchcdn/bundleindex"
)

// TestFile is a file placed in a test bundle.
type TestFile struct {
	Path string
	Data []byte
}

// Patch is a complete set of CDN files for one patch version.
type Patch struct {
	// Bundles maps CDN file names, including IndexBundleName, to their bytes.
	Bundles map[string][]byte

	// Files maps each file path to its uncompressed content.
	Files map[string][]byte
}

// TestGranularity is the block size of test bundles. It is small so that
// files span several blocks.
const TestGranularity = 64

// BuildPatch encodes layout, a map from bundle name (without suffix) to the
// files it contains, into content bundles and an index bundle.
func BuildPatch(tb testing.TB, enc bundle.Encoding, layout map[string][]TestFile) *Patch {
	tb.Helper()

	p := &Patch{
		Bundles: make(map[string][]byte),
		Files:   make(map[string][]byte),
	}
	b := bundleindex.NewBuilder()
	for name, files := range layout {
		var content []byte
		for _, f := range files {
			content = append(content, f.Data...)
		}
		b.AddBundle(name, uint32(len(content)))

		var off uint32
		for _, f := range files {
			if err := b.AddFile(f.Path, name, off, uint32(len(f.Data))); err != nil {
				tb.Fatalf("AddFile(%q) error = %v", f.Path, err)
			}
			off += uint32(len(f.Data))
			p.Files[f.Path] = f.Data
		}

		data, err := bundle.Encode(content, enc, bundle.WithGranularity(TestGranularity))
		if err != nil {
			tb.Fatalf("Encode(%s) error = %v", name, err)
		}
		p.Bundles[name+bundleindex.BundleSuffix] = data
	}

	compress := func(data []byte) ([]byte, error) {
		return bundle.Encode(data, enc, bundle.WithGranularity(TestGranularity))
	}
	indexData, err := b.Build(compress)
	if err != nil {
		tb.Fatalf("Build() error = %v", err)
	}
	indexBundle, err := compress(indexData)
	if err != nil {
		tb.Fatalf("Encode(index) error = %v", err)
	}
	p.Bundles["_.index.bin"] = indexBundle
	return p
}
