package patchcdn

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/patchcdn/bundle"
	"github.com/meigma/patchcdn/internal/testutil"
)

// fileData returns deterministic content longer than one test block.
func fileData(name string, n int) []byte {
	return bytes.Repeat([]byte(name+";"), n)
}

// testLayout places data/a and data/b in B1 and data/c in B2.
func testLayout(version string) map[string][]testutil.TestFile {
	return map[string][]testutil.TestFile{
		"B1": {
			{Path: "Data/a.dat64", Data: fileData(version+"/a", 40)},
			{Path: "Data/b.dat64", Data: fileData(version+"/b", 25)},
		},
		"B2": {
			{Path: "Data/c.dat64", Data: fileData(version+"/c", 60)},
			{Path: "Data/notes.txt", Data: []byte("notes")},
		},
		"Art": {
			{Path: "Art/UI/icon.dds", Data: fileData(version+"/icon", 10)},
			{Path: "Art/UI/Fonts/main.ttf", Data: fileData(version+"/font", 3)},
		},
		"Root": {
			{Path: "README.txt", Data: []byte("readme " + version)},
		},
	}
}

type testEnv struct {
	cdn     *testutil.CDN
	store   *testutil.MockStore
	loader  *BundleLoader
	index   *Index
	patches map[string]*testutil.Patch
}

// newTestEnv serves versions "v1" and "v2" from a fake CDN and returns an
// unloaded index over a loader set to v1.
func newTestEnv(t *testing.T, enc bundle.Encoding, opts ...LoaderOption) *testEnv {
	t.Helper()

	env := &testEnv{
		cdn:     testutil.NewCDN(t),
		store:   testutil.NewMockStore(),
		patches: make(map[string]*testutil.Patch),
	}
	for _, v := range []string{"v1", "v2"} {
		p := testutil.BuildPatch(t, enc, testLayout(v))
		env.patches[v] = p
		env.cdn.AddPatch(v, p)
	}

	opts = append([]LoaderOption{WithStore(env.store)}, opts...)
	loader, err := NewBundleLoader(env.cdn.URL(), opts...)
	require.NoError(t, err)
	require.NoError(t, loader.SetPatch(context.Background(), "v1"))
	env.loader = loader
	env.index = NewIndex(loader)
	return env
}

func (env *testEnv) bundlePath(version, name string) string {
	return fmt.Sprintf("/%s/Bundles2/%s", version, name)
}

func (env *testEnv) bundle(version, name string) []byte {
	return env.patches[version].Bundles[name]
}
