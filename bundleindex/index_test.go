package bundleindex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"slices"
	"testing"
)

func identity(b []byte) ([]byte, error) { return b, nil }

// buildTables builds an index whose path representation is stored
// uncompressed and decodes it back into Tables.
func buildTables(t *testing.T, files map[string][3]uint32, bundles ...string) *Tables {
	t.Helper()

	b := NewBuilder()
	for _, name := range bundles {
		b.AddBundle(name, 1<<20)
	}
	for p, rec := range files {
		if err := b.AddFile(p, bundles[rec[0]], rec[1], rec[2]); err != nil {
			t.Fatalf("AddFile(%q) error = %v", p, err)
		}
	}
	data, err := b.Build(identity)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	raw, err := Decoder{}.Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	return &Tables{
		BundlesInfo: raw.BundlesInfo,
		FilesInfo:   raw.FilesInfo,
		DirsInfo:    raw.DirsInfo,
		PathReps:    raw.PathRepsBundle,
	}
}

var sampleFiles = map[string][3]uint32{
	"Data/Mods.dat64":                  {0, 0, 100},
	"Data/BaseItemTypes.dat64":         {0, 100, 50},
	"Data/Balance/Stats.dat64":         {1, 0, 10},
	"Art/2DArt/UIImages/icon.dds":      {1, 10, 20},
	"Metadata/Items/Weapons/Bow.it":    {2, 0, 30},
	"Metadata/Items/Weapons/Sword.it":  {2, 30, 30},
	"Metadata/Items/Armours/Helmet.it": {2, 60, 5},
	"README.txt":                       {0, 150, 1},
}

func TestMurmur64A(t *testing.T) {
	t.Parallel()

	if got := Murmur64A(nil, 0); got != 0 {
		t.Fatalf("Murmur64A(nil, 0) = %#x, want 0", got)
	}
	a := Murmur64A([]byte("data/mods.dat64"), HashSeed)
	if b := Murmur64A([]byte("data/mods.dat64"), HashSeed); a != b {
		t.Fatal("Murmur64A is not deterministic")
	}
	if b := Murmur64A([]byte("data/mods.dat64"), 0); a == b {
		t.Fatal("Murmur64A ignores the seed")
	}

	// Every tail length must contribute to the hash.
	seen := make(map[uint64]int)
	for n := range 17 {
		h := Murmur64A(bytes.Repeat([]byte{'x'}, n), HashSeed)
		if prev, dup := seen[h]; dup {
			t.Fatalf("lengths %d and %d collide", prev, n)
		}
		seen[h] = n
	}
}

func TestPathHashIgnoresCase(t *testing.T) {
	t.Parallel()

	want := PathHash("data/mods.dat64")
	for _, p := range []string{"Data/Mods.dat64", "DATA/MODS.DAT64"} {
		if got := PathHash(p); got != want {
			t.Fatalf("PathHash(%q) = %#x, want %#x", p, got, want)
		}
	}
	for _, p := range []string{"/data/mods.dat64", "data/mods.dat64/"} {
		if got := PathHash(p); got == want {
			t.Fatalf("PathHash(%q) matched the unslashed path", p)
		}
	}
}

func TestReadPaths(t *testing.T) {
	t.Parallel()

	var buf []byte
	buf = appendPaths(buf, "", []string{"a.txt", "b.txt"})
	buf = appendPaths(buf, "Data/Balance", []string{"Stats.dat64", "Mods.dat64"})

	got, err := ReadPaths(buf)
	if err != nil {
		t.Fatalf("ReadPaths() error = %v", err)
	}
	want := []string{"a.txt", "b.txt", "Data/Balance/Stats.dat64", "Data/Balance/Mods.dat64"}
	if !slices.Equal(got, want) {
		t.Fatalf("ReadPaths() = %q, want %q", got, want)
	}
}

func TestReadPathsMultipleBases(t *testing.T) {
	t.Parallel()

	var buf []byte
	put := func(cmd uint32, s string) {
		buf = binary.LittleEndian.AppendUint32(buf, cmd)
		if cmd != 0 {
			buf = append(append(buf, s...), 0)
		}
	}
	put(0, "")
	put(1, "Art/")
	put(1, "2DArt/") // extends base 0
	put(0, "")
	put(2, "icon.dds")
	put(3, "x.dds") // no such base, taken as-is

	got, err := ReadPaths(buf)
	if err != nil {
		t.Fatalf("ReadPaths() error = %v", err)
	}
	want := []string{"Art/2DArt/icon.dds", "x.dds"}
	if !slices.Equal(got, want) {
		t.Fatalf("ReadPaths() = %q, want %q", got, want)
	}
}

func TestReadPathsCorrupt(t *testing.T) {
	t.Parallel()

	for name, data := range map[string][]byte{
		"short command": {1, 0},
		"unterminated":  {1, 0, 0, 0, 'a', 'b'},
	} {
		if _, err := ReadPaths(data); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: ReadPaths() error = %v, want ErrCorrupt", name, err)
		}
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	if got := tables.FileCount(); got != len(sampleFiles) {
		t.Fatalf("FileCount() = %d, want %d", got, len(sampleFiles))
	}

	loc, ok, err := Decoder{}.Resolve("data/basEItemTypes.dat64", tables)
	if err != nil || !ok {
		t.Fatalf("Resolve() = %v, %v", ok, err)
	}
	want := Location{Bundle: "Data" + BundleSuffix, Offset: 100, Size: 50}
	if loc != want {
		t.Fatalf("Resolve() = %+v, want %+v", loc, want)
	}

	if _, ok, err := (Decoder{}).Resolve("Data/Missing.dat64", tables); ok || err != nil {
		t.Fatalf("Resolve(missing) = %v, %v; want false, nil", ok, err)
	}
}

func TestResolveBatch(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	locs, err := Decoder{}.ResolveBatch([]string{
		"Data/Mods.dat64",
		"nope",
		"Metadata/Items/Armours/Helmet.it",
	}, tables)
	if err != nil {
		t.Fatalf("ResolveBatch() error = %v", err)
	}
	if len(locs) != 3 {
		t.Fatalf("len = %d, want 3", len(locs))
	}
	if locs[0] == nil || locs[0].Bundle != "Data.bundle.bin" || locs[0].Size != 100 {
		t.Fatalf("locs[0] = %+v", locs[0])
	}
	if locs[1] != nil {
		t.Fatalf("locs[1] = %+v, want nil", locs[1])
	}
	if locs[2] == nil || locs[2].Bundle != "Items.bundle.bin" || locs[2].Offset != 60 {
		t.Fatalf("locs[2] = %+v", locs[2])
	}
}

func TestDirContent(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	d := Decoder{}

	content, ok, err := d.DirContent("Data", tables)
	if err != nil || !ok {
		t.Fatalf("DirContent(Data) = %v, %v", ok, err)
	}
	if want := []string{"Data/BaseItemTypes.dat64", "Data/Mods.dat64"}; !slices.Equal(content.Files, want) {
		t.Fatalf("Files = %q, want %q", content.Files, want)
	}
	if want := []string{"Data/Balance"}; !slices.Equal(content.Dirs, want) {
		t.Fatalf("Dirs = %q, want %q", content.Dirs, want)
	}

	content, ok, err = d.DirContent("metadata/items/", tables)
	if err != nil || !ok {
		t.Fatalf("DirContent(metadata/items) = %v, %v", ok, err)
	}
	if want := []string{"Metadata/Items/Armours", "Metadata/Items/Weapons"}; !slices.Equal(content.Dirs, want) {
		t.Fatalf("Dirs = %q, want %q", content.Dirs, want)
	}
	if len(content.Files) != 0 {
		t.Fatalf("Files = %q, want none", content.Files)
	}

	if _, ok, err := d.DirContent("Nowhere", tables); ok || err != nil {
		t.Fatalf("DirContent(Nowhere) = %v, %v; want false, nil", ok, err)
	}
	// A file is not a directory.
	if _, ok, _ := d.DirContent("README.txt", tables); ok {
		t.Fatal("DirContent(README.txt) ok = true")
	}
}

func TestRootDirs(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	dirs, err := Decoder{}.RootDirs(tables)
	if err != nil {
		t.Fatalf("RootDirs() error = %v", err)
	}
	if want := []string{"Art", "Data", "Metadata"}; !slices.Equal(dirs, want) {
		t.Fatalf("RootDirs() = %q, want %q", dirs, want)
	}

	root, ok, err := Decoder{}.DirContent("/", tables)
	if err != nil || !ok {
		t.Fatalf("DirContent(/) = %v, %v", ok, err)
	}
	if want := []string{"README.txt"}; !slices.Equal(root.Files, want) {
		t.Fatalf("root Files = %q, want %q", root.Files, want)
	}
}

func TestBundleNames(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	names, err := BundleNames(tables.BundlesInfo)
	if err != nil {
		t.Fatalf("BundleNames() error = %v", err)
	}
	if want := []string{"Data.bundle.bin", "Art.bundle.bin", "Items.bundle.bin"}; !slices.Equal(names, want) {
		t.Fatalf("BundleNames() = %q, want %q", names, want)
	}
}

func TestBundleNamesParsedOncePerSnapshot(t *testing.T) {
	t.Parallel()

	tables := buildTables(t, sampleFiles, "Data", "Art", "Items")
	first, err := tables.bundleNames()
	if err != nil {
		t.Fatalf("bundleNames() error = %v", err)
	}
	second, _ := tables.bundleNames()
	if &first[0] != &second[0] {
		t.Fatal("bundleNames() reparsed BundlesInfo")
	}

	var d Decoder
	for range 3 {
		loc, ok, err := d.Resolve("Data/Balance/Stats.dat64", tables)
		if err != nil || !ok {
			t.Fatalf("Resolve() = %v, %v", ok, err)
		}
		if loc.Bundle != "Art.bundle.bin" {
			t.Fatalf("Resolve().Bundle = %q, want Art.bundle.bin", loc.Bundle)
		}
	}
	after, _ := tables.bundleNames()
	if &after[0] != &first[0] {
		t.Fatal("Resolve() reparsed BundlesInfo")
	}
}

func TestDecodeCorrupt(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddBundle("Data", 10)
	if err := b.AddFile("Data/a", "Data", 0, 10); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	valid, err := b.Build(identity)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	inputs := map[string][]byte{
		"empty":           nil,
		"bundle count":    binary.LittleEndian.AppendUint32(nil, 1000),
		"truncated files": valid[:len("Data")+12+4+5],
	}
	for name, data := range inputs {
		if _, err := (Decoder{}).Decode(data); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("%s: Decode() error = %v, want ErrCorrupt", name, err)
		}
	}
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.AddBundle("Data", 10)
	if err := b.AddFile("Data/a", "Data", 0, 5); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if err := b.AddFile("DATA/A", "Data", 5, 5); err != nil {
		t.Fatalf("AddFile() error = %v", err)
	}
	if _, err := b.Build(identity); err == nil {
		t.Fatal("Build() error = nil, want duplicate path error")
	}
	if err := b.AddFile("x", "Missing", 0, 1); err == nil {
		t.Fatal("AddFile() to unknown bundle error = nil")
	}
}
