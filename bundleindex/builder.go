package bundleindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
)

// CompressFunc compresses a section of the index into a bundle.
type CompressFunc func([]byte) ([]byte, error)

// Builder assembles a decompressed index bundle.
//
// Builder is not safe for concurrent use.
type Builder struct {
	bundles   []bundleEntry
	bundleIdx map[string]uint32
	files     []fileEntry
}

type bundleEntry struct {
	name string
	size uint32
}

type fileEntry struct {
	path   string
	hash   uint64
	bundle uint32
	offset uint32
	size   uint32
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{bundleIdx: make(map[string]uint32)}
}

// AddBundle registers a bundle by its name without [BundleSuffix].
// Adding the same name twice updates its size.
func (b *Builder) AddBundle(name string, uncompressedSize uint32) {
	if i, ok := b.bundleIdx[name]; ok {
		b.bundles[i].size = uncompressedSize
		return
	}
	b.bundleIdx[name] = uint32(len(b.bundles))
	b.bundles = append(b.bundles, bundleEntry{name: name, size: uncompressedSize})
}

// AddFile records that p lives at [offset, offset+size) of bundle.
func (b *Builder) AddFile(p, bundle string, offset, size uint32) error {
	i, ok := b.bundleIdx[bundle]
	if !ok {
		return fmt.Errorf("bundleindex: unknown bundle %q", bundle)
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return errors.New("bundleindex: empty file path")
	}
	b.files = append(b.files, fileEntry{
		path:   p,
		hash:   PathHash(p),
		bundle: i,
		offset: offset,
		size:   size,
	})
	return nil
}

// Build encodes the index. compress is applied to the path representation,
// which is stored as an embedded bundle at the end of the index.
func (b *Builder) Build(compress CompressFunc) ([]byte, error) {
	files := make([]fileEntry, len(b.files))
	copy(files, b.files)
	sort.Slice(files, func(i, j int) bool { return files[i].hash < files[j].hash })
	for i := 1; i < len(files); i++ {
		if files[i].hash == files[i-1].hash {
			return nil, fmt.Errorf("bundleindex: duplicate path %q", files[i].path)
		}
	}

	byDir := make(map[string][]fileEntry)
	for _, f := range files {
		dir := path.Dir(f.path)
		if dir == "." {
			dir = ""
		}
		byDir[dir] = append(byDir[dir], f)
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var (
		pathReps []byte
		dirRecs  []byte
	)
	for _, dir := range dirs {
		entries := byDir[dir]
		names := make([]string, len(entries))
		var recursive uint32
		for i, f := range entries {
			names[i] = path.Base(f.path)
			recursive += f.size
		}
		sort.Strings(names)

		start := len(pathReps)
		pathReps = appendPaths(pathReps, dir, names)
		dirRecs = binary.LittleEndian.AppendUint64(dirRecs, PathHash(dir))
		dirRecs = binary.LittleEndian.AppendUint32(dirRecs, uint32(start))
		dirRecs = binary.LittleEndian.AppendUint32(dirRecs, uint32(len(pathReps)-start))
		dirRecs = binary.LittleEndian.AppendUint32(dirRecs, recursive)
	}

	pathRepsBundle, err := compress(pathReps)
	if err != nil {
		return nil, fmt.Errorf("bundleindex: compress path representation: %w", err)
	}

	var out []byte
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.bundles)))
	for _, bundle := range b.bundles {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(bundle.name)))
		out = append(out, bundle.name...)
		out = binary.LittleEndian.AppendUint32(out, bundle.size)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(files)))
	for _, f := range files {
		out = binary.LittleEndian.AppendUint64(out, f.hash)
		out = binary.LittleEndian.AppendUint32(out, f.bundle)
		out = binary.LittleEndian.AppendUint32(out, f.offset)
		out = binary.LittleEndian.AppendUint32(out, f.size)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(dirs)))
	out = append(out, dirRecs...)
	out = append(out, pathRepsBundle...)
	return out, nil
}
