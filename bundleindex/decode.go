package bundleindex

import (
	"fmt"
	"sort"
	"strings"
)

// Decoder splits index bundles into sections and resolves paths against
// decoded [Tables]. The zero value is ready to use and safe for concurrent use.
type Decoder struct{}

// Decode splits a decompressed index bundle into its sections.
//
// The returned slices alias index; callers must not modify it afterwards.
func (Decoder) Decode(index []byte) (raw RawIndex, err error) {
	defer func() {
		if r := recover(); r != nil {
			raw = RawIndex{}
			err = fmt.Errorf("%w: %v", ErrCorrupt, r)
		}
	}()
	if len(index) == 0 {
		return RawIndex{}, fmt.Errorf("%w: empty index data", ErrCorrupt)
	}

	c := cursor{buf: index}
	bundleCount := c.u32()
	for range bundleCount {
		nameLen := c.u32()
		c.bytes(int(nameLen))
		c.u32()
		if c.err != nil {
			return RawIndex{}, c.err
		}
	}
	bundlesEnd := c.pos

	fileCount := c.u32()
	filesStart := c.pos
	c.bytes(int(fileCount) * fileRecordSize)

	dirCount := c.u32()
	dirsStart := c.pos
	c.bytes(int(dirCount) * dirRecordSize)
	if c.err != nil {
		return RawIndex{}, c.err
	}

	return RawIndex{
		BundlesInfo:    index[:bundlesEnd],
		FilesInfo:      index[filesStart : filesStart+int(fileCount)*fileRecordSize],
		DirsInfo:       index[dirsStart : dirsStart+int(dirCount)*dirRecordSize],
		PathRepsBundle: index[c.pos:],
	}, nil
}

// Resolve looks up the location of path in t.
// ok is false when the index has no record for path.
func (Decoder) Resolve(path string, t *Tables) (loc Location, ok bool, err error) {
	rec, ok := findFile(t, PathHash(path))
	if !ok {
		return Location{}, false, nil
	}
	names, err := t.bundleNames()
	if err != nil {
		return Location{}, false, err
	}
	return locate(rec, names)
}

// ResolveBatch resolves every path against the same snapshot. The result has
// one entry per path; unresolved paths yield nil.
func (Decoder) ResolveBatch(paths []string, t *Tables) ([]*Location, error) {
	names, err := t.bundleNames()
	if err != nil {
		return nil, err
	}
	out := make([]*Location, len(paths))
	for i, p := range paths {
		rec, ok := findFile(t, PathHash(p))
		if !ok {
			continue
		}
		loc, _, err := locate(rec, names)
		if err != nil {
			return nil, err
		}
		out[i] = &loc
	}
	return out, nil
}

// DirContent lists the files and subdirectories directly under dir.
// An empty dir (or "/") lists the root. ok is false when nothing lives under dir.
func (Decoder) DirContent(dir string, t *Tables) (content DirContent, ok bool, err error) {
	paths, err := allPaths(t)
	if err != nil {
		return DirContent{}, false, err
	}

	prefix := strings.Trim(dir, "/")
	if prefix != "" {
		prefix += "/"
	}

	seenDirs := make(map[string]struct{})
	for _, p := range paths {
		if len(p) < len(prefix) || !strings.EqualFold(p[:len(prefix)], prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" {
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			sub := p[:len(prefix)+i]
			if _, dup := seenDirs[sub]; !dup {
				seenDirs[sub] = struct{}{}
				content.Dirs = append(content.Dirs, sub)
			}
			continue
		}
		content.Files = append(content.Files, p)
	}
	if len(content.Files) == 0 && len(content.Dirs) == 0 {
		return DirContent{}, prefix == "", nil
	}
	sort.Strings(content.Files)
	sort.Strings(content.Dirs)
	return content, true, nil
}

// RootDirs returns the top-level directory names of the index.
func (d Decoder) RootDirs(t *Tables) ([]string, error) {
	content, _, err := d.DirContent("", t)
	if err != nil {
		return nil, err
	}
	return content.Dirs, nil
}

func findFile(t *Tables, hash uint64) (fileRecord, bool) {
	n := t.FileCount()
	i := sort.Search(n, func(i int) bool {
		return t.fileAt(i).hash >= hash
	})
	if i == n {
		return fileRecord{}, false
	}
	rec := t.fileAt(i)
	if rec.hash != hash {
		return fileRecord{}, false
	}
	return rec, true
}

func locate(rec fileRecord, names []string) (Location, bool, error) {
	if int(rec.bundle) >= len(names) {
		return Location{}, false, fmt.Errorf("%w: bundle index %d out of range (%d bundles)", ErrCorrupt, rec.bundle, len(names))
	}
	return Location{
		Bundle: names[rec.bundle],
		Offset: rec.offset,
		Size:   rec.size,
	}, true, nil
}

// allPaths expands the path representation of every directory record.
func allPaths(t *Tables) ([]string, error) {
	var paths []string
	for i := range t.DirCount() {
		rec := t.dirAt(i)
		end := uint64(rec.offset) + uint64(rec.size)
		if end > uint64(len(t.PathReps)) {
			return nil, fmt.Errorf("%w: directory %d exceeds path representation", ErrCorrupt, i)
		}
		group, err := ReadPaths(t.PathReps[rec.offset:end])
		if err != nil {
			return nil, err
		}
		paths = append(paths, group...)
	}
	return paths, nil
}
