package bundleindex

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// BundleSuffix is appended to bundle names stored in bundlesInfo to form the
// file name fetched from the CDN.
const BundleSuffix = ".bundle.bin"

const (
	fileRecordSize = 20
	dirRecordSize  = 20
)

var (
	// ErrCorrupt is returned when index sections are malformed.
	ErrCorrupt = errors.New("bundleindex: corrupt index")
)

// RawIndex holds the sections of a decompressed index bundle. The path
// representation is still compressed and must be decompressed by the caller.
// All slices alias the decoded buffer.
type RawIndex struct {
	BundlesInfo    []byte
	FilesInfo      []byte
	DirsInfo       []byte
	PathRepsBundle []byte
}

// Tables is a decoded index snapshot. It is never mutated after construction;
// reloading an index produces a new Tables value.
type Tables struct {
	BundlesInfo []byte
	FilesInfo   []byte
	DirsInfo    []byte
	PathReps    []byte

	namesOnce sync.Once
	names     []string
	namesErr  error
}

// Location is the resolved position of a file inside a bundle.
// Offset and Size address the decompressed bundle content.
type Location struct {
	Bundle string
	Offset uint32
	Size   uint32
}

// DirContent lists the direct children of a directory as full paths.
type DirContent struct {
	Files []string
	Dirs  []string
}

// FileCount returns the number of file records in t.
func (t *Tables) FileCount() int {
	return len(t.FilesInfo) / fileRecordSize
}

// DirCount returns the number of directory records in t.
func (t *Tables) DirCount() int {
	return len(t.DirsInfo) / dirRecordSize
}

// bundleNames parses BundlesInfo on first use and returns the same slice
// for the life of the snapshot.
func (t *Tables) bundleNames() ([]string, error) {
	t.namesOnce.Do(func() {
		t.names, t.namesErr = BundleNames(t.BundlesInfo)
	})
	return t.names, t.namesErr
}

type fileRecord struct {
	hash   uint64
	bundle uint32
	offset uint32
	size   uint32
}

func (t *Tables) fileAt(i int) fileRecord {
	b := t.FilesInfo[i*fileRecordSize:]
	return fileRecord{
		hash:   binary.LittleEndian.Uint64(b),
		bundle: binary.LittleEndian.Uint32(b[8:]),
		offset: binary.LittleEndian.Uint32(b[12:]),
		size:   binary.LittleEndian.Uint32(b[16:]),
	}
}

type dirRecord struct {
	hash          uint64
	offset        uint32
	size          uint32
	recursiveSize uint32
}

func (t *Tables) dirAt(i int) dirRecord {
	b := t.DirsInfo[i*dirRecordSize:]
	return dirRecord{
		hash:          binary.LittleEndian.Uint64(b),
		offset:        binary.LittleEndian.Uint32(b[8:]),
		size:          binary.LittleEndian.Uint32(b[12:]),
		recursiveSize: binary.LittleEndian.Uint32(b[16:]),
	}
}

// BundleNames returns the bundle file names in bundlesInfo order, including
// [BundleSuffix].
func BundleNames(bundlesInfo []byte) ([]string, error) {
	c := cursor{buf: bundlesInfo}
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if uint64(n)*8 > uint64(len(bundlesInfo)) {
		return nil, fmt.Errorf("%w: bundle count %d exceeds section size", ErrCorrupt, n)
	}
	names := make([]string, 0, n)
	for range n {
		nameLen := c.u32()
		name := c.bytes(int(nameLen))
		c.u32() // uncompressed size
		if c.err != nil {
			return nil, c.err
		}
		names = append(names, string(name)+BundleSuffix)
	}
	return names, nil
}

// cursor reads little-endian values from a buffer. The first out-of-range
// read sets err and every later read returns zero values.
type cursor struct {
	buf []byte
	pos int
	err error
}

func (c *cursor) u32() uint32 {
	b := c.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) bytes(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > len(c.buf)-c.pos {
		c.err = fmt.Errorf("%w: truncated at offset %d", ErrCorrupt, c.pos)
		return nil
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b
}
