// Package bundle reads and writes the block-compressed bundle container used
// by the patch CDN.
//
// A bundle is a fixed little-endian header, a table of compressed block
// sizes, and the compressed blocks. Every block except the last expands to
// exactly Granularity bytes, which lets [Codec.DecompressRange] decode only
// the blocks that cover the requested range.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Encoding identifies the block compressor of a bundle.
type Encoding uint32

const (
	EncodingNone Encoding = iota
	EncodingZstd
	EncodingLZ4
)

// String returns the human-readable name of the encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingNone:
		return "none"
	case EncodingZstd:
		return "zstd"
	case EncodingLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(e))
	}
}

// ParseEncoding parses an encoding from its string representation.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "none":
		return EncodingNone, nil
	case "zstd":
		return EncodingZstd, nil
	case "lz4":
		return EncodingLZ4, nil
	default:
		return 0, fmt.Errorf("bundle: unknown encoding %q", name)
	}
}

// DefaultGranularity is the uncompressed size of every block but the last.
const DefaultGranularity = 256 << 10

// headerSize is the size of the fixed header preceding the block size table.
const headerSize = 60

// headPayloadBase is the part of the fixed header counted in HeadPayloadSize.
const headPayloadBase = headerSize - 12

var (
	// ErrCorrupt is returned when a bundle header or block is malformed.
	ErrCorrupt = errors.New("bundle: corrupt bundle")

	// ErrRange is returned when a requested range lies outside the bundle content.
	ErrRange = errors.New("bundle: range out of bounds")
)

// Header describes a bundle container.
type Header struct {
	UncompressedSize uint64
	TotalPayloadSize uint64
	Encoding         Encoding
	Granularity      uint32
	BlockSizes       []uint32
}

// ParseHeader decodes the bundle header and returns it together with the
// offset of the first compressed block.
func ParseHeader(b []byte) (*Header, int, error) {
	if len(b) < headerSize {
		return nil, 0, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(b))
	}
	le := binary.LittleEndian
	h := &Header{
		Encoding:         Encoding(le.Uint32(b[12:])),
		UncompressedSize: le.Uint64(b[20:]),
		TotalPayloadSize: le.Uint64(b[28:]),
		Granularity:      le.Uint32(b[40:]),
	}
	blockCount := le.Uint32(b[36:])
	headPayload := le.Uint32(b[8:])

	if uint64(headPayload) != headPayloadBase+4*uint64(blockCount) {
		return nil, 0, fmt.Errorf("%w: head payload %d does not match %d blocks", ErrCorrupt, headPayload, blockCount)
	}
	dataStart := headerSize + 4*int(blockCount)
	if dataStart > len(b) {
		return nil, 0, fmt.Errorf("%w: block table truncated", ErrCorrupt)
	}
	if h.Granularity == 0 && blockCount > 0 {
		return nil, 0, fmt.Errorf("%w: zero block granularity", ErrCorrupt)
	}
	if want := blocksFor(h.UncompressedSize, h.Granularity); want != uint64(blockCount) {
		return nil, 0, fmt.Errorf("%w: %d blocks for %d bytes, want %d", ErrCorrupt, blockCount, h.UncompressedSize, want)
	}

	h.BlockSizes = make([]uint32, blockCount)
	var payload uint64
	for i := range h.BlockSizes {
		h.BlockSizes[i] = le.Uint32(b[headerSize+4*i:])
		payload += uint64(h.BlockSizes[i])
	}
	if payload != h.TotalPayloadSize || uint64(len(b)-dataStart) < payload {
		return nil, 0, fmt.Errorf("%w: payload size mismatch", ErrCorrupt)
	}
	return h, dataStart, nil
}

// blockLen returns the uncompressed length of block i.
func (h *Header) blockLen(i int) int {
	start := uint64(i) * uint64(h.Granularity)
	end := min(start+uint64(h.Granularity), h.UncompressedSize)
	return int(end - start)
}

func blocksFor(size uint64, granularity uint32) uint64 {
	if size == 0 {
		return 0
	}
	if granularity == 0 {
		return 1
	}
	return (size + uint64(granularity) - 1) / uint64(granularity)
}

func appendHeader(out []byte, h *Header) []byte {
	le := binary.LittleEndian
	out = le.AppendUint32(out, uint32(h.UncompressedSize))
	out = le.AppendUint32(out, uint32(h.TotalPayloadSize))
	out = le.AppendUint32(out, headPayloadBase+4*uint32(len(h.BlockSizes)))
	out = le.AppendUint32(out, uint32(h.Encoding))
	out = le.AppendUint32(out, 1)
	out = le.AppendUint64(out, h.UncompressedSize)
	out = le.AppendUint64(out, h.TotalPayloadSize)
	out = le.AppendUint32(out, uint32(len(h.BlockSizes)))
	out = le.AppendUint32(out, h.Granularity)
	for range 4 {
		out = le.AppendUint32(out, 0)
	}
	for _, size := range h.BlockSizes {
		out = le.AppendUint32(out, size)
	}
	return out
}
