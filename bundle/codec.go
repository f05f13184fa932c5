package bundle

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

const (
	// DefaultMaxSize is the default limit on decompressed bundle content (1GB).
	DefaultMaxSize = 1 << 30

	// DefaultMaxDecoderMemory is the default zstd decoder memory limit (256MB).
	DefaultMaxDecoderMemory = 256 << 20
)

// Codec decompresses bundles. It is safe for concurrent use.
type Codec struct {
	maxSize          uint64
	maxDecoderMemory uint64
	zstd             *decoderPool
}

// Option configures a Codec.
type Option func(*Codec)

// WithMaxSize limits the decompressed size a bundle may declare.
// Set to 0 to disable the limit.
func WithMaxSize(limit uint64) Option {
	return func(c *Codec) {
		c.maxSize = limit
	}
}

// WithMaxDecoderMemory sets the maximum memory a zstd decoder may allocate.
// Set to 0 to disable the limit.
func WithMaxDecoderMemory(limit uint64) Option {
	return func(c *Codec) {
		c.maxDecoderMemory = limit
	}
}

// NewCodec creates a Codec.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{
		maxSize:          DefaultMaxSize,
		maxDecoderMemory: DefaultMaxDecoderMemory,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.zstd = newDecoderPool(c.maxDecoderMemory)
	return c
}

// Decompress returns the whole decompressed content of bundle.
func (c *Codec) Decompress(bundle []byte) ([]byte, error) {
	h, dataStart, err := c.header(bundle)
	if err != nil {
		return nil, err
	}
	return c.decodeRange(bundle, h, dataStart, 0, int(h.UncompressedSize))
}

// DecompressRange returns content bytes [offset, offset+size) of bundle,
// decoding only the blocks that overlap the range.
func (c *Codec) DecompressRange(bundle []byte, offset, size int) ([]byte, error) {
	h, dataStart, err := c.header(bundle)
	if err != nil {
		return nil, err
	}
	if offset < 0 || size < 0 || uint64(offset)+uint64(size) > h.UncompressedSize {
		return nil, fmt.Errorf("%w: [%d, %d) of %d bytes", ErrRange, offset, offset+size, h.UncompressedSize)
	}
	return c.decodeRange(bundle, h, dataStart, offset, size)
}

func (c *Codec) header(bundle []byte) (*Header, int, error) {
	h, dataStart, err := ParseHeader(bundle)
	if err != nil {
		return nil, 0, err
	}
	if c.maxSize != 0 && h.UncompressedSize > c.maxSize {
		return nil, 0, fmt.Errorf("%w: content size %d exceeds limit %d", ErrCorrupt, h.UncompressedSize, c.maxSize)
	}
	return h, dataStart, nil
}

func (c *Codec) decodeRange(bundle []byte, h *Header, dataStart, offset, size int) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	gran := int(h.Granularity)
	first := offset / gran
	last := (offset + size - 1) / gran

	pos := dataStart
	for i := range first {
		pos += int(h.BlockSizes[i])
	}

	// Granularity comes from the header; bound the buffer by the content
	// the covered blocks can actually hold.
	span := uint64(last-first+1) * uint64(gran)
	out := make([]byte, 0, min(span, h.UncompressedSize-uint64(first)*uint64(gran)))
	for i := first; i <= last; i++ {
		block := bundle[pos : pos+int(h.BlockSizes[i])]
		pos += len(block)

		var err error
		out, err = c.decodeBlock(out, block, h.Encoding, h.blockLen(i))
		if err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", ErrCorrupt, i, err)
		}
	}

	start := offset - first*gran
	return out[start : start+size : start+size], nil
}

// decodeBlock appends the decompressed block to dst. Blocks whose stored size
// equals their decompressed size are stored raw.
func (c *Codec) decodeBlock(dst, block []byte, enc Encoding, want int) ([]byte, error) {
	if len(block) == want || enc == EncodingNone {
		if len(block) != want {
			return nil, fmt.Errorf("raw block is %d bytes, want %d", len(block), want)
		}
		return append(dst, block...), nil
	}

	switch enc {
	case EncodingZstd:
		dec, release, err := c.zstd.get()
		if err != nil {
			return nil, err
		}
		defer release()
		n := len(dst)
		dst, err = dec.DecodeAll(block, dst)
		if err != nil {
			return nil, err
		}
		if len(dst)-n != want {
			return nil, fmt.Errorf("zstd block expanded to %d bytes, want %d", len(dst)-n, want)
		}
		return dst, nil
	case EncodingLZ4:
		n := len(dst)
		dst = append(dst, make([]byte, want)...)
		read, err := lz4.UncompressBlock(block, dst[n:])
		if err != nil {
			return nil, err
		}
		if read != want {
			return nil, fmt.Errorf("lz4 block expanded to %d bytes, want %d", read, want)
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %s", enc)
	}
}
