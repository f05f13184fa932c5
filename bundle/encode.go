package bundle

import (
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// EncodeOption configures Encode.
type EncodeOption func(*encodeConfig)

type encodeConfig struct {
	granularity int
	level       zstd.EncoderLevel
}

// WithGranularity sets the uncompressed block size. Defaults to [DefaultGranularity].
func WithGranularity(n int) EncodeOption {
	return func(cfg *encodeConfig) {
		cfg.granularity = n
	}
}

// WithZstdLevel sets the zstd encoder level. Defaults to zstd.SpeedDefault.
func WithZstdLevel(level zstd.EncoderLevel) EncodeOption {
	return func(cfg *encodeConfig) {
		cfg.level = level
	}
}

// Encode packs content into a bundle using enc for every block.
// Blocks that do not shrink are stored raw.
func Encode(content []byte, enc Encoding, opts ...EncodeOption) ([]byte, error) {
	cfg := encodeConfig{
		granularity: DefaultGranularity,
		level:       zstd.SpeedDefault,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.granularity <= 0 {
		return nil, fmt.Errorf("bundle: granularity must be > 0")
	}
	if uint64(len(content)) > math.MaxUint32 {
		return nil, fmt.Errorf("bundle: content of %d bytes exceeds the container limit", len(content))
	}

	var zenc *zstd.Encoder
	if enc == EncodingZstd {
		var err error
		zenc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("bundle: create zstd encoder: %w", err)
		}
		defer zenc.Close()
	}

	h := &Header{
		UncompressedSize: uint64(len(content)),
		Encoding:         enc,
		Granularity:      uint32(cfg.granularity),
	}
	var payload []byte
	for start := 0; start < len(content); start += cfg.granularity {
		block := content[start:min(start+cfg.granularity, len(content))]

		var packed []byte
		switch enc {
		case EncodingNone:
		case EncodingZstd:
			packed = zenc.EncodeAll(block, nil)
		case EncodingLZ4:
			dst := make([]byte, lz4.CompressBlockBound(len(block)))
			n, err := lz4.CompressBlock(block, dst, nil)
			if err != nil {
				return nil, fmt.Errorf("bundle: lz4 compress: %w", err)
			}
			packed = dst[:n]
		default:
			return nil, fmt.Errorf("bundle: unsupported encoding %s", enc)
		}
		// CompressBlock returns 0 for incompressible input.
		if len(packed) == 0 || len(packed) >= len(block) {
			packed = block
		}

		h.BlockSizes = append(h.BlockSizes, uint32(len(packed)))
		payload = append(payload, packed...)
	}
	h.TotalPayloadSize = uint64(len(payload))

	out := appendHeader(make([]byte, 0, headerSize+4*len(h.BlockSizes)+len(payload)), h)
	return append(out, payload...), nil
}
