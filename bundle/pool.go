package bundle

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// decoderPool manages reusable zstd decoders to reduce allocation overhead.
// Decoders are used with DecodeAll only, so they are created without a reader.
type decoderPool struct {
	pool             sync.Pool
	maxDecoderMemory uint64
}

func newDecoderPool(maxMemory uint64) *decoderPool {
	p := &decoderPool{maxDecoderMemory: maxMemory}
	p.pool.New = func() any {
		dec, err := p.newDecoder()
		if err != nil {
			return nil
		}
		return dec
	}
	return p
}

// get returns a decoder and the function that hands it back to the pool.
// If an error is returned, no release function needs to be called.
func (p *decoderPool) get() (*zstd.Decoder, func(), error) {
	if dec, ok := p.pool.Get().(*zstd.Decoder); ok && dec != nil {
		return dec, func() { p.pool.Put(dec) }, nil
	}
	// Pool's New function failed, try directly
	dec, err := p.newDecoder()
	if err != nil {
		return nil, nil, err
	}
	return dec, dec.Close, nil
}

func (p *decoderPool) newDecoder() (*zstd.Decoder, error) {
	opts := []zstd.DOption{
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(false),
	}
	if p.maxDecoderMemory != 0 {
		opts = append(opts, zstd.WithDecoderMaxMemory(p.maxDecoderMemory))
	}
	return zstd.NewReader(nil, opts...)
}
