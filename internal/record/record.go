// Package record wraps cached bundle bytes in a self-describing envelope so
// persistent stores can detect truncated or foreign entries.
package record

import (
	_ "crypto/sha256" // registers digest.Canonical
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/opencontainers/go-digest"
)

// ErrMismatch is returned by Decode when the envelope does not describe its
// payload or was written for a different key.
var ErrMismatch = errors.New("record: content mismatch")

// Record is the envelope stored for one bundle.
type Record struct {
	Key           string        `cbor:"1,keyasint"`
	ContentLength uint64        `cbor:"2,keyasint"`
	Digest        digest.Digest `cbor:"3,keyasint"`
	Data          []byte        `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("record: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("record: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode wraps data for key.
func Encode(key string, data []byte) ([]byte, error) {
	return encMode.Marshal(Record{
		Key:           key,
		ContentLength: uint64(len(data)),
		Digest:        digest.FromBytes(data),
		Data:          data,
	})
}

// Decode unwraps an envelope written by Encode for key and verifies its
// length and digest.
func Decode(key string, b []byte) ([]byte, error) {
	var r Record
	if err := decMode.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMismatch, err)
	}
	if r.Key != key {
		return nil, fmt.Errorf("%w: stored key %q, want %q", ErrMismatch, r.Key, key)
	}
	if r.ContentLength != uint64(len(r.Data)) {
		return nil, fmt.Errorf("%w: %d bytes, header says %d", ErrMismatch, len(r.Data), r.ContentLength)
	}
	if err := r.Digest.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMismatch, err)
	}
	if got := r.Digest.Algorithm().FromBytes(r.Data); got != r.Digest {
		return nil, fmt.Errorf("%w: digest %s, want %s", ErrMismatch, got, r.Digest)
	}
	return r.Data, nil
}
