package patchcdn

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotLoaded is returned by Index queries before an index has been loaded.
	ErrNotLoaded = errors.New("patchcdn: index not loaded")

	// ErrNotFound is returned when a path or directory is not in the index.
	ErrNotFound = errors.New("patchcdn: not found")

	// ErrNetwork is matched by every *NetworkError.
	ErrNetwork = errors.New("patchcdn: network error")

	// ErrDecode is returned when a bundle or index section cannot be decoded.
	ErrDecode = errors.New("patchcdn: decode failed")

	// ErrNoPatch is returned by FetchFile before a patch version is set.
	ErrNoPatch = errors.New("patchcdn: patch version not set")
)

// NetworkError describes a bundle download that failed. StatusCode is zero
// when no HTTP response was received.
type NetworkError struct {
	Bundle     string
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("patchcdn: fetch %s: status %d", e.Bundle, e.StatusCode)
	}
	return fmt.Sprintf("patchcdn: fetch %s: %v", e.Bundle, e.Err)
}

// Unwrap returns ErrNetwork and the underlying transport error.
func (e *NetworkError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrNetwork}
	}
	return []error{ErrNetwork, e.Err}
}

func decodeError(err error) error {
	if errors.Is(err, ErrDecode) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}
