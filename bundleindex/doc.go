// Package bundleindex decodes the root index bundle of a patch CDN and
// resolves paths against it.
//
// A decompressed index bundle is split into four sections that together form
// an immutable [Tables] snapshot:
//
//   - bundlesInfo: the count-prefixed list of bundle names and sizes
//   - filesInfo: fixed 20-byte file records sorted by path hash
//   - dirsInfo: fixed 20-byte records pointing into the path representation
//   - pathReps: the decompressed path representation stream
//
// File paths are looked up by a 64-bit MurmurHash64A of the lower-cased path,
// so resolution never needs the path strings themselves. Directory listings
// are rebuilt from the path representation stream.
package bundleindex
