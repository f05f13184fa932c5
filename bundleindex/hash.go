package bundleindex

import (
	"encoding/binary"
	"strings"
)

// HashSeed is the MurmurHash64A seed used for file and directory paths.
const HashSeed uint64 = 0x1337b33f

// PathHash returns the lookup hash of a file path. Paths are
// case-insensitive and otherwise hashed as given, so "/Data/a.dat" and
// "Data/a.dat" differ. Index paths carry no leading slash.
func PathHash(p string) uint64 {
	return Murmur64A([]byte(strings.ToLower(p)), HashSeed)
}

// Murmur64A computes Austin Appleby's 64-bit MurmurHash2 variant (MurmurHash64A).
func Murmur64A(data []byte, seed uint64) uint64 {
	const (
		m = 0xc6a4a7935bd1e995
		r = 47
	)

	h := seed ^ (uint64(len(data)) * m)
	for len(data) >= 8 {
		k := binary.LittleEndian.Uint64(data)
		k *= m
		k ^= k >> r
		k *= m

		h ^= k
		h *= m
		data = data[8:]
	}

	switch len(data) {
	case 7:
		h ^= uint64(data[6]) << 48
		fallthrough
	case 6:
		h ^= uint64(data[5]) << 40
		fallthrough
	case 5:
		h ^= uint64(data[4]) << 32
		fallthrough
	case 4:
		h ^= uint64(data[3]) << 24
		fallthrough
	case 3:
		h ^= uint64(data[2]) << 16
		fallthrough
	case 2:
		h ^= uint64(data[1]) << 8
		fallthrough
	case 1:
		h ^= uint64(data[0])
		h *= m
	}

	h ^= h >> r
	h *= m
	h ^= h >> r
	return h
}
