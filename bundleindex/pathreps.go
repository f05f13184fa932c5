package bundleindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// ReadPaths expands one directory's path representation.
//
// The stream is a sequence of little-endian uint32 commands. A zero command
// toggles the base phase; entering it discards previously collected bases.
// Any other command n is followed by a NUL-terminated string s: when n-1
// names an existing base the path is that base followed by s, otherwise the
// path is s alone. Strings read during the base phase become new bases;
// strings read outside it are emitted as paths.
func ReadPaths(data []byte) ([]string, error) {
	var (
		paths     []string
		bases     []string
		basePhase bool
	)
	for pos := 0; pos < len(data); {
		if len(data)-pos < 4 {
			return nil, fmt.Errorf("%w: truncated path command at offset %d", ErrCorrupt, pos)
		}
		cmd := binary.LittleEndian.Uint32(data[pos:])
		pos += 4

		if cmd == 0 {
			basePhase = !basePhase
			if basePhase {
				bases = bases[:0]
			}
			continue
		}

		end := bytes.IndexByte(data[pos:], 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated path at offset %d", ErrCorrupt, pos)
		}
		s := string(data[pos : pos+end])
		pos += end + 1

		if i := int(cmd - 1); i < len(bases) {
			s = bases[i] + s
		}
		if basePhase {
			bases = append(bases, s)
		} else {
			paths = append(paths, s)
		}
	}
	return paths, nil
}

// appendPaths writes the representation of files that all live in dir.
// dir is emitted once as a base and every file references it.
func appendPaths(buf []byte, dir string, files []string) []byte {
	putCmd := func(cmd uint32, s string) {
		buf = binary.LittleEndian.AppendUint32(buf, cmd)
		if cmd != 0 {
			buf = append(buf, s...)
			buf = append(buf, 0)
		}
	}

	if dir == "" {
		for _, f := range files {
			putCmd(1, f)
		}
		return buf
	}

	putCmd(0, "")
	putCmd(1, dir+"/")
	putCmd(0, "")
	for _, f := range files {
		putCmd(1, f)
	}
	return buf
}
