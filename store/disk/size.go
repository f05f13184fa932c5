package disk

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// tempPrefix names files a Put is still writing. They are neither counted
// nor pruned; the writer renames or removes them itself.
const tempPrefix = "store-"

type entry struct {
	path    string
	size    int64
	modTime time.Time
	active  bool
}

// scanEntries lists committed entries under root. Entries inside activeNS are
// marked active. A missing root yields no entries.
func scanEntries(root, activeNS string) ([]entry, int64, error) {
	var (
		entries []entry
		total   int64
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Put removes temp files concurrently with the walk.
			if errors.Is(err, os.ErrNotExist) && path != root {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		info, err := d.Info()
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		total += info.Size()
		entries = append(entries, entry{
			path:    path,
			size:    info.Size(),
			modTime: info.ModTime(),
			active:  activeNS != "" && strings.HasPrefix(path, activeNS+string(filepath.Separator)),
		})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, nil
	}
	return entries, total, err
}

func dirSize(root string) (int64, error) {
	_, total, err := scanEntries(root, "")
	return total, err
}

// pruneOrder puts entries of other namespaces ahead of the active one, then
// orders by age.
func pruneOrder(a, b entry) int {
	if a.active != b.active {
		if b.active {
			return -1
		}
		return 1
	}
	if c := a.modTime.Compare(b.modTime); c != 0 {
		return c
	}
	return cmp.Compare(a.path, b.path)
}

// pruneDir removes committed entries under root until at most targetBytes
// remain. Namespace directories are left in place.
func pruneDir(root, activeNS string, targetBytes int64) (freed, remaining int64, err error) {
	entries, total, err := scanEntries(root, activeNS)
	if err != nil {
		return 0, 0, err
	}
	remaining = total
	if remaining <= targetBytes {
		return 0, remaining, nil
	}

	slices.SortFunc(entries, pruneOrder)
	for _, e := range entries {
		if remaining <= targetBytes {
			break
		}
		if err := os.Remove(e.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				remaining -= e.size
				continue
			}
			return freed, remaining, err
		}
		remaining -= e.size
		freed += e.size
	}
	return freed, remaining, nil
}
