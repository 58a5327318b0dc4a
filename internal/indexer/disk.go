package indexer

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskUsage returns the bytes used by all indexes, including unfinished builds.
func (idx *Indexer) DiskUsage() (int64, error) {
	return DiskUsageBytes(idx.root)
}

// DiskUsageBytes returns the total size in bytes of the given files and directories. Paths that do
// not exist, or that disappear during the walk (a concurrent retention sweep), count as zero.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return 0, err
		}
	}
	return total, nil
}
