package record

import (
	"os"
	"path/filepath"
	"sort"
	"syscall"
)

// DirSize returns the total on-disk size of path in bytes, counting
// allocated blocks where the platform exposes them (matches du).
func DirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			if stat, ok := info.Sys().(*syscall.Stat_t); ok {
				size += int64(stat.Blocks) * 512
			} else {
				size += info.Size()
			}
		}
		return nil
	})
	return size, err
}

// dirsSortedOldestFirst returns the names of path's subdirectories ordered
// by modification time ascending. ModTime stands in for creation time,
// which Go does not expose cross-platform.
func dirsSortedOldestFirst(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	type dirInfo struct {
		name  string
		mtime int64
	}
	var dirs []dirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: entry.Name(), mtime: info.ModTime().UnixNano()})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mtime < dirs[j].mtime })
	names := make([]string, len(dirs))
	for i, d := range dirs {
		names[i] = d.name
	}
	return names, nil
}

// removeOldestDir deletes the oldest subdirectory of path. Returns false
// when there is nothing left to remove.
func removeOldestDir(path string) (bool, error) {
	names, err := dirsSortedOldestFirst(path)
	if err != nil {
		return false, err
	}
	if len(names) == 0 {
		return false, nil
	}
	if err := os.RemoveAll(filepath.Join(path, names[0])); err != nil {
		return false, err
	}
	return true, nil
}
