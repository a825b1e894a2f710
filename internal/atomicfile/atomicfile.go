// Package atomicfile implements the write-temp+fsync+rename pattern used
// everywhere the core makes an observable file mutation (session writes,
// snapshots, operation history, state), so partial writes never survive a
// crash. Generalized out of the teacher's per-struct writeLine idiom since
// Parser, Snapshot Store, and Operation History all need the same shape.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces path with data: it writes to a temp sibling
// file, fsyncs it, then renames it over path. On any failure the temp file
// is removed and path is left untouched. A temp file orphaned by a crash
// between write and rename is harmless and is cleaned up by CleanOrphans.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("atomicfile: create temp in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	succeeded := false
	defer func() {
		if !succeeded {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("atomicfile: write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("atomicfile: fsync %s: %w", tmpPath, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("atomicfile: chmod %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("atomicfile: close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomicfile: rename %s -> %s: %w", tmpPath, path, err)
	}
	succeeded = true
	return nil
}

// CleanOrphans removes every leftover ".tmp-*" file directly inside dir,
// left behind by a process that crashed between Write and rename.
// Subdirectories are not searched. Safe to call on every startup.
func CleanOrphans(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("atomicfile: readdir %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) >= 5 && name[:5] == ".tmp-" {
			_ = os.Remove(filepath.Join(dir, name))
		}
	}
	return nil
}
