// Package fileutil provides tmp+rename writes and cleanup of temporaries left
// by interrupted runs.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/graph-cube/pkg/logging"
)

// TmpMarker appears in the name of every temporary this module creates next
// to its final path.
const TmpMarker = ".tmp"

// Exists returns true if the path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// WriteAtomic calls write with a temporary path beside path, fsyncs the
// result and renames it over path. On error the temporary is removed and
// path is untouched.
func WriteAtomic(path string, write func(tmpPath string) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp := path + TmpMarker
	if err := write(tmp); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := syncFile(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	// Best effort: persists the rename.
	_ = SyncDir(dir)
	return nil
}

// WriteFileAtomic writes data to path with WriteAtomic.
func WriteFileAtomic(path string, data []byte) error {
	return WriteAtomic(path, func(tmp string) error {
		return os.WriteFile(tmp, data, 0644)
	})
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// SyncDir fsyncs a directory so renames within it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// CleanupTmp removes the entries of dir whose names start with prefix and
// contain TmpMarker, files and directories alike. It does not recurse into
// other entries. It returns the number removed.
func CleanupTmp(dir, prefix string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	var removed int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) || !strings.Contains(name[len(prefix):], TmpMarker) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.L().Debug().Int("removed", removed).Str("dir", dir).Msg("cleaned up temporaries")
	}
	return removed, nil
}
