package memory

import (
	"os"
	"path/filepath"
	"strings"
)

// writeFileAtomic writes data to path via temp-file+rename, matching the
// teacher's internal/sessions/manager.go Save() pattern: create a temp
// file in the same directory, write, fsync, close, then rename over the
// target so a crash mid-write never leaves a torn file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

// safeKey replaces ':' and '/' with '_' so a session key can be used as a
// filename (spec.md §6 "Safe-key mapping").
func safeKey(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_")
	return r.Replace(key)
}
