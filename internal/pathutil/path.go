// Package pathutil provides file naming and output path utilities.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// CheckDirectoryWritable checks if a directory exists and is writable.
// If the directory doesn't exist, it attempts to create it.
func CheckDirectoryWritable(fs afero.Fs, path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	// Convert to absolute path for clearer error messages
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path // fallback to original if abs fails
	}

	info, err := fs.Stat(absPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access directory %s: %w", absPath, err)
		}
		if err := fs.MkdirAll(absPath, 0o755); err != nil {
			return fmt.Errorf("directory %s does not exist and cannot be created: %w", absPath, err)
		}
	} else if !info.IsDir() {
		return fmt.Errorf("path %s exists but is not a directory", absPath)
	}

	// Test write permissions by creating a temporary file
	testFile := filepath.Join(absPath, ".cr2repair-write-test")
	file, err := fs.Create(testFile)
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, err)
	}

	_, writeErr := file.Write([]byte("test"))
	file.Close()
	_ = fs.Remove(testFile)

	if writeErr != nil {
		return fmt.Errorf("directory %s is not writable: %w", absPath, writeErr)
	}

	return nil
}

// ResolveDir returns dir when it is absolute, dir joined to base when it is
// relative, and base joined to fallback when dir is empty.
func ResolveDir(base, dir, fallback string) string {
	if dir == "" {
		return filepath.Join(base, fallback)
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}

// RepairedName returns the file name a corrupted file is restored to.
// The name must look like <base>.<ext>.<suffix>: everything after the last
// ".<ext>." is dropped. ext is compared case-insensitively and keeps the case
// found in name, so "IMG_0001.CR2.locked" becomes "IMG_0001.CR2".
func RepairedName(name, ext string) (string, bool) {
	if ext == "" {
		return "", false
	}

	needle := "." + strings.TrimPrefix(ext, ".") + "."
	for i := len(name) - len(needle); i > 0; i-- {
		if !strings.EqualFold(name[i:i+len(needle)], needle) {
			continue
		}
		end := i + len(needle)
		if end == len(name) {
			return "", false // nothing appended after the extension
		}
		return name[:end-1], true
	}

	return "", false
}

// IsCorruptedName reports whether name matches <base>.<ext>.<suffix>.
func IsCorruptedName(name, ext string) bool {
	_, ok := RepairedName(name, ext)
	return ok
}

// ImageName replaces the extension of name with imageExt.
func ImageName(name, imageExt string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	return base + "." + strings.TrimPrefix(imageExt, ".")
}

// WriteFileAtomic writes data next to path under a unique temporary name and
// renames it into place, so readers never observe a partial file.
func WriteFileAtomic(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := afero.WriteFile(fs, tmpPath, data, perm); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		_ = fs.Remove(tmpPath)
		return fmt.Errorf("rename to %s: %w", path, err)
	}

	return nil
}
