// Package fsutil provides the file and path helpers shared by the speaker store,
// the model gateway and the command line.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Audio file extensions accepted as reference audio.
const (
	extAAC  = ".aac"
	extFLAC = ".flac"
	extM4A  = ".m4a"
	extMP3  = ".mp3"
	extOGG  = ".ogg"
	extWAV  = ".wav"
)

// Data size constants.
const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

var (
	// ErrPathEmpty is returned for a blank path.
	ErrPathEmpty = errors.New("path is empty")
	// ErrNotRegularFile is returned when a path exists but is not a regular file.
	ErrNotRegularFile = errors.New("path is not a regular file")
)

// CheckFile reports why path does not denote an existing regular file, or nil
// when it does. Missing files yield an error wrapping os.ErrNotExist.
func CheckFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrPathEmpty
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %q: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %q", ErrNotRegularFile, path)
	}

	return nil
}

// IsValidFile reports whether path is non-blank and names an existing regular file.
func IsValidFile(path string) bool {
	return CheckFile(path) == nil
}

// IsValidFileList reports whether paths is non-empty and every entry is a valid file.
func IsValidFileList(paths []string) bool {
	if len(paths) == 0 {
		return false
	}

	for _, path := range paths {
		if !IsValidFile(path) {
			return false
		}
	}

	return true
}

// EnsureDir ensures a directory exists at the given path, creating it and any
// parents if it doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
		}

		return nil
	}

	if statErr != nil {
		return fmt.Errorf("failed to stat directory %s: %w", path, statErr)
	}

	return nil
}

// WriteFileAtomic writes data to a temporary file next to path and renames it
// into place, so readers never observe a half-written file. The parent
// directory must already exist.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}

	tmpName := tmp.Name()

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write %s: %w", path, errors.Join(writeErr, closeErr))
	}

	err = os.Chmod(tmpName, perm)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}

	return nil
}

// IsValidAudioFile checks if a filename has a common audio file extension.
func IsValidAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3, extFLAC, extOGG, extM4A, extAAC:
		return true
	default:
		return false
	}
}

// SanitizeFilename removes or replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
		" ", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}

// FormatFileSize formats a file size in a human-readable string (e.g., "1.2 GB", "500.5
// MB").
func FormatFileSize(bytes int64) string {
	switch {
	case bytes >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gigabyte)
	case bytes >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(bytes)/megabyte)
	case bytes >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(bytes)/kilobyte)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
