package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohmanhakim/sitewatch/pkg/failure"
)

// GetFileExtension extracts the file extension from a path, or empty string if none
func GetFileExtension(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	// Remove the leading dot
	return strings.TrimPrefix(ext, ".")
}

// EnsureDir check if a given directory plus the following path exist, then create one if not
func EnsureDir(dir string, path ...string) failure.ClassifiedError {
	targetPath := []string{dir}
	targetPath = append(targetPath, path...)

	assetsDir := filepath.Join(targetPath...)
	if err := os.MkdirAll(assetsDir, 0755); err != nil {
		return &FileError{
			Message:   fmt.Sprintf("%v", err),
			Retryable: false,
			Cause:     ErrCausePathError,
		}
	}
	return nil
}

// WriteFileAtomic writes data to a temp file in the same directory as
// path, fsyncs it, then renames it into place. The rename is atomic on
// POSIX filesystems, so readers never observe a half-written file
// (spec.md 4.4: "write to a temp file in the site's directory, fsync,
// rename").
func WriteFileAtomic(path string, data []byte, perm os.FileMode) failure.ClassifiedError {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCausePathError}
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteError}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteError}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteError}
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return &FileError{Message: err.Error(), Retryable: false, Cause: ErrCausePathError}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteError}
	}
	return nil
}

// AppendLine appends a single line (with trailing newline) to path,
// creating it if necessary. Used for the baseline event log, which is
// newline-delimited and append-only (spec.md 4.4).
func AppendLine(path string, line []byte) failure.ClassifiedError {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCausePathError}
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return &FileError{Message: err.Error(), Retryable: true, Cause: ErrCauseWriteError}
	}
	return nil
}
