package tagr

import (
	"io"
	"io/fs"
)

// FilesystemManager provides an interface for filesystem operations.
// It abstracts file access so the reconciliation engine can be tested
// without touching the real filesystem.
type FilesystemManager interface {
	// Resolve validates a raw path and returns a Path object.
	// It resolves the path to an absolute path, stats it, and validates
	// it's a regular file or directory (not a symlink, device, etc.).
	Resolve(rawPath string) (*Path, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)

	// Stat returns fresh file info for a path.
	Stat(path string) (fs.FileInfo, error)

	// HashFile computes the hex SHA-256 digest of the file's content and
	// returns it together with the file size.
	HashFile(path string) (hash string, size int64, err error)

	// Copy copies src to dst, creating intermediate directories as needed.
	// The source file is left in place.
	Copy(src, dst string) error

	// Move moves src to dst, creating intermediate directories as needed.
	Move(src, dst string) error

	// Remove deletes a single file.
	Remove(path string) error

	// FindFiles discovers regular files under the given directory path.
	// When recursive is true, files in subdirectories are included.
	FindFiles(root string, recursive bool) ([]*Path, error)
}
