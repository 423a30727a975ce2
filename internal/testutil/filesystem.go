package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tagr/internal/tagr"
)

// MockFile represents a file in the mock filesystem.
type MockFile struct {
	Content     []byte
	Permissions fs.FileMode
	ModTime     time.Time
	IsDirectory bool
}

// MockFilesystemManager is an in-memory filesystem for testing.
type MockFilesystemManager struct {
	files map[string]*MockFile
}

// NewMockFilesystemManager creates a new mock filesystem.
func NewMockFilesystemManager() *MockFilesystemManager {
	return &MockFilesystemManager{
		files: make(map[string]*MockFile),
	}
}

// AddFile adds a file to the mock filesystem.
func (m *MockFilesystemManager) AddFile(path string, content []byte) {
	m.files[path] = &MockFile{
		Content:     content,
		Permissions: 0644,
		ModTime:     time.Now(),
	}
}

// AddDirectory adds a directory to the mock filesystem.
func (m *MockFilesystemManager) AddDirectory(path string) {
	m.files[path] = &MockFile{
		Permissions: 0755,
		ModTime:     time.Now(),
		IsDirectory: true,
	}
}

// SetModTime overrides the modification time of an existing file.
func (m *MockFilesystemManager) SetModTime(path string, t time.Time) {
	if f, ok := m.files[path]; ok {
		f.ModTime = t
	}
}

// HasFile reports whether a file exists at path.
func (m *MockFilesystemManager) HasFile(path string) bool {
	f, ok := m.files[path]
	return ok && !f.IsDirectory
}

func (m *MockFilesystemManager) Resolve(rawPath string) (*tagr.Path, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return nil, err
	}

	file, ok := m.files[absPath]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", absPath)
	}

	return tagr.NewPath(absPath, file.IsDirectory, m.fileInfo(absPath, file)), nil
}

func (m *MockFilesystemManager) Open(path string) (io.ReadCloser, error) {
	file, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if file.IsDirectory {
		return nil, fmt.Errorf("cannot open directory: %s", path)
	}
	return io.NopCloser(bytes.NewReader(file.Content)), nil
}

func (m *MockFilesystemManager) Stat(path string) (fs.FileInfo, error) {
	file, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s: %w", path, fs.ErrNotExist)
	}
	return m.fileInfo(path, file), nil
}

func (m *MockFilesystemManager) HashFile(path string) (string, int64, error) {
	file, ok := m.files[path]
	if !ok || file.IsDirectory {
		return "", 0, fmt.Errorf("file not found: %s: %w", path, fs.ErrNotExist)
	}
	sum := sha256.Sum256(file.Content)
	return hex.EncodeToString(sum[:]), int64(len(file.Content)), nil
}

func (m *MockFilesystemManager) Copy(src, dst string) error {
	file, ok := m.files[src]
	if !ok || file.IsDirectory {
		return fmt.Errorf("file not found: %s", src)
	}
	m.files[dst] = &MockFile{
		Content:     append([]byte(nil), file.Content...),
		Permissions: file.Permissions,
		ModTime:     file.ModTime,
	}
	return nil
}

func (m *MockFilesystemManager) Move(src, dst string) error {
	if err := m.Copy(src, dst); err != nil {
		return err
	}
	delete(m.files, src)
	return nil
}

func (m *MockFilesystemManager) Remove(path string) error {
	if _, ok := m.files[path]; !ok {
		return fmt.Errorf("file not found: %s", path)
	}
	delete(m.files, path)
	return nil
}

func (m *MockFilesystemManager) FindFiles(root string, recursive bool) ([]*tagr.Path, error) {
	prefix := strings.TrimSuffix(root, "/") + "/"

	var paths []*tagr.Path
	for p, file := range m.files {
		if file.IsDirectory || !strings.HasPrefix(p, prefix) {
			continue
		}
		if !recursive && strings.Contains(strings.TrimPrefix(p, prefix), "/") {
			continue
		}
		paths = append(paths, tagr.NewPath(p, false, m.fileInfo(p, file)))
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].String() < paths[j].String() })
	return paths, nil
}

func (m *MockFilesystemManager) fileInfo(path string, file *MockFile) fs.FileInfo {
	return &mockFileInfo{
		name:    filepath.Base(path),
		size:    int64(len(file.Content)),
		mode:    file.Permissions,
		modTime: file.ModTime,
		isDir:   file.IsDirectory,
	}
}

// mockFileInfo implements fs.FileInfo
type mockFileInfo struct {
	name    string
	size    int64
	mode    fs.FileMode
	modTime time.Time
	isDir   bool
}

func (m *mockFileInfo) Name() string       { return m.name }
func (m *mockFileInfo) Size() int64        { return m.size }
func (m *mockFileInfo) Mode() fs.FileMode  { return m.mode }
func (m *mockFileInfo) ModTime() time.Time { return m.modTime }
func (m *mockFileInfo) IsDir() bool        { return m.isDir }
func (m *mockFileInfo) Sys() any           { return nil }

// Compile-time check
var _ tagr.FilesystemManager = (*MockFilesystemManager)(nil)
