// Package fsutil provides the filesystem seam used by the output writers.
package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSystem is the subset of filesystem operations the writers need.
// Use OSFileSystem for production and MemoryFileSystem in tests.
type FileSystem interface {
	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Exists reports whether a file or directory exists.
	Exists(name string) bool
}

// CreateIn creates dir if needed and then creates name inside it. name is
// passed through SanitizeFilename first, so labels taken from configuration
// can never leave dir. It returns the path actually created.
func CreateIn(fsys FileSystem, dir, name string) (io.WriteCloser, string, error) {
	if dir != "" {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	path := filepath.Join(dir, SanitizeFilename(name))
	w, err := fsys.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	return w, path, nil
}

// SanitizeFilename makes a file name from an arbitrary string. Characters
// other than ASCII letters, digits, dot, underscore and dash become a single
// underscore, the result is capped at 128 bytes and leading or trailing dots
// and underscores are trimmed. An empty result is "unknown".
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

func (OSFileSystem) Create(name string) (io.WriteCloser, error) { return os.Create(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem keeps files in memory. Written data becomes visible when
// the writer returned by Create is closed.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem creates an empty in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

// Create creates or truncates a file.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	if dir := filepath.Dir(name); dir != "." && dir != "/" && !m.dirs[dir] {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrNotExist}
	}
	m.files[name] = []byte{}
	return &memWriter{fs: m, name: name}, nil
}

// ReadFile returns a copy of a file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// MkdirAll records path and its parents as directories.
func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := filepath.Clean(path); p != "." && p != "/"; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

// Exists reports whether a file or directory exists.
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	_, ok := m.files[name]
	return ok || m.dirs[name]
}

// Files returns the sorted names of files under dir.
func (m *MemoryFileSystem) Files(dir string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := filepath.Clean(dir) + "/"
	var names []string
	for name := range m.files {
		if dir == "" || strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

type memWriter struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	w.fs.files[w.name] = w.buf
	return nil
}
