package vfs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory VFS used by tests and small tooling. It is safe for
// concurrent use.
type Mem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]struct{}
}

// NewMem returns an empty in-memory VFS.
func NewMem() *Mem {
	return &Mem{
		files: make(map[string][]byte),
		dirs:  make(map[string]struct{}),
	}
}

func (m *Mem) CreateDir(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := path.Clean(uri); p != "." && p != "/"; p = path.Dir(p) {
		m.dirs[p] = struct{}{}
	}
	return nil
}

func (m *Mem) Touch(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[uri]; !ok {
		m.files[uri] = nil
	}
	return nil
}

func (m *Mem) Write(_ context.Context, uri string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[uri] = append(m.files[uri], data...)
	return nil
}

func (m *Mem) CloseFile(_ context.Context, _ string) error { return nil }

func (m *Mem) ReadAt(_ context.Context, uri string, offset int64, buf []byte) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[uri]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if offset+int64(len(buf)) > int64(len(data)) {
		return fmt.Errorf("vfs: read [%d, %d) past end of %s (size %d)",
			offset, offset+int64(len(buf)), uri, len(data))
	}
	copy(buf, data[offset:])
	return nil
}

func (m *Mem) FileSize(_ context.Context, uri string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[uri]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return int64(len(data)), nil
}

func (m *Mem) IsFile(_ context.Context, uri string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[uri]
	return ok, nil
}

func (m *Mem) IsDir(_ context.Context, uri string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.dirs[path.Clean(uri)]
	return ok, nil
}

func (m *Mem) RemoveFile(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[uri]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	delete(m.files, uri)
	return nil
}

func (m *Mem) RemoveDir(_ context.Context, uri string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := path.Clean(uri) + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			delete(m.files, name)
		}
	}
	for name := range m.dirs {
		if name == path.Clean(uri) || strings.HasPrefix(name, prefix) {
			delete(m.dirs, name)
		}
	}
	return nil
}

func (m *Mem) ListDir(_ context.Context, uri string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := path.Clean(uri) + "/"
	seen := make(map[string]struct{})
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			rest := name[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			seen[prefix+rest] = struct{}{}
		}
	}
	for name := range m.dirs {
		if strings.HasPrefix(name, prefix) {
			rest := name[len(prefix):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[:i]
			}
			seen[prefix+rest] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}
