package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local implements VFS on the local filesystem. URIs are ordinary paths.
type Local struct{}

// NewLocal returns a local filesystem VFS.
func NewLocal() *Local { return &Local{} }

func (l *Local) CreateDir(_ context.Context, uri string) error {
	return os.MkdirAll(uri, 0o755)
}

func (l *Local) Touch(_ context.Context, uri string) error {
	f, err := os.OpenFile(uri, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func (l *Local) Write(_ context.Context, uri string, data []byte) error {
	f, err := os.OpenFile(uri, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (l *Local) CloseFile(_ context.Context, _ string) error { return nil }

func (l *Local) ReadAt(_ context.Context, uri string, offset int64, buf []byte) error {
	f, err := os.Open(uri)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (l *Local) FileSize(_ context.Context, uri string) (int64, error) {
	fi, err := os.Stat(uri)
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func (l *Local) IsFile(_ context.Context, uri string) (bool, error) {
	fi, err := os.Stat(uri)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !fi.IsDir(), nil
}

func (l *Local) IsDir(_ context.Context, uri string) (bool, error) {
	fi, err := os.Stat(uri)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

func (l *Local) RemoveFile(_ context.Context, uri string) error {
	return os.Remove(uri)
}

func (l *Local) RemoveDir(_ context.Context, uri string) error {
	return os.RemoveAll(uri)
}

func (l *Local) ListDir(_ context.Context, uri string) ([]string, error) {
	entries, err := os.ReadDir(uri)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, filepath.Join(uri, e.Name()))
	}
	return out, nil
}
