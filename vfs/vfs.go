// Package vfs abstracts the byte-range filesystem the fragment core writes
// tiles through and reads metadata from. Implementations exist for the local
// filesystem, an in-memory store for tests, S3 (aws-sdk) and MinIO; Faulty
// wraps any of them for fault injection.
//
// URIs are backend-native names: plain paths for Local and Mem, object keys
// for the object stores. All blocking operations take a context.
package vfs

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a file or directory does not exist.
var ErrNotFound = errors.New("vfs: not found")

// VFS is the filesystem contract consumed by the fragment core.
//
// Write appends: fragment data files are written once, front to back, and
// never rewritten. Touch creates an empty file (the commit sentinel path).
// CloseFile ends the write of a file; object-store backends buffer appends
// and upload on close, filesystem backends treat it as a no-op.
type VFS interface {
	CreateDir(ctx context.Context, uri string) error
	Touch(ctx context.Context, uri string) error
	Write(ctx context.Context, uri string, data []byte) error
	CloseFile(ctx context.Context, uri string) error
	ReadAt(ctx context.Context, uri string, offset int64, buf []byte) error
	FileSize(ctx context.Context, uri string) (int64, error)
	IsFile(ctx context.Context, uri string) (bool, error)
	IsDir(ctx context.Context, uri string) (bool, error)
	RemoveFile(ctx context.Context, uri string) error
	RemoveDir(ctx context.Context, uri string) error
	ListDir(ctx context.Context, uri string) ([]string, error)
}

// ReadAll reads the whole file at uri.
func ReadAll(ctx context.Context, fs VFS, uri string) ([]byte, error) {
	size, err := fs.FileSize(ctx, uri)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	if err := fs.ReadAt(ctx, uri, 0, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
