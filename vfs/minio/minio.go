// Package minio implements vfs.VFS on MinIO and other S3-compatible object
// stores. It mirrors the s3 backend: appends buffer in memory and flush as
// one object on CloseFile, reads are ranged GetObject calls.
package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/tilego/vfs"
)

const dirMarker = ".dir"

// VFS implements vfs.VFS on one MinIO bucket.
type VFS struct {
	client *minio.Client
	bucket string
	prefix string

	mu      sync.Mutex
	pending map[string]*bytes.Buffer
}

// New creates a MinIO VFS over an existing client.
func New(client *minio.Client, bucket, rootPrefix string) *VFS {
	return &VFS{
		client:  client,
		bucket:  bucket,
		prefix:  rootPrefix,
		pending: make(map[string]*bytes.Buffer),
	}
}

func (v *VFS) key(uri string) string {
	return path.Join(v.prefix, uri)
}

func notFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}

func (v *VFS) put(ctx context.Context, key string, data []byte) error {
	_, err := v.client.PutObject(ctx, v.bucket, key,
		bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

func (v *VFS) CreateDir(ctx context.Context, uri string) error {
	return v.put(ctx, path.Join(v.key(uri), dirMarker), nil)
}

func (v *VFS) Touch(ctx context.Context, uri string) error {
	return v.put(ctx, v.key(uri), nil)
}

func (v *VFS) Write(_ context.Context, uri string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	buf, ok := v.pending[uri]
	if !ok {
		buf = &bytes.Buffer{}
		v.pending[uri] = buf
	}
	_, err := buf.Write(data)
	return err
}

func (v *VFS) CloseFile(ctx context.Context, uri string) error {
	v.mu.Lock()
	buf, ok := v.pending[uri]
	delete(v.pending, uri)
	v.mu.Unlock()
	if !ok {
		return nil
	}
	return v.put(ctx, v.key(uri), buf.Bytes())
}

func (v *VFS) ReadAt(ctx context.Context, uri string, offset int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+int64(len(buf))-1); err != nil {
		return err
	}
	obj, err := v.client.GetObject(ctx, v.bucket, v.key(uri), opts)
	if err != nil {
		return err
	}
	defer obj.Close()
	if _, err := io.ReadFull(obj, buf); err != nil {
		if notFound(err) {
			return fmt.Errorf("%w: %s", vfs.ErrNotFound, uri)
		}
		return err
	}
	return nil
}

func (v *VFS) FileSize(ctx context.Context, uri string) (int64, error) {
	info, err := v.client.StatObject(ctx, v.bucket, v.key(uri), minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return 0, fmt.Errorf("%w: %s", vfs.ErrNotFound, uri)
		}
		return 0, err
	}
	return info.Size, nil
}

func (v *VFS) IsFile(ctx context.Context, uri string) (bool, error) {
	_, err := v.client.StatObject(ctx, v.bucket, v.key(uri), minio.StatObjectOptions{})
	if err != nil {
		if notFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (v *VFS) IsDir(ctx context.Context, uri string) (bool, error) {
	ch := v.client.ListObjects(ctx, v.bucket, minio.ListObjectsOptions{
		Prefix:  v.key(uri) + "/",
		MaxKeys: 1,
	})
	for obj := range ch {
		if obj.Err != nil {
			return false, obj.Err
		}
		return true, nil
	}
	return false, nil
}

func (v *VFS) RemoveFile(ctx context.Context, uri string) error {
	return v.client.RemoveObject(ctx, v.bucket, v.key(uri), minio.RemoveObjectOptions{})
}

func (v *VFS) RemoveDir(ctx context.Context, uri string) error {
	prefix := v.key(uri) + "/"
	ch := v.client.ListObjects(ctx, v.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})
	for obj := range ch {
		if obj.Err != nil {
			return obj.Err
		}
		if err := v.client.RemoveObject(ctx, v.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return err
		}
	}
	return nil
}

func (v *VFS) ListDir(ctx context.Context, uri string) ([]string, error) {
	prefix := v.key(uri) + "/"
	var out []string
	ch := v.client.ListObjects(ctx, v.bucket, minio.ListObjectsOptions{Prefix: prefix})
	for obj := range ch {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if strings.HasSuffix(obj.Key, "/"+dirMarker) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, v.prefix+"/"), "/")
		out = append(out, name)
	}
	return out, nil
}
