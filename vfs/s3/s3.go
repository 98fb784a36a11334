// Package s3 implements vfs.VFS on Amazon S3. Appends are buffered in memory
// per URI and uploaded as one object on CloseFile; reads use ranged GetObject
// so metadata sections are fetched without pulling whole files.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/hupe1980/tilego/vfs"
)

// dirMarker is the zero-byte object that stands in for a directory.
const dirMarker = ".dir"

// VFS implements vfs.VFS on one S3 bucket. URIs are object keys relative to
// an optional root prefix.
type VFS struct {
	client *s3.Client
	bucket string
	prefix string

	mu      sync.Mutex
	pending map[string]*bytes.Buffer
}

// New creates an S3 VFS over an existing client.
func New(client *s3.Client, bucket, rootPrefix string) *VFS {
	return &VFS{
		client:  client,
		bucket:  bucket,
		prefix:  rootPrefix,
		pending: make(map[string]*bytes.Buffer),
	}
}

// NewFromDefaultConfig creates an S3 VFS using the ambient AWS configuration.
func NewFromDefaultConfig(ctx context.Context, bucket, rootPrefix string) (*VFS, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}
	return New(s3.NewFromConfig(cfg), bucket, rootPrefix), nil
}

func (v *VFS) key(uri string) string {
	return path.Join(v.prefix, uri)
}

func notFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}

func (v *VFS) CreateDir(ctx context.Context, uri string) error {
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(path.Join(v.key(uri), dirMarker)),
		Body:   bytes.NewReader(nil),
	})
	return err
}

func (v *VFS) Touch(ctx context.Context, uri string) error {
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Body:   bytes.NewReader(nil),
	})
	return err
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
	_, err := v.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	return err
}

func (v *VFS) ReadAt(ctx context.Context, uri string, offset int64, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(buf))-1)
	out, err := v.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
		Range:  aws.String(rng),
	})
	if err != nil {
		if notFound(err) {
			return fmt.Errorf("%w: %s", vfs.ErrNotFound, uri)
		}
		return err
	}
	defer out.Body.Close()
	_, err = io.ReadFull(out.Body, buf)
	return err
}

func (v *VFS) FileSize(ctx context.Context, uri string) (int64, error) {
	head, err := v.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
	})
	if err != nil {
		if notFound(err) {
			return 0, fmt.Errorf("%w: %s", vfs.ErrNotFound, uri)
		}
		return 0, err
	}
	return aws.ToInt64(head.ContentLength), nil
}

func (v *VFS) IsFile(ctx context.Context, uri string) (bool, error) {
	_, err := v.FileSize(ctx, uri)
	if errors.Is(err, vfs.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (v *VFS) IsDir(ctx context.Context, uri string) (bool, error) {
	out, err := v.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(v.bucket),
		Prefix:  aws.String(v.key(uri) + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, err
	}
	return len(out.Contents) > 0, nil
}

func (v *VFS) RemoveFile(ctx context.Context, uri string) error {
	_, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.bucket),
		Key:    aws.String(v.key(uri)),
	})
	return err
}

func (v *VFS) RemoveDir(ctx context.Context, uri string) error {
	prefix := v.key(uri) + "/"
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(v.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			if _, err := v.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(v.bucket),
				Key:    obj.Key,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (v *VFS) ListDir(ctx context.Context, uri string) ([]string, error) {
	prefix := v.key(uri) + "/"
	var out []string
	paginator := s3.NewListObjectsV2Paginator(v.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(v.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if strings.HasSuffix(key, "/"+dirMarker) {
				continue
			}
			out = append(out, strings.TrimPrefix(key, v.prefix+"/"))
		}
		for _, cp := range page.CommonPrefixes {
			out = append(out, strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), v.prefix+"/"), "/"))
		}
	}
	return out, nil
}
