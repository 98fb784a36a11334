package commit

import (
	"context"

	"github.com/hupe1980/tilego/vfs"
)

// File is the filesystem sentinel store.
type File struct {
	fs           vfs.VFS
	arrayURI     string
	fragmentsDir string
}

// NewFile creates a file sentinel store for one array. fragmentsDir is the
// directory under arrayURI that holds fragment directories.
func NewFile(fs vfs.VFS, arrayURI, fragmentsDir string) *File {
	return &File{fs: fs, arrayURI: arrayURI, fragmentsDir: fragmentsDir}
}

func (f *File) uri(name string, version uint32) string {
	return SentinelURI(f.arrayURI, f.fragmentsDir, name, version)
}

func (f *File) Commit(ctx context.Context, name string, version uint32) error {
	if version >= SentinelVersion {
		if err := f.fs.CreateDir(ctx, f.arrayURI+"/"+DirName); err != nil {
			return err
		}
	}
	return f.fs.Touch(ctx, f.uri(name, version))
}

func (f *File) IsCommitted(ctx context.Context, name string, version uint32) (bool, error) {
	return f.fs.IsFile(ctx, f.uri(name, version))
}

func (f *File) Remove(ctx context.Context, name string, version uint32) error {
	return f.fs.RemoveFile(ctx, f.uri(name, version))
}
