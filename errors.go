package tilego

import (
	"github.com/hupe1980/tilego/fragment"
	"github.com/hupe1980/tilego/vfs"
	"github.com/hupe1980/tilego/writer"
)

// Re-exported sentinels so callers matching with errors.Is need only the
// root package.
var (
	// ErrNotFound is returned when a file or fragment does not exist.
	ErrNotFound = vfs.ErrNotFound

	// ErrFormat is returned for corrupt or unsupported metadata files.
	ErrFormat = fragment.ErrFormat

	// ErrNotLoaded is returned when an accessor needs a metadata section
	// that has not been loaded.
	ErrNotLoaded = fragment.ErrNotLoaded

	// ErrUsage is returned for calls that violate the write state machine
	// or reference unknown fields.
	ErrUsage = writer.ErrUsage
)
