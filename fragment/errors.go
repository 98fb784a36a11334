package fragment

import "errors"

var (
	// ErrFormat is wrapped by every corrupt-or-unsupported layout error.
	// A format error is fatal for the affected fragment only; sibling
	// fragments keep loading.
	ErrFormat = errors.New("fragment: invalid on-disk format")

	// ErrNotLoaded is returned when a metadata section is accessed before
	// it was loaded. This is a programming error, not a retryable state.
	ErrNotLoaded = errors.New("fragment: metadata section not loaded")

	// ErrUsage is wrapped by wrong-state calls such as out-of-range tile
	// indices. Never retried.
	ErrUsage = errors.New("fragment: invalid use")
)
