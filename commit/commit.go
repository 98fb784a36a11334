// Package commit manages fragment commit sentinels. A fragment is visible to
// readers only when its sentinel exists; a missing sentinel means the
// fragment must be ignored and may be garbage-collected, which is the sole
// recovery mechanism for abandoned writes.
//
// Two stores exist: File places sentinels on the array's filesystem
// (`<name>.ok` next to the fragment for legacy formats, `__commits/<name>.write`
// for format version 12 and above), and DynamoDB records them with
// conditional puts for object stores whose listings are eventually
// consistent.
package commit

import (
	"context"
	"path"
)

// DirName is the shared commit directory inside an array.
const DirName = "__commits"

// SentinelVersion is the first format version whose sentinel lives in the
// shared commit directory.
const SentinelVersion = 12

const (
	okSuffix    = ".ok"
	writeSuffix = ".write"
)

// Store records and checks fragment commit sentinels.
type Store interface {
	// Commit marks the named fragment of the given format version visible.
	Commit(ctx context.Context, name string, formatVersion uint32) error
	// IsCommitted reports whether the named fragment is visible.
	IsCommitted(ctx context.Context, name string, formatVersion uint32) (bool, error)
	// Remove deletes the sentinel, hiding the fragment again (vacuum path).
	Remove(ctx context.Context, name string, formatVersion uint32) error
}

// SentinelURI returns the sentinel location for a fragment of the given
// format version, relative to the array URI.
func SentinelURI(arrayURI, fragmentsDir, name string, formatVersion uint32) string {
	if formatVersion >= SentinelVersion {
		return path.Join(arrayURI, DirName, name+writeSuffix)
	}
	return path.Join(arrayURI, fragmentsDir, name+okSuffix)
}
