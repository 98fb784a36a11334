package tilego

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/hupe1980/tilego/commit"
	"github.com/hupe1980/tilego/fragment"
	"github.com/hupe1980/tilego/overlap"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/vfs"
	"github.com/hupe1980/tilego/writer"
)

// Array is the fragment index of one array: the set of committed fragments
// and the collaborators (filesystem, commit store, resource controller)
// shared by readers and writers of it.
//
// Open loads the committed fragment list; Reload refreshes it after another
// writer finalizes. All methods are safe for concurrent use.
type Array struct {
	uri     string
	schema  *schema.Schema
	fs      vfs.VFS
	commits commit.Store
	opts    options

	mu        sync.RWMutex
	fragments []*fragment.Metadata
}

// Open binds an array at uri and loads its committed fragments. An array
// that has never been written opens empty.
func Open(ctx context.Context, fs vfs.VFS, uri string, sch *schema.Schema, optFns ...Option) (*Array, error) {
	if fs == nil || sch == nil {
		return nil, fmt.Errorf("tilego: filesystem and schema are required")
	}
	o := applyOptions(optFns)
	a := &Array{
		uri:     uri,
		schema:  sch,
		fs:      fs,
		commits: o.commits,
		opts:    o,
	}
	if a.commits == nil {
		a.commits = commit.NewFile(fs, uri, writer.FragmentsDir)
	}
	if err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array) fragmentConfig() fragment.Config {
	return fragment.Config{
		Schema:    a.schema,
		FS:        a.fs,
		Resources: a.opts.resources,
		Key:       a.opts.key,
		Logger:    a.opts.logger,
	}
}

// Reload re-lists the fragment directory and reloads the metadata of every
// committed fragment, sorted by start timestamp then name.
func (a *Array) Reload(ctx context.Context) error {
	entries, err := a.fs.ListDir(ctx, path.Join(a.uri, writer.FragmentsDir))
	if errors.Is(err, vfs.ErrNotFound) {
		a.mu.Lock()
		a.fragments = nil
		a.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}

	var loaded []*fragment.Metadata
	for _, uri := range entries {
		id, err := fragment.ParseID(uri)
		if err != nil {
			// Sentinel files and foreign entries live alongside the
			// fragment directories.
			continue
		}
		ok, err := a.commits.IsCommitted(ctx, id.Name, id.FormatVersion)
		if err != nil {
			return err
		}
		if !ok {
			a.opts.logger.DebugContext(ctx, "skipping uncommitted fragment", "fragment", id.Name)
			continue
		}
		m, err := fragment.Load(ctx, a.fragmentConfig(), uri)
		if err != nil {
			return fmt.Errorf("load fragment %s: %w", id.Name, err)
		}
		loaded = append(loaded, m)
	}

	sort.Slice(loaded, func(i, j int) bool {
		fi, fj := loaded[i].ID(), loaded[j].ID()
		if fi.TimestampStart != fj.TimestampStart {
			return fi.TimestampStart < fj.TimestampStart
		}
		return fi.Name < fj.Name
	})

	a.mu.Lock()
	a.fragments = loaded
	a.mu.Unlock()
	return nil
}

// Schema returns the array schema.
func (a *Array) Schema() *schema.Schema { return a.schema }

// URI returns the array location.
func (a *Array) URI() string { return a.uri }

// Fragments returns the committed fragments in timestamp order.
func (a *Array) Fragments() []*fragment.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*fragment.Metadata, len(a.fragments))
	copy(out, a.fragments)
	return out
}

// FragmentsAt returns the fragments visible when the array is opened at the
// given timestamp: those whose write started at or before it.
func (a *Array) FragmentsAt(timestamp uint64) []*fragment.Metadata {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []*fragment.Metadata
	for _, f := range a.fragments {
		if f.ID().TimestampStart <= timestamp {
			out = append(out, f)
		}
	}
	return out
}

// NonEmptyDomain returns the per-dimension union of the committed fragments'
// non-empty domains, or nil for an empty array.
func (a *Array) NonEmptyDomain() schema.NDRange {
	a.mu.RLock()
	defer a.mu.RUnlock()

	dims := a.schema.Domain().Dims
	var union schema.NDRange
	for _, f := range a.fragments {
		ned := f.NonEmptyDomain()
		if ned == nil {
			continue
		}
		if union == nil {
			union = make(schema.NDRange, len(dims))
			copy(union, ned)
			continue
		}
		for d := range dims {
			union[d] = schema.RangeUnion(dims[d].Type, union[d], ned[d])
		}
	}
	return union
}

// WriterConfig shapes one fragment write. The array supplies the
// collaborators; this carries only the per-write knobs.
type WriterConfig struct {
	// Dense derives the tile count from NonEmptyDomain; sparse fragments
	// discover it from the first written field.
	Dense bool

	// NonEmptyDomain is required for dense writes.
	NonEmptyDomain schema.NDRange

	// CellsPerTile is the sparse tile capacity.
	CellsPerTile uint64

	TimestampStart uint64
	TimestampEnd   uint64
}

// NewWriter starts a fragment write against this array. The fragment is
// invisible to readers until Finalize commits it; call Reload afterwards to
// pick it up.
func (a *Array) NewWriter(ctx context.Context, cfg WriterConfig) (*writer.ColumnFragmentWriter, error) {
	return writer.New(ctx, writer.Config{
		Schema:         a.schema,
		FS:             a.fs,
		Commits:        a.commits,
		Resources:      a.opts.resources,
		Key:            a.opts.key,
		Logger:         a.opts.logger,
		Dense:          cfg.Dense,
		NonEmptyDomain: cfg.NonEmptyDomain,
		CellsPerTile:   cfg.CellsPerTile,
		TimestampStart: cfg.TimestampStart,
		TimestampEnd:   cfg.TimestampEnd,
	}, a.uri)
}

// Vacuum removes fragment directories that never committed: leftovers of
// crashed or abandoned writes. Committed fragments are untouched.
func (a *Array) Vacuum(ctx context.Context) error {
	entries, err := a.fs.ListDir(ctx, path.Join(a.uri, writer.FragmentsDir))
	if errors.Is(err, vfs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, uri := range entries {
		isDir, err := a.fs.IsDir(ctx, uri)
		if err != nil || !isDir {
			continue
		}
		id, err := fragment.ParseID(uri)
		if err != nil {
			continue
		}
		ok, err := a.commits.IsCommitted(ctx, id.Name, id.FormatVersion)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		a.opts.logger.InfoContext(ctx, "vacuuming uncommitted fragment", "fragment", id.Name)
		if err := a.fs.RemoveDir(ctx, uri); err != nil {
			return err
		}
	}
	return nil
}

// OverlapEngine builds a range-overlap engine for this array's domain.
func (a *Array) OverlapEngine() (*overlap.Engine, error) {
	return overlap.NewEngine(a.schema.Domain())
}
