// Package writer streams one fragment to storage, field by field. A
// ColumnFragmentWriter owns the fragment metadata it is building and exactly
// one open field at a time; it is single-writer by construction and performs
// no internal locking.
package writer

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/hupe1980/tilego/commit"
	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/fragment"
	"github.com/hupe1980/tilego/resource"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

// ErrUsage is wrapped by every wrong-state call: open/close mismatches,
// unfiltered tiles, tile-count violations, finalize without MBRs. Usage
// errors are fatal and never retried. It is the same sentinel the fragment
// setters wrap, so one errors.Is check covers the whole write path.
var ErrUsage = fragment.ErrUsage

// FragmentsDir is the directory under the array URI holding fragments.
const FragmentsDir = "__fragments"

// Config carries the writer's collaborators.
type Config struct {
	Schema    *schema.Schema
	FS        vfs.VFS
	Commits   commit.Store
	Resources *resource.Controller
	Key       crypto.Key
	Logger    *slog.Logger

	// Dense fixes the tile count from the domain at construction; sparse
	// freezes it when the first field closes.
	Dense bool

	// NonEmptyDomain is required for dense fragments: the cells this write
	// covers, expanded to tile boundaries internally.
	NonEmptyDomain schema.NDRange

	// CellsPerTile is the sparse tile capacity; ignored for dense.
	CellsPerTile uint64

	// TimestampStart and TimestampEnd bound the write; both end up in the
	// fragment name.
	TimestampStart uint64
	TimestampEnd   uint64
}

// ColumnFragmentWriter drives the fragment write state machine:
// open_field → write_tile* → close_field, repeated per field, then
// (sparse) SetMBRs, then Finalize.
type ColumnFragmentWriter struct {
	cfg    Config
	logger *slog.Logger

	fragmentName string
	fragmentURI  string
	meta         *fragment.Metadata

	openField    string
	openIdx      int
	tilesWritten uint64
	varWritten   bool

	firstClosed bool
	frozen      uint64
	lastCellNum uint64

	mbrsSet   bool
	finalized bool
}

// New creates the fragment and commit directories and an empty metadata
// index. The fragment stays invisible until Finalize writes its sentinel.
func New(ctx context.Context, cfg Config, arrayURI string) (*ColumnFragmentWriter, error) {
	if cfg.Schema == nil || cfg.FS == nil || cfg.Commits == nil {
		return nil, fmt.Errorf("%w: schema, filesystem and commit store are required", ErrUsage)
	}
	if cfg.Dense && cfg.NonEmptyDomain == nil {
		return nil, fmt.Errorf("%w: dense fragments need a non-empty domain", ErrUsage)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	name := fragment.NewName(cfg.TimestampStart, cfg.TimestampEnd, fragment.CurrentFormatVersion)
	fragmentURI := path.Join(arrayURI, FragmentsDir, name)

	for _, dir := range []string{
		path.Join(arrayURI, FragmentsDir),
		fragmentURI,
		path.Join(arrayURI, commit.DirName),
	} {
		if err := cfg.FS.CreateDir(ctx, dir); err != nil {
			return nil, err
		}
	}

	meta, err := fragment.New(fragment.Config{
		Schema:    cfg.Schema,
		FS:        cfg.FS,
		Resources: cfg.Resources,
		Key:       cfg.Key,
		Logger:    logger,
	}, fragmentURI, cfg.Dense, cfg.CellsPerTile)
	if err != nil {
		return nil, err
	}
	if cfg.Dense {
		if err := meta.Init(cfg.NonEmptyDomain); err != nil {
			return nil, err
		}
	} else if err := meta.Init(nil); err != nil {
		return nil, err
	}

	w := &ColumnFragmentWriter{
		cfg:          cfg,
		logger:       logger,
		fragmentName: name,
		fragmentURI:  fragmentURI,
		meta:         meta,
		openIdx:      -1,
	}
	logger.Debug("fragment writer created",
		slog.String("fragment", name), slog.Bool("dense", cfg.Dense))
	return w, nil
}

// FragmentName returns the generated fragment directory name.
func (w *ColumnFragmentWriter) FragmentName() string { return w.fragmentName }

// FragmentURI returns the fragment directory URI.
func (w *ColumnFragmentWriter) FragmentURI() string { return w.fragmentURI }

// Metadata exposes the index being built; read-only for callers.
func (w *ColumnFragmentWriter) Metadata() *fragment.Metadata { return w.meta }

// OpenField starts streaming tiles for a field. Exactly one field may be
// open at a time and the name must exist in the schema.
func (w *ColumnFragmentWriter) OpenField(name string) error {
	if w.finalized {
		return fmt.Errorf("%w: writer already finalized", ErrUsage)
	}
	if w.openIdx >= 0 {
		return fmt.Errorf("%w: field %q still open", ErrUsage, w.openField)
	}
	idx, ok := w.cfg.Schema.FieldIndex(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	w.openField = name
	w.openIdx = idx
	w.tilesWritten = 0
	w.varWritten = false
	return nil
}

// WriteTile appends one already-filtered tile to the open field's data
// files and records its offsets and statistics.
func (w *ColumnFragmentWriter) WriteTile(ctx context.Context, t *tile.Tile) error {
	if w.openIdx < 0 {
		return fmt.Errorf("%w: no field open", ErrUsage)
	}
	if !t.Filtered {
		return fmt.Errorf("%w: tile for field %q is not filtered", ErrUsage, w.openField)
	}
	tid := w.tilesWritten
	if w.cfg.Dense {
		if tid >= w.meta.TileNum() {
			return fmt.Errorf("%w: tile %d exceeds the domain tile count %d", ErrUsage, tid, w.meta.TileNum())
		}
	} else if w.firstClosed {
		if tid >= w.frozen {
			return fmt.Errorf("%w: tile %d exceeds the frozen tile count %d", ErrUsage, tid, w.frozen)
		}
	} else {
		// First streamed field: one slot per observed tile.
		w.meta.SetNumTiles(tid + 1)
	}

	field, _ := w.cfg.Schema.Field(w.openField)

	if err := w.cfg.FS.Write(ctx, w.meta.FieldURI(w.openField), t.FixedData); err != nil {
		return err
	}
	if err := w.meta.SetTileOffset(w.openField, tid, uint64(len(t.FixedData))); err != nil {
		return err
	}
	if field.VarSize() {
		if err := w.cfg.FS.Write(ctx, w.meta.FieldVarURI(w.openField), t.VarData); err != nil {
			return err
		}
		if err := w.meta.SetTileVarOffset(w.openField, tid, uint64(len(t.VarData))); err != nil {
			return err
		}
		w.varWritten = true
	}
	if field.Nullable {
		if err := w.cfg.FS.Write(ctx, w.meta.FieldValidityURI(w.openField), t.ValidityData); err != nil {
			return err
		}
		if err := w.meta.SetTileValidityOffset(w.openField, tid, uint64(len(t.ValidityData))); err != nil {
			return err
		}
	}
	if err := w.meta.SetTileStats(w.openField, tid, t); err != nil {
		return err
	}

	w.tilesWritten++
	w.lastCellNum = t.CellNum
	return nil
}

// CloseField seals the open field. For a sparse fragment's first field it
// freezes the tile count at the observed total; every later field must
// match it exactly. Dense fields must match the domain-derived count.
func (w *ColumnFragmentWriter) CloseField(ctx context.Context) error {
	if w.openIdx < 0 {
		return fmt.Errorf("%w: no field open", ErrUsage)
	}
	field, _ := w.cfg.Schema.Field(w.openField)

	if w.cfg.Dense {
		if w.tilesWritten != w.meta.TileNum() {
			return fmt.Errorf("%w: field %q closed with %d tiles, domain requires %d",
				ErrUsage, w.openField, w.tilesWritten, w.meta.TileNum())
		}
	} else if !w.firstClosed {
		w.firstClosed = true
		w.frozen = w.tilesWritten
		w.meta.SetNumTiles(w.frozen)
		w.meta.SetLastTileCellNum(w.lastCellNum)
	} else if w.tilesWritten != w.frozen {
		return fmt.Errorf("%w: field %q closed with %d tiles, fragment has %d",
			ErrUsage, w.openField, w.tilesWritten, w.frozen)
	}

	uris := []string{w.meta.FieldURI(w.openField)}
	if field.VarSize() && w.varWritten {
		uris = append(uris, w.meta.FieldVarURI(w.openField))
	}
	if field.Nullable {
		uris = append(uris, w.meta.FieldValidityURI(w.openField))
	}
	for _, uri := range uris {
		if err := w.cfg.FS.CloseFile(ctx, uri); err != nil {
			return err
		}
	}

	w.logger.Debug("field closed",
		slog.String("fragment", w.fragmentName),
		slog.String("field", w.openField),
		slog.Uint64("tiles", w.tilesWritten))
	w.openField = ""
	w.openIdx = -1
	return nil
}

// SetMBRs supplies the per-tile bounding rectangles of a sparse fragment;
// required before Finalize.
func (w *ColumnFragmentWriter) SetMBRs(mbrs []schema.NDRange) error {
	if w.cfg.Dense {
		return fmt.Errorf("%w: MBRs apply to sparse fragments only", ErrUsage)
	}
	if !w.firstClosed {
		return fmt.Errorf("%w: MBRs before any closed field", ErrUsage)
	}
	if uint64(len(mbrs)) != w.frozen {
		return fmt.Errorf("%w: %d MBRs for %d tiles", ErrUsage, len(mbrs), w.frozen)
	}
	for i, mbr := range mbrs {
		if err := w.meta.SetMBR(uint64(i), mbr); err != nil {
			return err
		}
	}
	w.mbrsSet = true
	return nil
}

// Finalize aggregates statistics, persists the metadata file and writes the
// commit sentinel; only then does the fragment become visible. An abandoned
// writer leaves no sentinel and the fragment is garbage-collectable.
func (w *ColumnFragmentWriter) Finalize(ctx context.Context) error {
	if w.finalized {
		return fmt.Errorf("%w: writer already finalized", ErrUsage)
	}
	if w.openIdx >= 0 {
		return fmt.Errorf("%w: field %q still open", ErrUsage, w.openField)
	}
	if !w.cfg.Dense {
		if !w.mbrsSet {
			return fmt.Errorf("%w: finalize without MBRs", ErrUsage)
		}
		if err := w.meta.BuildRTree(); err != nil {
			return err
		}
	}
	w.meta.ComputeFragmentMinMaxSumNullCount()

	if err := w.meta.Store(ctx); err != nil {
		return err
	}
	if err := w.cfg.Commits.Commit(ctx, w.fragmentName, fragment.CurrentFormatVersion); err != nil {
		return err
	}
	w.finalized = true
	w.logger.Info("fragment committed",
		slog.String("fragment", w.fragmentName),
		slog.Uint64("tiles", w.meta.TileNum()))
	return nil
}
