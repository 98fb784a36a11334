// Package fragment implements the per-fragment metadata index: the versioned
// on-disk footer and generic-tile sections, the tile offset loading
// strategies, and the name parser for fragment directories.
package fragment

import (
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/resource"
	"github.com/hupe1980/tilego/rtree"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

// MetadataFileName is the metadata file inside every fragment directory.
const MetadataFileName = "__fragment_metadata.tdbx"

// Config carries the collaborators a Metadata needs. FS, Resources, Key and
// Logger may be zero-valued for purely in-memory use.
type Config struct {
	Schema    *schema.Schema
	FS        vfs.VFS
	Resources *resource.Controller
	Key       crypto.Key
	Logger    *slog.Logger
}

// Metadata is the index of one fragment: domains, per-field tile offsets,
// per-tile statistics and the sparse R-tree. It is populated incrementally
// by a writer, persisted on finalize, and reloaded (fully or section by
// section) for reads.
type Metadata struct {
	sch    *schema.Schema
	fs     vfs.VFS
	res    *resource.Controller
	key    crypto.Key
	logger *slog.Logger

	fragmentURI string
	id          ID
	version     uint32
	dense       bool

	domain         schema.NDRange // tile-aligned expansion of nonEmptyDomain
	nonEmptyDomain schema.NDRange

	timestampStart uint64
	timestampEnd   uint64

	tileNum         uint64
	lastTileCellNum uint64
	cellNumPerTile  uint64
	tileIndexBase   uint64

	// Running byte sizes per field; SetTileOffset and friends advance them.
	fileSizes         []uint64
	fileVarSizes      []uint64
	fileValiditySizes []uint64

	tileOffsets         [][]uint64
	tileVarOffsets      [][]uint64
	tileVarSizes        [][]uint64
	tileValidityOffsets [][]uint64

	stats fragmentStats

	processedConds []string

	mbrs []schema.NDRange
	rt   *rtree.RTree

	footer *Footer
	loaded *loadedState
	source offsetSource
}

// New creates an empty write-side index. Every section counts as loaded;
// loading strategies only attach on the read path.
func New(cfg Config, fragmentURI string, dense bool, cellNumPerTile uint64) (*Metadata, error) {
	if cfg.Schema == nil {
		return nil, fmt.Errorf("%w: nil schema", ErrUsage)
	}
	id, err := ParseID(fragmentURI)
	if err != nil {
		return nil, err
	}
	n := cfg.Schema.FieldNum()
	m := &Metadata{
		sch:                 cfg.Schema,
		fs:                  cfg.FS,
		res:                 cfg.Resources,
		key:                 cfg.Key,
		logger:              cfg.Logger,
		fragmentURI:         fragmentURI,
		id:                  id,
		version:             CurrentFormatVersion,
		dense:               dense,
		timestampStart:      id.TimestampStart,
		timestampEnd:        id.TimestampEnd,
		cellNumPerTile:      cellNumPerTile,
		fileSizes:           make([]uint64, n),
		fileVarSizes:        make([]uint64, n),
		fileValiditySizes:   make([]uint64, n),
		tileOffsets:         make([][]uint64, n),
		tileVarOffsets:      make([][]uint64, n),
		tileVarSizes:        make([][]uint64, n),
		tileValidityOffsets: make([][]uint64, n),
		loaded:              newLoadedState(n, true),
	}
	m.stats.init(n)
	m.source = noopSource{}
	return m, nil
}

// Init fixes the fragment's non-empty domain. For dense fragments it also
// derives the tile-aligned domain, the tile count and the cells per tile
// from the grid; both are fixed from here on.
func (m *Metadata) Init(nonEmptyDomain schema.NDRange) error {
	m.nonEmptyDomain = cloneNDRange(nonEmptyDomain)
	if !m.dense {
		return nil
	}
	dom := m.sch.Domain()
	m.domain = dom.ExpandToTiles(nonEmptyDomain)
	n, err := dom.TileNum(m.domain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	cells := uint64(1)
	for d := range dom.Dims {
		cells *= uint64(dom.Extent(d))
	}
	m.cellNumPerTile = cells
	m.lastTileCellNum = cells
	m.SetNumTiles(n)
	return nil
}

// SetNumTiles resizes every per-field metadata vector to n tiles, keeping
// already-set entries.
func (m *Metadata) SetNumTiles(n uint64) {
	m.tileNum = n
	for i, f := range m.sch.Fields() {
		m.tileOffsets[i] = resizeU64(m.tileOffsets[i], n)
		if f.VarSize() {
			m.tileVarOffsets[i] = resizeU64(m.tileVarOffsets[i], n)
			m.tileVarSizes[i] = resizeU64(m.tileVarSizes[i], n)
		}
		if f.Nullable {
			m.tileValidityOffsets[i] = resizeU64(m.tileValidityOffsets[i], n)
		}
		m.stats.resize(i, n)
	}
	if !m.dense {
		m.mbrs = resizeNDRange(m.mbrs, n)
	}
}

func resizeU64(s []uint64, n uint64) []uint64 {
	for uint64(len(s)) < n {
		s = append(s, 0)
	}
	return s[:n]
}

func resizeNDRange(s []schema.NDRange, n uint64) []schema.NDRange {
	for uint64(len(s)) < n {
		s = append(s, nil)
	}
	return s[:n]
}

// SetTileIndexBase offsets subsequent tile positions; used for multi-batch
// global-order appends into the same fragment.
func (m *Metadata) SetTileIndexBase(base uint64) { m.tileIndexBase = base }

// TileIndexBase returns the current append base.
func (m *Metadata) TileIndexBase() uint64 { return m.tileIndexBase }

// SetTileOffset records the fixed-data offset of tile tid for a field. The
// caller passes the size just written, never an absolute offset; offsets are
// a running cumulative sum.
func (m *Metadata) SetTileOffset(name string, tid, step uint64) error {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	tid += m.tileIndexBase
	if tid >= uint64(len(m.tileOffsets[i])) {
		return fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	m.tileOffsets[i][tid] = m.fileSizes[i]
	m.fileSizes[i] += step
	return nil
}

// SetTileVarOffset records the var-data offset of tile tid; see SetTileOffset.
func (m *Metadata) SetTileVarOffset(name string, tid, step uint64) error {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	tid += m.tileIndexBase
	if tid >= uint64(len(m.tileVarOffsets[i])) {
		return fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	m.tileVarOffsets[i][tid] = m.fileVarSizes[i]
	m.tileVarSizes[i][tid] = step
	m.fileVarSizes[i] += step
	return nil
}

// SetTileValidityOffset records the validity-data offset of tile tid.
func (m *Metadata) SetTileValidityOffset(name string, tid, step uint64) error {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	tid += m.tileIndexBase
	if tid >= uint64(len(m.tileValidityOffsets[i])) {
		return fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	m.tileValidityOffsets[i][tid] = m.fileValiditySizes[i]
	m.fileValiditySizes[i] += step
	return nil
}

// SetMBR stores the MBR of tile tid and widens the non-empty domain to cover
// it. Sparse fragments only.
func (m *Metadata) SetMBR(tid uint64, mbr schema.NDRange) error {
	if m.dense {
		return fmt.Errorf("%w: MBRs apply to sparse fragments only", ErrUsage)
	}
	tid += m.tileIndexBase
	if tid >= uint64(len(m.mbrs)) {
		return fmt.Errorf("%w: tile %d out of range for MBR", ErrUsage, tid)
	}
	m.mbrs[tid] = cloneNDRange(mbr)
	dims := m.sch.Domain().Dims
	if m.nonEmptyDomain == nil {
		m.nonEmptyDomain = make(schema.NDRange, len(dims))
	}
	for d := range dims {
		m.nonEmptyDomain[d] = schema.RangeUnion(dims[d].Type, m.nonEmptyDomain[d], mbr[d])
	}
	return nil
}

// SetTileStats copies a tile's generated statistics into position tid.
func (m *Metadata) SetTileStats(name string, tid uint64, t *tile.Tile) error {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	tid += m.tileIndexBase
	return m.stats.setTile(i, tid, t)
}

// SetLastTileCellNum records the cell count of the trailing, possibly
// partial tile.
func (m *Metadata) SetLastTileCellNum(n uint64) { m.lastTileCellNum = n }

// CellNum returns the number of cells in tile pos; only the last tile may be
// partial.
func (m *Metadata) CellNum(pos uint64) uint64 {
	if pos+1 >= m.tileNum && m.lastTileCellNum != 0 {
		return m.lastTileCellNum
	}
	return m.cellNumPerTile
}

// LastTileCellNum returns the cell count of the last tile.
func (m *Metadata) LastTileCellNum() uint64 { return m.lastTileCellNum }

// Dense reports whether the fragment is dense.
func (m *Metadata) Dense() bool { return m.dense }

// Version returns the fragment's format version.
func (m *Metadata) Version() uint32 { return m.version }

// ID returns the parsed fragment name.
func (m *Metadata) ID() ID { return m.id }

// FragmentURI returns the fragment directory URI.
func (m *Metadata) FragmentURI() string { return m.fragmentURI }

// MetadataURI returns the URI of the metadata file.
func (m *Metadata) MetadataURI() string {
	return path.Join(m.fragmentURI, MetadataFileName)
}

// FieldURI returns the fixed-data file of a field.
func (m *Metadata) FieldURI(name string) string {
	return path.Join(m.fragmentURI, name+".dat")
}

// FieldVarURI returns the var-data file of a field.
func (m *Metadata) FieldVarURI(name string) string {
	return path.Join(m.fragmentURI, name+".var")
}

// FieldValidityURI returns the validity file of a field.
func (m *Metadata) FieldValidityURI(name string) string {
	return path.Join(m.fragmentURI, name+".validity")
}

// TileNum returns the fragment's tile count.
func (m *Metadata) TileNum() uint64 { return m.tileNum }

// NonEmptyDomain returns the tightest bounding box over written cells.
func (m *Metadata) NonEmptyDomain() schema.NDRange { return m.nonEmptyDomain }

// Domain returns the tile-aligned expanded domain (dense only).
func (m *Metadata) Domain() schema.NDRange { return m.domain }

// TimestampRange returns the fragment's write-time interval.
func (m *Metadata) TimestampRange() (uint64, uint64) {
	return m.timestampStart, m.timestampEnd
}

// MBR returns the bounding rectangle of tile pos (sparse).
func (m *Metadata) MBR(pos uint64) (schema.NDRange, error) {
	if err := m.loaded.requireRTree(); err != nil {
		return nil, err
	}
	if m.rt != nil {
		if pos >= uint64(m.rt.LeafNum()) {
			return nil, fmt.Errorf("%w: tile %d out of range", ErrUsage, pos)
		}
		return m.rt.Leaf(int(pos)), nil
	}
	if pos >= uint64(len(m.mbrs)) {
		return nil, fmt.Errorf("%w: tile %d out of range", ErrUsage, pos)
	}
	return m.mbrs[pos], nil
}

// TileOffset returns the fixed-data byte offset of tile tid for a field.
func (m *Metadata) TileOffset(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secOffsets); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.tileOffsets[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.tileOffsets[i][tid], nil
}

// TileVarOffset returns the var-data byte offset of tile tid.
func (m *Metadata) TileVarOffset(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secVarOffsets); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.tileVarOffsets[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.tileVarOffsets[i][tid], nil
}

// TileVarSize returns the persisted var-data size of tile tid.
func (m *Metadata) TileVarSize(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secVarSizes); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.tileVarSizes[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.tileVarSizes[i][tid], nil
}

// TileValidityOffset returns the validity byte offset of tile tid.
func (m *Metadata) TileValidityOffset(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secValidity); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.tileValidityOffsets[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.tileValidityOffsets[i][tid], nil
}

// PersistedTileSize returns the on-disk size of tile tid's fixed data:
// the distance to the next offset, or to the end of the file for the last
// tile.
func (m *Metadata) PersistedTileSize(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secOffsets); err != nil {
		return 0, err
	}
	offs := m.tileOffsets[i]
	if tid >= uint64(len(offs)) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	if tid+1 < uint64(len(offs)) {
		return offs[tid+1] - offs[tid], nil
	}
	return m.fileSizes[i] - offs[tid], nil
}

// FileSize returns the total fixed-data bytes written for a field.
func (m *Metadata) FileSize(name string) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	return m.fileSizes[i], nil
}

// GetTileOverlap returns the tiles whose extent intersects rng. Fully
// contained subtrees come back as contiguous tile ranges that need no
// per-cell filtering.
func (m *Metadata) GetTileOverlap(rng schema.NDRange) (rtree.TileOverlap, error) {
	if !m.dense {
		if err := m.loaded.requireRTree(); err != nil {
			return rtree.TileOverlap{}, err
		}
		return m.rt.GetTileOverlap(rng), nil
	}
	return m.denseTileOverlap(rng)
}

func (m *Metadata) denseTileOverlap(rng schema.NDRange) (rtree.TileOverlap, error) {
	var out rtree.TileOverlap
	dom := m.sch.Domain()
	td, ok := dom.TileDomain(m.domain, rng)
	if !ok {
		return out, nil
	}
	type hit struct {
		pos   uint64
		full  bool
		ratio float64
	}
	var hits []hit
	coords := make([]int64, len(td))
	for d := range td {
		coords[d] = td[d][0]
	}
	for {
		full := true
		ratio := 1.0
		for d := range td {
			slab := dom.TileSlab(m.domain, d, coords[d])
			dt := dom.Dims[d].Type
			if full && !schema.RangeCovers(dt, rng[d], slab) {
				full = false
			}
			ratio *= schema.RangeCoverage(dt, rng[d], slab)
		}
		hits = append(hits, hit{pos: dom.TilePos(m.domain, coords), full: full, ratio: ratio})

		d := len(td) - 1
		for ; d >= 0; d-- {
			coords[d]++
			if coords[d] <= td[d][1] {
				break
			}
			coords[d] = td[d][0]
		}
		if d < 0 {
			break
		}
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })
	for _, h := range hits {
		if h.full {
			if n := len(out.TileRanges); n > 0 && out.TileRanges[n-1][1]+1 == h.pos {
				out.TileRanges[n-1][1] = h.pos
			} else {
				out.TileRanges = append(out.TileRanges, [2]uint64{h.pos, h.pos})
			}
			continue
		}
		out.Tiles = append(out.Tiles, rtree.PartialTile{Idx: h.pos, Ratio: h.ratio})
	}
	return out, nil
}

// ComputeTileBitmap returns the set of dense tile positions whose slab on
// dimension d intersects rng; tile-granularity pruning for dense reads.
func (m *Metadata) ComputeTileBitmap(rng schema.Range, d int) (*roaring64.Bitmap, error) {
	if !m.dense {
		return nil, fmt.Errorf("%w: tile bitmaps apply to dense fragments only", ErrUsage)
	}
	dom := m.sch.Domain()
	if d < 0 || d >= len(dom.Dims) {
		return nil, fmt.Errorf("%w: dimension %d out of range", ErrUsage, d)
	}
	bm := roaring64.New()
	full, ok := dom.TileDomain(m.domain, m.domain)
	if !ok {
		return bm, nil
	}
	dt := dom.Dims[d].Type
	coords := make([]int64, len(full))
	for i := range full {
		coords[i] = full[i][0]
	}
	for {
		slab := dom.TileSlab(m.domain, d, coords[d])
		if schema.RangeIntersects(dt, rng, slab) {
			bm.Add(dom.TilePos(m.domain, coords))
		}
		i := len(full) - 1
		for ; i >= 0; i-- {
			coords[i]++
			if coords[i] <= full[i][1] {
				break
			}
			coords[i] = full[i][0]
		}
		if i < 0 {
			break
		}
	}
	return bm, nil
}

// BuildRTree bulk-loads the R-tree over the collected MBRs. Called by the
// writer after all MBRs are set.
func (m *Metadata) BuildRTree() error {
	if m.dense {
		return nil
	}
	for i, mbr := range m.mbrs {
		if mbr == nil {
			return fmt.Errorf("%w: tile %d has no MBR", ErrUsage, i)
		}
	}
	dims := m.sch.Domain().Dims
	m.rt = rtree.New(dims, rtree.DefaultFanout, len(m.mbrs))
	for i, mbr := range m.mbrs {
		m.rt.SetLeaf(i, mbr)
	}
	m.rt.Build()
	return nil
}

func cloneNDRange(nd schema.NDRange) schema.NDRange {
	if nd == nil {
		return nil
	}
	out := make(schema.NDRange, len(nd))
	for d, r := range nd {
		out[d] = schema.Range{
			Start:    append([]byte(nil), r.Start...),
			End:      append([]byte(nil), r.End...),
			StartStr: r.StartStr,
			EndStr:   r.EndStr,
			Var:      r.Var,
		}
	}
	return out
}
