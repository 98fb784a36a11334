package fragment

import (
	"fmt"

	"github.com/hupe1980/tilego/internal/serial"
	"github.com/hupe1980/tilego/schema"
)

// Format version bands. Every band stays decodable; writes always emit
// CurrentFormatVersion.
const (
	CurrentFormatVersion = 16

	versionFooter        = 3  // footer + per-field generic tiles
	versionVarDims       = 5  // var-size dimension bounds
	versionValidity      = 7  // validity offset sections
	versionTileStats     = 11 // per-tile min/max/sum/null-count sections
	versionFragmentStats = 12 // fragment aggregates + timestamp range
	versionConditions    = 16 // processed-conditions section
)

// Footer is the fixed tail of the metadata file: everything needed to locate
// and decode the generic tiles, plus the small scalars that are always
// materialized. Versions 1-2 have no footer; see preloaded.go.
type Footer struct {
	Version         uint32
	Dense           bool
	TileNum         uint64
	LastTileCellNum uint64
	CellNumPerTile  uint64

	Domain         schema.NDRange
	NonEmptyDomain schema.NDRange

	FileSizes         []uint64
	FileVarSizes      []uint64
	FileValiditySizes []uint64

	TimestampStart uint64 // v12+
	TimestampEnd   uint64 // v12+

	// Byte offsets of generic tiles inside the metadata file. Offset 0 is
	// a valid position (the first section); absentOffset marks a section
	// that was never written.
	RTreeOffset           uint64
	TileOffsetsOffsets    []uint64
	TileVarOffsetsOffsets []uint64
	TileVarSizesOffsets   []uint64
	TileValidityOffsets   []uint64 // v7+
	TileMinOffsets        []uint64 // v11+
	TileMaxOffsets        []uint64 // v11+
	TileSumOffsets        []uint64 // v11+
	TileNullCountOffsets  []uint64 // v11+
	FragmentStatsOffset   uint64   // v12+
	ProcessedCondsOffset  uint64   // v16+
}

func newFooter(version uint32, dense bool, fieldNum int) *Footer {
	f := &Footer{
		Version:               version,
		Dense:                 dense,
		FileSizes:             make([]uint64, fieldNum),
		FileVarSizes:          make([]uint64, fieldNum),
		FileValiditySizes:     make([]uint64, fieldNum),
		RTreeOffset:           absentOffset,
		TileOffsetsOffsets:    absentOffsets(fieldNum),
		TileVarOffsetsOffsets: absentOffsets(fieldNum),
		TileVarSizesOffsets:   absentOffsets(fieldNum),
		TileValidityOffsets:   absentOffsets(fieldNum),
		TileMinOffsets:        absentOffsets(fieldNum),
		TileMaxOffsets:        absentOffsets(fieldNum),
		TileSumOffsets:        absentOffsets(fieldNum),
		TileNullCountOffsets:  absentOffsets(fieldNum),
		FragmentStatsOffset:   absentOffset,
		ProcessedCondsOffset:  absentOffset,
	}
	return f
}

func absentOffsets(n int) []uint64 {
	s := make([]uint64, n)
	for i := range s {
		s[i] = absentOffset
	}
	return s
}

func (f *Footer) encode(w *serial.Writer, dims []schema.Dimension) {
	w.U32(f.Version)
	w.U8(boolByte(f.Dense))
	w.U64(f.TileNum)
	w.U64(f.LastTileCellNum)
	w.U64(f.CellNumPerTile)
	encodeNDRange(w, f.Domain, dims, f.Version)
	encodeNDRange(w, f.NonEmptyDomain, dims, f.Version)
	w.U64Slice(f.FileSizes)
	w.U64Slice(f.FileVarSizes)
	if f.Version >= versionValidity {
		w.U64Slice(f.FileValiditySizes)
	}
	if f.Version >= versionFragmentStats {
		w.U64(f.TimestampStart)
		w.U64(f.TimestampEnd)
	}
	w.U64(f.RTreeOffset)
	w.U64Slice(f.TileOffsetsOffsets)
	w.U64Slice(f.TileVarOffsetsOffsets)
	w.U64Slice(f.TileVarSizesOffsets)
	if f.Version >= versionValidity {
		w.U64Slice(f.TileValidityOffsets)
	}
	if f.Version >= versionTileStats {
		w.U64Slice(f.TileMinOffsets)
		w.U64Slice(f.TileMaxOffsets)
		w.U64Slice(f.TileSumOffsets)
		w.U64Slice(f.TileNullCountOffsets)
	}
	if f.Version >= versionFragmentStats {
		w.U64(f.FragmentStatsOffset)
	}
	if f.Version >= versionConditions {
		w.U64(f.ProcessedCondsOffset)
	}
}

func decodeFooter(r *serial.Reader, dims []schema.Dimension) (*Footer, error) {
	f := &Footer{FragmentStatsOffset: absentOffset, ProcessedCondsOffset: absentOffset}
	var err error
	if f.Version, err = r.U32(); err != nil {
		return nil, fmt.Errorf("%w: footer version: %v", ErrFormat, err)
	}
	if f.Version < versionFooter {
		return nil, fmt.Errorf("%w: version %d has no footer", ErrFormat, f.Version)
	}
	dense, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrFormat, err)
	}
	f.Dense = dense != 0
	if f.TileNum, err = r.U64(); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrFormat, err)
	}
	if f.LastTileCellNum, err = r.U64(); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrFormat, err)
	}
	if f.CellNumPerTile, err = r.U64(); err != nil {
		return nil, fmt.Errorf("%w: footer: %v", ErrFormat, err)
	}
	if f.Domain, err = decodeNDRange(r, dims, f.Version); err != nil {
		return nil, err
	}
	if f.NonEmptyDomain, err = decodeNDRange(r, dims, f.Version); err != nil {
		return nil, err
	}
	if f.FileSizes, err = r.U64Slice(); err != nil {
		return nil, fmt.Errorf("%w: footer file sizes: %v", ErrFormat, err)
	}
	if f.FileVarSizes, err = r.U64Slice(); err != nil {
		return nil, fmt.Errorf("%w: footer var file sizes: %v", ErrFormat, err)
	}
	if f.Version >= versionValidity {
		if f.FileValiditySizes, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer validity file sizes: %v", ErrFormat, err)
		}
	} else {
		f.FileValiditySizes = make([]uint64, len(f.FileSizes))
	}
	if f.Version >= versionFragmentStats {
		if f.TimestampStart, err = r.U64(); err != nil {
			return nil, fmt.Errorf("%w: footer timestamps: %v", ErrFormat, err)
		}
		if f.TimestampEnd, err = r.U64(); err != nil {
			return nil, fmt.Errorf("%w: footer timestamps: %v", ErrFormat, err)
		}
	}
	if f.RTreeOffset, err = r.U64(); err != nil {
		return nil, fmt.Errorf("%w: footer rtree offset: %v", ErrFormat, err)
	}
	if f.TileOffsetsOffsets, err = r.U64Slice(); err != nil {
		return nil, fmt.Errorf("%w: footer offset table: %v", ErrFormat, err)
	}
	if f.TileVarOffsetsOffsets, err = r.U64Slice(); err != nil {
		return nil, fmt.Errorf("%w: footer offset table: %v", ErrFormat, err)
	}
	if f.TileVarSizesOffsets, err = r.U64Slice(); err != nil {
		return nil, fmt.Errorf("%w: footer offset table: %v", ErrFormat, err)
	}
	fieldNum := len(f.FileSizes)
	if f.Version >= versionValidity {
		if f.TileValidityOffsets, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer offset table: %v", ErrFormat, err)
		}
	} else {
		f.TileValidityOffsets = absentOffsets(fieldNum)
	}
	if f.Version >= versionTileStats {
		if f.TileMinOffsets, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer stats table: %v", ErrFormat, err)
		}
		if f.TileMaxOffsets, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer stats table: %v", ErrFormat, err)
		}
		if f.TileSumOffsets, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer stats table: %v", ErrFormat, err)
		}
		if f.TileNullCountOffsets, err = r.U64Slice(); err != nil {
			return nil, fmt.Errorf("%w: footer stats table: %v", ErrFormat, err)
		}
	} else {
		f.TileMinOffsets = absentOffsets(fieldNum)
		f.TileMaxOffsets = absentOffsets(fieldNum)
		f.TileSumOffsets = absentOffsets(fieldNum)
		f.TileNullCountOffsets = absentOffsets(fieldNum)
	}
	if f.Version >= versionFragmentStats {
		if f.FragmentStatsOffset, err = r.U64(); err != nil {
			return nil, fmt.Errorf("%w: footer aggregate offset: %v", ErrFormat, err)
		}
	}
	if f.Version >= versionConditions {
		if f.ProcessedCondsOffset, err = r.U64(); err != nil {
			return nil, fmt.Errorf("%w: footer conditions offset: %v", ErrFormat, err)
		}
	}
	return f, nil
}

// encodeNDRange writes one range per dimension with a presence flag, so an
// unset non-empty domain round-trips as nil. Var-size bounds only exist from
// versionVarDims on.
func encodeNDRange(w *serial.Writer, nd schema.NDRange, dims []schema.Dimension, version uint32) {
	if nd == nil {
		w.U8(0)
		return
	}
	w.U8(1)
	for d, dim := range dims {
		if dim.VarSize() && version >= versionVarDims {
			w.Blob([]byte(nd[d].StartStr))
			w.Blob([]byte(nd[d].EndStr))
		} else {
			w.Raw(nd[d].Start)
			w.Raw(nd[d].End)
		}
	}
}

func decodeNDRange(r *serial.Reader, dims []schema.Dimension, version uint32) (schema.NDRange, error) {
	present, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("%w: domain: %v", ErrFormat, err)
	}
	if present == 0 {
		return nil, nil
	}
	nd := make(schema.NDRange, len(dims))
	for d, dim := range dims {
		if dim.VarSize() {
			if version < versionVarDims {
				return nil, fmt.Errorf("%w: version %d cannot carry var-size dimension %q", ErrFormat, version, dim.Name)
			}
			s, err := r.Blob()
			if err != nil {
				return nil, fmt.Errorf("%w: domain: %v", ErrFormat, err)
			}
			e, err := r.Blob()
			if err != nil {
				return nil, fmt.Errorf("%w: domain: %v", ErrFormat, err)
			}
			nd[d] = schema.Range{StartStr: string(s), EndStr: string(e), Var: true}
		} else {
			sz := int(dim.Type.Size())
			s, err := r.Raw(sz)
			if err != nil {
				return nil, fmt.Errorf("%w: domain: %v", ErrFormat, err)
			}
			e, err := r.Raw(sz)
			if err != nil {
				return nil, fmt.Errorf("%w: domain: %v", ErrFormat, err)
			}
			nd[d] = schema.Range{Start: append([]byte(nil), s...), End: append([]byte(nil), e...)}
		}
	}
	return nd, nil
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
