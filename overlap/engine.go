// Package overlap computes, per cell of a coordinate tile, whether the cell
// still matches a query's dimension ranges. Results are AND-combined into a
// caller-owned bitmap (a zero never flips back to one) or multiplied into a
// per-cell match count across disjoint ranges. The per-type implementation
// for each dimension is resolved once at engine construction.
package overlap

import (
	"fmt"

	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
)

// CoordTile is one tile's borrowed coordinate buffers. Exactly one of
// Zipped or the Split fields is populated: zipped interleaves all
// dimensions' fixed-width values per cell, split holds one columnar buffer
// per dimension. String dimensions are always split, as offsets plus var
// data.
type CoordTile struct {
	CellNum uint64
	DimNum  int

	Zipped []byte

	SplitFixed [][]byte
	SplitOff   [][]uint64
	SplitVar   [][]byte
}

// StringVal returns the var-size coordinate of cell c on dimension d.
func (ct *CoordTile) StringVal(d int, c uint64) []byte {
	offs := ct.SplitOff[d]
	data := ct.SplitVar[d]
	lo := offs[c]
	hi := uint64(len(data))
	if c+1 < uint64(len(offs)) {
		hi = offs[c+1]
	}
	return data[lo:hi]
}

type dimFns struct {
	sparse   func(e *Engine, d int, rng schema.Range, ct *CoordTile, bitmap []uint8)
	dense    func(e *Engine, d int, rng schema.Range, ct *CoordTile, domains []schema.NDRange, bitmap, overwritten []uint8)
	count8   func(e *Engine, d int, ranges []schema.Range, ct *CoordTile, counts []uint8)
	count64  func(e *Engine, d int, ranges []schema.Range, ct *CoordTile, counts []uint64)
	contains func(ct *CoordTile, d int, c uint64, r schema.Range) bool
}

// Engine evaluates range predicates over coordinate tiles. Safe for
// concurrent use; it holds no per-call state.
type Engine struct {
	dom    *schema.Domain
	fns    []dimFns
	sorted int // the dimension cell order keeps globally sorted within a tile
}

// NewEngine resolves the per-dimension implementations from each
// dimension's declared datatype.
func NewEngine(dom *schema.Domain) (*Engine, error) {
	e := &Engine{dom: dom, fns: make([]dimFns, len(dom.Dims))}
	e.sorted = 0
	if dom.CellOrder == schema.ColMajor {
		e.sorted = len(dom.Dims) - 1
	}
	for d, dim := range dom.Dims {
		fns, err := resolveDim(dim.Type)
		if err != nil {
			return nil, err
		}
		e.fns[d] = fns
	}
	return e, nil
}

func resolveDim(t datatype.T) (dimFns, error) {
	if t.IsString() {
		return dimFns{
			sparse:   sparseString,
			count8:   countString[uint8],
			count64:  countString[uint64],
			contains: containsString,
		}, nil
	}
	switch t {
	case datatype.Int8:
		return numericFns[int8](), nil
	case datatype.Int16:
		return numericFns[int16](), nil
	case datatype.Int32:
		return numericFns[int32](), nil
	case datatype.Int64, datatype.DateTime:
		return numericFns[int64](), nil
	case datatype.Uint8, datatype.Bool:
		return numericFns[uint8](), nil
	case datatype.Uint16:
		return numericFns[uint16](), nil
	case datatype.Uint32:
		return numericFns[uint32](), nil
	case datatype.Uint64:
		return numericFns[uint64](), nil
	case datatype.Float32:
		return numericFns[float32](), nil
	case datatype.Float64:
		return numericFns[float64](), nil
	default:
		return dimFns{}, fmt.Errorf("overlap: unsupported dimension datatype %v", t)
	}
}

// ComputeResultsSparse ANDs into bitmap whether each cell's coordinate on
// dimension d lies inside rng. bitmap must hold CellNum entries of 0 or 1.
func (e *Engine) ComputeResultsSparse(d int, rng schema.Range, ct *CoordTile, bitmap []uint8) error {
	if err := e.check(d, ct, uint64(len(bitmap))); err != nil {
		return err
	}
	e.fns[d].sparse(e, d, rng, ct, bitmap)
	return nil
}

// ComputeResultsDense is the dense variant: alongside the range test, on
// the last dimension only, cells fully contained in a later fragment's
// domain are flagged in overwritten.
func (e *Engine) ComputeResultsDense(d int, rng schema.Range, ct *CoordTile, laterDomains []schema.NDRange, bitmap, overwritten []uint8) error {
	if err := e.check(d, ct, uint64(len(bitmap))); err != nil {
		return err
	}
	fn := e.fns[d].dense
	if fn == nil {
		return fmt.Errorf("overlap: dense ranges unsupported on dimension %d", d)
	}
	fn(e, d, rng, ct, laterDomains, bitmap, overwritten)
	return nil
}

// ComputeResultsCountSparse multiplies into counts the number of ranges
// containing each cell's coordinate on dimension d. Ranges must be sorted
// and disjoint; a prior zero count stays zero.
func (e *Engine) ComputeResultsCountSparse(d int, ranges []schema.Range, ct *CoordTile, counts []uint64) error {
	if err := e.check(d, ct, uint64(len(counts))); err != nil {
		return err
	}
	e.fns[d].count64(e, d, ranges, ct, counts)
	return nil
}

// ComputeResultsCountSparseU8 is the small-count variant used when at most
// 255 ranges are in play.
func (e *Engine) ComputeResultsCountSparseU8(d int, ranges []schema.Range, ct *CoordTile, counts []uint8) error {
	if err := e.check(d, ct, uint64(len(counts))); err != nil {
		return err
	}
	e.fns[d].count8(e, d, ranges, ct, counts)
	return nil
}

func (e *Engine) check(d int, ct *CoordTile, n uint64) error {
	if d < 0 || d >= len(e.fns) {
		return fmt.Errorf("overlap: dimension %d out of range", d)
	}
	if n != ct.CellNum {
		return fmt.Errorf("overlap: result length %d does not match %d cells", n, ct.CellNum)
	}
	return nil
}
