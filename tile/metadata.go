package tile

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
)

// HasMinMaxMetadata reports whether generated min/max values are meaningful
// for a field of the given shape. Callers must consult it before trusting
// the generated values; the generator itself always runs.
func HasMinMaxMetadata(t datatype.T, isDim, varSize bool, cellValNum uint32) bool {
	// Dimensions are covered by the R-tree.
	if isDim {
		return false
	}
	if varSize && t != datatype.Char && t != datatype.StringASCII {
		return false
	}
	if cellValNum != 1 && t != datatype.Char && t != datatype.StringASCII {
		return false
	}
	switch t {
	case datatype.Any, datatype.Blob, datatype.StringUTF8:
		return false
	}
	return true
}

// HasSumMetadata reports whether a generated sum is meaningful.
func HasSumMetadata(t datatype.T, varSize bool, cellValNum uint32) bool {
	if varSize || cellValNum != 1 {
		return false
	}
	switch t {
	case datatype.Any, datatype.Blob, datatype.StringUTF8, datatype.StringASCII, datatype.Char:
		return false
	}
	return true
}

type slabProcessor interface {
	process(t *Tile, start, end uint64)
	finish(dst *Tile)
	reset()
}

// MetadataGenerator computes min, max, widened sum and null count for one
// field's tiles, incrementally across cell slabs. The per-type processor is
// resolved once at construction.
type MetadataGenerator struct {
	field     schema.Field
	hasMinMax bool
	hasSum    bool
	proc      slabProcessor
}

// NewMetadataGenerator builds a generator for the field.
func NewMetadataGenerator(field schema.Field) *MetadataGenerator {
	g := &MetadataGenerator{
		field:     field,
		hasMinMax: HasMinMaxMetadata(field.Type, field.IsDim, field.VarSize(), field.CellValNum),
		hasSum:    HasSumMetadata(field.Type, field.VarSize(), field.CellValNum),
	}
	g.proc = newProcessor(field)
	return g
}

func newProcessor(field schema.Field) slabProcessor {
	if field.VarSize() {
		return &varProcessor{nullable: field.Nullable}
	}
	n := field.Nullable
	switch field.Type {
	case datatype.Int8:
		return newNumeric[int8, int64](n)
	case datatype.Int16:
		return newNumeric[int16, int64](n)
	case datatype.Int32:
		return newNumeric[int32, int64](n)
	case datatype.Int64, datatype.DateTime:
		return newNumeric[int64, int64](n)
	case datatype.Uint8, datatype.Bool, datatype.Char, datatype.Blob, datatype.Any:
		return newNumeric[uint8, uint64](n)
	case datatype.Uint16:
		return newNumeric[uint16, uint64](n)
	case datatype.Uint32:
		return newNumeric[uint32, uint64](n)
	case datatype.Uint64:
		return newNumeric[uint64, uint64](n)
	case datatype.Float32:
		return newNumeric[float32, float64](n)
	case datatype.Float64:
		return newNumeric[float64, float64](n)
	default:
		return newNumeric[uint8, uint64](n)
	}
}

// ProcessTile feeds the whole tile through the generator.
func (g *MetadataGenerator) ProcessTile(t *Tile) {
	g.proc.process(t, 0, t.CellNum)
}

// ProcessCellSlab feeds cells [start, end) through the generator.
func (g *MetadataGenerator) ProcessCellSlab(t *Tile, start, end uint64) {
	g.proc.process(t, start, end)
}

// CopyToTile writes the accumulated statistics into dst and resets the
// generator for the next tile.
func (g *MetadataGenerator) CopyToTile(dst *Tile) {
	g.proc.finish(dst)
	dst.HasMinMax = g.hasMinMax
	dst.HasSum = g.hasSum
	g.proc.reset()
}

// numericProcessor accumulates statistics for fixed-width cells. S is the
// widened sum accumulator.
type numericProcessor[T schema.Numeric, S int64 | uint64 | float64] struct {
	nullable  bool
	seen      bool
	min, max  T
	sum       S
	nullCount uint64
}

func newNumeric[T schema.Numeric, S int64 | uint64 | float64](nullable bool) *numericProcessor[T, S] {
	return &numericProcessor[T, S]{nullable: nullable}
}

func (p *numericProcessor[T, S]) process(t *Tile, start, end uint64) {
	cells := schema.Reinterpret[T](t.FixedData)
	if end > uint64(len(cells)) {
		end = uint64(len(cells))
	}
	for i := start; i < end; i++ {
		if p.nullable && i < uint64(len(t.ValidityData)) && t.ValidityData[i] == 0 {
			p.nullCount++
			continue
		}
		v := cells[i]
		if !p.seen {
			p.min, p.max = v, v
			p.seen = true
		} else {
			if v < p.min {
				p.min = v
			}
			if v > p.max {
				p.max = v
			}
		}
		p.sum = addClamped(p.sum, S(v))
	}
}

// addClamped saturates integer accumulators instead of wrapping.
func addClamped[S int64 | uint64 | float64](sum, v S) S {
	switch any(sum).(type) {
	case int64:
		s, d := int64(sum), int64(v)
		if d > 0 && s > math.MaxInt64-d {
			return S(int64(math.MaxInt64))
		}
		if d < 0 && s < math.MinInt64-d {
			lo := int64(math.MinInt64)
			return S(lo)
		}
	case uint64:
		s, d := uint64(sum), uint64(v)
		if s > math.MaxUint64-d {
			hi := uint64(math.MaxUint64)
			return S(hi)
		}
	}
	return sum + v
}

func (p *numericProcessor[T, S]) finish(dst *Tile) {
	if p.seen {
		dst.Min = schema.ValueBytes(p.min)
		dst.Max = schema.ValueBytes(p.max)
	} else {
		dst.Min, dst.Max = nil, nil
	}
	putSum(&dst.Sum, p.sum)
	dst.NullCount = p.nullCount
}

func putSum[S int64 | uint64 | float64](dst *[8]byte, sum S) {
	switch s := any(sum).(type) {
	case int64:
		binary.LittleEndian.PutUint64(dst[:], uint64(s))
	case uint64:
		binary.LittleEndian.PutUint64(dst[:], s)
	case float64:
		binary.LittleEndian.PutUint64(dst[:], math.Float64bits(s))
	}
}

func (p *numericProcessor[T, S]) reset() {
	p.seen = false
	p.sum = 0
	p.nullCount = 0
}

// varProcessor tracks lexicographic min/max over (offset, length) pairs of a
// var-size tile; there is no sum for var data.
type varProcessor struct {
	nullable  bool
	seen      bool
	min, max  []byte
	nullCount uint64
}

func (p *varProcessor) process(t *Tile, start, end uint64) {
	offsets := schema.Reinterpret[uint64](t.FixedData)
	if end > uint64(len(offsets)) {
		end = uint64(len(offsets))
	}
	for i := start; i < end; i++ {
		if p.nullable && i < uint64(len(t.ValidityData)) && t.ValidityData[i] == 0 {
			p.nullCount++
			continue
		}
		lo := offsets[i]
		hi := uint64(len(t.VarData))
		if i+1 < uint64(len(offsets)) {
			hi = offsets[i+1]
		}
		v := t.VarData[lo:hi]
		if !p.seen {
			p.min = append([]byte(nil), v...)
			p.max = append([]byte(nil), v...)
			p.seen = true
			continue
		}
		if bytes.Compare(v, p.min) < 0 {
			p.min = append(p.min[:0], v...)
		}
		if bytes.Compare(v, p.max) > 0 {
			p.max = append(p.max[:0], v...)
		}
	}
}

func (p *varProcessor) finish(dst *Tile) {
	if p.seen {
		dst.Min = append([]byte(nil), p.min...)
		dst.Max = append([]byte(nil), p.max...)
	} else {
		dst.Min, dst.Max = nil, nil
	}
	dst.Sum = [8]byte{}
	dst.NullCount = p.nullCount
}

func (p *varProcessor) reset() {
	p.seen = false
	p.min, p.max = nil, nil
	p.nullCount = 0
}
