package fragment

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
)

// fragmentStats holds the per-tile statistics sections (format version 11+)
// and the fragment-level aggregates (version 12+). Sums are stored widened
// as raw 8-byte accumulators.
type fragmentStats struct {
	tileMin        [][][]byte
	tileMax        [][][]byte
	tileSums       [][]uint64
	tileNullCounts [][]uint64

	fragMin       [][]byte
	fragMax       [][]byte
	fragSum       []uint64
	fragNullCount []uint64
	fragHasMinMax []bool
	fragHasSum    []bool
}

func (s *fragmentStats) init(fieldNum int) {
	s.tileMin = make([][][]byte, fieldNum)
	s.tileMax = make([][][]byte, fieldNum)
	s.tileSums = make([][]uint64, fieldNum)
	s.tileNullCounts = make([][]uint64, fieldNum)
	s.fragMin = make([][]byte, fieldNum)
	s.fragMax = make([][]byte, fieldNum)
	s.fragSum = make([]uint64, fieldNum)
	s.fragNullCount = make([]uint64, fieldNum)
	s.fragHasMinMax = make([]bool, fieldNum)
	s.fragHasSum = make([]bool, fieldNum)
}

func (s *fragmentStats) resize(field int, n uint64) {
	for uint64(len(s.tileMin[field])) < n {
		s.tileMin[field] = append(s.tileMin[field], nil)
		s.tileMax[field] = append(s.tileMax[field], nil)
	}
	s.tileMin[field] = s.tileMin[field][:n]
	s.tileMax[field] = s.tileMax[field][:n]
	s.tileSums[field] = resizeU64(s.tileSums[field], n)
	s.tileNullCounts[field] = resizeU64(s.tileNullCounts[field], n)
}

func (s *fragmentStats) setTile(field int, tid uint64, t *tile.Tile) error {
	if tid >= uint64(len(s.tileMin[field])) {
		return fmt.Errorf("%w: tile %d out of range for stats", ErrUsage, tid)
	}
	s.tileMin[field][tid] = append([]byte(nil), t.Min...)
	s.tileMax[field][tid] = append([]byte(nil), t.Max...)
	s.tileSums[field][tid] = binary.LittleEndian.Uint64(t.Sum[:])
	s.tileNullCounts[field][tid] = t.NullCount
	return nil
}

// TileMin returns the minimum value of tile tid for a field. Callers must
// first check the field qualifies via tile.HasMinMaxMetadata.
func (m *Metadata) TileMin(name string, tid uint64) ([]byte, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secMin); err != nil {
		return nil, err
	}
	if tid >= uint64(len(m.stats.tileMin[i])) {
		return nil, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.stats.tileMin[i][tid], nil
}

// TileMax returns the maximum value of tile tid for a field.
func (m *Metadata) TileMax(name string, tid uint64) ([]byte, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secMax); err != nil {
		return nil, err
	}
	if tid >= uint64(len(m.stats.tileMax[i])) {
		return nil, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.stats.tileMax[i][tid], nil
}

// TileSum returns the widened 8-byte sum accumulator of tile tid.
func (m *Metadata) TileSum(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secSum); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.stats.tileSums[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.stats.tileSums[i][tid], nil
}

// TileNullCount returns the null count of tile tid.
func (m *Metadata) TileNullCount(name string, tid uint64) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	if err := m.loaded.require(i, secNullCount); err != nil {
		return 0, err
	}
	if tid >= uint64(len(m.stats.tileNullCounts[i])) {
		return 0, fmt.Errorf("%w: tile %d out of range for field %q", ErrUsage, tid, name)
	}
	return m.stats.tileNullCounts[i][tid], nil
}

// FragmentMinMax returns the fragment-level min and max of a field; the
// boolean reports whether min/max are meaningful for the field's shape.
func (m *Metadata) FragmentMinMax(name string) ([]byte, []byte, bool, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return nil, nil, false, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	return m.stats.fragMin[i], m.stats.fragMax[i], m.stats.fragHasMinMax[i], nil
}

// FragmentSum returns the fragment-level widened sum of a field.
func (m *Metadata) FragmentSum(name string) (uint64, bool, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, false, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	return m.stats.fragSum[i], m.stats.fragHasSum[i], nil
}

// FragmentNullCount returns the fragment-level null count of a field.
func (m *Metadata) FragmentNullCount(name string) (uint64, error) {
	i, ok := m.sch.FieldIndex(name)
	if !ok {
		return 0, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
	}
	return m.stats.fragNullCount[i], nil
}

// ComputeFragmentMinMaxSumNullCount folds the per-tile statistics into
// fragment-level aggregates, honoring the same var-size and nullability
// exclusion rules the generator uses.
func (m *Metadata) ComputeFragmentMinMaxSumNullCount() {
	for i, f := range m.sch.Fields() {
		hasMinMax := tile.HasMinMaxMetadata(f.Type, f.IsDim, f.VarSize(), f.CellValNum)
		hasSum := tile.HasSumMetadata(f.Type, f.VarSize(), f.CellValNum)
		m.stats.fragHasMinMax[i] = hasMinMax
		m.stats.fragHasSum[i] = hasSum

		var nullCount uint64
		for _, nc := range m.stats.tileNullCounts[i] {
			nullCount += nc
		}
		m.stats.fragNullCount[i] = nullCount

		if hasMinMax {
			var mn, mx []byte
			for tid := range m.stats.tileMin[i] {
				tMin, tMax := m.stats.tileMin[i][tid], m.stats.tileMax[i][tid]
				if tMin == nil && tMax == nil {
					continue
				}
				if mn == nil || lessStat(f, tMin, mn) {
					mn = tMin
				}
				if mx == nil || lessStat(f, mx, tMax) {
					mx = tMax
				}
			}
			m.stats.fragMin[i] = mn
			m.stats.fragMax[i] = mx
		}

		if hasSum {
			m.stats.fragSum[i] = foldSums(f.Type, m.stats.tileSums[i])
		}
	}
}

func lessStat(f schema.Field, a, b []byte) bool {
	if f.VarSize() || f.Type.IsString() {
		return bytes.Compare(a, b) < 0
	}
	return schema.CompareValues(f.Type, a, b) < 0
}

func foldSums(t datatype.T, sums []uint64) uint64 {
	switch t.Sum() {
	case datatype.SumInt64:
		var acc int64
		for _, s := range sums {
			v := int64(s)
			if v > 0 && acc > math.MaxInt64-v {
				acc = math.MaxInt64
			} else if v < 0 && acc < math.MinInt64-v {
				acc = math.MinInt64
			} else {
				acc += v
			}
		}
		return uint64(acc)
	case datatype.SumFloat64:
		var acc float64
		for _, s := range sums {
			acc += math.Float64frombits(s)
		}
		return math.Float64bits(acc)
	default:
		var acc uint64
		for _, s := range sums {
			if acc > math.MaxUint64-s {
				acc = math.MaxUint64
				break
			}
			acc += s
		}
		return acc
	}
}
