package overlap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
)

func numericDomain(t datatype.T, dims int) *schema.Domain {
	d := &schema.Domain{CellOrder: schema.RowMajor}
	names := []string{"x", "y", "z"}
	for i := 0; i < dims; i++ {
		d.Dims = append(d.Dims, schema.Dimension{Name: names[i], Type: t})
	}
	return d
}

func splitTile[T schema.Numeric](cols ...[]T) *CoordTile {
	ct := &CoordTile{DimNum: len(cols), CellNum: uint64(len(cols[0]))}
	for _, col := range cols {
		var buf []byte
		for _, v := range col {
			buf = append(buf, schema.ValueBytes(v)...)
		}
		ct.SplitFixed = append(ct.SplitFixed, buf)
		ct.SplitOff = append(ct.SplitOff, nil)
		ct.SplitVar = append(ct.SplitVar, nil)
	}
	return ct
}

func stringTile(vals []string) *CoordTile {
	ct := &CoordTile{DimNum: 1, CellNum: uint64(len(vals))}
	var offs []uint64
	var data []byte
	for _, v := range vals {
		offs = append(offs, uint64(len(data)))
		data = append(data, v...)
	}
	ct.SplitFixed = [][]byte{nil}
	ct.SplitOff = [][]uint64{offs}
	ct.SplitVar = [][]byte{data}
	return ct
}

func ones(n int) []uint8 {
	b := make([]uint8, n)
	for i := range b {
		b[i] = 1
	}
	return b
}

func checkSparseAgainstNaive[T schema.Numeric](t *testing.T, dt datatype.T, coords []T, lo, hi T, seed []uint8) {
	t.Helper()

	dom := numericDomain(dt, 1)
	e, err := NewEngine(dom)
	require.NoError(t, err)

	ct := splitTile(coords)
	rng := schema.MakeRange(lo, hi)

	got := append([]uint8(nil), seed...)
	require.NoError(t, e.ComputeResultsSparse(0, rng, ct, got))

	want := append([]uint8(nil), seed...)
	for c, v := range coords {
		if v < lo || v > hi {
			want[c] = 0
		}
	}
	require.Equal(t, want, got)

	// A cell already culled stays culled.
	for c := range seed {
		if seed[c] == 0 {
			require.Zero(t, got[c])
		}
	}
}

func TestSparseNumericMatchesNaive(t *testing.T) {
	seed := []uint8{1, 1, 0, 1, 1, 0, 1, 1}

	checkSparseAgainstNaive(t, datatype.Int8, []int8{-8, -3, 0, 2, 5, 9, 12, 127}, -3, 9, seed)
	checkSparseAgainstNaive(t, datatype.Int16, []int16{-300, -3, 0, 2, 5, 9, 1200, 9999}, -3, 9, seed)
	checkSparseAgainstNaive(t, datatype.Int32, []int32{-8, -3, 0, 2, 5, 9, 12, 40}, 0, 12, seed)
	checkSparseAgainstNaive(t, datatype.Int64, []int64{-8, -3, 0, 2, 5, 9, 12, 40}, -100, 5, seed)
	checkSparseAgainstNaive(t, datatype.Uint8, []uint8{0, 1, 2, 3, 5, 9, 12, 255}, 2, 9, seed)
	checkSparseAgainstNaive(t, datatype.Uint16, []uint16{0, 1, 2, 3, 5, 9, 12, 65535}, 2, 9, seed)
	checkSparseAgainstNaive(t, datatype.Uint32, []uint32{0, 1, 2, 3, 5, 9, 12, 90}, 3, 3, seed)
	checkSparseAgainstNaive(t, datatype.Uint64, []uint64{0, 1, 2, 3, 5, 9, 12, 90}, 0, 90, seed)
	checkSparseAgainstNaive(t, datatype.Float32, []float32{-1.5, -0.5, 0, 0.25, 1, 2.5, 3, 10}, -0.5, 2.5, seed)
	checkSparseAgainstNaive(t, datatype.Float64, []float64{-1.5, -0.5, 0, 0.25, 1, 2.5, 3, 10}, 0.25, 0.25, seed)
}

func TestSparseSortedDimensionRun(t *testing.T) {
	// Sorted coordinates exercise the contiguous-run path.
	e, err := NewEngine(numericDomain(datatype.Int64, 1))
	require.NoError(t, err)

	ct := splitTile([]int64{1, 3, 5, 7, 9, 11, 13})
	bitmap := ones(7)
	require.NoError(t, e.ComputeResultsSparse(0, schema.MakeRange[int64](4, 10), ct, bitmap))
	require.Equal(t, []uint8{0, 0, 1, 1, 1, 0, 0}, bitmap)
}

func TestSparseZippedCoords(t *testing.T) {
	e, err := NewEngine(numericDomain(datatype.Int32, 2))
	require.NoError(t, err)

	// Cells (1,10) (2,20) (3,30) (4,40) interleaved.
	var buf []byte
	for _, v := range []int32{1, 10, 2, 20, 3, 30, 4, 40} {
		buf = append(buf, schema.ValueBytes(v)...)
	}
	ct := &CoordTile{DimNum: 2, CellNum: 4, Zipped: buf}

	bitmap := ones(4)
	require.NoError(t, e.ComputeResultsSparse(0, schema.MakeRange[int32](2, 4), ct, bitmap))
	require.NoError(t, e.ComputeResultsSparse(1, schema.MakeRange[int32](10, 30), ct, bitmap))
	require.Equal(t, []uint8{0, 1, 1, 0}, bitmap)
}

func TestSparseSecondDimensionSkipsZeroBlocks(t *testing.T) {
	e, err := NewEngine(numericDomain(datatype.Int64, 2))
	require.NoError(t, err)

	n := 200
	xs := make([]int64, n)
	ys := make([]int64, n)
	for i := range xs {
		xs[i] = int64(i)
		ys[i] = int64(i % 10)
	}
	ct := splitTile(xs, ys)

	bitmap := ones(n)
	require.NoError(t, e.ComputeResultsSparse(0, schema.MakeRange[int64](150, 159), ct, bitmap))
	require.NoError(t, e.ComputeResultsSparse(1, schema.MakeRange[int64](0, 4), ct, bitmap))

	want := make([]uint8, n)
	for i := 150; i < 155; i++ {
		want[i] = 1
	}
	require.Equal(t, want, bitmap)
}

func stringDomain() *schema.Domain {
	return &schema.Domain{
		CellOrder: schema.RowMajor,
		Dims:      []schema.Dimension{{Name: "s", Type: datatype.StringASCII}},
	}
}

func checkStringAgainstNaive(t *testing.T, vals []string, lo, hi string) {
	t.Helper()

	e, err := NewEngine(stringDomain())
	require.NoError(t, err)

	ct := stringTile(vals)
	bitmap := ones(len(vals))
	require.NoError(t, e.ComputeResultsSparse(0, schema.MakeStringRange(lo, hi), ct, bitmap))

	want := make([]uint8, len(vals))
	for c, v := range vals {
		if v >= lo && v <= hi {
			want[c] = 1
		}
	}
	require.Equal(t, want, bitmap)
}

func TestSparseStringMatchesNaive(t *testing.T) {
	t.Run("all identical broadcasts", func(t *testing.T) {
		vals := make([]string, 20)
		for i := range vals {
			vals[i] = "pear"
		}
		checkStringAgainstNaive(t, vals, "melon", "plum")
		checkStringAgainstNaive(t, vals, "plum", "zebra")
	})

	t.Run("all distinct", func(t *testing.T) {
		vals := []string{"apple", "banana", "cherry", "date", "fig", "grape", "kiwi", "lemon", "mango", "olive", "peach", "plum", "quince"}
		checkStringAgainstNaive(t, vals, "cherry", "mango")
		checkStringAgainstNaive(t, vals, "", "zzz")
		checkStringAgainstNaive(t, vals, "x", "y")
	})

	t.Run("partition boundaries equal", func(t *testing.T) {
		// Long runs of repeats so some partitions see identical endpoints
		// and others straddle a change.
		var vals []string
		for _, v := range []string{"aa", "aa", "aa", "aa", "bb", "bb", "bb", "cc", "cc", "cc", "cc", "cc", "dd"} {
			vals = append(vals, v)
		}
		checkStringAgainstNaive(t, vals, "bb", "cc")
		checkStringAgainstNaive(t, vals, "aa", "aa")
		checkStringAgainstNaive(t, vals, "b", "c")
	})

	t.Run("fewer cells than partitions", func(t *testing.T) {
		checkStringAgainstNaive(t, []string{"aa", "bb"}, "aa", "aa")
	})
}

func TestCountSparseMultipliesAcrossDimensions(t *testing.T) {
	e, err := NewEngine(numericDomain(datatype.Int64, 2))
	require.NoError(t, err)

	ct := splitTile(
		[]int64{0, 2, 4, 6, 8, 10},
		[]int64{5, 5, 5, 50, 50, 50},
	)

	counts := []uint64{1, 1, 1, 1, 1, 1}
	xRanges := []schema.Range{
		schema.MakeRange[int64](0, 3),
		schema.MakeRange[int64](6, 8),
	}
	require.NoError(t, e.ComputeResultsCountSparse(0, xRanges, ct, counts))
	require.Equal(t, []uint64{1, 1, 0, 1, 1, 0}, counts)

	yRanges := []schema.Range{schema.MakeRange[int64](0, 10)}
	require.NoError(t, e.ComputeResultsCountSparse(1, yRanges, ct, counts))
	// Zero counts from the first dimension stay zero; y prunes the rest.
	require.Equal(t, []uint64{1, 1, 0, 0, 0, 0}, counts)
}

func TestCountSparseU8AndStrings(t *testing.T) {
	e, err := NewEngine(stringDomain())
	require.NoError(t, err)

	ct := stringTile([]string{"ant", "bee", "cow", "dog", "eel"})
	counts := []uint8{1, 1, 0, 1, 1}
	ranges := []schema.Range{
		schema.MakeStringRange("ant", "bee"),
		schema.MakeStringRange("dog", "fox"),
	}
	require.NoError(t, e.ComputeResultsCountSparseU8(0, ranges, ct, counts))
	require.Equal(t, []uint8{1, 1, 0, 1, 1}, counts)

	// cow matched nothing even before; dog and eel match one range each.
	counts = []uint8{1, 1, 1, 1, 1}
	require.NoError(t, e.ComputeResultsCountSparseU8(0, ranges, ct, counts))
	require.Equal(t, []uint8{1, 1, 0, 1, 1}, counts)
}

func TestDenseOverwrittenOnLastDimension(t *testing.T) {
	e, err := NewEngine(numericDomain(datatype.Int64, 2))
	require.NoError(t, err)

	// Row-major cells of a 3x3 block at (0,0)-(2,2).
	var xs, ys []int64
	for r := int64(0); r < 3; r++ {
		for c := int64(0); c < 3; c++ {
			xs = append(xs, r)
			ys = append(ys, c)
		}
	}
	ct := splitTile(xs, ys)

	later := []schema.NDRange{{
		schema.MakeRange[int64](1, 2),
		schema.MakeRange[int64](1, 2),
	}}

	bitmap := ones(9)
	overwritten := make([]uint8, 9)
	require.NoError(t, e.ComputeResultsDense(0, schema.MakeRange[int64](0, 2), ct, later, bitmap, overwritten))
	// Not the last dimension yet, so nothing is flagged.
	require.Equal(t, make([]uint8, 9), overwritten)

	require.NoError(t, e.ComputeResultsDense(1, schema.MakeRange[int64](0, 1), ct, later, bitmap, overwritten))
	require.Equal(t, []uint8{1, 1, 0, 1, 1, 0, 1, 1, 0}, bitmap)
	require.Equal(t, []uint8{0, 0, 0, 0, 1, 0, 0, 1, 0}, overwritten)
}

func TestEngineArgumentChecks(t *testing.T) {
	e, err := NewEngine(numericDomain(datatype.Int64, 1))
	require.NoError(t, err)

	ct := splitTile([]int64{1, 2, 3})
	require.Error(t, e.ComputeResultsSparse(1, schema.MakeRange[int64](0, 1), ct, ones(3)))
	require.Error(t, e.ComputeResultsSparse(0, schema.MakeRange[int64](0, 1), ct, ones(2)))

	se, err := NewEngine(stringDomain())
	require.NoError(t, err)
	st := stringTile([]string{"a"})
	require.Error(t, se.ComputeResultsDense(0, schema.MakeStringRange("a", "b"), st, nil, ones(1), make([]uint8, 1)))
}
