package writer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tilego/commit"
	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

// grid44 is a 4x4 dense domain with 2x2 tiles: four tiles of four cells.
func grid44(t *testing.T) *schema.Schema {
	t.Helper()
	dim := func(name string) schema.Dimension {
		return schema.Dimension{
			Name:       name,
			Type:       datatype.Int64,
			Domain:     schema.MakeRange(int64(1), int64(4)),
			TileExtent: schema.ValueBytes(int64(2)),
		}
	}
	sch, err := schema.New(schema.Domain{
		Dims:      []schema.Dimension{dim("rows"), dim("cols")},
		TileOrder: schema.RowMajor,
		CellOrder: schema.RowMajor,
	}, []schema.Field{{Name: "a", Type: datatype.Int32, CellValNum: 1}})
	require.NoError(t, err)
	return sch
}

func sparse1D(t *testing.T) *schema.Schema {
	t.Helper()
	sch, err := schema.New(schema.Domain{
		Dims: []schema.Dimension{{
			Name:   "d",
			Type:   datatype.Int64,
			Domain: schema.MakeRange(int64(0), int64(999)),
		}},
	}, []schema.Field{
		{Name: "a", Type: datatype.Int32, CellValNum: 1},
		{Name: "b", Type: datatype.Float64, CellValNum: 1},
	})
	require.NoError(t, err)
	return sch
}

func newConfig(sch *schema.Schema, fs vfs.VFS, dense bool) Config {
	return Config{
		Schema:         sch,
		FS:             fs,
		Commits:        commit.NewFile(fs, "mem://arr", FragmentsDir),
		Dense:          dense,
		CellsPerTile:   4,
		TimestampStart: 10,
		TimestampEnd:   20,
	}
}

func filteredTile(cells int) *tile.Tile {
	data := make([]byte, cells*4)
	for i := range data {
		data[i] = byte(i)
	}
	return &tile.Tile{FixedData: data, CellNum: uint64(cells), Filtered: true}
}

func writeField(t *testing.T, w *ColumnFragmentWriter, name string, tiles int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.OpenField(name))
	for i := 0; i < tiles; i++ {
		require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	}
	require.NoError(t, w.CloseField(ctx))
}

func TestDenseWriteAllFields(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()
	cfg := newConfig(grid44(t), fs, true)
	cfg.NonEmptyDomain = schema.NDRange{
		schema.MakeRange(int64(1), int64(4)),
		schema.MakeRange(int64(1), int64(4)),
	}

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)
	require.Equal(t, uint64(4), w.Metadata().TileNum())

	for _, name := range []string{"rows", "cols", "a"} {
		writeField(t, w, name, 4)
	}
	require.NoError(t, w.Finalize(ctx))

	ok, err := cfg.Commits.IsCommitted(ctx, w.FragmentName(), 16)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDenseTileCountMismatchAtClose(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(grid44(t), vfs.NewMem(), true)
	cfg.NonEmptyDomain = schema.NDRange{
		schema.MakeRange(int64(1), int64(4)),
		schema.MakeRange(int64(1), int64(4)),
	}

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)
	require.NoError(t, w.OpenField("a"))
	for i := 0; i < 3; i++ {
		require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	}
	assert.ErrorIs(t, w.CloseField(ctx), ErrUsage)
}

func TestSparseFirstFieldFreezesCount(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(sparse1D(t), vfs.NewMem(), false)

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)

	// First field observes three tiles; the count freezes there.
	writeField(t, w, "d", 3)
	require.Equal(t, uint64(3), w.Metadata().TileNum())

	// A later field with fewer tiles is rejected at close.
	require.NoError(t, w.OpenField("a"))
	require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	assert.ErrorIs(t, w.CloseField(ctx), ErrUsage)
}

func TestSparseLaterFieldCannotExceedFrozenCount(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(sparse1D(t), vfs.NewMem(), false)

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)
	writeField(t, w, "d", 2)

	require.NoError(t, w.OpenField("a"))
	require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	assert.ErrorIs(t, w.WriteTile(ctx, filteredTile(4)), ErrUsage)
}

func TestWriterStateMachineGuards(t *testing.T) {
	ctx := context.Background()
	cfg := newConfig(sparse1D(t), vfs.NewMem(), false)

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)

	assert.ErrorIs(t, w.WriteTile(ctx, filteredTile(4)), ErrUsage, "write without open")
	assert.ErrorIs(t, w.CloseField(ctx), ErrUsage, "close without open")
	assert.ErrorIs(t, w.OpenField("nope"), ErrUsage, "unknown field")

	require.NoError(t, w.OpenField("d"))
	assert.ErrorIs(t, w.OpenField("a"), ErrUsage, "second open")
	assert.ErrorIs(t, w.WriteTile(ctx, &tile.Tile{FixedData: []byte{1}, CellNum: 1}), ErrUsage, "unfiltered tile")
	assert.ErrorIs(t, w.Finalize(ctx), ErrUsage, "finalize with open field")
	require.NoError(t, w.WriteTile(ctx, filteredTile(4)))
	require.NoError(t, w.CloseField(ctx))

	writeField(t, w, "a", 1)
	writeField(t, w, "b", 1)
	assert.ErrorIs(t, w.Finalize(ctx), ErrUsage, "finalize without MBRs")

	require.NoError(t, w.SetMBRs([]schema.NDRange{{schema.MakeRange(int64(0), int64(3))}}))
	require.NoError(t, w.Finalize(ctx))
	assert.ErrorIs(t, w.Finalize(ctx), ErrUsage, "double finalize")
}

func TestSparseFinalizePersistsAndCommits(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()
	cfg := newConfig(sparse1D(t), fs, false)

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)
	writeField(t, w, "d", 2)
	writeField(t, w, "a", 2)
	writeField(t, w, "b", 2)
	require.NoError(t, w.SetMBRs([]schema.NDRange{
		{schema.MakeRange(int64(0), int64(3))},
		{schema.MakeRange(int64(4), int64(7))},
	}))
	require.NoError(t, w.Finalize(ctx))

	isFile, err := fs.IsFile(ctx, w.Metadata().MetadataURI())
	require.NoError(t, err)
	assert.True(t, isFile)
	sentinel := commit.SentinelURI("mem://arr", FragmentsDir, w.FragmentName(), 16)
	isFile, err = fs.IsFile(ctx, sentinel)
	require.NoError(t, err)
	assert.True(t, isFile)

	ned := w.Metadata().NonEmptyDomain()
	lo, hi := schema.Bounds[int64](ned[0])
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(7), hi)
}

// Two overlapping dense writes on a [1,4]x[1,4] grid with 2x2 tiles: eight
// cells over rows [1,2], then four cells over rows/cols [2,3]. Every
// persisted tile stays at four int32 cells, 16 bytes.
func TestDenseOverlappingWritesTileSizes(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	write := func(rows, cols [2]int64) *ColumnFragmentWriter {
		cfg := newConfig(grid44(t), fs, true)
		cfg.NonEmptyDomain = schema.NDRange{
			schema.MakeRange(rows[0], rows[1]),
			schema.MakeRange(cols[0], cols[1]),
		}
		w, err := New(ctx, cfg, "mem://arr")
		require.NoError(t, err)
		for _, name := range []string{"rows", "cols", "a"} {
			writeField(t, w, name, int(w.Metadata().TileNum()))
		}
		require.NoError(t, w.Finalize(ctx))
		return w
	}

	w1 := write([2]int64{1, 2}, [2]int64{1, 4})
	require.Equal(t, uint64(2), w1.Metadata().TileNum())
	w2 := write([2]int64{2, 3}, [2]int64{2, 3})
	require.Equal(t, uint64(4), w2.Metadata().TileNum())

	for _, w := range []*ColumnFragmentWriter{w1, w2} {
		var maxSize uint64
		for tid := uint64(0); tid < w.Metadata().TileNum(); tid++ {
			sz, err := w.Metadata().PersistedTileSize("a", tid)
			require.NoError(t, err)
			if sz > maxSize {
				maxSize = sz
			}
		}
		assert.Equal(t, uint64(16), maxSize)
	}
}

func TestWriteFailurePropagatesAndLeavesNoSentinel(t *testing.T) {
	ctx := context.Background()
	faulty := vfs.NewFaulty(vfs.NewMem())
	faulty.SetFault("a.dat", vfs.Fault{FailWrite: true})
	cfg := newConfig(sparse1D(t), faulty, false)

	w, err := New(ctx, cfg, "mem://arr")
	require.NoError(t, err)
	writeField(t, w, "d", 1)

	require.NoError(t, w.OpenField("a"))
	err = w.WriteTile(ctx, filteredTile(4))
	assert.ErrorIs(t, err, vfs.ErrInjected)

	// The abandoned fragment never becomes visible.
	ok, err := cfg.Commits.IsCommitted(ctx, w.FragmentName(), 16)
	require.NoError(t, err)
	assert.False(t, ok)
}
