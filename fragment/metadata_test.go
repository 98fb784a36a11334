package fragment

import (
	"context"
	"encoding/binary"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/resource"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	dom := schema.Domain{
		Dims: []schema.Dimension{{
			Name:       "d",
			Type:       datatype.Int64,
			Domain:     schema.MakeRange(int64(0), int64(99)),
			TileExtent: schema.ValueBytes(int64(10)),
		}},
		TileOrder: schema.RowMajor,
		CellOrder: schema.RowMajor,
	}
	sch, err := schema.New(dom, []schema.Field{
		{Name: "a", Type: datatype.Int32, CellValNum: 1},
		{Name: "s", Type: datatype.StringASCII, CellValNum: schema.VarNum},
		{Name: "n", Type: datatype.Int64, CellValNum: 1, Nullable: true},
	})
	require.NoError(t, err)
	return sch
}

func testConfig(t *testing.T) Config {
	return Config{Schema: testSchema(t), FS: vfs.NewMem()}
}

func TestSetTileOffsetCumulative(t *testing.T) {
	m, err := New(testConfig(t), "mem://arr/__fragments/"+NewName(1, 2, CurrentFormatVersion), false, 10)
	require.NoError(t, err)
	m.SetNumTiles(3)

	require.NoError(t, m.SetTileOffset("a", 0, 10))
	require.NoError(t, m.SetTileOffset("a", 1, 20))
	require.NoError(t, m.SetTileOffset("a", 2, 30))

	for i, want := range []uint64{0, 10, 30} {
		got, err := m.TileOffset("a", uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	for i, want := range []uint64{10, 20, 30} {
		got, err := m.PersistedTileSize("a", uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got, "tile %d", i)
	}
	size, err := m.FileSize("a")
	require.NoError(t, err)
	assert.Equal(t, uint64(60), size)
}

func TestSetTileOffsetErrors(t *testing.T) {
	m, err := New(testConfig(t), "mem://arr/__fragments/"+NewName(1, 2, CurrentFormatVersion), false, 10)
	require.NoError(t, err)
	m.SetNumTiles(1)

	assert.ErrorIs(t, m.SetTileOffset("nope", 0, 1), ErrUsage)
	assert.ErrorIs(t, m.SetTileOffset("a", 5, 1), ErrUsage)
}

func TestTileIndexBaseShiftsAppends(t *testing.T) {
	m, err := New(testConfig(t), "mem://arr/__fragments/"+NewName(1, 2, CurrentFormatVersion), false, 10)
	require.NoError(t, err)
	m.SetNumTiles(2)
	require.NoError(t, m.SetTileOffset("a", 0, 10))

	m.SetTileIndexBase(1)
	m.SetNumTiles(4)
	require.NoError(t, m.SetTileOffset("a", 0, 20))
	require.NoError(t, m.SetTileOffset("a", 1, 30))

	for i, want := range []uint64{0, 10, 30} {
		got, err := m.TileOffset("a", uint64(i))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

// populateFixture fills a sparse two-tile fragment with offsets, MBRs,
// statistics and a processed condition.
func populateFixture(t *testing.T, m *Metadata) {
	t.Helper()
	require.NoError(t, m.Init(nil))
	m.SetNumTiles(2)
	m.SetLastTileCellNum(7)

	for tid := uint64(0); tid < 2; tid++ {
		require.NoError(t, m.SetTileOffset("d", tid, 80))
		require.NoError(t, m.SetTileOffset("a", tid, 40))
		require.NoError(t, m.SetTileOffset("s", tid, 80))
		require.NoError(t, m.SetTileVarOffset("s", tid, 100+tid*20))
		require.NoError(t, m.SetTileOffset("n", tid, 80))
		require.NoError(t, m.SetTileValidityOffset("n", tid, 10))
	}
	require.NoError(t, m.SetMBR(0, schema.NDRange{schema.MakeRange(int64(0), int64(4))}))
	require.NoError(t, m.SetMBR(1, schema.NDRange{schema.MakeRange(int64(5), int64(9))}))

	for tid := uint64(0); tid < 2; tid++ {
		tl := &tile.Tile{
			Min:       schema.ValueBytes(int32(tid * 10)),
			Max:       schema.ValueBytes(int32(tid*10 + 9)),
			NullCount: tid,
		}
		binary.LittleEndian.PutUint64(tl.Sum[:], uint64(int64(100+tid)))
		require.NoError(t, m.SetTileStats("a", tid, tl))
	}
	m.ComputeFragmentMinMaxSumNullCount()
	m.AddProcessedCondition("__cond_delete_1")
	require.NoError(t, m.BuildRTree())
}

func TestStoreLoadRoundTripBands(t *testing.T) {
	ctx := context.Background()

	for _, version := range []uint32{1, 2, 3, 5, 7, 11, 12, 16} {
		name := NewName(10, 20, version)
		if version < versionFooter {
			// Pre-footer fragments carry version-1 names.
			name = "__44318efd44454e4d97e102e4c72ae326_10_20"
		}
		uri := "mem://arr/__fragments/" + name

		cfg := testConfig(t)
		m, err := New(cfg, uri, false, 10)
		require.NoError(t, err)
		populateFixture(t, m)
		require.NoError(t, m.storeVersion(ctx, version))

		got, err := Load(ctx, cfg, uri)
		require.NoError(t, err, "version %d", version)
		assert.Equal(t, version, got.Version())
		assert.False(t, got.Dense())
		assert.Equal(t, uint64(2), got.TileNum())
		assert.Equal(t, uint64(7), got.LastTileCellNum())

		ned := got.NonEmptyDomain()
		require.Len(t, ned, 1)
		lo, hi := schema.Bounds[int64](ned[0])
		assert.Equal(t, int64(0), lo)
		assert.Equal(t, int64(9), hi)

		names := []string{"d", "a", "s", "n"}
		require.NoError(t, got.LoadTileOffsets(ctx, names))
		require.NoError(t, got.LoadTileVarSizes(ctx, names))

		off, err := got.TileOffset("a", 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), off)
		vs, err := got.TileVarSize("s", 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(120), vs)
		ps, err := got.PersistedTileSize("a", 1)
		require.NoError(t, err)
		assert.Equal(t, uint64(40), ps)

		if version >= versionValidity {
			vo, err := got.TileValidityOffset("n", 1)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), vo)
		}
		if version >= versionTileStats {
			require.NoError(t, got.LoadTileStats(ctx, []string{"a"}))
			mn, err := got.TileMin("a", 1)
			require.NoError(t, err)
			assert.Equal(t, int32(10), schema.ValueOf[int32](mn))
			nc, err := got.TileNullCount("a", 1)
			require.NoError(t, err)
			assert.Equal(t, uint64(1), nc)
		}
		if version >= versionFragmentStats {
			require.NoError(t, got.LoadFragmentStats(ctx))
			mn, mx, has, err := got.FragmentMinMax("a")
			require.NoError(t, err)
			assert.True(t, has)
			assert.Equal(t, int32(0), schema.ValueOf[int32](mn))
			assert.Equal(t, int32(19), schema.ValueOf[int32](mx))
			sum, hasSum, err := got.FragmentSum("a")
			require.NoError(t, err)
			assert.True(t, hasSum)
			assert.Equal(t, int64(201), int64(sum))
			ts, te := got.TimestampRange()
			assert.Equal(t, uint64(10), ts)
			assert.Equal(t, uint64(20), te)
		}
		if version >= versionConditions {
			require.NoError(t, got.LoadProcessedConditions(ctx))
			assert.Equal(t, []string{"__cond_delete_1"}, got.ProcessedConditions())
		}

		if version >= versionFooter {
			require.NoError(t, got.LoadRTree(ctx))
		}
		overlap, err := got.GetTileOverlap(schema.NDRange{schema.MakeRange(int64(0), int64(9))})
		require.NoError(t, err)
		require.Len(t, overlap.TileRanges, 1)
		assert.Equal(t, [2]uint64{0, 1}, overlap.TileRanges[0])
	}
}

func TestAccessBeforeLoadFails(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, false, 10)
	require.NoError(t, err)
	populateFixture(t, m)
	require.NoError(t, m.Store(ctx))

	got, err := Load(ctx, cfg, uri)
	require.NoError(t, err)

	_, err = got.TileOffset("a", 0)
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = got.GetTileOverlap(schema.NDRange{schema.MakeRange(int64(0), int64(9))})
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadBudgetExceeded(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, false, 10)
	require.NoError(t, err)
	require.NoError(t, m.Init(nil))
	m.SetNumTiles(1000)
	for tid := uint64(0); tid < 1000; tid++ {
		require.NoError(t, m.SetTileOffset("a", tid, 40))
	}
	require.NoError(t, m.Store(ctx))

	cfg.Resources = resource.NewController(resource.Config{MemoryBudgetBytes: 2048})
	got, err := Load(ctx, cfg, uri)
	require.NoError(t, err)

	footerMem := cfg.Resources.MemoryUsage()
	err = got.LoadTileOffsets(ctx, []string{"a"})
	var budgetErr *resource.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, resource.MemTileOffsets, budgetErr.Type)

	// Shortfall charges nothing and leaves the section unloaded.
	assert.Equal(t, footerMem, cfg.Resources.MemoryUsage())
	_, err = got.TileOffset("a", 0)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestMBROutOfRange(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, false, 10)
	require.NoError(t, err)
	populateFixture(t, m)

	_, err = m.MBR(1)
	require.NoError(t, err)
	_, err = m.MBR(2)
	assert.ErrorIs(t, err, ErrUsage)

	require.NoError(t, m.Store(ctx))
	got, err := Load(ctx, cfg, uri)
	require.NoError(t, err)
	require.NoError(t, got.LoadRTree(ctx))

	mbr, err := got.MBR(1)
	require.NoError(t, err)
	lo, hi := schema.Bounds[int64](mbr[0])
	assert.Equal(t, int64(5), lo)
	assert.Equal(t, int64(9), hi)
	_, err = got.MBR(2)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestFailedLoadReleasesMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, false, 10)
	require.NoError(t, err)
	populateFixture(t, m)
	require.NoError(t, m.Store(ctx))

	// Zero the footer version bytes so decoding fails after the footer
	// bytes have been charged against the budget.
	raw, err := vfs.ReadAll(ctx, cfg.FS, m.MetadataURI())
	require.NoError(t, err)
	footerLen := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	footerOff := uint64(len(raw)) - 8 - footerLen
	for i := uint64(0); i < 4; i++ {
		raw[footerOff+i] = 0
	}
	require.NoError(t, cfg.FS.RemoveFile(ctx, m.MetadataURI()))
	require.NoError(t, cfg.FS.Write(ctx, m.MetadataURI(), raw))

	cfg.Resources = resource.NewController(resource.Config{MemoryBudgetBytes: 1 << 20})
	_, err = Load(ctx, cfg, uri)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, int64(0), cfg.Resources.MemoryUsage())
}

func TestFailedLegacyLoadReleasesMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/__44318efd44454e4d97e102e4c72ae326_10_20"

	// A well-formed generic tile whose payload is too short to hold even
	// the leading version word.
	buf, err := tile.EncodeGeneric([]byte{1, 2}, tile.CodecLZ4, crypto.NoKey)
	require.NoError(t, err)
	require.NoError(t, cfg.FS.Write(ctx, path.Join(uri, MetadataFileName), buf))

	cfg.Resources = resource.NewController(resource.Config{MemoryBudgetBytes: 1 << 20})
	_, err = Load(ctx, cfg, uri)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, int64(0), cfg.Resources.MemoryUsage())
}

func TestFreeTileOffsetsReleasesMemory(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, false, 10)
	require.NoError(t, err)
	populateFixture(t, m)
	require.NoError(t, m.Store(ctx))

	cfg.Resources = resource.NewController(resource.Config{MemoryBudgetBytes: 1 << 20})
	got, err := Load(ctx, cfg, uri)
	require.NoError(t, err)
	require.NoError(t, got.LoadTileOffsets(ctx, []string{"d", "a", "s", "n"}))
	require.Greater(t, cfg.Resources.MemoryUsageOf(resource.MemTileOffsets), int64(0))

	got.FreeTileOffsets()
	assert.Equal(t, int64(0), cfg.Resources.MemoryUsageOf(resource.MemTileOffsets))
	_, err = got.TileOffset("a", 0)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestDenseInitAndOverlap(t *testing.T) {
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, true, 0)
	require.NoError(t, err)
	// Cells [3, 27] expand to the tile grid [0, 29]: three tiles.
	require.NoError(t, m.Init(schema.NDRange{schema.MakeRange(int64(3), int64(27))}))
	assert.Equal(t, uint64(3), m.TileNum())
	assert.Equal(t, uint64(10), m.CellNum(0))

	overlap, err := m.GetTileOverlap(schema.NDRange{schema.MakeRange(int64(0), int64(14))})
	require.NoError(t, err)
	require.Len(t, overlap.TileRanges, 1)
	assert.Equal(t, [2]uint64{0, 0}, overlap.TileRanges[0])
	require.Len(t, overlap.Tiles, 1)
	assert.Equal(t, uint64(1), overlap.Tiles[0].Idx)
	assert.InDelta(t, 0.5, overlap.Tiles[0].Ratio, 1e-9)
}

func TestComputeTileBitmap(t *testing.T) {
	cfg := testConfig(t)
	uri := "mem://arr/__fragments/" + NewName(1, 2, CurrentFormatVersion)

	m, err := New(cfg, uri, true, 0)
	require.NoError(t, err)
	require.NoError(t, m.Init(schema.NDRange{schema.MakeRange(int64(0), int64(49))}))
	require.Equal(t, uint64(5), m.TileNum())

	bm, err := m.ComputeTileBitmap(schema.MakeRange(int64(15), int64(34)), 0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, bm.ToArray())

	_, err = m.ComputeTileBitmap(schema.MakeRange(int64(0), int64(9)), 5)
	assert.ErrorIs(t, err, ErrUsage)
}
