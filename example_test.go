package tilego_test

import (
	"context"
	"fmt"

	"github.com/hupe1980/tilego"
	"github.com/hupe1980/tilego/datatype"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

func Example() {
	ctx := context.Background()

	sch, err := schema.New(schema.Domain{
		Dims: []schema.Dimension{{
			Name:   "d",
			Type:   datatype.Int64,
			Domain: schema.MakeRange(int64(0), int64(999)),
		}},
	}, []schema.Field{{Name: "a", Type: datatype.Int32, CellValNum: 1}})
	if err != nil {
		panic(err)
	}

	arr, err := tilego.Open(ctx, vfs.NewMem(), "mem://example", sch)
	if err != nil {
		panic(err)
	}

	w, err := arr.NewWriter(ctx, tilego.WriterConfig{
		CellsPerTile:   4,
		TimestampStart: 1,
		TimestampEnd:   1,
	})
	if err != nil {
		panic(err)
	}

	coords := func(vals ...int64) *tile.Tile {
		var data []byte
		for _, v := range vals {
			data = append(data, schema.ValueBytes(v)...)
		}
		return &tile.Tile{FixedData: data, CellNum: uint64(len(vals)), Filtered: true}
	}

	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(w.OpenField("d"))
	must(w.WriteTile(ctx, coords(0, 1, 2, 3)))
	must(w.WriteTile(ctx, coords(10, 11, 12, 13)))
	must(w.CloseField(ctx))
	must(w.OpenField("a"))
	must(w.WriteTile(ctx, &tile.Tile{FixedData: make([]byte, 16), CellNum: 4, Filtered: true}))
	must(w.WriteTile(ctx, &tile.Tile{FixedData: make([]byte, 16), CellNum: 4, Filtered: true}))
	must(w.CloseField(ctx))
	must(w.SetMBRs([]schema.NDRange{
		{schema.MakeRange(int64(0), int64(3))},
		{schema.MakeRange(int64(10), int64(13))},
	}))
	must(w.Finalize(ctx))

	must(arr.Reload(ctx))
	f := arr.Fragments()[0]
	must(f.LoadRTree(ctx))
	ov, err := f.GetTileOverlap(schema.NDRange{schema.MakeRange(int64(10), int64(20))})
	if err != nil {
		panic(err)
	}
	fmt.Println("tiles:", f.TileNum(), "covered:", ov.TileRanges)
	// Output:
	// tiles: 2 covered: [[1 1]]
}
