// Package tilego implements the read/write index layer of a columnar array
// storage engine: fragment metadata, tile offset indexes, per-tile statistics
// and the range-overlap machinery that query layers prune with.
//
// An array is a directory of immutable fragments. Each write produces one
// fragment: per-field data files plus a metadata file indexing tile offsets,
// MBRs and statistics. A fragment becomes visible only when its commit
// sentinel exists, so abandoned writes are invisible and need no recovery.
//
// # Quick Start
//
// Write a fragment:
//
//	ctx := context.Background()
//	fs := vfs.NewLocal()
//	arr, _ := tilego.Open(ctx, fs, "/data/my_array", sch)
//	w, _ := arr.NewWriter(ctx, tilego.WriterConfig{
//	    TimestampStart: 10,
//	    TimestampEnd:   10,
//	    CellsPerTile:   1024,
//	})
//	w.OpenField("d")
//	w.WriteTile(ctx, coords)
//	w.CloseField(ctx)
//	// ... remaining fields, then:
//	w.SetMBRs(mbrs)
//	w.Finalize(ctx)
//
// Read the index back, loading only what a query touches:
//
//	arr, _ := tilego.Open(ctx, fs, "/data/my_array", sch,
//	    tilego.WithMemoryBudget(256<<20))
//	for _, f := range arr.Fragments() {
//	    overlap, _ := f.GetTileOverlap(query)
//	    // fetch tiles via f.TileOffset / f.PersistedTileSize
//	}
//
// Tile offsets, statistics and R-trees load on demand for current-format
// fragments and are charged against the configured memory budget; legacy
// fragments (format versions 1 and 2) have no footer and load eagerly.
package tilego
