// Package tile defines the storage unit the writer streams and the codec for
// the independently decodable metadata sections ("generic tiles") of the
// fragment metadata file, plus the per-tile statistics generator.
package tile

// Tile is one field's data for one tile position, already run through the
// filter pipeline: the byte payloads are exactly what lands on storage.
type Tile struct {
	// FixedData holds the fixed-size payload. For var-size fields it is the
	// offsets buffer (uint64 per cell).
	FixedData []byte
	// VarData holds the var-size payload; nil for fixed-size fields.
	VarData []byte
	// ValidityData holds one byte per cell (1 valid, 0 null); nil for
	// non-nullable fields.
	ValidityData []byte

	// CellNum is the number of cells in the tile.
	CellNum uint64

	// Filtered records that the filter pipeline has been applied. The writer
	// rejects unfiltered tiles.
	Filtered bool

	// Statistics, populated by the metadata generator before the tile is
	// handed to the writer. Min/Max hold raw value bytes (var-size fields
	// hold the full minimum/maximum byte strings), Sum holds the widened
	// 8-byte accumulator.
	Min       []byte
	Max       []byte
	Sum       [8]byte
	NullCount uint64
	HasMinMax bool
	HasSum    bool
}
