package schema

import (
	"fmt"
)

// Dense tile-grid arithmetic. Dense domains are integer typed; coordinates
// are lifted to int64 once and all grid math happens on int64 slabs.
// Unsigned domains above math.MaxInt64 are outside the supported envelope.

// DimLo returns the lower domain bound of dimension d as int64.
func (dom *Domain) DimLo(d int) int64 {
	return liftDim(dom.Dims[d], dom.Dims[d].Domain.Start)
}

// DimHi returns the upper domain bound of dimension d as int64.
func (dom *Domain) DimHi(d int) int64 {
	return liftDim(dom.Dims[d], dom.Dims[d].Domain.End)
}

// Extent returns the tile extent of dimension d, or 0 when none is set.
func (dom *Domain) Extent(d int) int64 {
	dim := dom.Dims[d]
	if dim.TileExtent == nil {
		return 0
	}
	return liftDim(dim, dim.TileExtent)
}

func liftDim(dim Dimension, b []byte) int64 {
	if dim.Type.IsSigned() {
		return liftSigned(dim.Type, b)
	}
	return int64(liftUnsigned(dim.Type, b))
}

func lowerDim(dim Dimension, v int64) []byte {
	if dim.Type.IsSigned() {
		return lowerSigned(dim.Type, v)
	}
	return lowerUnsigned(dim.Type, uint64(v))
}

// ExpandToTiles expands nd minimally so every bound coincides with a tile
// boundary of the domain grid. Dimensions without a tile extent are returned
// unchanged.
func (dom *Domain) ExpandToTiles(nd NDRange) NDRange {
	out := make(NDRange, len(nd))
	for d := range nd {
		dim := dom.Dims[d]
		ext := dom.Extent(d)
		if ext == 0 || dim.VarSize() {
			out[d] = nd[d]
			continue
		}
		lo := dom.DimLo(d)
		start := liftDim(dim, nd[d].Start)
		end := liftDim(dim, nd[d].End)
		start = lo + ((start-lo)/ext)*ext
		end = lo + ((end-lo)/ext+1)*ext - 1
		if hi := dom.DimHi(d); end > hi {
			end = hi
		}
		out[d] = Range{Start: lowerDim(dim, start), End: lowerDim(dim, end)}
	}
	return out
}

// TileNum returns the number of tiles in the grid imposed on nd. It is an
// error to call it with a dimension that has no tile extent.
func (dom *Domain) TileNum(nd NDRange) (uint64, error) {
	n := uint64(1)
	for d := range nd {
		ext := dom.Extent(d)
		if ext == 0 {
			return 0, fmt.Errorf("schema: dimension %q has no tile extent", dom.Dims[d].Name)
		}
		dim := dom.Dims[d]
		start := liftDim(dim, nd[d].Start)
		end := liftDim(dim, nd[d].End)
		n *= uint64((end-start)/ext + 1)
	}
	return n, nil
}

// TileDomain returns, per dimension, the inclusive tile-index interval of the
// tiles of grid-domain `grid` that intersect `subarray`. The boolean is false
// when the subarray misses the grid entirely.
func (dom *Domain) TileDomain(grid, subarray NDRange) ([][2]int64, bool) {
	td := make([][2]int64, len(grid))
	for d := range grid {
		dim := dom.Dims[d]
		ext := dom.Extent(d)
		gLo := liftDim(dim, grid[d].Start)
		gHi := liftDim(dim, grid[d].End)
		sLo := liftDim(dim, subarray[d].Start)
		sHi := liftDim(dim, subarray[d].End)
		if sLo < gLo {
			sLo = gLo
		}
		if sHi > gHi {
			sHi = gHi
		}
		if sLo > sHi {
			return nil, false
		}
		td[d] = [2]int64{(sLo - gLo) / ext, (sHi - gLo) / ext}
	}
	return td, true
}

// TilePos maps global tile coordinates (relative to grid-domain `grid`) to the
// fragment-local tile position in tile order.
func (dom *Domain) TilePos(grid NDRange, tileCoords []int64) uint64 {
	dimNum := len(grid)
	pos := uint64(0)
	if dom.TileOrder == RowMajor {
		for d := 0; d < dimNum; d++ {
			tilesAfter := uint64(1)
			for e := d + 1; e < dimNum; e++ {
				tilesAfter *= dom.tilesInDim(grid, e)
			}
			pos += uint64(tileCoords[d]) * tilesAfter
		}
		return pos
	}
	for d := dimNum - 1; d >= 0; d-- {
		tilesBefore := uint64(1)
		for e := 0; e < d; e++ {
			tilesBefore *= dom.tilesInDim(grid, e)
		}
		pos += uint64(tileCoords[d]) * tilesBefore
	}
	return pos
}

func (dom *Domain) tilesInDim(grid NDRange, d int) uint64 {
	dim := dom.Dims[d]
	ext := dom.Extent(d)
	return uint64((liftDim(dim, grid[d].End)-liftDim(dim, grid[d].Start))/ext + 1)
}

// TileSlab returns the coordinate interval covered by tile index ti along
// dimension d of grid-domain `grid`.
func (dom *Domain) TileSlab(grid NDRange, d int, ti int64) Range {
	dim := dom.Dims[d]
	ext := dom.Extent(d)
	lo := liftDim(dim, grid[d].Start) + ti*ext
	hi := lo + ext - 1
	if gHi := liftDim(dim, grid[d].End); hi > gHi {
		hi = gHi
	}
	return Range{Start: lowerDim(dim, lo), End: lowerDim(dim, hi)}
}
