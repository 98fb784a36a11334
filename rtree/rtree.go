// Package rtree provides a bulk-loaded R-tree over the minimum bounding
// rectangles of a fragment's tiles. The tree is built once after all leaves
// are set and never mutated afterwards.
package rtree

import (
	"fmt"

	"github.com/hupe1980/tilego/internal/serial"
	"github.com/hupe1980/tilego/schema"
)

// DefaultFanout is the node capacity used for new trees.
const DefaultFanout = 10

// TileOverlap describes which leaves of a tree a query range touches.
// TileRanges holds inclusive [first, last] runs of leaves whose subtree is
// fully contained in the query; Tiles holds individual partially-overlapping
// leaves with their coverage ratio.
type TileOverlap struct {
	TileRanges [][2]uint64
	Tiles      []PartialTile
}

// PartialTile is a leaf that overlaps the query without full containment.
type PartialTile struct {
	Idx   uint64
	Ratio float64
}

// RTree indexes tile MBRs for one fragment. Level 0 is the leaf level; the
// last level is the root.
type RTree struct {
	dims   []schema.Dimension
	fanout int
	levels [][]schema.NDRange
}

// New creates an empty tree with capacity for leafNum leaves.
func New(dims []schema.Dimension, fanout, leafNum int) *RTree {
	if fanout <= 1 {
		fanout = DefaultFanout
	}
	return &RTree{
		dims:   dims,
		fanout: fanout,
		levels: [][]schema.NDRange{make([]schema.NDRange, leafNum)},
	}
}

// SetLeaf stores the MBR of tile i. Build must not have run yet.
func (t *RTree) SetLeaf(i int, mbr schema.NDRange) {
	t.levels[0][i] = mbr
}

// Leaf returns the MBR of tile i.
func (t *RTree) Leaf(i int) schema.NDRange { return t.levels[0][i] }

// LeafNum returns the number of tiles indexed.
func (t *RTree) LeafNum() int { return len(t.levels[0]) }

// Fanout returns the node capacity.
func (t *RTree) Fanout() int { return t.fanout }

// Domain returns the union of all leaf MBRs, or nil for an empty tree.
func (t *RTree) Domain() schema.NDRange {
	if len(t.levels[0]) == 0 {
		return nil
	}
	root := t.levels[len(t.levels)-1]
	out := make(schema.NDRange, len(t.dims))
	for _, mbr := range root {
		for d := range t.dims {
			out[d] = schema.RangeUnion(t.dims[d].Type, out[d], mbr[d])
		}
	}
	return out
}

// Build bulk-loads the upper levels bottom-up: every fanout children
// collapse into one parent MBR until a single root level remains.
func (t *RTree) Build() {
	t.levels = t.levels[:1]
	for len(t.levels[len(t.levels)-1]) > t.fanout {
		child := t.levels[len(t.levels)-1]
		parent := make([]schema.NDRange, 0, (len(child)+t.fanout-1)/t.fanout)
		for lo := 0; lo < len(child); lo += t.fanout {
			hi := min(lo+t.fanout, len(child))
			mbr := make(schema.NDRange, len(t.dims))
			for _, c := range child[lo:hi] {
				for d := range t.dims {
					mbr[d] = schema.RangeUnion(t.dims[d].Type, mbr[d], c[d])
				}
			}
			parent = append(parent, mbr)
		}
		t.levels = append(t.levels, parent)
	}
}

// GetTileOverlap computes the leaves touched by the query range, preferring
// whole-subtree ranges over per-tile entries.
func (t *RTree) GetTileOverlap(query schema.NDRange) TileOverlap {
	var out TileOverlap
	if t.LeafNum() == 0 {
		return out
	}
	top := len(t.levels) - 1
	for i := range t.levels[top] {
		t.overlap(query, top, i, &out)
	}
	out.coalesce()
	return out
}

func (t *RTree) overlap(query schema.NDRange, level, node int, out *TileOverlap) {
	mbr := t.levels[level][node]
	covered := true
	for d := range t.dims {
		dt := t.dims[d].Type
		if !schema.RangeIntersects(dt, query[d], mbr[d]) {
			return
		}
		if covered && !schema.RangeCovers(dt, query[d], mbr[d]) {
			covered = false
		}
	}
	if covered {
		first, last := t.subtreeLeaves(level, node)
		out.TileRanges = append(out.TileRanges, [2]uint64{first, last})
		return
	}
	if level == 0 {
		ratio := 1.0
		for d := range t.dims {
			ratio *= schema.RangeCoverage(t.dims[d].Type, query[d], mbr[d])
		}
		out.Tiles = append(out.Tiles, PartialTile{Idx: uint64(node), Ratio: ratio})
		return
	}
	lo := node * t.fanout
	hi := min(lo+t.fanout, len(t.levels[level-1]))
	for i := lo; i < hi; i++ {
		t.overlap(query, level-1, i, out)
	}
}

// subtreeLeaves returns the inclusive leaf index span under a node.
func (t *RTree) subtreeLeaves(level, node int) (uint64, uint64) {
	lo, hi := node, node
	for l := level; l > 0; l-- {
		lo *= t.fanout
		hi = hi*t.fanout + t.fanout - 1
	}
	if hi >= t.LeafNum() {
		hi = t.LeafNum() - 1
	}
	return uint64(lo), uint64(hi)
}

// coalesce merges adjacent full ranges produced by sibling subtrees.
func (o *TileOverlap) coalesce() {
	if len(o.TileRanges) < 2 {
		return
	}
	merged := o.TileRanges[:1]
	for _, r := range o.TileRanges[1:] {
		last := &merged[len(merged)-1]
		if r[0] == last[1]+1 {
			last[1] = r[1]
		} else {
			merged = append(merged, r)
		}
	}
	o.TileRanges = merged
}

// Encode serializes the leaf level; upper levels are rebuilt on load.
func (t *RTree) Encode(w *serial.Writer) {
	w.U32(uint32(t.fanout))
	w.U32(uint32(len(t.dims)))
	w.U64(uint64(t.LeafNum()))
	for _, mbr := range t.levels[0] {
		for d, dim := range t.dims {
			r := mbr[d]
			if dim.Type.IsString() || dim.VarSize() {
				w.Blob([]byte(r.StartStr))
				w.Blob([]byte(r.EndStr))
			} else {
				w.Raw(r.Start)
				w.Raw(r.End)
			}
		}
	}
}

// Decode reads a tree written by Encode and rebuilds the upper levels.
func Decode(r *serial.Reader, dims []schema.Dimension) (*RTree, error) {
	fanout, err := r.U32()
	if err != nil {
		return nil, err
	}
	dimNum, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int(dimNum) != len(dims) {
		return nil, fmt.Errorf("rtree: dimension count mismatch: stored %d, schema %d", dimNum, len(dims))
	}
	leafNum, err := r.U64()
	if err != nil {
		return nil, err
	}
	t := New(dims, int(fanout), int(leafNum))
	for i := uint64(0); i < leafNum; i++ {
		mbr := make(schema.NDRange, len(dims))
		for d, dim := range dims {
			if dim.Type.IsString() || dim.VarSize() {
				s, err := r.Blob()
				if err != nil {
					return nil, err
				}
				e, err := r.Blob()
				if err != nil {
					return nil, err
				}
				mbr[d] = schema.Range{StartStr: string(s), EndStr: string(e), Var: true}
			} else {
				sz := int(dim.Type.Size())
				s, err := r.Raw(sz)
				if err != nil {
					return nil, err
				}
				e, err := r.Raw(sz)
				if err != nil {
					return nil, err
				}
				mbr[d] = schema.Range{Start: append([]byte(nil), s...), End: append([]byte(nil), e...)}
			}
		}
		t.SetLeaf(int(i), mbr)
	}
	t.Build()
	return t, nil
}
