package overlap

import (
	"bytes"
	"sort"

	"github.com/hupe1980/tilego/schema"
)

func numericFns[T schema.Numeric]() dimFns {
	return dimFns{
		sparse:   sparseNumeric[T],
		dense:    denseNumeric[T],
		count8:   countNumeric[T, uint8],
		count64:  countNumeric[T, uint64],
		contains: containsNumeric[T],
	}
}

// valAt reads the coordinate of cell c on dimension d from whichever buffer
// layout the tile carries. Zipped tiles interleave all dimensions per cell,
// so every dimension must share T's width.
func valAt[T schema.Numeric](ct *CoordTile, d int, c uint64) T {
	if ct.Zipped != nil {
		return schema.Reinterpret[T](ct.Zipped)[c*uint64(ct.DimNum)+uint64(d)]
	}
	return schema.Reinterpret[T](ct.SplitFixed[d])[c]
}

func containsNumeric[T schema.Numeric](ct *CoordTile, d int, c uint64, r schema.Range) bool {
	v := valAt[T](ct, d, c)
	return v >= schema.ValueOf[T](r.Start) && v <= schema.ValueOf[T](r.End)
}

const zeroBlockSize = 64

var zeroBlock [zeroBlockSize]byte

// allZero reports whether every entry of a bitmap slice is zero, comparing
// whole blocks at a time.
func allZero(b []uint8) bool {
	for len(b) >= zeroBlockSize {
		if !bytes.Equal(b[:zeroBlockSize], zeroBlock[:]) {
			return false
		}
		b = b[zeroBlockSize:]
	}
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func sparseNumeric[T schema.Numeric](e *Engine, d int, rng schema.Range, ct *CoordTile, bitmap []uint8) {
	lo := schema.ValueOf[T](rng.Start)
	hi := schema.ValueOf[T](rng.End)

	if ct.Zipped == nil && d == e.sorted {
		// Coordinates on the sorted dimension are non-decreasing within
		// the tile, so the matching cells form one contiguous run.
		vals := schema.Reinterpret[T](ct.SplitFixed[d])
		n := len(vals)
		a := sort.Search(n, func(i int) bool { return vals[i] >= lo })
		b := sort.Search(n, func(i int) bool { return vals[i] > hi })
		for c := 0; c < a; c++ {
			bitmap[c] = 0
		}
		for c := b; c < n; c++ {
			bitmap[c] = 0
		}
		return
	}

	// On later dimensions earlier passes have often zeroed long runs
	// already; skip those blocks wholesale.
	n := uint64(len(bitmap))
	for c := uint64(0); c < n; {
		end := c + zeroBlockSize
		if end > n {
			end = n
		}
		if allZero(bitmap[c:end]) {
			c = end
			continue
		}
		for ; c < end; c++ {
			if bitmap[c] == 0 {
				continue
			}
			if v := valAt[T](ct, d, c); v < lo || v > hi {
				bitmap[c] = 0
			}
		}
	}
}

func denseNumeric[T schema.Numeric](e *Engine, d int, rng schema.Range, ct *CoordTile, domains []schema.NDRange, bitmap, overwritten []uint8) {
	sparseNumeric[T](e, d, rng, ct, bitmap)
	if d != len(e.fns)-1 {
		return
	}
	// On the last dimension, flag surviving cells that a later fragment's
	// domain fully contains; the later write shadows them.
	for c := uint64(0); c < ct.CellNum; c++ {
		if bitmap[c] == 0 || overwritten[c] != 0 {
			continue
		}
		for _, dom := range domains {
			if e.cellInDomain(ct, c, dom) {
				overwritten[c] = 1
				break
			}
		}
	}
}

func (e *Engine) cellInDomain(ct *CoordTile, c uint64, dom schema.NDRange) bool {
	for dd := range e.fns {
		if !e.fns[dd].contains(ct, dd, c, dom[dd]) {
			return false
		}
	}
	return true
}

func countNumeric[T schema.Numeric, C uint8 | uint64](e *Engine, d int, ranges []schema.Range, ct *CoordTile, counts []C) {
	type bound struct{ lo, hi T }
	rs := make([]bound, len(ranges))
	for i, r := range ranges {
		rs[i] = bound{schema.ValueOf[T](r.Start), schema.ValueOf[T](r.End)}
	}
	for c := range counts {
		if counts[c] == 0 {
			continue
		}
		v := valAt[T](ct, d, uint64(c))
		// Ranges are sorted by their bounds, so the candidates containing
		// v start at the first range whose end reaches it.
		i := sort.Search(len(rs), func(i int) bool { return rs[i].hi >= v })
		var m C
		for ; i < len(rs) && rs[i].lo <= v; i++ {
			m++
		}
		counts[c] *= m
	}
}
