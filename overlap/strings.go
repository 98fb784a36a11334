package overlap

import (
	"bytes"

	"github.com/hupe1980/tilego/schema"
)

// stringPartitions bounds the number of slices a sorted string dimension is
// cut into before testing each slice's first and last value. A slice whose
// endpoints are byte-identical holds one repeated value, so the predicate is
// evaluated once and broadcast.
const stringPartitions = 6

func containsString(ct *CoordTile, d int, c uint64, r schema.Range) bool {
	v := ct.StringVal(d, c)
	return string(v) >= r.StartStr && string(v) <= r.EndStr
}

func sparseString(e *Engine, d int, rng schema.Range, ct *CoordTile, bitmap []uint8) {
	lo := []byte(rng.StartStr)
	hi := []byte(rng.EndStr)
	n := ct.CellNum
	if n == 0 {
		return
	}

	if d == e.sorted {
		parts := uint64(stringPartitions)
		if n < parts {
			parts = n
		}
		per := n / parts
		for p := uint64(0); p < parts; p++ {
			start := p * per
			end := start + per
			if p == parts-1 {
				end = n
			}
			first := ct.StringVal(d, start)
			last := ct.StringVal(d, end-1)
			if bytes.Equal(first, last) {
				if bytes.Compare(first, lo) >= 0 && bytes.Compare(first, hi) <= 0 {
					continue
				}
				for c := start; c < end; c++ {
					bitmap[c] = 0
				}
				continue
			}
			stringCull(ct, d, lo, hi, bitmap[start:end], start)
		}
		return
	}

	for c := uint64(0); c < n; {
		end := c + zeroBlockSize
		if end > n {
			end = n
		}
		if allZero(bitmap[c:end]) {
			c = end
			continue
		}
		stringCull(ct, d, lo, hi, bitmap[c:end], c)
		c = end
	}
}

func stringCull(ct *CoordTile, d int, lo, hi []byte, bitmap []uint8, base uint64) {
	for i := range bitmap {
		if bitmap[i] == 0 {
			continue
		}
		v := ct.StringVal(d, base+uint64(i))
		if bytes.Compare(v, lo) < 0 || bytes.Compare(v, hi) > 0 {
			bitmap[i] = 0
		}
	}
}

func countString[C uint8 | uint64](e *Engine, d int, ranges []schema.Range, ct *CoordTile, counts []C) {
	for c := range counts {
		if counts[c] == 0 {
			continue
		}
		v := string(ct.StringVal(d, uint64(c)))
		var m C
		for _, r := range ranges {
			if r.EndStr < v {
				continue
			}
			if r.StartStr > v {
				break
			}
			m++
		}
		counts[c] *= m
	}
}
