package schema

import (
	"bytes"
	"unsafe"

	"github.com/hupe1980/tilego/datatype"
)

// Numeric is the closed set of fixed-width coordinate types.
type Numeric interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Range is a 1-dimensional inclusive interval. Fixed-width bounds are stored
// as raw little-endian bytes so that ranges of any dimension type can travel
// through untyped metadata paths; var-size (string) bounds use StartStr/EndStr.
type Range struct {
	Start []byte
	End   []byte

	StartStr string
	EndStr   string
	Var      bool
}

// NDRange is one interval per dimension.
type NDRange []Range

// MakeRange builds a fixed-width range from typed bounds.
func MakeRange[T Numeric](start, end T) Range {
	return Range{Start: toBytes(start), End: toBytes(end)}
}

// MakeStringRange builds a var-size range.
func MakeStringRange(start, end string) Range {
	return Range{StartStr: start, EndStr: end, Var: true}
}

// Bounds reinterprets the fixed bounds as T. The caller is responsible for
// matching T to the dimension's declared datatype.
func Bounds[T Numeric](r Range) (T, T) {
	return fromBytes[T](r.Start), fromBytes[T](r.End)
}

// IsEmpty reports whether the range carries no bounds at all.
func (r Range) IsEmpty() bool {
	return !r.Var && len(r.Start) == 0
}

// Equal reports bound-for-bound equality.
func (r Range) Equal(o Range) bool {
	if r.Var != o.Var {
		return false
	}
	if r.Var {
		return r.StartStr == o.StartStr && r.EndStr == o.EndStr
	}
	return bytes.Equal(r.Start, o.Start) && bytes.Equal(r.End, o.End)
}

// ValueBytes encodes one typed value as raw little-endian bytes.
func ValueBytes[T Numeric](v T) []byte { return toBytes(v) }

// ValueOf decodes raw little-endian bytes as one typed value.
func ValueOf[T Numeric](b []byte) T { return fromBytes[T](b) }

// Reinterpret views a byte buffer as a typed slice without copying. The
// buffer length must be a multiple of the element size.
func Reinterpret[T Numeric](b []byte) []T {
	if len(b) == 0 {
		return nil
	}
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

func toBytes[T Numeric](v T) []byte {
	b := make([]byte, unsafe.Sizeof(v))
	*(*T)(unsafe.Pointer(&b[0])) = v
	return b
}

func fromBytes[T Numeric](b []byte) T {
	var v T
	if len(b) == 0 {
		return v
	}
	return *(*T)(unsafe.Pointer(&b[0]))
}

// rangeOps funnels the per-datatype comparisons the untyped Range needs.
// Integer bounds are lifted to int64/uint64 and reals to float64; this keeps
// the R-tree and domain arithmetic free of type switches in inner loops.

func liftSigned(t datatype.T, b []byte) int64 {
	switch t.Size() {
	case 1:
		return int64(fromBytes[int8](b))
	case 2:
		return int64(fromBytes[int16](b))
	case 4:
		return int64(fromBytes[int32](b))
	default:
		return fromBytes[int64](b)
	}
}

func liftUnsigned(t datatype.T, b []byte) uint64 {
	switch t.Size() {
	case 1:
		return uint64(fromBytes[uint8](b))
	case 2:
		return uint64(fromBytes[uint16](b))
	case 4:
		return uint64(fromBytes[uint32](b))
	default:
		return fromBytes[uint64](b)
	}
}

func liftReal(t datatype.T, b []byte) float64 {
	if t == datatype.Float32 {
		return float64(fromBytes[float32](b))
	}
	return fromBytes[float64](b)
}

func lowerSigned(t datatype.T, v int64) []byte {
	switch t.Size() {
	case 1:
		return toBytes(int8(v))
	case 2:
		return toBytes(int16(v))
	case 4:
		return toBytes(int32(v))
	default:
		return toBytes(v)
	}
}

func lowerUnsigned(t datatype.T, v uint64) []byte {
	switch t.Size() {
	case 1:
		return toBytes(uint8(v))
	case 2:
		return toBytes(uint16(v))
	case 4:
		return toBytes(uint32(v))
	default:
		return toBytes(v)
	}
}

// RangeIntersects reports whether two ranges of the given datatype overlap.
func RangeIntersects(t datatype.T, a, b Range) bool {
	if a.IsEmpty() && !a.Var || b.IsEmpty() && !b.Var {
		return false
	}
	switch {
	case t.IsString():
		return a.StartStr <= b.EndStr && b.StartStr <= a.EndStr
	case t.IsReal():
		return liftReal(t, a.Start) <= liftReal(t, b.End) &&
			liftReal(t, b.Start) <= liftReal(t, a.End)
	case t.IsSigned():
		return liftSigned(t, a.Start) <= liftSigned(t, b.End) &&
			liftSigned(t, b.Start) <= liftSigned(t, a.End)
	default:
		return liftUnsigned(t, a.Start) <= liftUnsigned(t, b.End) &&
			liftUnsigned(t, b.Start) <= liftUnsigned(t, a.End)
	}
}

// RangeCovers reports whether outer fully contains inner.
func RangeCovers(t datatype.T, outer, inner Range) bool {
	switch {
	case t.IsString():
		return outer.StartStr <= inner.StartStr && inner.EndStr <= outer.EndStr
	case t.IsReal():
		return liftReal(t, outer.Start) <= liftReal(t, inner.Start) &&
			liftReal(t, inner.End) <= liftReal(t, outer.End)
	case t.IsSigned():
		return liftSigned(t, outer.Start) <= liftSigned(t, inner.Start) &&
			liftSigned(t, inner.End) <= liftSigned(t, outer.End)
	default:
		return liftUnsigned(t, outer.Start) <= liftUnsigned(t, inner.Start) &&
			liftUnsigned(t, inner.End) <= liftUnsigned(t, outer.End)
	}
}

// RangeUnion widens dst in place to cover src and returns it.
func RangeUnion(t datatype.T, dst, src Range) Range {
	if dst.IsEmpty() && !dst.Var {
		return src
	}
	switch {
	case t.IsString():
		if src.StartStr < dst.StartStr {
			dst.StartStr = src.StartStr
		}
		if src.EndStr > dst.EndStr {
			dst.EndStr = src.EndStr
		}
	case t.IsReal():
		if liftReal(t, src.Start) < liftReal(t, dst.Start) {
			dst.Start = src.Start
		}
		if liftReal(t, src.End) > liftReal(t, dst.End) {
			dst.End = src.End
		}
	case t.IsSigned():
		if liftSigned(t, src.Start) < liftSigned(t, dst.Start) {
			dst.Start = src.Start
		}
		if liftSigned(t, src.End) > liftSigned(t, dst.End) {
			dst.End = src.End
		}
	default:
		if liftUnsigned(t, src.Start) < liftUnsigned(t, dst.Start) {
			dst.Start = src.Start
		}
		if liftUnsigned(t, src.End) > liftUnsigned(t, dst.End) {
			dst.End = src.End
		}
	}
	return dst
}

// CompareValues orders two fixed-width values of datatype t: -1, 0 or 1.
func CompareValues(t datatype.T, a, b []byte) int {
	switch {
	case t.IsReal():
		x, y := liftReal(t, a), liftReal(t, b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	case t.IsSigned():
		x, y := liftSigned(t, a), liftSigned(t, b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	default:
		x, y := liftUnsigned(t, a), liftUnsigned(t, b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// RangeCoverage returns the fraction of mbr that query covers, in [0, 1].
// Non-overlapping ranges yield 0. String ranges collapse to containment:
// 1 if query covers mbr, 0.5 if they merely intersect.
func RangeCoverage(t datatype.T, query, mbr Range) float64 {
	if !RangeIntersects(t, query, mbr) {
		return 0
	}
	if t.IsString() {
		if RangeCovers(t, query, mbr) {
			return 1
		}
		return 0.5
	}
	var qs, qe, ms, me float64
	switch {
	case t.IsReal():
		qs, qe = liftReal(t, query.Start), liftReal(t, query.End)
		ms, me = liftReal(t, mbr.Start), liftReal(t, mbr.End)
	case t.IsSigned():
		qs, qe = float64(liftSigned(t, query.Start)), float64(liftSigned(t, query.End))
		ms, me = float64(liftSigned(t, mbr.Start)), float64(liftSigned(t, mbr.End))
	default:
		qs, qe = float64(liftUnsigned(t, query.Start)), float64(liftUnsigned(t, query.End))
		ms, me = float64(liftUnsigned(t, mbr.Start)), float64(liftUnsigned(t, mbr.End))
	}
	if ms == me {
		return 1
	}
	lo, hi := max(qs, ms), min(qe, me)
	span := me - ms
	if !t.IsReal() {
		// Integer intervals are inclusive on both ends.
		span++
		hi++
	}
	c := (hi - lo) / span
	if c > 1 {
		c = 1
	}
	if c < 0 {
		c = 0
	}
	return c
}
