// Package datatype defines the closed set of cell datatypes understood by the
// fragment index core, together with the size and accumulator traits that the
// statistics and overlap code key off.
package datatype

import "fmt"

// T identifies a cell datatype.
type T uint8

const (
	Int8 T = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	Char
	StringASCII
	StringUTF8
	Bool
	DateTime
	Blob
	Any
)

var names = map[T]string{
	Int8:        "INT8",
	Int16:       "INT16",
	Int32:       "INT32",
	Int64:       "INT64",
	Uint8:       "UINT8",
	Uint16:      "UINT16",
	Uint32:      "UINT32",
	Uint64:      "UINT64",
	Float32:     "FLOAT32",
	Float64:     "FLOAT64",
	Char:        "CHAR",
	StringASCII: "STRING_ASCII",
	StringUTF8:  "STRING_UTF8",
	Bool:        "BOOL",
	DateTime:    "DATETIME",
	Blob:        "BLOB",
	Any:         "ANY",
}

func (t T) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("DATATYPE(%d)", uint8(t))
}

// Size returns the fixed width of one value in bytes. Var-sized types
// (StringASCII, StringUTF8, Blob, Any) report 1, the width of a single
// byte of their payload, matching how tile sizes are accounted.
func (t T) Size() uint64 {
	switch t {
	case Int8, Uint8, Char, Bool, Blob, Any:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64, DateTime:
		return 8
	case StringASCII, StringUTF8:
		return 1
	}
	return 0
}

// IsString reports whether the datatype holds string payloads.
func (t T) IsString() bool {
	switch t {
	case Char, StringASCII, StringUTF8:
		return true
	}
	return false
}

// IsInteger reports whether the datatype is an integer type, signed or not.
func (t T) IsInteger() bool {
	switch t {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, DateTime, Bool:
		return true
	}
	return false
}

// IsSigned reports whether the datatype is a signed integer type.
func (t T) IsSigned() bool {
	switch t {
	case Int8, Int16, Int32, Int64, DateTime:
		return true
	}
	return false
}

// IsReal reports whether the datatype is a floating point type.
func (t T) IsReal() bool {
	return t == Float32 || t == Float64
}

// SumKind selects the widened accumulator used for tile sums.
type SumKind uint8

const (
	SumNone SumKind = iota
	SumInt64
	SumUint64
	SumFloat64
)

// Sum returns the accumulator kind for the datatype.
func (t T) Sum() SumKind {
	switch {
	case t.IsSigned():
		return SumInt64
	case t.IsInteger():
		return SumUint64
	case t.IsReal():
		return SumFloat64
	}
	return SumNone
}
