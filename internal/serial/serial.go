// Package serial provides the little-endian buffer codec the fragment
// metadata sections are written and read with. It replaced an earlier
// io.Reader-based path; sections are small and always fully in memory, so a
// slice cursor is simpler and allocation-free on reads.
package serial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"
)

// ErrShortBuffer is returned when a read runs past the end of a section.
var ErrShortBuffer = errors.New("serial: short buffer")

// Writer appends little-endian values to a growing byte slice.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with the given initial capacity.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes returns the accumulated buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// U8 appends one byte.
func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

// U32 appends a little-endian uint32.
func (w *Writer) U32(v uint32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

// U64 appends a little-endian uint64.
func (w *Writer) U64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

// I64 appends a little-endian int64.
func (w *Writer) I64(v int64) { w.U64(uint64(v)) }

// F64 appends a little-endian float64.
func (w *Writer) F64(v float64) {
	w.U64(*(*uint64)(unsafe.Pointer(&v)))
}

// Raw appends bytes verbatim.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// Blob appends a uint64 length prefix followed by the bytes.
func (w *Writer) Blob(b []byte) {
	w.U64(uint64(len(b)))
	w.Raw(b)
}

// Str appends a uint64 length prefix followed by the string bytes.
func (w *Writer) Str(s string) {
	w.U64(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// U64Slice appends a uint64 count followed by the raw slice bytes.
func (w *Writer) U64Slice(vals []uint64) {
	w.U64(uint64(len(vals)))
	if len(vals) == 0 {
		return
	}
	w.Raw(unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*8))
}

// Reader walks a byte slice, decoding little-endian values.
type Reader struct {
	buf []byte
	off int
}

// NewReader wraps buf.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d, have %d", ErrShortBuffer, n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

// length validates a decoded length prefix against the unread bytes. A
// corrupt prefix must surface as a decode error, never as an oversized
// allocation or a negative slice bound.
func (r *Reader) length(n uint64) (int, error) {
	if n > uint64(r.Remaining()) {
		return 0, fmt.Errorf("%w: length prefix %d exceeds %d unread bytes", ErrShortBuffer, n, r.Remaining())
	}
	return int(n), nil
}

// U8 reads one byte.
func (r *Reader) U8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U32 reads a little-endian uint32.
func (r *Reader) U32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// U64 reads a little-endian uint64.
func (r *Reader) U64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// I64 reads a little-endian int64.
func (r *Reader) I64() (int64, error) {
	v, err := r.U64()
	return int64(v), err
}

// F64 reads a little-endian float64.
func (r *Reader) F64() (float64, error) {
	v, err := r.U64()
	return *(*float64)(unsafe.Pointer(&v)), err
}

// Raw reads n bytes. The returned slice aliases the underlying buffer.
func (r *Reader) Raw(n int) ([]byte, error) {
	return r.take(n)
}

// Blob reads a uint64 length prefix followed by that many bytes. The result
// is copied so it survives the underlying buffer.
func (r *Reader) Blob() ([]byte, error) {
	raw, err := r.U64()
	if err != nil {
		return nil, err
	}
	n, err := r.length(raw)
	if err != nil {
		return nil, err
	}
	b, err := r.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Str reads a uint64 length prefix followed by that many string bytes.
func (r *Reader) Str() (string, error) {
	raw, err := r.U64()
	if err != nil {
		return "", err
	}
	n, err := r.length(raw)
	if err != nil {
		return "", err
	}
	b, err := r.take(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// U64Slice reads a uint64 count followed by the raw slice bytes.
func (r *Reader) U64Slice() ([]uint64, error) {
	raw, err := r.U64()
	if err != nil {
		return nil, err
	}
	if raw == 0 {
		return nil, nil
	}
	if raw > uint64(r.Remaining())/8 {
		return nil, fmt.Errorf("%w: count prefix %d exceeds %d unread bytes", ErrShortBuffer, raw, r.Remaining())
	}
	n := int(raw)
	b, err := r.take(n * 8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), n*8), b)
	return out, nil
}
