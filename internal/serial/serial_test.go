package serial

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.U8(7)
	w.U32(42)
	w.U64(1 << 40)
	w.I64(-5)
	w.F64(2.5)
	w.Blob([]byte("blob"))
	w.Str("str")
	w.U64Slice([]uint64{1, 2, 3})

	r := NewReader(w.Bytes())

	u8, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u32, err := r.U32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), u32)

	u64, err := r.U64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	i64, err := r.I64()
	require.NoError(t, err)
	assert.Equal(t, int64(-5), i64)

	f64, err := r.F64()
	require.NoError(t, err)
	assert.Equal(t, 2.5, f64)

	blob, err := r.Blob()
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), blob)

	s, err := r.Str()
	require.NoError(t, err)
	assert.Equal(t, "str", s)

	vals, err := r.U64Slice()
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, vals)

	assert.Zero(t, r.Remaining())
}

func TestReadPastEnd(t *testing.T) {
	r := NewReader([]byte{1, 2, 3})
	_, err := r.U64()
	assert.ErrorIs(t, err, ErrShortBuffer)
}

// A corrupt length prefix must come back as a decode error, never a panic
// or an unbounded allocation.
func TestCorruptLengthPrefixes(t *testing.T) {
	prefix := func(v uint64) []byte {
		return binary.LittleEndian.AppendUint64(nil, v)
	}

	t.Run("blob max length", func(t *testing.T) {
		r := NewReader(prefix(math.MaxUint64))
		_, err := r.Blob()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("blob length past end", func(t *testing.T) {
		r := NewReader(append(prefix(100), 1, 2, 3))
		_, err := r.Blob()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("str max length", func(t *testing.T) {
		r := NewReader(prefix(math.MaxUint64))
		_, err := r.Str()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("u64 slice huge count", func(t *testing.T) {
		r := NewReader(prefix(1 << 61))
		_, err := r.U64Slice()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})

	t.Run("u64 slice count past end", func(t *testing.T) {
		r := NewReader(append(prefix(2), 0, 0, 0, 0, 0, 0, 0, 0))
		_, err := r.U64Slice()
		assert.ErrorIs(t, err, ErrShortBuffer)
	})
}
