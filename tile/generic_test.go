package tile

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/vfs"
)

func TestGenericRoundTrip(t *testing.T) {
	section := bytes.Repeat([]byte("fragment metadata section "), 64)

	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		buf, err := EncodeGeneric(section, codec, crypto.NoKey)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(buf), GenericHeaderSize)

		got, n, err := DecodeGeneric(buf, crypto.NoKey)
		require.NoError(t, err)
		assert.Equal(t, section, got)
		assert.Equal(t, uint64(len(buf)), n)
	}
}

func TestGenericEncrypted(t *testing.T) {
	key := crypto.Key{Kind: crypto.AES256GCM, Bytes: bytes.Repeat([]byte{7}, 32)}
	section := []byte("secret footer bytes")

	buf, err := EncodeGeneric(section, CodecZstd, key)
	require.NoError(t, err)

	got, _, err := DecodeGeneric(buf, key)
	require.NoError(t, err)
	assert.Equal(t, section, got)

	wrong := crypto.Key{Kind: crypto.AES256GCM, Bytes: bytes.Repeat([]byte{8}, 32)}
	_, _, err = DecodeGeneric(buf, wrong)
	assert.ErrorIs(t, err, crypto.ErrKeyMismatch)
}

func TestGenericBadMagic(t *testing.T) {
	buf, err := EncodeGeneric([]byte("x"), CodecNone, crypto.NoKey)
	require.NoError(t, err)
	buf[0] = 'X'

	_, _, err = DecodeGeneric(buf, crypto.NoKey)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestGenericChecksum(t *testing.T) {
	buf, err := EncodeGeneric([]byte("payload payload payload"), CodecNone, crypto.NoKey)
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xff

	_, _, err = DecodeGeneric(buf, crypto.NoKey)
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestReadGenericFromVFS(t *testing.T) {
	ctx := context.Background()
	fs := vfs.NewMem()

	section := bytes.Repeat([]byte{1, 2, 3, 4}, 512)
	buf, err := EncodeGeneric(section, CodecZstd, crypto.NoKey)
	require.NoError(t, err)

	prefix := []byte("leading bytes before the tile")
	require.NoError(t, fs.Write(ctx, "mem://a/f", prefix))
	require.NoError(t, fs.Write(ctx, "mem://a/f", buf))

	got, n, err := ReadGeneric(ctx, fs, "mem://a/f", uint64(len(prefix)), crypto.NoKey)
	require.NoError(t, err)
	assert.Equal(t, section, got)
	assert.Equal(t, uint64(len(buf)), n)
}

func TestGenericIncompressibleFallsBackToStore(t *testing.T) {
	// High-entropy input that lz4 cannot shrink must still round-trip.
	section := make([]byte, 256)
	for i := range section {
		section[i] = byte(i*37 + 11)
	}

	buf, err := EncodeGeneric(section, CodecLZ4, crypto.NoKey)
	require.NoError(t, err)

	got, _, err := DecodeGeneric(buf, crypto.NoKey)
	require.NoError(t, err)
	assert.Equal(t, section, got)
}
