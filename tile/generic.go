package tile

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/tilego/crypto"
	"github.com/hupe1980/tilego/vfs"
)

// Codec identifies the compressor applied to a generic tile's payload.
type Codec uint8

const (
	CodecNone Codec = iota
	CodecLZ4        // legacy v1-2 metadata blocks
	CodecZstd       // current
)

// genericMagic marks the start of every generic tile.
var genericMagic = [4]byte{'T', 'G', 'T', '1'}

// GenericHeaderSize is the fixed header length preceding the payload.
const GenericHeaderSize = 4 + 1 + 8 + 8 + 4

var (
	// ErrBadMagic is returned when a generic tile header is corrupt.
	ErrBadMagic = errors.New("tile: bad generic tile magic")
	// ErrChecksum is returned when a generic tile payload fails its CRC.
	ErrChecksum = errors.New("tile: generic tile checksum mismatch")
)

var (
	zstdEnc, _ = zstd.NewWriter(nil)
	zstdDec, _ = zstd.NewReader(nil)
)

// EncodeGeneric frames a metadata section as a generic tile:
// magic | codec | origSize | encSize | crc32(payload) | payload
// where payload = encrypt(compress(section)).
func EncodeGeneric(section []byte, codec Codec, key crypto.Key) ([]byte, error) {
	compressed, err := compress(section, codec)
	if err != nil {
		return nil, err
	}
	payload, err := crypto.Encrypt(key, compressed)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, GenericHeaderSize+len(payload))
	out = append(out, genericMagic[:]...)
	out = append(out, byte(codec))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(section)))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(payload)))
	out = binary.LittleEndian.AppendUint32(out, crc32.ChecksumIEEE(payload))
	return append(out, payload...), nil
}

// ReadGeneric reads and decodes the generic tile starting at offset in the
// file at uri. It returns the section bytes and the total on-disk size of
// the tile (header plus payload).
func ReadGeneric(ctx context.Context, fs vfs.VFS, uri string, offset uint64, key crypto.Key) ([]byte, uint64, error) {
	header := make([]byte, GenericHeaderSize)
	if err := fs.ReadAt(ctx, uri, int64(offset), header); err != nil {
		return nil, 0, err
	}
	if [4]byte(header[:4]) != genericMagic {
		return nil, 0, fmt.Errorf("%w at %s offset %d", ErrBadMagic, uri, offset)
	}
	codec := Codec(header[4])
	origSize := binary.LittleEndian.Uint64(header[5:13])
	encSize := binary.LittleEndian.Uint64(header[13:21])
	sum := binary.LittleEndian.Uint32(header[21:25])

	payload := make([]byte, encSize)
	if err := fs.ReadAt(ctx, uri, int64(offset)+GenericHeaderSize, payload); err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, fmt.Errorf("%w at %s offset %d", ErrChecksum, uri, offset)
	}

	compressed, err := crypto.Decrypt(key, payload)
	if err != nil {
		return nil, 0, err
	}
	section, err := decompress(compressed, codec, origSize)
	if err != nil {
		return nil, 0, err
	}
	return section, GenericHeaderSize + encSize, nil
}

// DecodeGeneric decodes a generic tile from an in-memory buffer.
func DecodeGeneric(buf []byte, key crypto.Key) ([]byte, uint64, error) {
	if len(buf) < GenericHeaderSize {
		return nil, 0, ErrBadMagic
	}
	if [4]byte(buf[:4]) != genericMagic {
		return nil, 0, ErrBadMagic
	}
	codec := Codec(buf[4])
	origSize := binary.LittleEndian.Uint64(buf[5:13])
	encSize := binary.LittleEndian.Uint64(buf[13:21])
	sum := binary.LittleEndian.Uint32(buf[21:25])
	if uint64(len(buf)) < GenericHeaderSize+encSize {
		return nil, 0, ErrBadMagic
	}
	payload := buf[GenericHeaderSize : GenericHeaderSize+encSize]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, ErrChecksum
	}
	compressed, err := crypto.Decrypt(key, payload)
	if err != nil {
		return nil, 0, err
	}
	section, err := decompress(compressed, codec, origSize)
	if err != nil {
		return nil, 0, err
	}
	return section, GenericHeaderSize + encSize, nil
}

func compress(src []byte, codec Codec) ([]byte, error) {
	switch codec {
	case CodecNone:
		return src, nil
	case CodecZstd:
		return zstdEnc.EncodeAll(src, nil), nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var c lz4.Compressor
		n, err := c.CompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Incompressible; lz4 block format cannot represent it, store raw
			// with a length sentinel handled by decompress via origSize.
			return src, nil
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("tile: unknown codec %d", codec)
	}
}

func decompress(src []byte, codec Codec, origSize uint64) ([]byte, error) {
	switch codec {
	case CodecNone:
		return src, nil
	case CodecZstd:
		return zstdDec.DecodeAll(src, make([]byte, 0, origSize))
	case CodecLZ4:
		if uint64(len(src)) == origSize {
			// Stored raw (incompressible input).
			return src, nil
		}
		dst := make([]byte, origSize)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, err
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("tile: unknown codec %d", codec)
	}
}
