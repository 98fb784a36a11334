package fragment

import (
	"context"
	"fmt"

	"github.com/hupe1980/tilego/internal/serial"
	"github.com/hupe1980/tilego/resource"
	"github.com/hupe1980/tilego/rtree"
	"github.com/hupe1980/tilego/schema"
	"github.com/hupe1980/tilego/tile"
	"github.com/hupe1980/tilego/vfs"
)

// Format versions 1-2 have no footer and no per-field generic tiles: the
// whole metadata file is a single lz4 block deserialized eagerly at open.
// Per-field load calls are no-ops afterwards.

type preloadedSource struct {
	m *Metadata
}

func (s *preloadedSource) loadSection(context.Context, int, sectionKind) error { return nil }

func (m *Metadata) storeLegacy(ctx context.Context, version uint32) error {
	w := serial.NewWriter(1024)
	w.U32(version)
	w.U8(boolByte(m.dense))
	w.U64(m.tileNum)
	w.U64(m.lastTileCellNum)
	w.U64(m.cellNumPerTile)
	dims := m.sch.Domain().Dims
	encodeNDRange(w, m.domain, dims, version)
	encodeNDRange(w, m.nonEmptyDomain, dims, version)
	w.U64Slice(m.fileSizes)
	w.U64Slice(m.fileVarSizes)
	fields := m.sch.Fields()
	for i := range fields {
		w.U64Slice(m.tileOffsets[i])
	}
	for i, f := range fields {
		if !f.VarSize() {
			continue
		}
		w.U64Slice(m.tileVarOffsets[i])
		w.U64Slice(m.tileVarSizes[i])
	}
	if !m.dense {
		w.U64(uint64(len(m.mbrs)))
		for _, mbr := range m.mbrs {
			encodeNDRange(w, mbr, dims, version)
		}
	}

	buf, err := tile.EncodeGeneric(w.Bytes(), tile.CodecLZ4, m.key)
	if err != nil {
		return err
	}
	uri := m.MetadataURI()
	if err := m.fs.Write(ctx, uri, buf); err != nil {
		return err
	}
	if err := m.fs.CloseFile(ctx, uri); err != nil {
		return err
	}
	m.version = version
	return nil
}

func (s *preloadedSource) loadAll(ctx context.Context) error {
	m := s.m
	uri := m.MetadataURI()
	size, err := m.fs.FileSize(ctx, uri)
	if err != nil {
		return err
	}
	if err := m.res.WaitIO(ctx, int(size)); err != nil {
		return err
	}
	raw, err := vfs.ReadAll(ctx, m.fs, uri)
	if err != nil {
		return err
	}
	block, _, err := tile.DecodeGeneric(raw, m.key)
	if err != nil {
		return err
	}
	if err := m.res.TakeMemory(int64(len(block)), resource.MemTileOffsets); err != nil {
		return err
	}
	if err := m.parseLegacyBlock(block); err != nil {
		m.res.ReleaseMemory(int64(len(block)), resource.MemTileOffsets)
		return err
	}

	// Everything is in memory now; flip every section to loaded.
	all := newLoadedState(len(m.sch.Fields()), true)
	all.footerLoaded = false
	all.fragmentStatsLoaded = false
	all.processedCondsLoaded = false
	m.loaded = all
	return nil
}

func (m *Metadata) parseLegacyBlock(block []byte) error {
	var err error
	r := serial.NewReader(block)
	if m.version, err = r.U32(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	if m.version >= versionFooter {
		return fmt.Errorf("%w: version %d fragment under a version-1 name", ErrFormat, m.version)
	}
	dense, err := r.U8()
	if err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	m.dense = dense != 0
	if m.tileNum, err = r.U64(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	if m.lastTileCellNum, err = r.U64(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	if m.cellNumPerTile, err = r.U64(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	dims := m.sch.Domain().Dims
	if m.domain, err = decodeNDRange(r, dims, m.version); err != nil {
		return err
	}
	if m.nonEmptyDomain, err = decodeNDRange(r, dims, m.version); err != nil {
		return err
	}
	if m.fileSizes, err = r.U64Slice(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	if m.fileVarSizes, err = r.U64Slice(); err != nil {
		return fmt.Errorf("%w: legacy block: %v", ErrFormat, err)
	}
	fields := m.sch.Fields()
	for i := range fields {
		if m.tileOffsets[i], err = r.U64Slice(); err != nil {
			return fmt.Errorf("%w: legacy tile offsets: %v", ErrFormat, err)
		}
	}
	for i, f := range fields {
		if !f.VarSize() {
			continue
		}
		if m.tileVarOffsets[i], err = r.U64Slice(); err != nil {
			return fmt.Errorf("%w: legacy var offsets: %v", ErrFormat, err)
		}
		if m.tileVarSizes[i], err = r.U64Slice(); err != nil {
			return fmt.Errorf("%w: legacy var sizes: %v", ErrFormat, err)
		}
	}
	if !m.dense {
		n, err := r.U64()
		if err != nil {
			return fmt.Errorf("%w: legacy MBRs: %v", ErrFormat, err)
		}
		// Each MBR encodes at least one presence byte per dimension.
		if n > uint64(r.Remaining())/uint64(len(dims)) {
			return fmt.Errorf("%w: legacy MBRs: count %d exceeds block", ErrFormat, n)
		}
		m.mbrs = make([]schema.NDRange, n)
		for i := range m.mbrs {
			if m.mbrs[i], err = decodeNDRange(r, dims, m.version); err != nil {
				return err
			}
		}
		m.rt = rtree.New(dims, rtree.DefaultFanout, len(m.mbrs))
		for i, mbr := range m.mbrs {
			m.rt.SetLeaf(i, mbr)
		}
		m.rt.Build()
	}
	return nil
}
