package fragment

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/tilego/internal/serial"
	"github.com/hupe1980/tilego/resource"
	"github.com/hupe1980/tilego/rtree"
	"github.com/hupe1980/tilego/tile"
)

// absentOffset marks a generic tile that was never written. Offset zero is a
// valid position (the first section in the file).
const absentOffset = math.MaxUint64

// Store persists the metadata file at the current format version: the
// generic-tile sections front to back, then the plain footer, then the
// footer length in the final 8 bytes.
func (m *Metadata) Store(ctx context.Context) error {
	return m.storeVersion(ctx, CurrentFormatVersion)
}

func (m *Metadata) storeVersion(ctx context.Context, version uint32) error {
	if version < versionFooter {
		return m.storeLegacy(ctx, version)
	}

	uri := m.MetadataURI()
	fields := m.sch.Fields()
	f := newFooter(version, m.dense, len(fields))
	f.TileNum = m.tileNum
	f.LastTileCellNum = m.lastTileCellNum
	f.CellNumPerTile = m.cellNumPerTile
	f.Domain = m.domain
	f.NonEmptyDomain = m.nonEmptyDomain
	copy(f.FileSizes, m.fileSizes)
	copy(f.FileVarSizes, m.fileVarSizes)
	copy(f.FileValiditySizes, m.fileValiditySizes)
	f.TimestampStart = m.timestampStart
	f.TimestampEnd = m.timestampEnd

	var off uint64
	writeSection := func(section []byte) (uint64, error) {
		buf, err := tile.EncodeGeneric(section, tile.CodecZstd, m.key)
		if err != nil {
			return 0, err
		}
		if err := m.fs.Write(ctx, uri, buf); err != nil {
			return 0, err
		}
		pos := off
		off += uint64(len(buf))
		return pos, nil
	}

	var err error
	if !m.dense && m.rt != nil {
		w := serial.NewWriter(1024)
		m.rt.Encode(w)
		if f.RTreeOffset, err = writeSection(w.Bytes()); err != nil {
			return err
		}
	}
	for i := range fields {
		if f.TileOffsetsOffsets[i], err = writeSection(encodeU64Section(m.tileOffsets[i])); err != nil {
			return err
		}
	}
	for i, fld := range fields {
		if !fld.VarSize() {
			continue
		}
		if f.TileVarOffsetsOffsets[i], err = writeSection(encodeU64Section(m.tileVarOffsets[i])); err != nil {
			return err
		}
	}
	for i, fld := range fields {
		if !fld.VarSize() {
			continue
		}
		if f.TileVarSizesOffsets[i], err = writeSection(encodeU64Section(m.tileVarSizes[i])); err != nil {
			return err
		}
	}
	if version >= versionValidity {
		for i, fld := range fields {
			if !fld.Nullable {
				continue
			}
			if f.TileValidityOffsets[i], err = writeSection(encodeU64Section(m.tileValidityOffsets[i])); err != nil {
				return err
			}
		}
	}
	if version >= versionTileStats {
		for i := range fields {
			if f.TileMinOffsets[i], err = writeSection(encodeBlobSection(m.stats.tileMin[i])); err != nil {
				return err
			}
		}
		for i := range fields {
			if f.TileMaxOffsets[i], err = writeSection(encodeBlobSection(m.stats.tileMax[i])); err != nil {
				return err
			}
		}
		for i := range fields {
			if f.TileSumOffsets[i], err = writeSection(encodeU64Section(m.stats.tileSums[i])); err != nil {
				return err
			}
		}
		for i := range fields {
			if f.TileNullCountOffsets[i], err = writeSection(encodeU64Section(m.stats.tileNullCounts[i])); err != nil {
				return err
			}
		}
	}
	if version >= versionFragmentStats {
		if f.FragmentStatsOffset, err = writeSection(m.encodeFragmentStats()); err != nil {
			return err
		}
	}
	if version >= versionConditions {
		if f.ProcessedCondsOffset, err = writeSection(encodeConditions(m.processedConds)); err != nil {
			return err
		}
	}

	fw := serial.NewWriter(512)
	f.encode(fw, m.sch.Domain().Dims)
	tail := serial.NewWriter(fw.Len() + 8)
	tail.Raw(fw.Bytes())
	tail.U64(uint64(fw.Len()))
	if err := m.fs.Write(ctx, uri, tail.Bytes()); err != nil {
		return err
	}
	if err := m.fs.CloseFile(ctx, uri); err != nil {
		return err
	}
	m.version = version
	m.footer = f
	return nil
}

func encodeU64Section(vals []uint64) []byte {
	w := serial.NewWriter(8 + len(vals)*8)
	w.U64Slice(vals)
	return w.Bytes()
}

func decodeU64Section(section []byte) ([]uint64, error) {
	return serial.NewReader(section).U64Slice()
}

func encodeBlobSection(vals [][]byte) []byte {
	w := serial.NewWriter(64)
	w.U64(uint64(len(vals)))
	for _, v := range vals {
		w.Blob(v)
	}
	return w.Bytes()
}

func decodeBlobSection(section []byte) ([][]byte, error) {
	r := serial.NewReader(section)
	n, err := r.U64()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, n)
	for i := range out {
		b, err := r.Blob()
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			out[i] = append([]byte(nil), b...)
		}
	}
	return out, nil
}

func encodeConditions(conds []string) []byte {
	w := serial.NewWriter(64)
	w.U64(uint64(len(conds)))
	for _, c := range conds {
		w.Str(c)
	}
	return w.Bytes()
}

func decodeConditions(r *serial.Reader) ([]string, error) {
	n, err := r.U64()
	if err != nil {
		return nil, fmt.Errorf("%w: processed conditions: %v", ErrFormat, err)
	}
	// Each condition carries at least its 8-byte length prefix.
	if n > uint64(r.Remaining())/8 {
		return nil, fmt.Errorf("%w: processed conditions: count %d exceeds section", ErrFormat, n)
	}
	conds := make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		c, err := r.Str()
		if err != nil {
			return nil, fmt.Errorf("%w: processed conditions: %v", ErrFormat, err)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func (m *Metadata) encodeFragmentStats() []byte {
	w := serial.NewWriter(256)
	for i := range m.sch.Fields() {
		w.U8(boolByte(m.stats.fragHasMinMax[i]))
		w.Blob(m.stats.fragMin[i])
		w.Blob(m.stats.fragMax[i])
		w.U8(boolByte(m.stats.fragHasSum[i]))
		w.U64(m.stats.fragSum[i])
		w.U64(m.stats.fragNullCount[i])
	}
	return w.Bytes()
}

func (m *Metadata) decodeFragmentStats(section []byte) error {
	r := serial.NewReader(section)
	for i := range m.sch.Fields() {
		hasMM, err := r.U8()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		mn, err := r.Blob()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		mx, err := r.Blob()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		hasSum, err := r.U8()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		sum, err := r.U64()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		nc, err := r.U64()
		if err != nil {
			return fmt.Errorf("%w: fragment stats: %v", ErrFormat, err)
		}
		m.stats.fragHasMinMax[i] = hasMM != 0
		if len(mn) > 0 {
			m.stats.fragMin[i] = append([]byte(nil), mn...)
		}
		if len(mx) > 0 {
			m.stats.fragMax[i] = append([]byte(nil), mx...)
		}
		m.stats.fragHasSum[i] = hasSum != 0
		m.stats.fragSum[i] = sum
		m.stats.fragNullCount[i] = nc
	}
	return nil
}

// AddProcessedCondition records a delete/update condition marker as applied
// to this fragment (format version 16+).
func (m *Metadata) AddProcessedCondition(cond string) {
	m.processedConds = append(m.processedConds, cond)
}

// ProcessedConditions returns the recorded condition markers.
func (m *Metadata) ProcessedConditions() []string { return m.processedConds }

// Load opens the metadata of an existing fragment. Only the footer (or, for
// format versions 1-2, the single legacy block) is read here; sections load
// on demand through the strategy the format version selects.
func Load(ctx context.Context, cfg Config, fragmentURI string) (*Metadata, error) {
	m, err := New(cfg, fragmentURI, false, 0)
	if err != nil {
		return nil, err
	}
	m.loaded = newLoadedState(cfg.Schema.FieldNum(), false)
	m.loaded.footerLoaded = false

	if m.id.NameVersion == 1 {
		// No footer before version 3; the whole file is one block.
		src := &preloadedSource{m: m}
		m.source = src
		if err := src.loadAll(ctx); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := m.loadFooter(ctx); err != nil {
		return nil, err
	}
	m.source = &onDemandSource{m: m}
	return m, nil
}

func (m *Metadata) loadFooter(ctx context.Context) error {
	uri := m.MetadataURI()
	size, err := m.fs.FileSize(ctx, uri)
	if err != nil {
		return err
	}
	if size < 8 {
		return fmt.Errorf("%w: metadata file too small (%d bytes)", ErrFormat, size)
	}
	tail := make([]byte, 8)
	if err := m.res.WaitIO(ctx, 8); err != nil {
		return err
	}
	if err := m.fs.ReadAt(ctx, uri, size-8, tail); err != nil {
		return err
	}
	footerLen, err := serial.NewReader(tail).U64()
	if err != nil || footerLen > uint64(size)-8 {
		return fmt.Errorf("%w: bad footer length", ErrFormat)
	}
	if err := m.res.TakeMemory(int64(footerLen), resource.MemFooter); err != nil {
		return err
	}
	buf := make([]byte, footerLen)
	if err := m.res.WaitIO(ctx, int(footerLen)); err != nil {
		m.res.ReleaseMemory(int64(footerLen), resource.MemFooter)
		return err
	}
	if err := m.fs.ReadAt(ctx, uri, size-8-int64(footerLen), buf); err != nil {
		m.res.ReleaseMemory(int64(footerLen), resource.MemFooter)
		return err
	}
	f, err := decodeFooter(serial.NewReader(buf), m.sch.Domain().Dims)
	if err != nil {
		m.res.ReleaseMemory(int64(footerLen), resource.MemFooter)
		return err
	}
	m.footer = f
	m.version = f.Version
	m.dense = f.Dense
	m.tileNum = f.TileNum
	m.lastTileCellNum = f.LastTileCellNum
	m.cellNumPerTile = f.CellNumPerTile
	m.domain = f.Domain
	m.nonEmptyDomain = f.NonEmptyDomain
	copy(m.fileSizes, f.FileSizes)
	copy(m.fileVarSizes, f.FileVarSizes)
	copy(m.fileValiditySizes, f.FileValiditySizes)
	if f.Version >= versionFragmentStats {
		m.timestampStart = f.TimestampStart
		m.timestampEnd = f.TimestampEnd
	}
	m.loaded.footerLoaded = true
	return nil
}

// readSection fetches and decodes one generic tile, charging the budget for
// the decoded bytes before they are retained.
func (m *Metadata) readSection(ctx context.Context, offset uint64, mt resource.MemoryType) ([]byte, error) {
	if err := m.res.WaitIO(ctx, tile.GenericHeaderSize); err != nil {
		return nil, err
	}
	section, _, err := tile.ReadGeneric(ctx, m.fs, m.MetadataURI(), offset, m.key)
	if err != nil {
		return nil, err
	}
	if err := m.res.TakeMemory(int64(len(section)), mt); err != nil {
		return nil, err
	}
	return section, nil
}

// LoadRTree materializes the sparse R-tree section.
func (m *Metadata) LoadRTree(ctx context.Context) error {
	if m.loaded.rtreeLoaded {
		return nil
	}
	if m.dense || m.footer == nil || m.footer.RTreeOffset == absentOffset {
		return fmt.Errorf("%w: fragment has no rtree section", ErrFormat)
	}
	section, err := m.readSection(ctx, m.footer.RTreeOffset, resource.MemRTree)
	if err != nil {
		return err
	}
	rt, err := rtree.Decode(serial.NewReader(section), m.sch.Domain().Dims)
	if err != nil {
		m.res.ReleaseMemory(int64(len(section)), resource.MemRTree)
		return fmt.Errorf("%w: rtree: %v", ErrFormat, err)
	}
	m.rt = rt
	m.loaded.rtreeMemory = int64(len(section))
	m.loaded.rtreeLoaded = true
	return nil
}

// LoadFragmentStats materializes the fragment-level aggregates (v12+).
func (m *Metadata) LoadFragmentStats(ctx context.Context) error {
	if m.loaded.fragmentStatsLoaded || m.version < versionFragmentStats {
		return nil
	}
	if m.footer.FragmentStatsOffset == absentOffset {
		return fmt.Errorf("%w: fragment stats section missing", ErrFormat)
	}
	section, err := m.readSection(ctx, m.footer.FragmentStatsOffset, resource.MemTileMinVals)
	if err != nil {
		return err
	}
	if err := m.decodeFragmentStats(section); err != nil {
		m.res.ReleaseMemory(int64(len(section)), resource.MemTileMinVals)
		return err
	}
	m.loaded.fragmentStatsLoaded = true
	return nil
}

// LoadProcessedConditions materializes the processed-conditions list (v16+).
func (m *Metadata) LoadProcessedConditions(ctx context.Context) error {
	if m.loaded.processedCondsLoaded || m.version < versionConditions {
		return nil
	}
	if m.footer.ProcessedCondsOffset == absentOffset {
		return fmt.Errorf("%w: processed conditions section missing", ErrFormat)
	}
	section, err := m.readSection(ctx, m.footer.ProcessedCondsOffset, resource.MemFooter)
	if err != nil {
		return err
	}
	conds, err := decodeConditions(serial.NewReader(section))
	if err != nil {
		m.res.ReleaseMemory(int64(len(section)), resource.MemFooter)
		return err
	}
	m.processedConds = conds
	m.loaded.processedCondsLoaded = true
	return nil
}
