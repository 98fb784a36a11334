package fragment

import (
	"context"
	"fmt"
)

// onDemandSource loads each field's sections lazily from their generic
// tiles (format version 3+). Loads are idempotent under a per-field
// double-checked lock; different fields load concurrently.
type onDemandSource struct {
	m *Metadata
}

func (s *onDemandSource) loadSection(ctx context.Context, field int, k sectionKind) error {
	m := s.m
	fs := &m.loaded.fields[field]
	if fs.loaded[k] {
		return nil
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.loaded[k] {
		return nil
	}

	offset := s.sectionOffset(field, k)
	if offset == absentOffset {
		// Section never written (wrong field shape or pre-dating band);
		// loaded-empty keeps accessors consistent.
		fs.loaded[k] = true
		return nil
	}
	section, err := m.readSection(ctx, offset, k.memoryType())
	if err != nil {
		return err
	}
	if err := s.populate(field, k, section); err != nil {
		m.res.ReleaseMemory(int64(len(section)), k.memoryType())
		return err
	}
	fs.memory[k] = int64(len(section))
	fs.loaded[k] = true
	return nil
}

func (s *onDemandSource) sectionOffset(field int, k sectionKind) uint64 {
	f := s.m.footer
	switch k {
	case secOffsets:
		return f.TileOffsetsOffsets[field]
	case secVarOffsets:
		return f.TileVarOffsetsOffsets[field]
	case secVarSizes:
		return f.TileVarSizesOffsets[field]
	case secValidity:
		return f.TileValidityOffsets[field]
	case secMin:
		return f.TileMinOffsets[field]
	case secMax:
		return f.TileMaxOffsets[field]
	case secSum:
		return f.TileSumOffsets[field]
	case secNullCount:
		return f.TileNullCountOffsets[field]
	default:
		return absentOffset
	}
}

func (s *onDemandSource) populate(field int, k sectionKind, section []byte) error {
	m := s.m
	switch k {
	case secOffsets, secVarOffsets, secVarSizes, secValidity, secSum, secNullCount:
		vals, err := decodeU64Section(section)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFormat, k, err)
		}
		switch k {
		case secOffsets:
			m.tileOffsets[field] = vals
		case secVarOffsets:
			m.tileVarOffsets[field] = vals
		case secVarSizes:
			m.tileVarSizes[field] = vals
		case secValidity:
			m.tileValidityOffsets[field] = vals
		case secSum:
			m.stats.tileSums[field] = vals
		case secNullCount:
			m.stats.tileNullCounts[field] = vals
		}
	case secMin, secMax:
		vals, err := decodeBlobSection(section)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFormat, k, err)
		}
		if k == secMin {
			m.stats.tileMin[field] = vals
		} else {
			m.stats.tileMax[field] = vals
		}
	default:
		return fmt.Errorf("%w: unknown section kind %d", ErrFormat, k)
	}
	return nil
}
