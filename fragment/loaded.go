package fragment

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/tilego/resource"
)

// Metadata sections that load independently per field. Fixed offsets, var
// offsets and validity offsets are physically adjacent in the metadata file
// in that order; batch loaders walk them section-major so I/O stays
// sequential.
type sectionKind int

const (
	secOffsets sectionKind = iota
	secVarOffsets
	secVarSizes
	secValidity
	secMin
	secMax
	secSum
	secNullCount
	sectionKinds
)

func (k sectionKind) String() string {
	switch k {
	case secOffsets:
		return "tile offsets"
	case secVarOffsets:
		return "tile var offsets"
	case secVarSizes:
		return "tile var sizes"
	case secValidity:
		return "tile validity offsets"
	case secMin:
		return "tile min values"
	case secMax:
		return "tile max values"
	case secSum:
		return "tile sums"
	case secNullCount:
		return "tile null counts"
	default:
		return "unknown section"
	}
}

func (k sectionKind) memoryType() resource.MemoryType {
	switch k {
	case secMin:
		return resource.MemTileMinVals
	case secMax:
		return resource.MemTileMaxVals
	case secSum:
		return resource.MemTileSums
	case secNullCount:
		return resource.MemTileNullCounts
	default:
		return resource.MemTileOffsets
	}
}

// fieldState guards one field's sections. The mutex serializes loads of the
// same field; loads of different fields proceed concurrently. Load versus
// free of the same field is caller-synchronized.
type fieldState struct {
	mu     sync.Mutex
	loaded [sectionKinds]bool
	memory [sectionKinds]int64
}

type loadedState struct {
	fields       []fieldState
	rtreeLoaded  bool
	rtreeMemory  int64
	footerLoaded bool

	fragmentStatsLoaded  bool
	processedCondsLoaded bool
}

func newLoadedState(fieldNum int, allLoaded bool) *loadedState {
	s := &loadedState{fields: make([]fieldState, fieldNum)}
	if allLoaded {
		for i := range s.fields {
			for k := range s.fields[i].loaded {
				s.fields[i].loaded[k] = true
			}
		}
		s.rtreeLoaded = true
		s.footerLoaded = true
		s.fragmentStatsLoaded = true
		s.processedCondsLoaded = true
	}
	return s
}

func (s *loadedState) require(field int, k sectionKind) error {
	if !s.fields[field].loaded[k] {
		return fmt.Errorf("%w: %s of field index %d", ErrNotLoaded, k, field)
	}
	return nil
}

func (s *loadedState) requireRTree() error {
	if !s.rtreeLoaded {
		return fmt.Errorf("%w: rtree", ErrNotLoaded)
	}
	return nil
}

// offsetSource is the loading strategy selected once from the format
// version: on-demand per-field generic tiles (v3+) or the legacy single
// block (v1-2), which loads everything eagerly and treats per-field loads
// as no-ops.
type offsetSource interface {
	loadSection(ctx context.Context, field int, k sectionKind) error
}

// noopSource serves write-side metadata where everything is in memory.
type noopSource struct{}

func (noopSource) loadSection(context.Context, int, sectionKind) error { return nil }

// sortedFieldIndices resolves names to schema indices and sorts them so
// sections are read in file order.
func (m *Metadata) sortedFieldIndices(names []string) ([]int, error) {
	idxs := make([]int, 0, len(names))
	for _, name := range names {
		i, ok := m.sch.FieldIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrUsage, name)
		}
		idxs = append(idxs, i)
	}
	sort.Ints(idxs)
	return idxs, nil
}

// LoadTileOffsets loads the tile offsets of the named fields, plus var
// offsets for var-size fields and validity offsets for nullable ones.
// Fields are visited in schema order, one section kind at a time, so the
// metadata file is read front to back.
func (m *Metadata) LoadTileOffsets(ctx context.Context, names []string) error {
	idxs, err := m.sortedFieldIndices(names)
	if err != nil {
		return err
	}
	for _, i := range idxs {
		if err := m.source.loadSection(ctx, i, secOffsets); err != nil {
			return err
		}
	}
	fields := m.sch.Fields()
	for _, i := range idxs {
		if !fields[i].VarSize() {
			continue
		}
		if err := m.source.loadSection(ctx, i, secVarOffsets); err != nil {
			return err
		}
	}
	for _, i := range idxs {
		if !fields[i].Nullable {
			continue
		}
		if err := m.source.loadSection(ctx, i, secValidity); err != nil {
			return err
		}
	}
	return nil
}

// LoadTileVarSizes loads the persisted var-tile sizes of the named fields.
func (m *Metadata) LoadTileVarSizes(ctx context.Context, names []string) error {
	idxs, err := m.sortedFieldIndices(names)
	if err != nil {
		return err
	}
	for _, i := range idxs {
		if !m.sch.Fields()[i].VarSize() {
			continue
		}
		if err := m.source.loadSection(ctx, i, secVarSizes); err != nil {
			return err
		}
	}
	return nil
}

// LoadTileStats loads the per-tile min/max/sum/null-count sections of the
// named fields (format version 11+; older fragments have none).
func (m *Metadata) LoadTileStats(ctx context.Context, names []string) error {
	if m.version < versionTileStats {
		return nil
	}
	idxs, err := m.sortedFieldIndices(names)
	if err != nil {
		return err
	}
	for _, k := range []sectionKind{secMin, secMax, secSum, secNullCount} {
		for _, i := range idxs {
			if err := m.source.loadSection(ctx, i, k); err != nil {
				return err
			}
		}
	}
	return nil
}

// FreeTileOffsets drops every field's offset sections, releasing their
// tracked memory and clearing the loaded flags. Safe against concurrent
// loads of other fields.
func (m *Metadata) FreeTileOffsets() {
	for i := range m.loaded.fields {
		fs := &m.loaded.fields[i]
		fs.mu.Lock()
		for _, k := range []sectionKind{secOffsets, secVarOffsets, secVarSizes, secValidity} {
			if !fs.loaded[k] {
				continue
			}
			m.res.ReleaseMemory(fs.memory[k], k.memoryType())
			fs.memory[k] = 0
			fs.loaded[k] = false
		}
		m.tileOffsets[i] = nil
		m.tileVarOffsets[i] = nil
		m.tileVarSizes[i] = nil
		m.tileValidityOffsets[i] = nil
		fs.mu.Unlock()
	}
}
