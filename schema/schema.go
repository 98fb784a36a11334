// Package schema is the array-schema collaborator consumed by the fragment
// index core: it answers field existence, type, var-size, nullability and
// cells-per-value queries, and carries the dimension domain used for dense
// tile arithmetic.
package schema

import (
	"fmt"
	"math"

	"github.com/hupe1980/tilego/datatype"
)

// Layout is a cell or tile ordering.
type Layout uint8

const (
	RowMajor Layout = iota
	ColMajor
)

func (l Layout) String() string {
	if l == ColMajor {
		return "col-major"
	}
	return "row-major"
}

// VarNum marks a field whose cells hold a variable number of values.
const VarNum = math.MaxUint32

// Dimension describes one array dimension.
type Dimension struct {
	Name       string
	Type       datatype.T
	Domain     Range  // empty for var-size dimensions
	TileExtent []byte // nil when the dimension imposes no tile grid
}

// VarSize reports whether the dimension stores var-size coordinates.
func (d Dimension) VarSize() bool { return d.Type.IsString() }

// Domain is the ordered set of dimensions plus the tile and cell layouts.
type Domain struct {
	Dims      []Dimension
	TileOrder Layout
	CellOrder Layout
}

// DimNum returns the number of dimensions.
func (d *Domain) DimNum() int { return len(d.Dims) }

// Field describes one dimension or attribute as seen by the index core.
type Field struct {
	Name       string
	Type       datatype.T
	CellValNum uint32
	Nullable   bool
	IsDim      bool
}

// VarSize reports whether the field stores var-size cells.
func (f Field) VarSize() bool { return f.CellValNum == VarNum }

// CellSize returns the fixed byte width of one cell, or 0 for var-size.
func (f Field) CellSize() uint64 {
	if f.VarSize() {
		return 0
	}
	return uint64(f.CellValNum) * f.Type.Size()
}

// Schema answers the queries the index core needs about an array. The field
// order is fixed at construction (dimensions first, then attributes) and is
// the order per-field metadata vectors are laid out in.
type Schema struct {
	domain Domain
	fields []Field
	idx    map[string]int
}

// New builds a schema from a domain and attribute list.
func New(domain Domain, attrs []Field) (*Schema, error) {
	s := &Schema{
		domain: domain,
		idx:    make(map[string]int, len(domain.Dims)+len(attrs)),
	}
	for _, d := range domain.Dims {
		cvn := uint32(1)
		if d.VarSize() {
			cvn = VarNum
		}
		if err := s.add(Field{Name: d.Name, Type: d.Type, CellValNum: cvn, IsDim: true}); err != nil {
			return nil, err
		}
	}
	for _, a := range attrs {
		a.IsDim = false
		if err := s.add(a); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) add(f Field) error {
	if _, ok := s.idx[f.Name]; ok {
		return fmt.Errorf("schema: duplicate field %q", f.Name)
	}
	s.idx[f.Name] = len(s.fields)
	s.fields = append(s.fields, f)
	return nil
}

// Domain returns the array domain.
func (s *Schema) Domain() *Domain { return &s.domain }

// FieldNum returns the number of fields (dimensions plus attributes).
func (s *Schema) FieldNum() int { return len(s.fields) }

// Fields returns all fields in metadata order.
func (s *Schema) Fields() []Field { return s.fields }

// Field looks a field up by name.
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.idx[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// FieldIndex returns the metadata vector index of a field.
func (s *Schema) FieldIndex(name string) (int, bool) {
	i, ok := s.idx[name]
	return i, ok
}

// VarSize reports whether the named field is var-size. Unknown names report
// false; callers that care use Field.
func (s *Schema) VarSize(name string) bool {
	f, ok := s.Field(name)
	return ok && f.VarSize()
}

// Nullable reports whether the named field is nullable.
func (s *Schema) Nullable(name string) bool {
	f, ok := s.Field(name)
	return ok && f.Nullable
}

// IsDim reports whether the named field is a dimension.
func (s *Schema) IsDim(name string) bool {
	f, ok := s.Field(name)
	return ok && f.IsDim
}
