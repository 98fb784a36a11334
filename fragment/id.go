package fragment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ID is the parsed form of a fragment directory name. Three naming schemes
// exist historically:
//
//	name version 1: __<uuid>_<t1>            (format versions 1-2)
//	name version 2: __<t1>_<t2>_<uuid>       (format versions 3-4)
//	name version 3: __<t1>_<t2>_<uuid>_<v>   (format version embedded)
//
// Parsing is deliberately lenient where the historical readers were: the
// uuid segment is not validated and trailing garbage in some shapes is
// accepted. Do not tighten without auditing stored arrays that rely on it.
type ID struct {
	Name           string
	UUID           string
	TimestampStart uint64
	TimestampEnd   uint64
	NameVersion    int
	FormatVersion  uint32
}

// formatVersionUnembedded maps a name version without an embedded format
// version to the highest format version that naming scheme ever produced.
var formatVersionUnembedded = map[int]uint32{1: 2, 2: 4}

// ParseID parses a fragment directory name or URI. A trailing slash and any
// leading path are stripped first.
func ParseID(name string) (ID, error) {
	name = strings.TrimSuffix(name, "/")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if !strings.HasPrefix(name, "__") {
		return ID{}, fmt.Errorf("%w: fragment name %q lacks __ prefix", ErrFormat, name)
	}

	id := ID{Name: name}
	parts := strings.Split(name[2:], "_")

	switch {
	case strings.Count(name, "_") == 5:
		// __t1_t2_uuid_version
		id.NameVersion = 3
		t1, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad start timestamp", ErrFormat, name)
		}
		t2, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad end timestamp", ErrFormat, name)
		}
		v, err := strconv.ParseUint(parts[3], 10, 32)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad format version", ErrFormat, name)
		}
		id.TimestampStart, id.TimestampEnd = t1, t2
		id.UUID = parts[2]
		id.FormatVersion = uint32(v)

	case len(parts) >= 3 && len(parts[len(parts)-1]) == 32:
		// __t1_t2_uuid: the 32-char trailing segment distinguishes this
		// from version 1 names.
		id.NameVersion = 2
		t1, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad start timestamp", ErrFormat, name)
		}
		t2, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad end timestamp", ErrFormat, name)
		}
		id.TimestampStart, id.TimestampEnd = t1, t2
		id.UUID = parts[len(parts)-1]
		id.FormatVersion = formatVersionUnembedded[2]

	default:
		// __uuid_t1 or __uuid_t1_t2: a single write timestamp, possibly
		// repeated.
		id.NameVersion = 1
		if len(parts) < 2 {
			return ID{}, fmt.Errorf("%w: fragment name %q: missing timestamp", ErrFormat, name)
		}
		id.UUID = parts[0]
		t1, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return ID{}, fmt.Errorf("%w: fragment name %q: bad timestamp", ErrFormat, name)
		}
		id.TimestampStart, id.TimestampEnd = t1, t1
		if len(parts) >= 3 {
			if t2, err := strconv.ParseUint(parts[2], 10, 64); err == nil {
				id.TimestampEnd = t2
			}
		}
		id.FormatVersion = formatVersionUnembedded[1]
	}

	return id, nil
}

// NewName produces a current-scheme fragment name for the write-time
// interval [t1, t2] and the given format version.
func NewName(t1, t2 uint64, formatVersion uint32) string {
	u := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("__%d_%d_%s_%d", t1, t2, u, formatVersion)
}
