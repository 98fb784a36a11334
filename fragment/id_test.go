package fragment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "44318efd44454e4d97e102e4c72ae326"

func TestParseIDNameVersion1(t *testing.T) {
	id, err := ParseID("__" + testUUID + "_1234")
	require.NoError(t, err)
	assert.Equal(t, 1, id.NameVersion)
	assert.Equal(t, testUUID, id.UUID)
	assert.Equal(t, uint64(1234), id.TimestampStart)
	assert.Equal(t, uint64(1234), id.TimestampEnd)
	assert.Equal(t, uint32(2), id.FormatVersion)
}

func TestParseIDNameVersion1TwoTimestamps(t *testing.T) {
	id, err := ParseID("__" + testUUID + "_100_200")
	require.NoError(t, err)
	assert.Equal(t, 1, id.NameVersion)
	assert.Equal(t, uint64(100), id.TimestampStart)
	assert.Equal(t, uint64(200), id.TimestampEnd)
}

func TestParseIDNameVersion2(t *testing.T) {
	id, err := ParseID("__100_200_" + testUUID)
	require.NoError(t, err)
	assert.Equal(t, 2, id.NameVersion)
	assert.Equal(t, testUUID, id.UUID)
	assert.Equal(t, uint64(100), id.TimestampStart)
	assert.Equal(t, uint64(200), id.TimestampEnd)
	assert.Equal(t, uint32(4), id.FormatVersion)
}

func TestParseIDNameVersion3(t *testing.T) {
	id, err := ParseID("__100_200_" + testUUID + "_16")
	require.NoError(t, err)
	assert.Equal(t, 3, id.NameVersion)
	assert.Equal(t, testUUID, id.UUID)
	assert.Equal(t, uint64(100), id.TimestampStart)
	assert.Equal(t, uint64(200), id.TimestampEnd)
	assert.Equal(t, uint32(16), id.FormatVersion)
}

func TestParseIDStripsPathAndSlash(t *testing.T) {
	id, err := ParseID("s3://bucket/arr/__fragments/__100_200_" + testUUID + "_16/")
	require.NoError(t, err)
	assert.Equal(t, 3, id.NameVersion)
	assert.Equal(t, "__100_200_"+testUUID+"_16", id.Name)
}

func TestParseIDErrors(t *testing.T) {
	for _, name := range []string{
		"frag_100_200",                       // no __ prefix
		"__x_200_" + testUUID + "_16",        // bad start timestamp
		"__100_y_" + testUUID + "_16",        // bad end timestamp
		"__100_200_" + testUUID + "_fifteen", // bad embedded version
		"__" + testUUID,                      // version 1 without timestamp
	} {
		_, err := ParseID(name)
		assert.ErrorIs(t, err, ErrFormat, name)
	}
}

// The historical parsers accept several malformed shapes; renaming them
// errors would break arrays already on disk.
func TestParseIDKnownLenientShapes(t *testing.T) {
	// uuid segment content is never validated.
	id, err := ParseID("__100_200_ZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZZ")
	require.NoError(t, err)
	assert.Equal(t, 2, id.NameVersion)

	// version 1 with a junk second timestamp keeps the first.
	id, err = ParseID("__" + testUUID + "_100_junk")
	require.NoError(t, err)
	assert.Equal(t, 1, id.NameVersion)
	assert.Equal(t, uint64(100), id.TimestampStart)
	assert.Equal(t, uint64(100), id.TimestampEnd)

	// an inverted timestamp range is accepted as-is.
	id, err = ParseID("__900_100_" + testUUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(900), id.TimestampStart)
	assert.Equal(t, uint64(100), id.TimestampEnd)
}

func TestNewNameRoundTrips(t *testing.T) {
	name := NewName(11, 22, 16)
	require.True(t, strings.HasPrefix(name, "__11_22_"))

	id, err := ParseID(name)
	require.NoError(t, err)
	assert.Equal(t, 3, id.NameVersion)
	assert.Equal(t, uint64(11), id.TimestampStart)
	assert.Equal(t, uint64(22), id.TimestampEnd)
	assert.Equal(t, uint32(16), id.FormatVersion)
	assert.Len(t, id.UUID, 32)
}
