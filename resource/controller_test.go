package resource

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControllerTakeRelease(t *testing.T) {
	c := NewController(Config{MemoryBudgetBytes: 1000})

	require.NoError(t, c.TakeMemory(400, MemTileOffsets))
	require.NoError(t, c.TakeMemory(600, MemRTree))
	assert.Equal(t, int64(1000), c.MemoryUsage())
	assert.Equal(t, int64(400), c.MemoryUsageOf(MemTileOffsets))

	err := c.TakeMemory(1, MemTileOffsets)
	var bee *BudgetExceededError
	require.True(t, errors.As(err, &bee))
	assert.Equal(t, int64(1), bee.Needed)
	assert.Equal(t, int64(1000), bee.Budget)
	// Nothing charged on failure.
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(600, MemRTree)
	assert.Equal(t, int64(400), c.MemoryUsage())
	require.NoError(t, c.TakeMemory(600, MemTileOffsets))
}

func TestControllerShortfallDetails(t *testing.T) {
	c := NewController(Config{MemoryBudgetBytes: 100})
	require.NoError(t, c.TakeMemory(90, MemTileOffsets))

	err := c.TakeMemory(50, MemTileMinVals)
	var bee *BudgetExceededError
	require.True(t, errors.As(err, &bee))
	assert.Equal(t, MemTileMinVals, bee.Type)
	assert.Equal(t, int64(50), bee.Needed)
	assert.Equal(t, int64(10), bee.Available)
}

func TestControllerUnlimited(t *testing.T) {
	var c *Controller // nil controller enforces nothing
	assert.NoError(t, c.TakeMemory(1<<40, MemRTree))
	c.ReleaseMemory(1<<40, MemRTree)
	assert.Equal(t, int64(0), c.MemoryUsage())

	tracked := NewController(Config{})
	assert.NoError(t, tracked.TakeMemory(123, MemFooter))
	assert.Equal(t, int64(123), tracked.MemoryUsage())
}
