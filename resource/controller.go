// Package resource tracks the memory consumed by loaded fragment metadata
// sections and throttles metadata IO. A shared Controller must grant bytes
// before any load materializes buffers; frees return them. Exceeding the
// budget is a distinguishable, caller-retryable error, never a crash.
package resource

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// MemoryType labels what a grant is charged to, for introspection.
type MemoryType uint8

const (
	MemTileOffsets MemoryType = iota
	MemRTree
	MemTileMinVals
	MemTileMaxVals
	MemTileSums
	MemTileNullCounts
	MemFooter
	memTypeNum
)

func (t MemoryType) String() string {
	switch t {
	case MemTileOffsets:
		return "tile_offsets"
	case MemRTree:
		return "rtree"
	case MemTileMinVals:
		return "tile_min_vals"
	case MemTileMaxVals:
		return "tile_max_vals"
	case MemTileSums:
		return "tile_sums"
	case MemTileNullCounts:
		return "tile_null_counts"
	case MemFooter:
		return "footer"
	}
	return "unknown"
}

// BudgetExceededError reports a load that did not fit the memory budget.
// It is retryable: free other sections or lower concurrency, then retry.
type BudgetExceededError struct {
	Type      MemoryType
	Needed    int64
	Available int64
	Budget    int64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf(
		"resource: memory budget exceeded loading %s; needed %d but only had %d from budget %d",
		e.Type, e.Needed, e.Available, e.Budget)
}

// Config holds resource limits.
type Config struct {
	// MemoryBudgetBytes caps tracked metadata memory. 0 means track only.
	MemoryBudgetBytes int64

	// IOLimitBytesPerSec throttles metadata reads. 0 means unlimited.
	IOLimitBytesPerSec int64
}

// Controller manages the metadata memory budget and IO pacing. A nil
// *Controller is valid and enforces nothing.
type Controller struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64
	byType  [memTypeNum]atomic.Int64

	ioLimiter *rate.Limiter
}

// NewController creates a controller from cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{cfg: cfg}
	if cfg.MemoryBudgetBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryBudgetBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// TakeMemory reserves bytes without blocking. On shortfall it charges
// nothing and returns a *BudgetExceededError.
func (c *Controller) TakeMemory(bytes int64, t MemoryType) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return &BudgetExceededError{
			Type:      t,
			Needed:    bytes,
			Available: c.cfg.MemoryBudgetBytes - c.memUsed.Load(),
			Budget:    c.cfg.MemoryBudgetBytes,
		}
	}
	c.memUsed.Add(bytes)
	c.byType[t].Add(bytes)
	return nil
}

// ReleaseMemory returns reserved bytes.
func (c *Controller) ReleaseMemory(bytes int64, t MemoryType) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
	c.byType[t].Add(-bytes)
}

// MemoryUsage returns the bytes currently charged.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryUsageOf returns the bytes currently charged to one type.
func (c *Controller) MemoryUsageOf(t MemoryType) int64 {
	if c == nil {
		return 0
	}
	return c.byType[t].Load()
}

// MemoryBudget returns the configured budget (0 when unlimited).
func (c *Controller) MemoryBudget() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryBudgetBytes
}

// WaitIO blocks until the IO limiter allows bytes to be read.
func (c *Controller) WaitIO(ctx context.Context, bytes int) error {
	if c == nil || c.ioLimiter == nil || bytes <= 0 {
		return nil
	}
	return c.ioLimiter.WaitN(ctx, bytes)
}
