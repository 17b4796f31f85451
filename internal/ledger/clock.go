package ledger

import (
	"sync/atomic"
	"time"

	"github.com/halcyonex/dexbook/internal/orderbook"
)

// BlockClock pairs wall-clock time with a block counter advanced by the node
// driver. The engine reads both: timestamps for orders, block numbers for
// expiry scheduling.
type BlockClock struct {
	block atomic.Uint64
	now   func() time.Time
}

// NewBlockClock starts at block 1 using the system clock.
func NewBlockClock() *BlockClock {
	c := &BlockClock{now: time.Now}
	c.block.Store(1)
	return c
}

// NewManualClock starts at block 1 with a caller-supplied time source, for
// deterministic tests.
func NewManualClock(now func() time.Time) *BlockClock {
	c := &BlockClock{now: now}
	c.block.Store(1)
	return c
}

func (c *BlockClock) Now() time.Time { return c.now() }

func (c *BlockClock) BlockNumber() orderbook.BlockNumber {
	return orderbook.BlockNumber(c.block.Load())
}

// Advance moves the chain forward n blocks and returns the new height.
func (c *BlockClock) Advance(n uint64) orderbook.BlockNumber {
	return orderbook.BlockNumber(c.block.Add(n))
}

var _ orderbook.Clock = (*BlockClock)(nil)
