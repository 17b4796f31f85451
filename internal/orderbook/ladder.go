package orderbook

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// MarketSide is one side's aggregated price ladder: an ordered mapping from
// price to total remaining volume at that price. It answers quoting and depth
// queries in O(log n) over distinct prices instead of O(orders).
//
// The ladder is a working copy hydrated from the data layer; mutations happen
// here first and are written back through PutAggregatedSide on commit.
type MarketSide struct {
	side      Side
	maxPrices int
	tree      *btree.BTreeG[PriceLevel]
}

func levelLess(a, b PriceLevel) bool { return a.Price.LessThan(b.Price) }

// NewMarketSide builds an empty ladder bounded to maxPrices distinct levels.
func NewMarketSide(side Side, maxPrices int) *MarketSide {
	return &MarketSide{
		side:      side,
		maxPrices: maxPrices,
		tree:      btree.NewBTreeG(levelLess),
	}
}

// MarketSideFromLevels hydrates a ladder from its stored representation.
func MarketSideFromLevels(side Side, maxPrices int, levels []PriceLevel) *MarketSide {
	ms := NewMarketSide(side, maxPrices)
	for _, lvl := range levels {
		ms.tree.Set(lvl)
	}
	return ms
}

// Levels returns the ladder in ascending price order, for persistence.
func (ms *MarketSide) Levels() []PriceLevel {
	out := make([]PriceLevel, 0, ms.tree.Len())
	ms.tree.Scan(func(lvl PriceLevel) bool {
		out = append(out, lvl)
		return true
	})
	return out
}

func (ms *MarketSide) Len() int { return ms.tree.Len() }

// Volume returns the aggregated volume at price, or zero if the level is
// absent.
func (ms *MarketSide) Volume(price decimal.Decimal) decimal.Decimal {
	lvl, ok := ms.tree.Get(PriceLevel{Price: price})
	if !ok {
		return decimal.Zero
	}
	return lvl.Volume
}

// Add increases the volume at price, creating the level if needed. Creating a
// level beyond the side's price bound fails with ErrSidePriceLimitReached;
// existing levels are never evicted to make room.
func (ms *MarketSide) Add(price, volume decimal.Decimal) error {
	lvl, ok := ms.tree.Get(PriceLevel{Price: price})
	if !ok {
		if ms.tree.Len() >= ms.maxPrices {
			return fmt.Errorf("%w: %d levels on %s side", ErrSidePriceLimitReached, ms.tree.Len(), ms.side)
		}
		ms.tree.Set(PriceLevel{Price: price, Volume: volume})
		return nil
	}
	lvl.Volume = lvl.Volume.Add(volume)
	ms.tree.Set(lvl)
	return nil
}

// Remove decreases the volume at price, deleting the level when it reaches
// zero. Removing more than the level holds is a programming-error-class
// failure: the ladder must always mirror the resting orders exactly.
func (ms *MarketSide) Remove(price, volume decimal.Decimal) error {
	lvl, ok := ms.tree.Get(PriceLevel{Price: price})
	if !ok {
		return fmt.Errorf("%w: %s on %s side", ErrPriceNotFound, price, ms.side)
	}
	rest := lvl.Volume.Sub(volume)
	if rest.IsNegative() {
		return fmt.Errorf("%w: removing %s from level %s holding %s", ErrAmountUnderflow, volume, price, lvl.Volume)
	}
	if rest.IsZero() {
		ms.tree.Delete(lvl)
		return nil
	}
	lvl.Volume = rest
	ms.tree.Set(lvl)
	return nil
}

// BestPrice is the most competitive level: the maximum for bids, the minimum
// for asks. ok is false when the side is empty.
func (ms *MarketSide) BestPrice() (decimal.Decimal, bool) {
	var lvl PriceLevel
	var ok bool
	if ms.side == SideBuy {
		lvl, ok = ms.tree.Max()
	} else {
		lvl, ok = ms.tree.Min()
	}
	return lvl.Price, ok
}

// IterBest walks levels from the best price outward, stopping when fn returns
// false.
func (ms *MarketSide) IterBest(fn func(lvl PriceLevel) bool) {
	if ms.side == SideBuy {
		ms.tree.Reverse(fn)
		return
	}
	ms.tree.Scan(fn)
}

// Depth returns up to limit levels from the best price outward.
func (ms *MarketSide) Depth(limit int) []PriceLevel {
	out := make([]PriceLevel, 0, limit)
	ms.IterBest(func(lvl PriceLevel) bool {
		out = append(out, lvl)
		return len(out) < limit
	})
	return out
}

// TotalVolume sums every level, for conservation checks.
func (ms *MarketSide) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	ms.tree.Scan(func(lvl PriceLevel) bool {
		total = total.Add(lvl.Volume)
		return true
	})
	return total
}
