package orderbook

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMarketSideAddRemove(t *testing.T) {
	ms := NewMarketSide(SideSell, 10)

	require.NoError(t, ms.Add(d("100"), d("5")))
	require.NoError(t, ms.Add(d("100"), d("3")))
	require.NoError(t, ms.Add(d("101"), d("1")))

	assert.Equal(t, 2, ms.Len())
	assert.True(t, ms.Volume(d("100")).Equal(d("8")))
	assert.True(t, ms.TotalVolume().Equal(d("9")))

	require.NoError(t, ms.Remove(d("100"), d("8")))
	assert.Equal(t, 1, ms.Len())
	assert.True(t, ms.Volume(d("100")).IsZero())
}

func TestMarketSideCapacity(t *testing.T) {
	ms := NewMarketSide(SideBuy, 2)

	require.NoError(t, ms.Add(d("10"), d("1")))
	require.NoError(t, ms.Add(d("11"), d("1")))

	err := ms.Add(d("12"), d("1"))
	assert.ErrorIs(t, err, ErrSidePriceLimitReached)

	// growing an existing level never counts against the bound
	require.NoError(t, ms.Add(d("11"), d("4")))
	assert.True(t, ms.Volume(d("11")).Equal(d("5")))
}

func TestMarketSideRemoveErrors(t *testing.T) {
	ms := NewMarketSide(SideSell, 10)
	require.NoError(t, ms.Add(d("100"), d("2")))

	err := ms.Remove(d("99"), d("1"))
	assert.ErrorIs(t, err, ErrPriceNotFound)

	err = ms.Remove(d("100"), d("3"))
	assert.ErrorIs(t, err, ErrAmountUnderflow)

	// failed removals leave the level untouched
	assert.True(t, ms.Volume(d("100")).Equal(d("2")))
}

func TestMarketSideBestPrice(t *testing.T) {
	bids := NewMarketSide(SideBuy, 10)
	asks := NewMarketSide(SideSell, 10)

	_, ok := bids.BestPrice()
	assert.False(t, ok)

	for _, p := range []string{"99", "101", "100"} {
		require.NoError(t, bids.Add(d(p), d("1")))
		require.NoError(t, asks.Add(d(p), d("1")))
	}

	best, ok := bids.BestPrice()
	require.True(t, ok)
	assert.True(t, best.Equal(d("101")))

	best, ok = asks.BestPrice()
	require.True(t, ok)
	assert.True(t, best.Equal(d("99")))
}

func TestMarketSideIterBestAndDepth(t *testing.T) {
	bids := NewMarketSide(SideBuy, 10)
	for _, p := range []string{"99", "101", "100"} {
		require.NoError(t, bids.Add(d(p), d("1")))
	}

	var seen []string
	bids.IterBest(func(lvl PriceLevel) bool {
		seen = append(seen, lvl.Price.String())
		return true
	})
	assert.Equal(t, []string{"101", "100", "99"}, seen)

	depth := bids.Depth(2)
	require.Len(t, depth, 2)
	assert.True(t, depth[0].Price.Equal(d("101")))
	assert.True(t, depth[1].Price.Equal(d("100")))
}

func TestMarketSideLevelsRoundTrip(t *testing.T) {
	ms := NewMarketSide(SideSell, 10)
	require.NoError(t, ms.Add(d("100"), d("5")))
	require.NoError(t, ms.Add(d("98"), d("2")))

	levels := ms.Levels()
	require.Len(t, levels, 2)
	// ascending price order for persistence
	assert.True(t, levels[0].Price.Equal(d("98")))

	restored := MarketSideFromLevels(SideSell, 10, levels)
	assert.True(t, restored.TotalVolume().Equal(d("7")))
	best, ok := restored.BestPrice()
	require.True(t, ok)
	assert.True(t, best.Equal(d("98")))
}
