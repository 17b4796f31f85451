package orderbook

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Params {
	return Params{
		MaxSidePriceCount:         1024,
		MaxLimitOrdersForPrice:    1024,
		MaxOpenOrdersPerUser:      1024,
		MaxExpiringOrdersPerBlock: 1000,
		MinOrderLifespan:          time.Minute,
		MaxOrderLifespan:          30 * 24 * time.Hour,
		MillisecsPerBlock:         6000,
		MaxPriceShift:             decimal.RequireFromString("0.5"),
	}
}

func TestLifespanBlocks(t *testing.T) {
	p := testParams()

	// exact multiple
	assert.Equal(t, BlockNumber(10), p.LifespanBlocks(time.Minute))
	// rounds up so an order never expires early
	assert.Equal(t, BlockNumber(11), p.LifespanBlocks(time.Minute+time.Second))
}

func TestNewLimitOrderExpiry(t *testing.T) {
	p := testParams()
	owner := uuid.New()
	now := time.Now()

	order := NewLimitOrder(p, 7, owner, SideBuy, d("100"), d("2"), now, time.Minute, 5)

	assert.Equal(t, OrderID(7), order.ID)
	assert.Equal(t, BlockNumber(5), order.CreatedAtBlock)
	assert.Equal(t, BlockNumber(15), order.ExpiresAt)
	assert.True(t, order.Amount.Equal(order.OriginalAmount))
	require.NoError(t, order.EnsureValid(p))
}

func TestLimitOrderEnsureValid(t *testing.T) {
	p := testParams()
	now := time.Now()
	owner := uuid.New()

	cases := []struct {
		name  string
		order LimitOrder
		want  error
	}{
		{
			name:  "zero price",
			order: NewLimitOrder(p, 1, owner, SideBuy, decimal.Zero, d("1"), now, time.Minute, 1),
			want:  ErrInvalidLimitPrice,
		},
		{
			name:  "zero amount",
			order: NewLimitOrder(p, 1, owner, SideBuy, d("10"), decimal.Zero, now, time.Minute, 1),
			want:  ErrInvalidOrderAmount,
		},
		{
			name:  "lifespan too short",
			order: NewLimitOrder(p, 1, owner, SideBuy, d("10"), d("1"), now, time.Second, 1),
			want:  ErrInvalidLifespan,
		},
		{
			name:  "lifespan too long",
			order: NewLimitOrder(p, 1, owner, SideBuy, d("10"), d("1"), now, 31*24*time.Hour, 1),
			want:  ErrInvalidLifespan,
		},
		{
			name:  "invalid side",
			order: NewLimitOrder(p, 1, owner, "HOLD", d("10"), d("1"), now, time.Minute, 1),
			want:  ErrInvalidOrderAmount,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.order.EnsureValid(p), tc.want)
		})
	}
}

func TestLockedAmount(t *testing.T) {
	p := testParams()
	now := time.Now()
	owner := uuid.New()

	buy := NewLimitOrder(p, 1, owner, SideBuy, d("100"), d("10"), now, time.Minute, 1)
	assert.True(t, buy.LockedAmount().Equal(QuoteAmount(d("1000"))))

	sell := NewLimitOrder(p, 2, owner, SideSell, d("100"), d("10"), now, time.Minute, 1)
	assert.True(t, sell.LockedAmount().Equal(BaseAmount(d("10"))))
}

func TestLimitOrderFill(t *testing.T) {
	p := testParams()
	order := NewLimitOrder(p, 1, uuid.New(), SideSell, d("100"), d("10"), time.Now(), time.Minute, 1)

	require.NoError(t, order.Fill(d("4")))
	assert.True(t, order.Amount.Equal(d("6")))
	assert.False(t, order.IsFull())

	// the locked remainder tracks the remaining amount
	assert.True(t, order.RemainingLocked().Equal(BaseAmount(d("6"))))

	assert.ErrorIs(t, order.Fill(d("7")), ErrAmountUnderflow)

	require.NoError(t, order.Fill(d("6")))
	assert.True(t, order.IsFull())
}

func TestMarketOrderEnsureValid(t *testing.T) {
	valid := MarketOrder{Owner: uuid.New(), Side: SideBuy, Amount: BaseAmount(d("1"))}
	require.NoError(t, valid.EnsureValid())

	bad := MarketOrder{Owner: uuid.New(), Side: "HOLD", Amount: BaseAmount(d("1"))}
	assert.ErrorIs(t, bad.EnsureValid(), ErrInvalidOrderAmount)

	empty := MarketOrder{Owner: uuid.New(), Side: SideSell, Amount: QuoteAmount(decimal.Zero)}
	assert.ErrorIs(t, empty.EnsureValid(), ErrInvalidOrderAmount)
}
