package orderbook

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Params are the engine-wide limits shared by every order book. They are
// loaded from configuration once and passed explicitly into the operations
// that need them.
type Params struct {
	// MaxSidePriceCount bounds the distinct price levels per book side.
	MaxSidePriceCount int
	// MaxLimitOrdersForPrice bounds resting orders at one price.
	MaxLimitOrdersForPrice int
	// MaxOpenOrdersPerUser bounds a single account's resting orders per book.
	MaxOpenOrdersPerUser int
	// MaxExpiringOrdersPerBlock bounds one block's expiration agenda.
	MaxExpiringOrdersPerBlock int
	// MinOrderLifespan and MaxOrderLifespan bound a limit order's lifespan.
	MinOrderLifespan time.Duration
	MaxOrderLifespan time.Duration
	// MillisecsPerBlock converts a lifespan into a number of blocks.
	MillisecsPerBlock int64
	// MaxPriceShift caps how far a limit price may sit from the opposite
	// best price, as a fraction (0.5 means +-50%). Guards against
	// fat-finger orders that would move the book unrealistically.
	MaxPriceShift decimal.Decimal
}

// LifespanBlocks converts a lifespan to whole blocks, rounding up so an order
// never expires before its lifespan has fully elapsed.
func (p Params) LifespanBlocks(lifespan time.Duration) BlockNumber {
	ms := lifespan.Milliseconds()
	blocks := ms / p.MillisecsPerBlock
	if ms%p.MillisecsPerBlock != 0 {
		blocks++
	}
	return BlockNumber(blocks)
}

// LimitOrder is a resting order stored durably until filled, canceled or
// expired. Amount is the remaining base-asset volume; the invariant
// 0 < Amount <= OriginalAmount holds for every stored order.
type LimitOrder struct {
	ID             OrderID         `json:"id"`
	Owner          AccountID       `json:"owner"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	OriginalAmount decimal.Decimal `json:"original_amount"`
	Amount         decimal.Decimal `json:"amount"`
	Time           time.Time       `json:"time"`
	Lifespan       time.Duration   `json:"lifespan"`
	ExpiresAt      BlockNumber     `json:"expires_at"`
	CreatedAtBlock BlockNumber     `json:"created_at_block"`
}

// NewLimitOrder builds a resting order, computing ExpiresAt from the creation
// block and the lifespan.
func NewLimitOrder(p Params, id OrderID, owner AccountID, side Side, price, amount decimal.Decimal, now time.Time, lifespan time.Duration, block BlockNumber) LimitOrder {
	return LimitOrder{
		ID:             id,
		Owner:          owner,
		Side:           side,
		Price:          price,
		OriginalAmount: amount,
		Amount:         amount,
		Time:           now,
		Lifespan:       lifespan,
		ExpiresAt:      block + p.LifespanBlocks(lifespan),
		CreatedAtBlock: block,
	}
}

// EnsureValid checks the order's intrinsic fields. Book-dependent checks
// (tick/step alignment, lot bounds, price shift) live on OrderBook.
func (o LimitOrder) EnsureValid(p Params) error {
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidLimitPrice, o.Price)
	}
	if !o.Amount.IsPositive() || o.Amount.GreaterThan(o.OriginalAmount) {
		return fmt.Errorf("%w: remaining %s of %s", ErrInvalidOrderAmount, o.Amount, o.OriginalAmount)
	}
	if o.Lifespan < p.MinOrderLifespan || o.Lifespan > p.MaxOrderLifespan {
		return fmt.Errorf("%w: %s", ErrInvalidLifespan, o.Lifespan)
	}
	if !o.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrderAmount, o.Side)
	}
	return nil
}

// LockedAmount is what placement escrows: the quote leg for a buy
// (price * amount), the base leg for a sell.
func (o LimitOrder) LockedAmount() OrderAmount {
	if o.Side == SideBuy {
		return QuoteAmount(o.Price.Mul(o.Amount))
	}
	return BaseAmount(o.Amount)
}

// RemainingLocked is the escrowed value for the remaining amount only.
// Identical to LockedAmount because Amount tracks the remainder.
func (o LimitOrder) RemainingLocked() OrderAmount { return o.LockedAmount() }

// Fill reduces the remaining amount by base volume v.
func (o *LimitOrder) Fill(v decimal.Decimal) error {
	if v.GreaterThan(o.Amount) {
		return fmt.Errorf("%w: fill %s exceeds remaining %s", ErrAmountUnderflow, v, o.Amount)
	}
	o.Amount = o.Amount.Sub(v)
	return nil
}

// IsFull reports whether nothing remains to fill.
func (o LimitOrder) IsFull() bool { return o.Amount.IsZero() }

// MarketOrder is ephemeral: it exists only for one exchange or quote call and
// is never persisted. Amount may be denominated in either leg.
type MarketOrder struct {
	Owner  AccountID
	Side   Side
	Amount OrderAmount
}

// EnsureValid checks the market order's intrinsic fields.
func (m MarketOrder) EnsureValid() error {
	if !m.Side.Valid() {
		return fmt.Errorf("%w: side %q", ErrInvalidOrderAmount, m.Side)
	}
	if !m.Amount.Value.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidOrderAmount, m.Amount)
	}
	return nil
}
