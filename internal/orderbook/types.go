// Package orderbook implements the on-chain limit order book engine: order and
// book value types, the aggregated price ladder, matching and settlement
// primitives, and the block-amortized expiration scheduler.
//
// The package owns no storage and no ledger. Both are consumed through the
// narrow interfaces declared in storage.go and ledger.go so the engine can run
// against BadgerDB in production and in-memory doubles in tests.
package orderbook

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DEXID identifies one DEX instance. Every DEX quotes all of its books
// against a single designated base currency.
type DEXID uint32

// AssetID identifies one asset on the ledger.
type AssetID string

// OrderID is the per-book monotonic order identifier.
type OrderID uint64

// BlockNumber is the chain height used for expiry scheduling.
type BlockNumber uint64

// AccountID identifies a ledger account (user or technical).
type AccountID = uuid.UUID

// Side of the book an order rests on.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side of the book.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderBookStatus gates which operations a book accepts.
type OrderBookStatus string

const (
	// StatusTrading allows placement, cancellation and matching.
	StatusTrading OrderBookStatus = "TRADING"
	// StatusPlacementOnly forbids new placements but allows cancellation.
	// Used transiently to drain a book before deletion or migration.
	StatusPlacementOnly OrderBookStatus = "PLACEMENT_ONLY"
	// StatusStop forbids placement, cancellation and matching.
	StatusStop OrderBookStatus = "STOP"
	// StatusUnknown means no book exists for the id.
	StatusUnknown OrderBookStatus = "UNKNOWN"
)

// OrderBookID identifies one market: (dex, base asset, quote asset).
// The quote asset must be the DEX's designated base currency.
type OrderBookID struct {
	DEX   DEXID   `json:"dex_id"`
	Base  AssetID `json:"base_asset"`
	Quote AssetID `json:"quote_asset"`
}

func (id OrderBookID) String() string {
	return fmt.Sprintf("%d/%s/%s", id.DEX, id.Base, id.Quote)
}

// Unit tags an amount with the asset leg it is denominated in.
type Unit int8

const (
	UnitBase Unit = iota
	UnitQuote
)

func (u Unit) String() string {
	if u == UnitQuote {
		return "quote"
	}
	return "base"
}

// OrderAmount is a volume tagged with the leg it is denominated in. The same
// numeric type carries different units; arithmetic across units is a defined
// error, never a silent coercion.
type OrderAmount struct {
	Unit  Unit            `json:"unit"`
	Value decimal.Decimal `json:"value"`
}

// BaseAmount tags v as base-asset volume.
func BaseAmount(v decimal.Decimal) OrderAmount { return OrderAmount{Unit: UnitBase, Value: v} }

// QuoteAmount tags v as quote-asset volume.
func QuoteAmount(v decimal.Decimal) OrderAmount { return OrderAmount{Unit: UnitQuote, Value: v} }

func (a OrderAmount) IsBase() bool  { return a.Unit == UnitBase }
func (a OrderAmount) IsQuote() bool { return a.Unit == UnitQuote }
func (a OrderAmount) IsZero() bool  { return a.Value.IsZero() }

// Add sums two amounts of the same unit.
func (a OrderAmount) Add(b OrderAmount) (OrderAmount, error) {
	if a.Unit != b.Unit {
		return OrderAmount{}, fmt.Errorf("%w: %s + %s", ErrUnitMismatch, a.Unit, b.Unit)
	}
	return OrderAmount{Unit: a.Unit, Value: a.Value.Add(b.Value)}, nil
}

// Sub subtracts b from a; both must share a unit and the result must not go
// negative.
func (a OrderAmount) Sub(b OrderAmount) (OrderAmount, error) {
	if a.Unit != b.Unit {
		return OrderAmount{}, fmt.Errorf("%w: %s - %s", ErrUnitMismatch, a.Unit, b.Unit)
	}
	v := a.Value.Sub(b.Value)
	if v.IsNegative() {
		return OrderAmount{}, fmt.Errorf("%w: %s - %s", ErrAmountUnderflow, a.Value, b.Value)
	}
	return OrderAmount{Unit: a.Unit, Value: v}, nil
}

// Equal reports unit and value equality.
func (a OrderAmount) Equal(b OrderAmount) bool {
	return a.Unit == b.Unit && a.Value.Equal(b.Value)
}

// AssociatedAsset resolves the amount's unit against a book id.
func (a OrderAmount) AssociatedAsset(id OrderBookID) AssetID {
	if a.IsQuote() {
		return id.Quote
	}
	return id.Base
}

// InBase converts the amount to base units at the given price.
func (a OrderAmount) InBase(price decimal.Decimal) (decimal.Decimal, error) {
	if a.IsBase() {
		return a.Value, nil
	}
	if price.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: zero price", ErrInvalidLimitPrice)
	}
	return a.Value.Div(price), nil
}

// InQuote converts the amount to quote units at the given price.
func (a OrderAmount) InQuote(price decimal.Decimal) decimal.Decimal {
	if a.IsQuote() {
		return a.Value
	}
	return a.Value.Mul(price)
}

func (a OrderAmount) String() string {
	return fmt.Sprintf("%s(%s)", a.Unit, a.Value)
}
