package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind enumerates the structured events the engine emits.
type EventKind string

const (
	EventOrderBookCreated       EventKind = "ORDER_BOOK_CREATED"
	EventOrderBookDeleted       EventKind = "ORDER_BOOK_DELETED"
	EventOrderBookUpdated       EventKind = "ORDER_BOOK_UPDATED"
	EventOrderBookStatusChanged EventKind = "ORDER_BOOK_STATUS_CHANGED"
	EventOrderPlaced            EventKind = "ORDER_PLACED"
	EventOrderCanceled          EventKind = "ORDER_CANCELED"
	EventOrderFilled            EventKind = "ORDER_FILLED"
	EventOrderExpired           EventKind = "ORDER_EXPIRED"
	EventExpirationFailure      EventKind = "EXPIRATION_FAILURE"
	EventMarketOrderExecuted    EventKind = "MARKET_ORDER_EXECUTED"
)

// Event is one structured notification. Fields beyond Kind, BookID and Time
// are populated where they apply.
type Event struct {
	Kind    EventKind       `json:"kind"`
	BookID  OrderBookID     `json:"order_book_id"`
	DEX     DEXID           `json:"dex_id"`
	OrderID OrderID         `json:"order_id,omitempty"`
	Owner   AccountID       `json:"owner,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
	Reason  CancelReason    `json:"reason,omitempty"`
	Error   string          `json:"error,omitempty"`
	Time    time.Time       `json:"time"`
}

// EventListener receives engine events synchronously, after the emitting
// operation has committed.
type EventListener func(Event)
