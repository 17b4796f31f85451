package orderbook

import "github.com/shopspring/decimal"

// PriceLevel is one rung of an aggregated side: total remaining volume
// resting at a price.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// ExpirationEntry is one agenda slot: the order due to expire at a block.
type ExpirationEntry struct {
	BookID  OrderBookID `json:"order_book_id"`
	OrderID OrderID     `json:"order_id"`
}

// DataLayer is the engine's view of durable key-value storage. Reads of a
// missing record return the package's not-found errors; a write failure is
// fatal to the enclosing call (propagated, not retried).
//
// internal/storage provides the BadgerDB implementation, an in-memory store,
// and the write-back cache that scopes all writes of one operation to a
// single commit.
type DataLayer interface {
	GetOrderBook(id OrderBookID) (OrderBook, error)
	PutOrderBook(book OrderBook) error
	DeleteOrderBook(id OrderBookID) error
	ListOrderBooks() ([]OrderBook, error)

	GetLimitOrder(id OrderBookID, orderID OrderID) (LimitOrder, error)
	PutLimitOrder(id OrderBookID, order LimitOrder) error
	DeleteLimitOrder(id OrderBookID, orderID OrderID) error
	AllLimitOrders(id OrderBookID) ([]LimitOrder, error)

	// Per-price FIFO queues of order ids. An empty queue and a missing queue
	// are indistinguishable; writing an empty queue removes the key.
	GetPriceQueue(id OrderBookID, side Side, price decimal.Decimal) ([]OrderID, error)
	PutPriceQueue(id OrderBookID, side Side, price decimal.Decimal, orders []OrderID) error

	// Aggregated sides: price -> total remaining volume, kept in sync with
	// every insert, partial fill and removal of a limit order.
	GetAggregatedSide(id OrderBookID, side Side) ([]PriceLevel, error)
	PutAggregatedSide(id OrderBookID, side Side, levels []PriceLevel) error

	// Per-user resting order index, backing the per-user open-order limit.
	GetUserOrders(id OrderBookID, owner AccountID) ([]OrderID, error)
	PutUserOrders(id OrderBookID, owner AccountID, orders []OrderID) error

	// Expiration agenda per block, plus the carry-over pointer for blocks
	// whose expirations were cut short by the weight budget.
	GetAgenda(block BlockNumber) ([]ExpirationEntry, error)
	PutAgenda(block BlockNumber, entries []ExpirationEntry) error
	GetIncompleteSince() (BlockNumber, bool, error)
	SetIncompleteSince(block BlockNumber) error
	ClearIncompleteSince() error
}
