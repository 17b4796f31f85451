// Package storage provides the durable data layer behind the order book
// engine: a BadgerDB-backed store, an in-memory store for tests, and a
// write-back cache that scopes every write of one operation to a single
// commit.
//
// All three speak the same flat key-value dialect underneath, so the cache
// and the stores compose freely. Records are JSON-encoded, following the
// convention of the disk-backed order queue this layer grew out of.
package storage

import (
	"fmt"

	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/shopspring/decimal"
)

const (
	prefixBook     = "book:"
	prefixOrder    = "order:"
	prefixQueue    = "q:"
	prefixAgg      = "agg:"
	prefixUser     = "user:"
	prefixAgenda   = "agenda:"
	keyExpirySince = "expiry:incomplete_since"
)

// priceKey renders a price at fixed scale so equal prices always share a key
// regardless of their decimal representation.
func priceKey(p decimal.Decimal) string { return p.StringFixed(18) }

func bookKey(id orderbook.OrderBookID) string {
	return prefixBook + id.String()
}

func orderKey(id orderbook.OrderBookID, orderID orderbook.OrderID) string {
	return fmt.Sprintf("%s%s:%020d", prefixOrder, id, orderID)
}

func orderPrefix(id orderbook.OrderBookID) string {
	return fmt.Sprintf("%s%s:", prefixOrder, id)
}

func queueKey(id orderbook.OrderBookID, side orderbook.Side, price decimal.Decimal) string {
	return fmt.Sprintf("%s%s:%s:%s", prefixQueue, id, side, priceKey(price))
}

func aggKey(id orderbook.OrderBookID, side orderbook.Side) string {
	return fmt.Sprintf("%s%s:%s", prefixAgg, id, side)
}

func userKey(id orderbook.OrderBookID, owner orderbook.AccountID) string {
	return fmt.Sprintf("%s%s:%s", prefixUser, id, owner)
}

func agendaKey(block orderbook.BlockNumber) string {
	return fmt.Sprintf("%s%020d", prefixAgenda, block)
}
