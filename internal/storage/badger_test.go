package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonex/dexbook/internal/orderbook"
)

func newBadgerStore(t *testing.T) *Store {
	t.Helper()
	store, closeStore, err := NewBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closeStore()) })
	return store
}

func TestBadgerRoundTrip(t *testing.T) {
	store := newBadgerStore(t)
	id := testBookID()

	_, err := store.GetOrderBook(id)
	assert.ErrorIs(t, err, orderbook.ErrUnknownOrderBook)

	book := orderbook.NewOrderBook(id, d("0.01"), d("0.001"), d("0.001"), d("100000"))
	require.NoError(t, store.PutOrderBook(book))

	got, err := store.GetOrderBook(id)
	require.NoError(t, err)
	assert.True(t, got.MaxLotSize.Equal(d("100000")))

	require.NoError(t, store.DeleteOrderBook(id))
	_, err = store.GetOrderBook(id)
	assert.ErrorIs(t, err, orderbook.ErrUnknownOrderBook)
}

func TestBadgerCacheCommitIsBatched(t *testing.T) {
	store := newBadgerStore(t)
	cache := NewCache(store)

	id1 := orderbook.OrderBookID{DEX: 1, Base: "ATOM", Quote: "USDC"}
	id2 := orderbook.OrderBookID{DEX: 1, Base: "OSMO", Quote: "USDC"}
	require.NoError(t, cache.PutOrderBook(orderbook.NewOrderBook(id1, d("0.01"), d("0.001"), d("0.001"), d("1"))))
	require.NoError(t, cache.PutOrderBook(orderbook.NewOrderBook(id2, d("0.01"), d("0.001"), d("0.001"), d("1"))))
	require.NoError(t, cache.Commit())

	books, err := store.ListOrderBooks()
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestBadgerScanPrefixIsolation(t *testing.T) {
	store := newBadgerStore(t)
	id := testBookID()
	other := orderbook.OrderBookID{DEX: 2, Base: "ATOM", Quote: "USDC"}

	require.NoError(t, store.PutLimitOrder(id, orderbook.LimitOrder{ID: 1, Side: orderbook.SideBuy, Price: d("1"), OriginalAmount: d("1"), Amount: d("1")}))
	require.NoError(t, store.PutLimitOrder(other, orderbook.LimitOrder{ID: 2, Side: orderbook.SideBuy, Price: d("1"), OriginalAmount: d("1"), Amount: d("1")}))

	orders, err := store.AllLimitOrders(id)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, orderbook.OrderID(1), orders[0].ID)
}
