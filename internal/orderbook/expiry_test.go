package orderbook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/halcyonex/dexbook/internal/storage"
)

func entry(id orderbook.OrderID) orderbook.ExpirationEntry {
	return orderbook.ExpirationEntry{
		BookID:  orderbook.OrderBookID{DEX: 1, Base: "ATOM", Quote: "USDC"},
		OrderID: id,
	}
}

func TestWeightMeter(t *testing.T) {
	m := orderbook.NewWeightMeter(10)
	assert.Equal(t, uint64(10), m.Remaining())

	assert.True(t, m.TryConsume(7))
	assert.Equal(t, uint64(3), m.Remaining())
	assert.False(t, m.TryConsume(4))
	assert.True(t, m.TryConsume(3))
	assert.Equal(t, uint64(0), m.Remaining())
	assert.Equal(t, uint64(10), m.Used())
}

func TestScheduleExpirationBounded(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()
	p.MaxExpiringOrdersPerBlock = 2

	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(1)))
	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(2)))
	err := orderbook.ScheduleExpiration(store, p, 5, entry(3))
	assert.ErrorIs(t, err, orderbook.ErrAgendaFull)

	// the full block never spills into neighbours
	require.NoError(t, orderbook.ScheduleExpiration(store, p, 6, entry(3)))
}

func TestUnscheduleExpiration(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()

	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(1)))
	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(2)))

	require.NoError(t, orderbook.UnscheduleExpiration(store, 5, entry(1)))
	agenda, err := store.GetAgenda(5)
	require.NoError(t, err)
	assert.Equal(t, []orderbook.ExpirationEntry{entry(2)}, agenda)

	err = orderbook.UnscheduleExpiration(store, 5, entry(1))
	assert.ErrorIs(t, err, orderbook.ErrExpirationNotFound)
}

func TestProcessExpirationsDrainsAgenda(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()
	w := orderbook.ExpirationWeights{PerBlock: 1, PerExpiration: 10}

	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(1)))
	require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(2)))

	var expired []orderbook.OrderID
	meter := orderbook.NewWeightMeter(100)
	err := orderbook.ProcessExpirations(store, 5, meter, w, func(e orderbook.ExpirationEntry) {
		expired = append(expired, e.OrderID)
	})
	require.NoError(t, err)
	assert.Equal(t, []orderbook.OrderID{1, 2}, expired)

	agenda, err := store.GetAgenda(5)
	require.NoError(t, err)
	assert.Empty(t, agenda)

	_, ok, err := store.GetIncompleteSince()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessExpirationsRespectsBudget(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()
	w := orderbook.ExpirationWeights{PerBlock: 1, PerExpiration: 10}

	for i := 1; i <= 3; i++ {
		require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(orderbook.OrderID(i))))
	}

	// budget affords the block overhead plus exactly one expiration
	var expired []orderbook.OrderID
	meter := orderbook.NewWeightMeter(11)
	err := orderbook.ProcessExpirations(store, 5, meter, w, func(e orderbook.ExpirationEntry) {
		expired = append(expired, e.OrderID)
	})
	require.NoError(t, err)
	assert.Equal(t, []orderbook.OrderID{1}, expired)

	since, ok, err := store.GetIncompleteSince()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderbook.BlockNumber(5), since)

	agenda, err := store.GetAgenda(5)
	require.NoError(t, err)
	assert.Len(t, agenda, 2)
}

func TestProcessExpirationsCarryOver(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()
	w := orderbook.ExpirationWeights{PerBlock: 1, PerExpiration: 10}

	for i := 1; i <= 3; i++ {
		require.NoError(t, orderbook.ScheduleExpiration(store, p, 5, entry(orderbook.OrderID(i))))
	}
	require.NoError(t, orderbook.ScheduleExpiration(store, p, 7, entry(4)))

	var expired []orderbook.OrderID
	meter := orderbook.NewWeightMeter(11)
	require.NoError(t, orderbook.ProcessExpirations(store, 5, meter, w, func(e orderbook.ExpirationEntry) {
		expired = append(expired, e.OrderID)
	}))
	assert.Equal(t, []orderbook.OrderID{1}, expired)

	// later blocks pick up where the budget ran out, oldest first
	expired = nil
	meter = orderbook.NewWeightMeter(100)
	require.NoError(t, orderbook.ProcessExpirations(store, 7, meter, w, func(e orderbook.ExpirationEntry) {
		expired = append(expired, e.OrderID)
	}))
	assert.Equal(t, []orderbook.OrderID{2, 3, 4}, expired)

	_, ok, err := store.GetIncompleteSince()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessExpirationsPerBlockOverheadExhaustion(t *testing.T) {
	store := storage.NewMemory()
	p := engineParams()
	w := orderbook.ExpirationWeights{PerBlock: 10, PerExpiration: 1}

	require.NoError(t, orderbook.ScheduleExpiration(store, p, 3, entry(1)))

	// not even one block's overhead fits: nothing runs, the pointer
	// records where to resume
	meter := orderbook.NewWeightMeter(5)
	require.NoError(t, orderbook.ProcessExpirations(store, 3, meter, w, func(orderbook.ExpirationEntry) {
		t.Fatal("no expiration should run")
	}))

	since, ok, err := store.GetIncompleteSince()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, orderbook.BlockNumber(3), since)
}
