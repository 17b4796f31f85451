package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/halcyonex/dexbook/internal/config"
	"github.com/halcyonex/dexbook/internal/ledger"
	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/halcyonex/dexbook/internal/service"
	"github.com/halcyonex/dexbook/internal/storage"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	svc       *service.Service
	led       *ledger.Ledger
	clock     *ledger.BlockClock
	authority orderbook.AccountID
	id        orderbook.OrderBookID
	events    *[]orderbook.Event
}

func newFixture(t *testing.T, tweak func(cfg *config.Config)) *fixture {
	t.Helper()
	authority := uuid.New()

	cfg := config.Default()
	cfg.Engine.Authority = authority.String()
	if tweak != nil {
		tweak(cfg)
	}

	led := ledger.New()
	led.RegisterAsset("USDC", 6)
	led.RegisterAsset("ATOM", 6)
	led.SetNumeraire(1, "USDC")
	led.RegisterTradingPair(1, "USDC", "ATOM")

	clock := ledger.NewManualClock(func() time.Time {
		return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	})

	svc, err := service.New(cfg, zap.NewNop(), storage.NewMemory(), service.Collaborators{
		Ledger: led,
		Tech:   led,
		Pairs:  led,
		Assets: led,
		Clock:  clock,
	}, prometheus.NewRegistry())
	require.NoError(t, err)

	var events []orderbook.Event
	svc.AddListener(func(ev orderbook.Event) { events = append(events, ev) })

	return &fixture{
		svc:       svc,
		led:       led,
		clock:     clock,
		authority: authority,
		id:        orderbook.OrderBookID{DEX: 1, Base: "ATOM", Quote: "USDC"},
		events:    &events,
	}
}

func (f *fixture) balance(t *testing.T, asset orderbook.AssetID, account orderbook.AccountID) decimal.Decimal {
	t.Helper()
	got, err := f.led.FreeBalance(context.Background(), asset, account)
	require.NoError(t, err)
	return got
}

func (f *fixture) createBook(t *testing.T) orderbook.OrderBook {
	t.Helper()
	book, err := f.svc.CreateOrderBook(context.Background(), uuid.New(), f.id)
	require.NoError(t, err)
	return book
}

func (f *fixture) eventKinds() []orderbook.EventKind {
	kinds := make([]orderbook.EventKind, 0, len(*f.events))
	for _, ev := range *f.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestCreateOrderBookValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	caller := uuid.New()

	_, err := f.svc.CreateOrderBook(ctx, caller, orderbook.OrderBookID{DEX: 1, Base: "USDC", Quote: "USDC"})
	assert.ErrorIs(t, err, orderbook.ErrForbiddenSameAssets)

	_, err = f.svc.CreateOrderBook(ctx, caller, orderbook.OrderBookID{DEX: 1, Base: "USDC", Quote: "ATOM"})
	assert.ErrorIs(t, err, orderbook.ErrNotAllowedQuoteAsset)

	_, err = f.svc.CreateOrderBook(ctx, caller, orderbook.OrderBookID{DEX: 1, Base: "DOGE", Quote: "USDC"})
	assert.ErrorIs(t, err, orderbook.ErrDisallowedBaseAsset)

	f.led.RegisterAsset("OSMO", 6)
	_, err = f.svc.CreateOrderBook(ctx, caller, orderbook.OrderBookID{DEX: 1, Base: "OSMO", Quote: "USDC"})
	assert.ErrorIs(t, err, orderbook.ErrTradingPairMissing)

	f.createBook(t)
	_, err = f.svc.CreateOrderBook(ctx, caller, f.id)
	assert.ErrorIs(t, err, orderbook.ErrOrderBookAlreadyExists)
}

func TestNFTBookCreation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	collector := uuid.New()

	f.led.RegisterAsset("RAREART", 0)
	f.led.RegisterTradingPair(1, "USDC", "RAREART")
	id := orderbook.OrderBookID{DEX: 1, Base: "RAREART", Quote: "USDC"}

	// creating an NFT book requires holding the piece
	_, err := f.svc.CreateOrderBook(ctx, collector, id)
	assert.ErrorIs(t, err, orderbook.ErrUserHasNoNFT)

	f.led.Mint("RAREART", collector, d("1"))
	book, err := f.svc.CreateOrderBook(ctx, collector, id)
	require.NoError(t, err)
	assert.True(t, book.StepLotSize.Equal(d("1")))
	assert.True(t, book.MinLotSize.Equal(d("1")))
}

func TestPlaceAndCancelReturnsEscrow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("2000"))
	f.createBook(t)

	res, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Rested)
	assert.True(t, res.FilledBase.IsZero())

	escrow := f.led.TechAccountFor(f.id)
	assert.True(t, f.balance(t, "USDC", alice).Equal(d("1000")))
	assert.True(t, f.balance(t, "USDC", escrow).Equal(d("1000")))

	require.NoError(t, f.svc.CancelLimitOrder(ctx, alice, f.id, res.OrderID))
	assert.True(t, f.balance(t, "USDC", alice).Equal(d("2000")))
	assert.True(t, f.balance(t, "USDC", escrow).IsZero())

	_, err = f.svc.GetLimitOrder(f.id, res.OrderID)
	assert.ErrorIs(t, err, orderbook.ErrUnknownLimitOrder)
}

func TestPlacementFailsWithoutFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("500"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// the failed placement left nothing behind
	orders, err := f.svc.UserOrders(f.id, alice)
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.True(t, f.balance(t, "USDC", alice).Equal(d("500")))
}

func TestCancelSomeoneElsesOrder(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice, mallory := uuid.New(), uuid.New()
	f.led.Mint("USDC", alice, d("1000"))
	f.createBook(t)

	res, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	require.NoError(t, err)

	err = f.svc.CancelLimitOrder(ctx, mallory, f.id, res.OrderID)
	assert.ErrorIs(t, err, orderbook.ErrUnauthorized)

	// still resting
	_, err = f.svc.GetLimitOrder(f.id, res.OrderID)
	assert.NoError(t, err)
}

func TestMarketOrderSettles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	f.led.Mint("ATOM", seller, d("10"))
	f.led.Mint("USDC", buyer, d("1000"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, seller, f.id, orderbook.SideSell, d("100"), d("10"), time.Hour)
	require.NoError(t, err)

	received, err := f.svc.ExchangeMarketOrder(ctx, buyer, f.id, orderbook.SideBuy, orderbook.BaseAmount(d("10")))
	require.NoError(t, err)
	assert.True(t, received.Equal(orderbook.BaseAmount(d("10"))))

	assert.True(t, f.balance(t, "ATOM", buyer).Equal(d("10")))
	assert.True(t, f.balance(t, "USDC", buyer).IsZero())
	assert.True(t, f.balance(t, "USDC", seller).Equal(d("1000")))
	assert.True(t, f.balance(t, "ATOM", seller).IsZero())

	// escrow fully drained
	escrow := f.led.TechAccountFor(f.id)
	assert.True(t, f.balance(t, "ATOM", escrow).IsZero())
	assert.True(t, f.balance(t, "USDC", escrow).IsZero())

	assert.Contains(t, f.eventKinds(), orderbook.EventOrderFilled)
	assert.Contains(t, f.eventKinds(), orderbook.EventMarketOrderExecuted)
}

func TestCrossingLimitOrderFillsImmediately(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seller, buyer := uuid.New(), uuid.New()
	f.led.Mint("ATOM", seller, d("10"))
	f.led.Mint("USDC", buyer, d("2000"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, seller, f.id, orderbook.SideSell, d("100"), d("10"), time.Hour)
	require.NoError(t, err)

	res, err := f.svc.PlaceLimitOrder(ctx, buyer, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Rested)
	assert.True(t, res.FilledBase.Equal(d("10")))
	assert.True(t, res.FilledQuote.Equal(d("1000")))

	assert.True(t, f.balance(t, "ATOM", buyer).Equal(d("10")))
	assert.True(t, f.balance(t, "USDC", seller).Equal(d("1000")))
}

func TestQuoteLeavesStateUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	seller := uuid.New()
	f.led.Mint("ATOM", seller, d("10"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, seller, f.id, orderbook.SideSell, d("100"), d("10"), time.Hour)
	require.NoError(t, err)

	out, err := f.svc.Quote(ctx, f.id, orderbook.SideBuy, orderbook.QuoteAmount(d("500")))
	require.NoError(t, err)
	assert.True(t, out.Equal(orderbook.BaseAmount(d("5"))))

	bids, asks, err := f.svc.Depth(f.id, 10)
	require.NoError(t, err)
	assert.Empty(t, bids)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Volume.Equal(d("10")))
}

func TestPrivilegedOperationsRequireAuthority(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.createBook(t)

	mallory := uuid.New()
	err := f.svc.DeleteOrderBook(ctx, mallory, f.id)
	assert.ErrorIs(t, err, orderbook.ErrForbidden)
	err = f.svc.ChangeOrderBookStatus(ctx, mallory, f.id, orderbook.StatusStop)
	assert.ErrorIs(t, err, orderbook.ErrForbidden)
	err = f.svc.UpdateOrderBook(ctx, mallory, f.id, d("0.1"), d("0.1"), d("0.1"), d("10"))
	assert.ErrorIs(t, err, orderbook.ErrForbidden)
}

func TestUnsetAuthorityDisablesPrivilegedOps(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.Engine.Authority = ""
	})
	ctx := context.Background()
	f.createBook(t)

	// the zero account is not a credential
	err := f.svc.DeleteOrderBook(ctx, uuid.Nil, f.id)
	assert.ErrorIs(t, err, orderbook.ErrForbidden)
	err = f.svc.ChangeOrderBookStatus(ctx, uuid.Nil, f.id, orderbook.StatusStop)
	assert.ErrorIs(t, err, orderbook.ErrForbidden)
	err = f.svc.UpdateOrderBook(ctx, uuid.Nil, f.id, d("0.1"), d("0.1"), d("0.1"), d("10"))
	assert.ErrorIs(t, err, orderbook.ErrForbidden)

	_, err = f.svc.GetOrderBook(f.id)
	assert.NoError(t, err)
}

func TestUpdateOrderBookTrimsOversizedOrders(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("ATOM", alice, d("50"))
	f.createBook(t)

	res, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideSell, d("100"), d("50"), time.Hour)
	require.NoError(t, err)
	assert.True(t, f.balance(t, "ATOM", alice).IsZero())

	require.NoError(t, f.svc.UpdateOrderBook(ctx, f.authority, f.id,
		d("0.00001"), d("0.00001"), d("0.00001"), d("30")))

	// the resting order shrank to the new max lot and the excess came back
	order, err := f.svc.GetLimitOrder(f.id, res.OrderID)
	require.NoError(t, err)
	assert.True(t, order.Amount.Equal(d("30")))
	assert.True(t, f.balance(t, "ATOM", alice).Equal(d("20")))

	escrow := f.led.TechAccountFor(f.id)
	assert.True(t, f.balance(t, "ATOM", escrow).Equal(d("30")))

	_, asks, err := f.svc.Depth(f.id, 10)
	require.NoError(t, err)
	require.Len(t, asks, 1)
	assert.True(t, asks[0].Volume.Equal(d("30")))
}

func TestChangeStatusGatesPlacement(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("5000"))
	f.createBook(t)

	res, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.svc.ChangeOrderBookStatus(ctx, f.authority, f.id, orderbook.StatusPlacementOnly))
	_, err = f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("99"), d("10"), time.Hour)
	assert.ErrorIs(t, err, orderbook.ErrPlacementForbidden)

	// cancellation still works while draining
	require.NoError(t, f.svc.CancelLimitOrder(ctx, alice, f.id, res.OrderID))

	require.NoError(t, f.svc.ChangeOrderBookStatus(ctx, f.authority, f.id, orderbook.StatusStop))
	_, err = f.svc.ExchangeMarketOrder(ctx, alice, f.id, orderbook.SideBuy, orderbook.BaseAmount(d("1")))
	assert.ErrorIs(t, err, orderbook.ErrTradingForbidden)
}

func TestDeleteOrderBookRefundsEveryone(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	f.led.Mint("USDC", alice, d("1000"))
	f.led.Mint("ATOM", bob, d("5"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Hour)
	require.NoError(t, err)
	_, err = f.svc.PlaceLimitOrder(ctx, bob, f.id, orderbook.SideSell, d("140"), d("5"), time.Hour)
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteOrderBook(ctx, f.authority, f.id))

	assert.True(t, f.balance(t, "USDC", alice).Equal(d("1000")))
	assert.True(t, f.balance(t, "ATOM", bob).Equal(d("5")))

	escrow := f.led.TechAccountFor(f.id)
	assert.True(t, f.balance(t, "USDC", escrow).IsZero())
	assert.True(t, f.balance(t, "ATOM", escrow).IsZero())

	_, err = f.svc.GetOrderBook(f.id)
	assert.ErrorIs(t, err, orderbook.ErrUnknownOrderBook)

	assert.Contains(t, f.eventKinds(), orderbook.EventOrderBookDeleted)
}

func TestExpirationReturnsFunds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("1000"))
	f.createBook(t)

	// one minute is ten blocks at the default six-second block time
	res, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Minute)
	require.NoError(t, err)
	assert.True(t, f.balance(t, "USDC", alice).IsZero())

	f.clock.Advance(10)
	require.NoError(t, f.svc.OnBlockStart(ctx))

	assert.True(t, f.balance(t, "USDC", alice).Equal(d("1000")))
	_, err = f.svc.GetLimitOrder(f.id, res.OrderID)
	assert.ErrorIs(t, err, orderbook.ErrUnknownLimitOrder)
	assert.Contains(t, f.eventKinds(), orderbook.EventOrderExpired)
}

func TestExpirationSmoothsUnderWeightPressure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		// affords the block overhead plus exactly one expiration per block
		cfg.Engine.MaxExpirationWeightPerBlock = 6000
		cfg.Engine.WeightPerBlockOverhead = 1000
		cfg.Engine.WeightPerExpiration = 5000
	})
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("3000"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("100"), d("10"), time.Minute)
	require.NoError(t, err)
	_, err = f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("200"), d("10"), time.Minute)
	require.NoError(t, err)

	f.clock.Advance(10)
	require.NoError(t, f.svc.OnBlockStart(ctx))

	// one refund per block under pressure
	assert.True(t, f.balance(t, "USDC", alice).Equal(d("1000")))
	orders, err := f.svc.UserOrders(f.id, alice)
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	f.clock.Advance(1)
	require.NoError(t, f.svc.OnBlockStart(ctx))

	assert.True(t, f.balance(t, "USDC", alice).Equal(d("3000")))
	orders, err = f.svc.UserOrders(f.id, alice)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestBestPricesThroughService(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := uuid.New()
	f.led.Mint("USDC", alice, d("10000"))
	f.led.Mint("ATOM", alice, d("10"))
	f.createBook(t)

	_, err := f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideBuy, d("99"), d("10"), time.Hour)
	require.NoError(t, err)
	_, err = f.svc.PlaceLimitOrder(ctx, alice, f.id, orderbook.SideSell, d("101"), d("10"), time.Hour)
	require.NoError(t, err)

	bid, ok, err := f.svc.BestBid(f.id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, bid.Equal(d("99")))

	ask, ok, err := f.svc.BestAsk(f.id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ask.Equal(d("101")))
}
