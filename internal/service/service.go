// Package service wires the order book engine to its collaborators and
// exposes the operation surface: book lifecycle, order placement and
// cancellation, market orders, quoting, and the per-block expiration hook.
//
// Every operation runs against a call-scoped storage cache and commits once
// at the end, so a failing call leaves no durable effect. Mutating
// operations are serialized by a single dispatch lock, mirroring the
// transaction-per-call execution model of the surrounding chain runtime.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonex/dexbook/internal/config"
	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/halcyonex/dexbook/internal/storage"
)

// Collaborators bundles the external subsystems the engine consumes.
type Collaborators struct {
	Ledger orderbook.AssetLedger
	Tech   orderbook.TechAccounts
	Pairs  orderbook.TradingPairs
	Assets orderbook.AssetInfo
	Clock  orderbook.Clock
}

// Service is the order book engine's operation dispatcher.
type Service struct {
	log     *zap.Logger
	store   *storage.Store
	col     Collaborators
	params  orderbook.Params
	weights orderbook.ExpirationWeights
	budget  uint64
	sizing  sizing
	depth   int

	authority orderbook.AccountID

	metrics *Metrics

	// dispatch serializes every mutating operation; the engine itself is
	// single-threaded per call.
	dispatch sync.Mutex

	listenerMu sync.RWMutex
	listeners  []orderbook.EventListener
}

type sizing struct {
	tick, step, minLot, maxLot decimal.Decimal
}

// New builds the service from configuration.
func New(cfg *config.Config, log *zap.Logger, store *storage.Store, col Collaborators, reg prometheus.Registerer) (*Service, error) {
	params, err := cfg.Engine.Params()
	if err != nil {
		return nil, err
	}
	weights, err := cfg.Engine.Weights()
	if err != nil {
		return nil, err
	}
	tick, step, minLot, maxLot, err := cfg.Engine.DefaultSizing()
	if err != nil {
		return nil, err
	}
	var authority orderbook.AccountID
	if cfg.Engine.Authority != "" {
		authority, err = parseAccount(cfg.Engine.Authority)
		if err != nil {
			return nil, fmt.Errorf("engine.authority: %w", err)
		}
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	return &Service{
		log:       log,
		store:     store,
		col:       col,
		params:    params,
		weights:   weights,
		budget:    cfg.Engine.MaxExpirationWeightPerBlock,
		sizing:    sizing{tick: tick, step: step, minLot: minLot, maxLot: maxLot},
		depth:     cfg.Engine.DepthLimit,
		authority: authority,
		metrics:   NewMetrics(reg),
	}, nil
}

func parseAccount(s string) (orderbook.AccountID, error) {
	return uuid.Parse(s)
}

// Params exposes the engine limits, mainly for tests and the API layer.
func (s *Service) Params() orderbook.Params { return s.params }

// AddListener subscribes to engine events. Listeners run synchronously after
// the emitting operation has committed.
func (s *Service) AddListener(l orderbook.EventListener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

func (s *Service) emit(ev orderbook.Event) {
	ev.Time = s.col.Clock.Now()
	ev.DEX = ev.BookID.DEX
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}

// lock serializes one mutating operation against the dispatch queue.
func (s *Service) lock() func() {
	s.dispatch.Lock()
	return s.dispatch.Unlock
}

func (s *Service) ensureAuthority(caller orderbook.AccountID) error {
	// an unset authority disables privileged operations; the zero account is
	// never a valid credential
	if s.authority == (orderbook.AccountID{}) {
		return fmt.Errorf("%w: no authority configured", orderbook.ErrForbidden)
	}
	if caller != s.authority {
		return fmt.Errorf("%w: account %s", orderbook.ErrForbidden, caller)
	}
	return nil
}

// CreateOrderBook registers a new market. The quote asset must be the DEX's
// designated numeraire, the trading pair must already exist, and an
// indivisible base asset (an NFT) yields a unit-lot book the creator must
// currently hold.
func (s *Service) CreateOrderBook(ctx context.Context, caller orderbook.AccountID, id orderbook.OrderBookID) (orderbook.OrderBook, error) {
	defer s.lock()()

	if id.Base == id.Quote {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %s", orderbook.ErrForbiddenSameAssets, id)
	}
	if numeraire := s.col.Assets.BaseCurrency(id.DEX); id.Quote != numeraire {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %s is not %s", orderbook.ErrNotAllowedQuoteAsset, id.Quote, numeraire)
	}
	exists, err := s.col.Assets.AssetExists(ctx, id.Base)
	if err != nil {
		return orderbook.OrderBook{}, err
	}
	if !exists {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %s does not exist", orderbook.ErrDisallowedBaseAsset, id.Base)
	}
	if err := s.col.Pairs.EnsureTradingPairExists(ctx, id.DEX, id.Quote, id.Base); err != nil {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %v", orderbook.ErrTradingPairMissing, err)
	}

	cache := storage.NewCache(s.store)
	if _, err := cache.GetOrderBook(id); err == nil {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %s", orderbook.ErrOrderBookAlreadyExists, id)
	} else if !errors.Is(err, orderbook.ErrUnknownOrderBook) {
		return orderbook.OrderBook{}, err
	}

	precision, err := s.col.Assets.Precision(ctx, id.Base)
	if err != nil {
		return orderbook.OrderBook{}, err
	}
	var book orderbook.OrderBook
	if precision == 0 {
		held, err := s.col.Assets.TotalBalance(ctx, id.Base, caller)
		if err != nil {
			return orderbook.OrderBook{}, err
		}
		if !held.IsPositive() {
			return orderbook.OrderBook{}, fmt.Errorf("%w: %s", orderbook.ErrUserHasNoNFT, id.Base)
		}
		book = orderbook.NewUnitOrderBook(id, s.sizing.tick, s.sizing.maxLot.Ceil())
	} else {
		book = orderbook.NewOrderBook(id, s.sizing.tick, s.sizing.step, s.sizing.minLot, s.sizing.maxLot)
	}

	if _, err := s.col.Tech.RegisterTechAccount(ctx, id); err != nil {
		return orderbook.OrderBook{}, fmt.Errorf("registering escrow for %s: %w", id, err)
	}
	if err := cache.PutOrderBook(book); err != nil {
		return orderbook.OrderBook{}, err
	}
	if err := cache.Commit(); err != nil {
		return orderbook.OrderBook{}, err
	}
	s.metrics.OpenBooks.Inc()
	s.emit(orderbook.Event{Kind: orderbook.EventOrderBookCreated, BookID: id, Owner: caller})
	s.log.Info("order book created", zap.String("book", id.String()), zap.String("status", string(book.Status)))
	return book, nil
}

// DeleteOrderBook forcibly cancels every resting order (best effort, failures
// are counted rather than fatal), removes the book and deregisters its
// escrow account. Privileged.
func (s *Service) DeleteOrderBook(ctx context.Context, caller orderbook.AccountID, id orderbook.OrderBookID) error {
	if err := s.ensureAuthority(caller); err != nil {
		return err
	}
	defer s.lock()()

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return err
	}
	applied, failed, err := book.ForceCancelAll(cache, s.params)
	if err != nil {
		return err
	}
	payment := orderbook.NewPayment(id)
	for _, mc := range applied {
		if err := payment.Merge(mc.Payment); err != nil {
			return err
		}
	}
	if err := payment.Execute(ctx, s.col.Ledger, s.col.Tech.TechAccountFor(id)); err != nil {
		return err
	}
	if !payment.IsEmpty() {
		s.metrics.SettlementBatches.Inc()
	}
	if err := cache.DeleteOrderBook(id); err != nil {
		return err
	}
	if err := cache.Commit(); err != nil {
		return err
	}
	if err := s.col.Tech.DeregisterTechAccount(ctx, id); err != nil {
		s.log.Warn("deregistering escrow account", zap.String("book", id.String()), zap.Error(err))
	}
	s.metrics.OpenBooks.Dec()
	s.metrics.OrdersCanceled.Add(float64(len(applied)))
	for _, mc := range applied {
		for _, order := range mc.ToCancel {
			s.emit(orderbook.Event{
				Kind: orderbook.EventOrderCanceled, BookID: id,
				OrderID: order.ID, Owner: order.Owner, Amount: order.Amount,
				Reason: orderbook.CancelForced,
			})
		}
	}
	s.emit(orderbook.Event{Kind: orderbook.EventOrderBookDeleted, BookID: id})
	s.log.Info("order book deleted",
		zap.String("book", id.String()),
		zap.Int("orders_canceled", len(applied)),
		zap.Int("cancel_failures", failed))
	return nil
}

// UpdateOrderBook changes a book's tick and lot sizing. Privileged. A resting
// order whose remaining amount exceeds the new max lot is trimmed in place
// and the freed escrow returned to its owner; everything else stays as
// placed.
func (s *Service) UpdateOrderBook(ctx context.Context, caller orderbook.AccountID, id orderbook.OrderBookID, tick, step, minLot, maxLot decimal.Decimal) error {
	if err := s.ensureAuthority(caller); err != nil {
		return err
	}
	defer s.lock()()

	if !tick.IsPositive() {
		return fmt.Errorf("%w: tick %s", orderbook.ErrInvalidTickSize, tick)
	}
	if !step.IsPositive() || !minLot.IsPositive() || minLot.GreaterThan(maxLot) {
		return fmt.Errorf("%w: step %s, min %s, max %s", orderbook.ErrInvalidLotSize, step, minLot, maxLot)
	}
	if !minLot.Mod(step).IsZero() || !maxLot.Mod(step).IsZero() {
		return fmt.Errorf("%w: lot bounds must be multiples of step %s", orderbook.ErrInvalidLotSize, step)
	}

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return err
	}
	book.TickSize = tick
	book.StepLotSize = step
	book.MinLotSize = minLot
	book.MaxLotSize = maxLot

	orders, err := cache.AllLimitOrders(id)
	if err != nil {
		return err
	}
	mc := orderbook.NewMarketChange(id)
	for _, order := range orders {
		if order.Amount.LessThanOrEqual(maxLot) {
			continue
		}
		trimmed := order
		trimmed.Amount = maxLot
		freed := order.RemainingLocked().Value.Sub(trimmed.RemainingLocked().Value)
		mc.Payment.Unlock(order.RemainingLocked().AssociatedAsset(id), order.Owner, freed)
		mc.ToForceUpdate[order.ID] = trimmed
	}
	if err := book.Apply(cache, s.params, mc); err != nil {
		return err
	}
	if err := s.settle(ctx, id, mc); err != nil {
		return err
	}
	if err := cache.Commit(); err != nil {
		return err
	}
	s.emit(orderbook.Event{Kind: orderbook.EventOrderBookUpdated, BookID: id})
	s.log.Info("order book sizing updated",
		zap.String("book", id.String()), zap.Int("orders_trimmed", len(mc.ToForceUpdate)))
	return nil
}

// ChangeOrderBookStatus moves a book among Trading, PlacementOnly and Stop.
// Privileged.
func (s *Service) ChangeOrderBookStatus(ctx context.Context, caller orderbook.AccountID, id orderbook.OrderBookID, status orderbook.OrderBookStatus) error {
	if err := s.ensureAuthority(caller); err != nil {
		return err
	}
	switch status {
	case orderbook.StatusTrading, orderbook.StatusPlacementOnly, orderbook.StatusStop:
	default:
		return fmt.Errorf("invalid order book status %q", status)
	}
	defer s.lock()()

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return err
	}
	book.Status = status
	if err := cache.PutOrderBook(book); err != nil {
		return err
	}
	if err := cache.Commit(); err != nil {
		return err
	}
	s.emit(orderbook.Event{Kind: orderbook.EventOrderBookStatusChanged, BookID: id})
	s.log.Info("order book status changed", zap.String("book", id.String()), zap.String("status", string(status)))
	return nil
}

// PlacementResult reports what happened to a placed limit order: the filled
// volumes from immediate matching and whether a remainder rested.
type PlacementResult struct {
	OrderID     orderbook.OrderID
	Rested      bool
	FilledBase  decimal.Decimal
	FilledQuote decimal.Decimal
}

// PlaceLimitOrder validates and places a limit order, matching it first when
// its price crosses the opposite side. Funds for the resting remainder are
// locked into escrow.
func (s *Service) PlaceLimitOrder(ctx context.Context, owner orderbook.AccountID, id orderbook.OrderBookID, side orderbook.Side, price, amount decimal.Decimal, lifespan time.Duration) (PlacementResult, error) {
	defer s.lock()()
	started := time.Now()

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return PlacementResult{}, err
	}
	order := orderbook.NewLimitOrder(s.params, book.NextID(), owner, side, price, amount,
		s.col.Clock.Now(), lifespan, s.col.Clock.BlockNumber())
	mc, err := book.PlaceLimitOrder(cache, s.params, order)
	if err != nil {
		return PlacementResult{}, err
	}
	if err := book.Apply(cache, s.params, mc); err != nil {
		return PlacementResult{}, err
	}
	if err := s.settle(ctx, id, mc); err != nil {
		return PlacementResult{}, err
	}
	if err := cache.Commit(); err != nil {
		return PlacementResult{}, err
	}
	s.metrics.MatchDuration.Observe(time.Since(started).Seconds())

	res := PlacementResult{OrderID: order.ID}
	res.FilledBase, res.FilledQuote = dealVolumes(side, mc)
	_, res.Rested = mc.ToPlace[order.ID]

	s.metrics.OrdersPlaced.Inc()
	s.emitFills(id, mc)
	s.emit(orderbook.Event{
		Kind: orderbook.EventOrderPlaced, BookID: id,
		OrderID: order.ID, Owner: owner, Amount: amount,
	})
	s.log.Debug("limit order placed",
		zap.String("book", id.String()),
		zap.Uint64("order_id", uint64(order.ID)),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.String("amount", amount.String()),
		zap.Bool("rested", res.Rested))
	return res, nil
}

func dealVolumes(takerSide orderbook.Side, mc *orderbook.MarketChange) (base, quote decimal.Decimal) {
	base, quote = decimal.Zero, decimal.Zero
	if mc.DealInput == nil || mc.DealOutput == nil {
		return
	}
	if takerSide == orderbook.SideBuy {
		return mc.DealOutput.Value, mc.DealInput.Value
	}
	return mc.DealInput.Value, mc.DealOutput.Value
}

// CancelLimitOrder cancels the caller's own resting order and returns the
// escrowed remainder. Canceling someone else's order is an authorization
// error, not a silent no-op.
func (s *Service) CancelLimitOrder(ctx context.Context, caller orderbook.AccountID, id orderbook.OrderBookID, orderID orderbook.OrderID) error {
	defer s.lock()()

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return err
	}
	order, err := cache.GetLimitOrder(id, orderID)
	if err != nil {
		return err
	}
	if order.Owner != caller {
		return fmt.Errorf("%w: order %d", orderbook.ErrUnauthorized, orderID)
	}
	mc, err := book.CancelLimitOrder(cache, order, orderbook.CancelManual)
	if err != nil {
		return err
	}
	if err := book.Apply(cache, s.params, mc); err != nil {
		return err
	}
	if err := s.settle(ctx, id, mc); err != nil {
		return err
	}
	if err := cache.Commit(); err != nil {
		return err
	}
	s.metrics.OrdersCanceled.Inc()
	s.emit(orderbook.Event{
		Kind: orderbook.EventOrderCanceled, BookID: id,
		OrderID: orderID, Owner: caller, Amount: order.Amount,
		Reason: orderbook.CancelManual,
	})
	s.log.Debug("limit order canceled",
		zap.String("book", id.String()), zap.Uint64("order_id", uint64(orderID)))
	return nil
}

// ExchangeMarketOrder fills a market order against resting liquidity,
// all-or-nothing, and returns what the taker received.
func (s *Service) ExchangeMarketOrder(ctx context.Context, owner orderbook.AccountID, id orderbook.OrderBookID, side orderbook.Side, amount orderbook.OrderAmount) (orderbook.OrderAmount, error) {
	defer s.lock()()
	started := time.Now()

	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return orderbook.OrderAmount{}, err
	}
	mc, err := book.ExchangeMarketOrder(cache, s.params, orderbook.MarketOrder{Owner: owner, Side: side, Amount: amount})
	if err != nil {
		return orderbook.OrderAmount{}, err
	}
	if err := book.Apply(cache, s.params, mc); err != nil {
		return orderbook.OrderAmount{}, err
	}
	if err := s.settle(ctx, id, mc); err != nil {
		return orderbook.OrderAmount{}, err
	}
	if err := cache.Commit(); err != nil {
		return orderbook.OrderAmount{}, err
	}
	s.metrics.MatchDuration.Observe(time.Since(started).Seconds())
	s.emitFills(id, mc)
	s.emit(orderbook.Event{
		Kind: orderbook.EventMarketOrderExecuted, BookID: id,
		Owner: owner, Amount: amount.Value,
	})
	if mc.DealOutput == nil {
		return orderbook.OrderAmount{}, fmt.Errorf("market order produced no deal output for %s", id)
	}
	return *mc.DealOutput, nil
}

// Quote answers how much a market order of the given size would receive,
// without changing any state.
func (s *Service) Quote(ctx context.Context, id orderbook.OrderBookID, side orderbook.Side, amount orderbook.OrderAmount) (orderbook.OrderAmount, error) {
	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return orderbook.OrderAmount{}, err
	}
	return book.QuoteExchange(cache, s.params, side, amount)
}

// settle executes the change's payment as one ledger batch.
func (s *Service) settle(ctx context.Context, id orderbook.OrderBookID, mc *orderbook.MarketChange) error {
	if mc.Payment == nil || mc.Payment.IsEmpty() {
		return nil
	}
	if err := mc.Payment.Execute(ctx, s.col.Ledger, s.col.Tech.TechAccountFor(id)); err != nil {
		return err
	}
	s.metrics.SettlementBatches.Inc()
	return nil
}

func (s *Service) emitFills(id orderbook.OrderBookID, mc *orderbook.MarketChange) {
	for _, fill := range mc.ToPartExecute {
		s.metrics.Fills.Inc()
		s.emit(orderbook.Event{
			Kind: orderbook.EventOrderFilled, BookID: id,
			OrderID: fill.Order.ID, Owner: fill.Order.Owner, Amount: fill.Filled,
		})
	}
	for _, order := range mc.ToFullExecute {
		s.metrics.Fills.Inc()
		s.emit(orderbook.Event{
			Kind: orderbook.EventOrderFilled, BookID: id,
			OrderID: order.ID, Owner: order.Owner, Amount: order.Amount,
		})
	}
}

// GetOrderBook returns one book's configuration and counters.
func (s *Service) GetOrderBook(id orderbook.OrderBookID) (orderbook.OrderBook, error) {
	return s.store.GetOrderBook(id)
}

// ListOrderBooks returns every registered book.
func (s *Service) ListOrderBooks() ([]orderbook.OrderBook, error) {
	return s.store.ListOrderBooks()
}

// GetLimitOrder returns one resting order.
func (s *Service) GetLimitOrder(id orderbook.OrderBookID, orderID orderbook.OrderID) (orderbook.LimitOrder, error) {
	return s.store.GetLimitOrder(id, orderID)
}

// UserOrders returns the caller's resting orders in a book.
func (s *Service) UserOrders(id orderbook.OrderBookID, owner orderbook.AccountID) ([]orderbook.LimitOrder, error) {
	ids, err := s.store.GetUserOrders(id, owner)
	if err != nil {
		return nil, err
	}
	orders := make([]orderbook.LimitOrder, 0, len(ids))
	for _, oid := range ids {
		order, err := s.store.GetLimitOrder(id, oid)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Depth returns aggregated bid and ask levels from the best price outward.
func (s *Service) Depth(id orderbook.OrderBookID, limit int) (bids, asks []orderbook.PriceLevel, err error) {
	if limit <= 0 || limit > s.depth {
		limit = s.depth
	}
	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return nil, nil, err
	}
	return book.Depth(cache, s.params, limit)
}

// BestBid and BestAsk answer spread queries off the aggregated sides.
func (s *Service) BestBid(id orderbook.OrderBookID) (decimal.Decimal, bool, error) {
	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return decimal.Zero, false, err
	}
	return book.BestBid(cache, s.params)
}

func (s *Service) BestAsk(id orderbook.OrderBookID) (decimal.Decimal, bool, error) {
	cache := storage.NewCache(s.store)
	book, err := cache.GetOrderBook(id)
	if err != nil {
		return decimal.Zero, false, err
	}
	return book.BestAsk(cache, s.params)
}

// OnBlockStart runs the weight-bounded expiration housekeeping for the
// current block. One stuck order only costs its own expiration: its failure
// is reported as an event, never aborts the block.
func (s *Service) OnBlockStart(ctx context.Context) error {
	defer s.lock()()

	now := s.col.Clock.BlockNumber()
	meter := orderbook.NewWeightMeter(s.budget)
	cache := storage.NewCache(s.store)

	err := orderbook.ProcessExpirations(cache, now, meter, s.weights, func(entry orderbook.ExpirationEntry) {
		s.expireOrder(ctx, cache, entry)
	})
	if err != nil {
		return err
	}
	if err := cache.Commit(); err != nil {
		return err
	}
	s.log.Debug("expiration housekeeping done",
		zap.Uint64("block", uint64(now)), zap.Uint64("weight_used", meter.Used()))
	return nil
}

// expireOrder cancels one scheduled order through the same path as explicit
// cancellation. Each entry runs on its own nested cache so a failing
// expiration drops only its own writes and the rest of the agenda still
// proceeds. A schedule entry pointing at a missing order or book means the
// agenda and the order set disagree; that is an invariant violation
// elsewhere, handled as a logged no-op.
func (s *Service) expireOrder(ctx context.Context, cache *storage.Cache, entry orderbook.ExpirationEntry) {
	inner := storage.NewCache(&cache.Store)

	order, err := inner.GetLimitOrder(entry.BookID, entry.OrderID)
	if err != nil {
		s.log.Debug("expiration schedule references missing order",
			zap.String("book", entry.BookID.String()), zap.Uint64("order_id", uint64(entry.OrderID)))
		return
	}
	book, err := inner.GetOrderBook(entry.BookID)
	if err != nil {
		s.log.Debug("expiration schedule references missing book",
			zap.String("book", entry.BookID.String()))
		return
	}
	fail := func(err error) {
		s.metrics.ExpirationFailures.Inc()
		s.emit(orderbook.Event{
			Kind: orderbook.EventExpirationFailure, BookID: entry.BookID,
			OrderID: entry.OrderID, Owner: order.Owner, Error: err.Error(),
		})
		s.log.Warn("expiration failed",
			zap.String("book", entry.BookID.String()),
			zap.Uint64("order_id", uint64(entry.OrderID)), zap.Error(err))
	}

	mc, err := book.CancelLimitOrder(inner, order, orderbook.CancelExpired)
	if err != nil {
		fail(err)
		return
	}
	if err := book.Apply(inner, s.params, mc); err != nil {
		fail(err)
		return
	}
	if err := s.settle(ctx, entry.BookID, mc); err != nil {
		fail(err)
		return
	}
	if err := inner.Commit(); err != nil {
		fail(err)
		return
	}
	s.metrics.OrdersExpired.Inc()
	s.emit(orderbook.Event{
		Kind: orderbook.EventOrderExpired, BookID: entry.BookID,
		OrderID: entry.OrderID, Owner: order.Owner, Amount: order.Amount,
		Reason: orderbook.CancelExpired,
	})
}
