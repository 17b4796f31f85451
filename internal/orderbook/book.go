package orderbook

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// CancelReason distinguishes why an order left the book.
type CancelReason string

const (
	CancelManual  CancelReason = "MANUAL"
	CancelExpired CancelReason = "EXPIRED"
	CancelForced  CancelReason = "FORCED"
)

// OrderBook is one market's configuration and counters. The matching,
// placement and cancellation logic lives here; all state is read and written
// through the DataLayer passed into each operation, so one operation's writes
// commit together or not at all.
type OrderBook struct {
	ID          OrderBookID     `json:"order_book_id"`
	Status      OrderBookStatus `json:"status"`
	NextOrderID OrderID         `json:"next_order_id"`
	TickSize    decimal.Decimal `json:"tick_size"`
	StepLotSize decimal.Decimal `json:"step_lot_size"`
	MinLotSize  decimal.Decimal `json:"min_lot_size"`
	MaxLotSize  decimal.Decimal `json:"max_lot_size"`
}

// NewOrderBook builds a Trading book for a divisible (regular) base asset.
func NewOrderBook(id OrderBookID, tick, step, minLot, maxLot decimal.Decimal) OrderBook {
	return OrderBook{
		ID:          id,
		Status:      StatusTrading,
		TickSize:    tick,
		StepLotSize: step,
		MinLotSize:  minLot,
		MaxLotSize:  maxLot,
	}
}

// NewUnitOrderBook builds a book for an indivisible (NFT) base asset: unit
// lot, whole-piece trading only.
func NewUnitOrderBook(id OrderBookID, tick, maxLot decimal.Decimal) OrderBook {
	one := decimal.NewFromInt(1)
	return OrderBook{
		ID:          id,
		Status:      StatusTrading,
		TickSize:    tick,
		StepLotSize: one,
		MinLotSize:  one,
		MaxLotSize:  maxLot,
	}
}

// NextID allocates the next monotonic order id. The caller persists the book
// through the same MarketChange application that places the order.
func (b *OrderBook) NextID() OrderID {
	b.NextOrderID++
	return b.NextOrderID
}

func (b *OrderBook) AllowsPlacement() bool { return b.Status == StatusTrading }

func (b *OrderBook) AllowsCancellation() bool {
	return b.Status == StatusTrading || b.Status == StatusPlacementOnly
}

func (b *OrderBook) AllowsTrading() bool { return b.Status == StatusTrading }

// AlignAmount rounds base volume down to a whole number of lot steps.
func (b *OrderBook) AlignAmount(v decimal.Decimal) decimal.Decimal {
	if b.StepLotSize.IsZero() {
		return v
	}
	return v.Div(b.StepLotSize).Floor().Mul(b.StepLotSize)
}

func (b *OrderBook) ensurePriceAligned(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidLimitPrice, price)
	}
	if !price.Mod(b.TickSize).IsZero() {
		return fmt.Errorf("%w: %s not a multiple of tick %s", ErrInvalidLimitPrice, price, b.TickSize)
	}
	return nil
}

func (b *OrderBook) ensureAmountAligned(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidOrderAmount, amount)
	}
	if amount.LessThan(b.MinLotSize) || amount.GreaterThan(b.MaxLotSize) {
		return fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidOrderAmount, amount, b.MinLotSize, b.MaxLotSize)
	}
	if !amount.Mod(b.StepLotSize).IsZero() {
		return fmt.Errorf("%w: %s not a multiple of step %s", ErrInvalidOrderAmount, amount, b.StepLotSize)
	}
	return nil
}

func (b *OrderBook) loadSide(data DataLayer, p Params, side Side) (*MarketSide, error) {
	levels, err := data.GetAggregatedSide(b.ID, side)
	if err != nil {
		return nil, err
	}
	return MarketSideFromLevels(side, p.MaxSidePriceCount, levels), nil
}

// ensurePriceNearSpread rejects prices further than MaxPriceShift from the
// best opposite-side price. With no opposite liquidity anything goes.
func (b *OrderBook) ensurePriceNearSpread(price decimal.Decimal, opposite *MarketSide, p Params) error {
	best, ok := opposite.BestPrice()
	if !ok || p.MaxPriceShift.IsZero() {
		return nil
	}
	shift := price.Sub(best).Abs().Div(best)
	if shift.GreaterThan(p.MaxPriceShift) {
		return fmt.Errorf("%w: price %s vs best %s", ErrPriceTooFarFromSpread, price, best)
	}
	return nil
}

// EnsureLimitOrderValid runs every book-dependent check on a candidate order.
func (b *OrderBook) EnsureLimitOrderValid(p Params, order LimitOrder) error {
	if err := order.EnsureValid(p); err != nil {
		return err
	}
	if err := b.ensurePriceAligned(order.Price); err != nil {
		return err
	}
	return b.ensureAmountAligned(order.OriginalAmount)
}

// PlaceLimitOrder validates the order, matches it against the opposite side
// when its price crosses resting liquidity, and rests the remainder, locking
// the corresponding funds into escrow. The returned MarketChange carries
// every mutation and must be applied via Apply by the caller.
func (b *OrderBook) PlaceLimitOrder(data DataLayer, p Params, order LimitOrder) (*MarketChange, error) {
	if !b.AllowsPlacement() {
		return nil, fmt.Errorf("%w: book %s is %s", ErrPlacementForbidden, b.ID, b.Status)
	}
	if err := b.EnsureLimitOrderValid(p, order); err != nil {
		return nil, err
	}
	userOrders, err := data.GetUserOrders(b.ID, order.Owner)
	if err != nil {
		return nil, err
	}
	if len(userOrders) >= p.MaxOpenOrdersPerUser {
		return nil, fmt.Errorf("%w: %d orders", ErrUserOrderLimitReached, len(userOrders))
	}
	opposite, err := b.loadSide(data, p, order.Side.Opposite())
	if err != nil {
		return nil, err
	}
	if err := b.ensurePriceNearSpread(order.Price, opposite, p); err != nil {
		return nil, err
	}

	mc := NewMarketChange(b.ID)
	rest := order
	if crosses(order.Side, order.Price, opposite) {
		filledBase, filledQuote, err := b.match(data, p, mc, order.Owner, order.Side,
			BaseAmount(order.Amount), &order.Price)
		if err != nil && !errors.Is(err, ErrNotEnoughLiquidity) {
			return nil, err
		}
		if filledBase.IsPositive() {
			setDealAmounts(mc, order.Side, filledBase, filledQuote)
		}
		rest.Amount = order.Amount.Sub(filledBase)
		rest.OriginalAmount = rest.Amount
	}
	if rest.Amount.IsPositive() && rest.Amount.GreaterThanOrEqual(b.MinLotSize) {
		locked := rest.RemainingLocked()
		mc.Payment.Lock(locked.AssociatedAsset(b.ID), rest.Owner, locked.Value)
		mc.ToPlace[rest.ID] = rest
	}
	return mc, nil
}

func crosses(side Side, price decimal.Decimal, opposite *MarketSide) bool {
	best, ok := opposite.BestPrice()
	if !ok {
		return false
	}
	if side == SideBuy {
		return price.GreaterThanOrEqual(best)
	}
	return price.LessThanOrEqual(best)
}

// setDealAmounts records what the taker paid and received.
func setDealAmounts(mc *MarketChange, takerSide Side, base, quote decimal.Decimal) {
	var in, out OrderAmount
	if takerSide == SideBuy {
		in, out = QuoteAmount(quote), BaseAmount(base)
	} else {
		in, out = BaseAmount(base), QuoteAmount(quote)
	}
	mc.DealInput, mc.DealOutput = &in, &out
	mc.MarketInput, mc.MarketOutput = &in, &out
}

// ExchangeMarketOrder fills a market order against resting liquidity. The
// fill is all-or-nothing: if eligible levels cannot satisfy the full target
// the whole operation fails with ErrNotEnoughLiquidity and no state changes.
func (b *OrderBook) ExchangeMarketOrder(data DataLayer, p Params, order MarketOrder) (*MarketChange, error) {
	if !b.AllowsTrading() {
		return nil, fmt.Errorf("%w: book %s is %s", ErrTradingForbidden, b.ID, b.Status)
	}
	if err := order.EnsureValid(); err != nil {
		return nil, err
	}
	if order.Amount.IsBase() {
		if err := b.ensureAmountAligned(order.Amount.Value); err != nil {
			return nil, err
		}
	}
	mc := NewMarketChange(b.ID)
	base, quote, err := b.match(data, p, mc, order.Owner, order.Side, order.Amount, nil)
	if err != nil {
		return nil, err
	}
	setDealAmounts(mc, order.Side, base, quote)
	return mc, nil
}

// QuoteExchange answers how much a market order would receive, without
// mutating any state.
func (b *OrderBook) QuoteExchange(data DataLayer, p Params, side Side, amount OrderAmount) (OrderAmount, error) {
	mc := NewMarketChange(b.ID)
	base, quote, err := b.match(data, p, mc, AccountID{}, side, amount, nil)
	if err != nil {
		return OrderAmount{}, err
	}
	if side == SideBuy {
		return BaseAmount(base), nil
	}
	return QuoteAmount(quote), nil
}

// match walks the opposite side's levels from best price outward, draining
// resting orders in FIFO order within each price. It accumulates fills and
// payments into mc without touching storage; limitPrice nil means a pure
// market order. Returns total base and quote volume filled; when the target
// cannot be satisfied across eligible levels the error is
// ErrNotEnoughLiquidity and mc must be discarded.
func (b *OrderBook) match(data DataLayer, p Params, mc *MarketChange, taker AccountID, takerSide Side, target OrderAmount, limitPrice *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	makerSide := takerSide.Opposite()
	side, err := b.loadSide(data, p, makerSide)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	remaining := target.Value
	filledBase := decimal.Zero
	filledQuote := decimal.Zero
	dust := false
	var lastPrice decimal.Decimal
	var iterErr error

	side.IterBest(func(lvl PriceLevel) bool {
		lastPrice = lvl.Price
		if limitPrice != nil {
			if takerSide == SideBuy && lvl.Price.GreaterThan(*limitPrice) {
				return false
			}
			if takerSide == SideSell && lvl.Price.LessThan(*limitPrice) {
				return false
			}
		}
		queue, err := data.GetPriceQueue(b.ID, makerSide, lvl.Price)
		if err != nil {
			iterErr = err
			return false
		}
		for _, makerID := range queue {
			maker, err := data.GetLimitOrder(b.ID, makerID)
			if err != nil {
				iterErr = err
				return false
			}
			want := remaining
			if target.IsQuote() {
				want = b.AlignAmount(remaining.Div(lvl.Price))
				if want.IsZero() {
					// remainder is below one lot step at this price: the
					// target is as filled as the book's granularity allows
					dust = true
					return false
				}
			}
			fill := want
			if fill.GreaterThan(maker.Amount) {
				fill = maker.Amount
			}
			quote := fill.Mul(lvl.Price)
			b.settleFill(mc, taker, maker, fill, quote)
			if fill.Equal(maker.Amount) {
				mc.ToFullExecute[maker.ID] = maker
			} else {
				updated := maker
				if err := updated.Fill(fill); err != nil {
					iterErr = err
					return false
				}
				mc.ToPartExecute[maker.ID] = PartialFill{Order: updated, Filled: fill}
			}
			filledBase = filledBase.Add(fill)
			filledQuote = filledQuote.Add(quote)
			if target.IsBase() {
				remaining = remaining.Sub(fill)
			} else {
				remaining = remaining.Sub(quote)
			}
			if remaining.IsZero() {
				return false
			}
		}
		return true
	})
	if iterErr != nil {
		return decimal.Zero, decimal.Zero, iterErr
	}
	if remaining.IsPositive() && !dust && target.IsQuote() && lastPrice.IsPositive() {
		// the walk drained its last queue with a sub-lot-step quote
		// remainder left over
		dust = b.AlignAmount(remaining.Div(lastPrice)).IsZero()
	}
	if remaining.IsPositive() && !dust {
		return filledBase, filledQuote, fmt.Errorf("%w: %s unfilled of %s", ErrNotEnoughLiquidity, remaining, target)
	}
	return filledBase, filledQuote, nil
}

// settleFill books both legs of one fill through escrow. The maker's side of
// the trade was locked at placement, so only the taker's input is locked
// here; both parties are paid out of escrow.
func (b *OrderBook) settleFill(mc *MarketChange, taker AccountID, maker LimitOrder, base, quote decimal.Decimal) {
	if maker.Side == SideSell {
		// taker buys: pays quote, receives the maker's escrowed base
		mc.Payment.Lock(b.ID.Quote, taker, quote)
		mc.Payment.Unlock(b.ID.Quote, maker.Owner, quote)
		mc.Payment.Unlock(b.ID.Base, taker, base)
	} else {
		// taker sells: pays base, receives the maker's escrowed quote
		mc.Payment.Lock(b.ID.Base, taker, base)
		mc.Payment.Unlock(b.ID.Base, maker.Owner, base)
		mc.Payment.Unlock(b.ID.Quote, taker, quote)
	}
}

// CancelLimitOrder builds the change that removes a resting order and
// returns its remaining escrowed funds to the owner. Ownership is checked by
// the caller: the expiration scheduler and forced book deletion share this
// unchecked path.
func (b *OrderBook) CancelLimitOrder(data DataLayer, order LimitOrder, reason CancelReason) (*MarketChange, error) {
	if reason == CancelManual && !b.AllowsCancellation() {
		return nil, fmt.Errorf("%w: book %s is %s", ErrCancellationForbidden, b.ID, b.Status)
	}
	mc := NewMarketChange(b.ID)
	locked := order.RemainingLocked()
	mc.Payment.Unlock(locked.AssociatedAsset(b.ID), order.Owner, locked.Value)
	mc.ToCancel[order.ID] = order
	mc.IgnoreUnschedule = reason == CancelExpired
	return mc, nil
}

// Apply replays a MarketChange against the data layer: order records, price
// queues, aggregated sides, per-user indices and the expiration agenda all
// move together. The caller wraps data in the write-back cache, so a failure
// anywhere leaves no durable effect.
func (b *OrderBook) Apply(data DataLayer, p Params, mc *MarketChange) error {
	bids, err := b.loadSide(data, p, SideBuy)
	if err != nil {
		return err
	}
	asks, err := b.loadSide(data, p, SideSell)
	if err != nil {
		return err
	}
	sideOf := func(s Side) *MarketSide {
		if s == SideBuy {
			return bids
		}
		return asks
	}

	for id, fill := range mc.ToPartExecute {
		if err := data.PutLimitOrder(b.ID, fill.Order); err != nil {
			return err
		}
		if err := sideOf(fill.Order.Side).Remove(fill.Order.Price, fill.Filled); err != nil {
			return fmt.Errorf("partial fill of order %d: %w", id, err)
		}
	}
	for id, order := range mc.ToFullExecute {
		if err := b.removeOrder(data, sideOf(order.Side), order, mc.IgnoreUnschedule); err != nil {
			return fmt.Errorf("full execution of order %d: %w", id, err)
		}
	}
	for id, order := range mc.ToCancel {
		if err := b.removeOrder(data, sideOf(order.Side), order, mc.IgnoreUnschedule); err != nil {
			return fmt.Errorf("cancellation of order %d: %w", id, err)
		}
	}
	for id, order := range mc.ToForceUpdate {
		if err := b.forceUpdate(data, sideOf(order.Side), order); err != nil {
			return fmt.Errorf("force update of order %d: %w", id, err)
		}
	}
	for id, order := range mc.ToPlace {
		if err := b.insertOrder(data, p, sideOf(order.Side), order); err != nil {
			return fmt.Errorf("placement of order %d: %w", id, err)
		}
	}

	if err := data.PutAggregatedSide(b.ID, SideBuy, bids.Levels()); err != nil {
		return err
	}
	if err := data.PutAggregatedSide(b.ID, SideSell, asks.Levels()); err != nil {
		return err
	}
	return data.PutOrderBook(*b)
}

// insertOrder inserts a resting order into storage, the price queue, the
// aggregated side, the owner index and the expiration agenda atomically with
// the rest of the change.
func (b *OrderBook) insertOrder(data DataLayer, p Params, side *MarketSide, order LimitOrder) error {
	if _, err := data.GetLimitOrder(b.ID, order.ID); err == nil {
		return fmt.Errorf("%w: id %d", ErrLimitOrderAlreadyExists, order.ID)
	} else if !errors.Is(err, ErrUnknownLimitOrder) {
		return err
	}
	queue, err := data.GetPriceQueue(b.ID, order.Side, order.Price)
	if err != nil {
		return err
	}
	if len(queue) >= p.MaxLimitOrdersForPrice {
		return fmt.Errorf("%w: %d orders at %s", ErrPriceOrderLimitReached, len(queue), order.Price)
	}
	owned, err := data.GetUserOrders(b.ID, order.Owner)
	if err != nil {
		return err
	}
	if len(owned) >= p.MaxOpenOrdersPerUser {
		return fmt.Errorf("%w: %d orders", ErrUserOrderLimitReached, len(owned))
	}
	if err := side.Add(order.Price, order.Amount); err != nil {
		return err
	}
	if err := data.PutLimitOrder(b.ID, order); err != nil {
		return err
	}
	if err := data.PutPriceQueue(b.ID, order.Side, order.Price, append(queue, order.ID)); err != nil {
		return err
	}
	if err := data.PutUserOrders(b.ID, order.Owner, append(owned, order.ID)); err != nil {
		return err
	}
	return ScheduleExpiration(data, p, order.ExpiresAt, ExpirationEntry{BookID: b.ID, OrderID: order.ID})
}

// removeOrder removes a resting order from every index. A failed unschedule
// is fatal unless tolerated (the scheduler already drained the entry).
func (b *OrderBook) removeOrder(data DataLayer, side *MarketSide, order LimitOrder, ignoreUnschedule bool) error {
	if err := data.DeleteLimitOrder(b.ID, order.ID); err != nil {
		return err
	}
	queue, err := data.GetPriceQueue(b.ID, order.Side, order.Price)
	if err != nil {
		return err
	}
	if err := data.PutPriceQueue(b.ID, order.Side, order.Price, removeID(queue, order.ID)); err != nil {
		return err
	}
	if err := side.Remove(order.Price, order.Amount); err != nil {
		return err
	}
	owned, err := data.GetUserOrders(b.ID, order.Owner)
	if err != nil {
		return err
	}
	if err := data.PutUserOrders(b.ID, order.Owner, removeID(owned, order.ID)); err != nil {
		return err
	}
	err = UnscheduleExpiration(data, order.ExpiresAt, ExpirationEntry{BookID: b.ID, OrderID: order.ID})
	if err != nil && !ignoreUnschedule {
		return err
	}
	return nil
}

// forceUpdate trims a resting order's amount in place, keeping the ladder in
// sync, without removing it from any index.
func (b *OrderBook) forceUpdate(data DataLayer, side *MarketSide, order LimitOrder) error {
	current, err := data.GetLimitOrder(b.ID, order.ID)
	if err != nil {
		return err
	}
	delta := current.Amount.Sub(order.Amount)
	if delta.IsNegative() {
		return fmt.Errorf("%w: force update grows order %d", ErrInvalidOrderAmount, order.ID)
	}
	if delta.IsPositive() {
		if err := side.Remove(order.Price, delta); err != nil {
			return err
		}
	}
	return data.PutLimitOrder(b.ID, order)
}

func removeID(ids []OrderID, id OrderID) []OrderID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// ForceCancelAll cancels every resting order, best effort: a per-order
// failure is counted, not fatal. Used when a book is deleted.
func (b *OrderBook) ForceCancelAll(data DataLayer, p Params) (applied []*MarketChange, failed int, err error) {
	orders, err := data.AllLimitOrders(b.ID)
	if err != nil {
		return nil, 0, err
	}
	for _, order := range orders {
		mc, cerr := b.CancelLimitOrder(data, order, CancelForced)
		if cerr == nil {
			cerr = b.Apply(data, p, mc)
		}
		if cerr != nil {
			failed++
			continue
		}
		applied = append(applied, mc)
	}
	return applied, failed, nil
}

// BestBid and BestAsk answer quoting queries off the aggregated sides.
func (b *OrderBook) BestBid(data DataLayer, p Params) (decimal.Decimal, bool, error) {
	side, err := b.loadSide(data, p, SideBuy)
	if err != nil {
		return decimal.Zero, false, err
	}
	price, ok := side.BestPrice()
	return price, ok, nil
}

func (b *OrderBook) BestAsk(data DataLayer, p Params) (decimal.Decimal, bool, error) {
	side, err := b.loadSide(data, p, SideSell)
	if err != nil {
		return decimal.Zero, false, err
	}
	price, ok := side.BestPrice()
	return price, ok, nil
}

// Depth returns up to limit levels per side from the best price outward.
func (b *OrderBook) Depth(data DataLayer, p Params, limit int) (bids, asks []PriceLevel, err error) {
	bidSide, err := b.loadSide(data, p, SideBuy)
	if err != nil {
		return nil, nil, err
	}
	askSide, err := b.loadSide(data, p, SideSell)
	if err != nil {
		return nil, nil, err
	}
	return bidSide.Depth(limit), askSide.Depth(limit), nil
}
