package orderbook

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payment accumulates per-asset, per-account credit and debit instructions
// from potentially many matched orders into one mergeable structure. ToLock
// entries debit an account into the book's escrow; ToUnlock entries credit an
// account from escrow. Execution is a single all-or-nothing batch against the
// asset ledger.
type Payment struct {
	BookID   OrderBookID
	ToLock   map[AssetID]map[AccountID]decimal.Decimal
	ToUnlock map[AssetID]map[AccountID]decimal.Decimal
}

// NewPayment builds an empty payment for one order book.
func NewPayment(id OrderBookID) *Payment {
	return &Payment{
		BookID:   id,
		ToLock:   make(map[AssetID]map[AccountID]decimal.Decimal),
		ToUnlock: make(map[AssetID]map[AccountID]decimal.Decimal),
	}
}

func accumulate(m map[AssetID]map[AccountID]decimal.Decimal, asset AssetID, account AccountID, amount decimal.Decimal) {
	byAccount, ok := m[asset]
	if !ok {
		byAccount = make(map[AccountID]decimal.Decimal)
		m[asset] = byAccount
	}
	byAccount[account] = byAccount[account].Add(amount)
}

// Lock schedules a debit of amount from account into escrow.
func (p *Payment) Lock(asset AssetID, account AccountID, amount decimal.Decimal) {
	accumulate(p.ToLock, asset, account, amount)
}

// Unlock schedules a credit of amount from escrow to account.
func (p *Payment) Unlock(asset AssetID, account AccountID, amount decimal.Decimal) {
	accumulate(p.ToUnlock, asset, account, amount)
}

// IsEmpty reports whether the payment carries no instructions.
func (p *Payment) IsEmpty() bool { return len(p.ToLock) == 0 && len(p.ToUnlock) == 0 }

// Merge folds other into p, summing overlapping (asset, account) entries.
// Payments of different order books never merge.
func (p *Payment) Merge(other *Payment) error {
	if other == nil {
		return nil
	}
	if other.BookID != p.BookID {
		return fmt.Errorf("%w: %s vs %s", ErrPaymentBookMismatch, p.BookID, other.BookID)
	}
	for asset, byAccount := range other.ToLock {
		for account, amount := range byAccount {
			accumulate(p.ToLock, asset, account, amount)
		}
	}
	for asset, byAccount := range other.ToUnlock {
		for account, amount := range byAccount {
			accumulate(p.ToUnlock, asset, account, amount)
		}
	}
	return nil
}

// Transfers flattens the payment into ledger movements through the escrow
// account. Order across assets and accounts is unspecified; the batch as a
// whole is all-or-nothing.
func (p *Payment) Transfers(escrow AccountID) []Transfer {
	out := make([]Transfer, 0, len(p.ToLock)+len(p.ToUnlock))
	for asset, byAccount := range p.ToLock {
		for account, amount := range byAccount {
			if amount.IsZero() {
				continue
			}
			out = append(out, Transfer{Asset: asset, From: account, To: escrow, Amount: amount})
		}
	}
	for asset, byAccount := range p.ToUnlock {
		for account, amount := range byAccount {
			if amount.IsZero() {
				continue
			}
			out = append(out, Transfer{Asset: asset, From: escrow, To: account, Amount: amount})
		}
	}
	return out
}

// Execute applies the payment against the ledger as one batch.
func (p *Payment) Execute(ctx context.Context, ledger AssetLedger, escrow AccountID) error {
	transfers := p.Transfers(escrow)
	if len(transfers) == 0 {
		return nil
	}
	if err := ledger.BatchTransfer(ctx, transfers); err != nil {
		return fmt.Errorf("settle payment for %s: %w", p.BookID, err)
	}
	return nil
}

// PartialFill pairs an updated order with the base volume filled off it in
// one matching pass.
type PartialFill struct {
	Order  LimitOrder
	Filled decimal.Decimal
}

// MarketChange describes every side effect of one matching or placement pass:
// the storage mutations per order id, the payment to settle, and the
// aggregate deal amounts. Nothing is applied until the whole pass has
// succeeded; Apply on the order book then replays it atomically through the
// cached data layer.
type MarketChange struct {
	// DealInput/DealOutput are what the taker pays and receives in one deal.
	// Merging conflicting non-nil values is an error.
	DealInput  *OrderAmount
	DealOutput *OrderAmount
	// MarketInput/MarketOutput aggregate across merged changes; they sum.
	MarketInput  *OrderAmount
	MarketOutput *OrderAmount

	ToPlace       map[OrderID]LimitOrder
	ToPartExecute map[OrderID]PartialFill
	ToFullExecute map[OrderID]LimitOrder
	ToCancel      map[OrderID]LimitOrder
	ToForceUpdate map[OrderID]LimitOrder

	Payment *Payment

	// IgnoreUnschedule tolerates a failed agenda removal. Set when the
	// expiration scheduler itself cancels an order it already drained.
	IgnoreUnschedule bool
}

// NewMarketChange builds an empty change for one order book.
func NewMarketChange(id OrderBookID) *MarketChange {
	return &MarketChange{
		ToPlace:       make(map[OrderID]LimitOrder),
		ToPartExecute: make(map[OrderID]PartialFill),
		ToFullExecute: make(map[OrderID]LimitOrder),
		ToCancel:      make(map[OrderID]LimitOrder),
		ToForceUpdate: make(map[OrderID]LimitOrder),
		Payment:       NewPayment(id),
	}
}

func mergeDeal(dst **OrderAmount, src *OrderAmount) error {
	if src == nil {
		return nil
	}
	if *dst == nil {
		v := *src
		*dst = &v
		return nil
	}
	if !(*dst).Equal(*src) {
		return fmt.Errorf("%w: %s vs %s", ErrDealAmountConflict, **dst, *src)
	}
	return nil
}

func mergeAggregate(dst **OrderAmount, src *OrderAmount) error {
	if src == nil {
		return nil
	}
	if *dst == nil {
		v := *src
		*dst = &v
		return nil
	}
	sum, err := (*dst).Add(*src)
	if err != nil {
		return err
	}
	*dst = &sum
	return nil
}

// Merge folds other into mc. Later entries for the same order id override
// earlier ones; aggregate amounts sum; conflicting deal amounts fail the
// merge. Both changes must target the same order book.
func (mc *MarketChange) Merge(other *MarketChange) error {
	if other == nil {
		return nil
	}
	if err := mergeDeal(&mc.DealInput, other.DealInput); err != nil {
		return err
	}
	if err := mergeDeal(&mc.DealOutput, other.DealOutput); err != nil {
		return err
	}
	if err := mergeAggregate(&mc.MarketInput, other.MarketInput); err != nil {
		return err
	}
	if err := mergeAggregate(&mc.MarketOutput, other.MarketOutput); err != nil {
		return err
	}
	if err := mc.Payment.Merge(other.Payment); err != nil {
		return err
	}
	for id, o := range other.ToPlace {
		mc.ToPlace[id] = o
	}
	for id, f := range other.ToPartExecute {
		mc.ToPartExecute[id] = f
	}
	for id, o := range other.ToFullExecute {
		mc.ToFullExecute[id] = o
	}
	for id, o := range other.ToCancel {
		mc.ToCancel[id] = o
	}
	for id, o := range other.ToForceUpdate {
		mc.ToForceUpdate[id] = o
	}
	mc.IgnoreUnschedule = mc.IgnoreUnschedule || other.IgnoreUnschedule
	return nil
}
