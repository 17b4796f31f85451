package orderbook

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is one ledger movement produced by settlement.
type Transfer struct {
	Asset  AssetID
	From   AccountID
	To     AccountID
	Amount decimal.Decimal
}

// AssetLedger is the external balance ledger. BatchTransfer must be
// all-or-nothing: if any individual transfer would fail (insufficient funds),
// none is applied.
type AssetLedger interface {
	FreeBalance(ctx context.Context, asset AssetID, account AccountID) (decimal.Decimal, error)
	Transfer(ctx context.Context, asset AssetID, from, to AccountID, amount decimal.Decimal) error
	BatchTransfer(ctx context.Context, transfers []Transfer) error
}

// TechAccounts registers and derives the escrow (technical) account that
// holds locked funds for one order book.
type TechAccounts interface {
	RegisterTechAccount(ctx context.Context, id OrderBookID) (AccountID, error)
	DeregisterTechAccount(ctx context.Context, id OrderBookID) error
	TechAccountFor(id OrderBookID) AccountID
}

// TradingPairs is the trading-pair registry consulted before a book is
// created.
type TradingPairs interface {
	EnsureTradingPairExists(ctx context.Context, dex DEXID, quote, base AssetID) error
}

// AssetInfo answers asset existence, divisibility and holdings questions.
// A base asset reporting zero precision is treated as an NFT and gets a
// unit-lot book.
type AssetInfo interface {
	AssetExists(ctx context.Context, asset AssetID) (bool, error)
	Precision(ctx context.Context, asset AssetID) (uint8, error)
	TotalBalance(ctx context.Context, asset AssetID, account AccountID) (decimal.Decimal, error)
	// BaseCurrency is the DEX's designated numeraire every book quotes in.
	BaseCurrency(dex DEXID) AssetID
}

// Clock supplies wall-clock time for order timestamps and the block counter
// for expiry scheduling.
type Clock interface {
	Now() time.Time
	BlockNumber() BlockNumber
}
