// Package ledger provides in-process implementations of the external
// collaborators the order book engine depends on: the asset balance ledger,
// the technical (escrow) account registry, the trading-pair registry, asset
// metadata, and the chain clock. Production deployments substitute the real
// runtime's subsystems behind the same interfaces.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrPairNotRegistered = errors.New("trading pair not registered")
)

// techAccountNamespace seeds deterministic escrow account derivation, one
// account per (dex, base, quote).
var techAccountNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

type assetMeta struct {
	precision uint8
}

// Ledger is a mutex-guarded in-memory asset ledger with registries attached.
// BatchTransfer validates the whole batch before applying anything, so a
// batch either lands fully or not at all.
type Ledger struct {
	mu        sync.RWMutex
	balances  map[orderbook.AssetID]map[orderbook.AccountID]decimal.Decimal
	assets    map[orderbook.AssetID]assetMeta
	pairs     map[string]struct{}
	tech      map[orderbook.OrderBookID]orderbook.AccountID
	numeraire map[orderbook.DEXID]orderbook.AssetID
}

// New builds an empty ledger. Register assets and the per-DEX numeraire
// before use.
func New() *Ledger {
	return &Ledger{
		balances:  make(map[orderbook.AssetID]map[orderbook.AccountID]decimal.Decimal),
		assets:    make(map[orderbook.AssetID]assetMeta),
		pairs:     make(map[string]struct{}),
		tech:      make(map[orderbook.OrderBookID]orderbook.AccountID),
		numeraire: make(map[orderbook.DEXID]orderbook.AssetID),
	}
}

// RegisterAsset declares an asset and its precision. Precision zero marks an
// indivisible (NFT) asset.
func (l *Ledger) RegisterAsset(asset orderbook.AssetID, precision uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assets[asset] = assetMeta{precision: precision}
}

// SetNumeraire designates the DEX's base currency all books quote in.
func (l *Ledger) SetNumeraire(dex orderbook.DEXID, asset orderbook.AssetID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.numeraire[dex] = asset
}

// Mint credits freshly issued funds, for genesis and tests.
func (l *Ledger) Mint(asset orderbook.AssetID, account orderbook.AccountID, amount decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, account, amount)
}

func (l *Ledger) credit(asset orderbook.AssetID, account orderbook.AccountID, amount decimal.Decimal) {
	byAccount, ok := l.balances[asset]
	if !ok {
		byAccount = make(map[orderbook.AccountID]decimal.Decimal)
		l.balances[asset] = byAccount
	}
	byAccount[account] = byAccount[account].Add(amount)
}

func (l *Ledger) balance(asset orderbook.AssetID, account orderbook.AccountID) decimal.Decimal {
	return l.balances[asset][account]
}

// FreeBalance returns the spendable balance of account in asset.
func (l *Ledger) FreeBalance(ctx context.Context, asset orderbook.AssetID, account orderbook.AccountID) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.assets[asset]; !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return l.balance(asset, account), nil
}

// Transfer moves amount of asset between accounts, failing when the source
// lacks funds.
func (l *Ledger) Transfer(ctx context.Context, asset orderbook.AssetID, from, to orderbook.AccountID, amount decimal.Decimal) error {
	return l.BatchTransfer(ctx, []orderbook.Transfer{{Asset: asset, From: from, To: to, Amount: amount}})
}

// BatchTransfer applies every transfer or none. Balances are simulated first
// in application order, so funds arriving earlier in the batch may fund later
// debits of the same account.
func (l *Ledger) BatchTransfer(ctx context.Context, transfers []orderbook.Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	working := make(map[orderbook.AssetID]map[orderbook.AccountID]decimal.Decimal)
	lookup := func(asset orderbook.AssetID, account orderbook.AccountID) decimal.Decimal {
		if byAccount, ok := working[asset]; ok {
			if v, ok := byAccount[account]; ok {
				return v
			}
		}
		return l.balance(asset, account)
	}
	stage := func(asset orderbook.AssetID, account orderbook.AccountID, v decimal.Decimal) {
		byAccount, ok := working[asset]
		if !ok {
			byAccount = make(map[orderbook.AccountID]decimal.Decimal)
			working[asset] = byAccount
		}
		byAccount[account] = v
	}

	for _, t := range transfers {
		if _, ok := l.assets[t.Asset]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, t.Asset)
		}
		if t.Amount.IsNegative() {
			return fmt.Errorf("negative transfer of %s %s", t.Amount, t.Asset)
		}
		src := lookup(t.Asset, t.From)
		if src.LessThan(t.Amount) {
			return fmt.Errorf("%w: account %s has %s %s, needs %s", ErrInsufficientFunds, t.From, src, t.Asset, t.Amount)
		}
		stage(t.Asset, t.From, src.Sub(t.Amount))
		stage(t.Asset, t.To, lookup(t.Asset, t.To).Add(t.Amount))
	}

	for asset, byAccount := range working {
		for account, v := range byAccount {
			if _, ok := l.balances[asset]; !ok {
				l.balances[asset] = make(map[orderbook.AccountID]decimal.Decimal)
			}
			l.balances[asset][account] = v
		}
	}
	return nil
}

// RegisterTechAccount derives and records the escrow account for a book.
func (l *Ledger) RegisterTechAccount(ctx context.Context, id orderbook.OrderBookID) (orderbook.AccountID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	account := deriveTechAccount(id)
	l.tech[id] = account
	return account, nil
}

// DeregisterTechAccount drops the escrow registration for a deleted book.
func (l *Ledger) DeregisterTechAccount(ctx context.Context, id orderbook.OrderBookID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tech, id)
	return nil
}

// TechAccountFor returns the book's escrow account. Derivation is
// deterministic, so the answer holds even across restarts.
func (l *Ledger) TechAccountFor(id orderbook.OrderBookID) orderbook.AccountID {
	return deriveTechAccount(id)
}

func deriveTechAccount(id orderbook.OrderBookID) orderbook.AccountID {
	return uuid.NewSHA1(techAccountNamespace, []byte("orderbook/"+id.String()))
}

// RegisterTradingPair records a (dex, quote, base) pair.
func (l *Ledger) RegisterTradingPair(dex orderbook.DEXID, quote, base orderbook.AssetID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairs[pairKey(dex, quote, base)] = struct{}{}
}

// EnsureTradingPairExists fails unless the pair was registered.
func (l *Ledger) EnsureTradingPairExists(ctx context.Context, dex orderbook.DEXID, quote, base orderbook.AssetID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.pairs[pairKey(dex, quote, base)]; !ok {
		return fmt.Errorf("%w: dex %d %s/%s", ErrPairNotRegistered, dex, base, quote)
	}
	return nil
}

func pairKey(dex orderbook.DEXID, quote, base orderbook.AssetID) string {
	return fmt.Sprintf("%d:%s:%s", dex, quote, base)
}

// AssetExists reports whether the asset was registered.
func (l *Ledger) AssetExists(ctx context.Context, asset orderbook.AssetID) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.assets[asset]
	return ok, nil
}

// Precision returns the asset's divisibility; zero marks an NFT.
func (l *Ledger) Precision(ctx context.Context, asset orderbook.AssetID) (uint8, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	meta, ok := l.assets[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return meta.precision, nil
}

// TotalBalance is the account's full holding of asset, escrowed or not.
func (l *Ledger) TotalBalance(ctx context.Context, asset orderbook.AssetID, account orderbook.AccountID) (decimal.Decimal, error) {
	return l.FreeBalance(ctx, asset, account)
}

// BaseCurrency returns the DEX's designated numeraire.
func (l *Ledger) BaseCurrency(dex orderbook.DEXID) orderbook.AssetID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.numeraire[dex]
}

var (
	_ orderbook.AssetLedger  = (*Ledger)(nil)
	_ orderbook.TechAccounts = (*Ledger)(nil)
	_ orderbook.TradingPairs = (*Ledger)(nil)
	_ orderbook.AssetInfo    = (*Ledger)(nil)
)
