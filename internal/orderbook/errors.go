package orderbook

import "errors"

// Sentinel errors grouped by how the caller is expected to react. All
// operations are all-or-nothing within one call: any error aborts the call
// before the storage cache is committed.
var (
	// Not-found class: surfaced to the caller, no retry.
	ErrUnknownOrderBook  = errors.New("unknown order book")
	ErrUnknownLimitOrder = errors.New("unknown limit order")
	ErrPriceNotFound     = errors.New("price level not found")

	// Conflict class.
	ErrOrderBookAlreadyExists  = errors.New("order book already exists")
	ErrLimitOrderAlreadyExists = errors.New("limit order already exists")

	// Capacity class: the new operation is rejected; existing state is never
	// evicted to make room.
	ErrUserOrderLimitReached  = errors.New("user open order limit reached")
	ErrPriceOrderLimitReached = errors.New("order count limit reached for price")
	ErrSidePriceLimitReached  = errors.New("distinct price limit reached for side")
	ErrAgendaFull             = errors.New("expiration agenda full for block")

	// Validation class: operation aborted before any mutation.
	ErrInvalidLifespan       = errors.New("invalid order lifespan")
	ErrInvalidOrderAmount    = errors.New("invalid order amount")
	ErrInvalidLimitPrice     = errors.New("invalid limit price")
	ErrPriceTooFarFromSpread = errors.New("price too far from spread")
	ErrForbiddenSameAssets   = errors.New("base and quote assets must differ")
	ErrDisallowedBaseAsset   = errors.New("base asset not allowed")
	ErrNotAllowedQuoteAsset  = errors.New("quote asset must be the dex base currency")
	ErrUserHasNoNFT          = errors.New("creator does not hold the nft")
	ErrInvalidTickSize       = errors.New("invalid tick size")
	ErrInvalidLotSize        = errors.New("invalid lot size bounds")
	ErrTradingPairMissing    = errors.New("trading pair is not registered")

	// State class.
	ErrPlacementForbidden    = errors.New("order book does not accept placements")
	ErrCancellationForbidden = errors.New("order book does not accept cancellations")
	ErrTradingForbidden      = errors.New("order book does not accept trades")

	// Authorization class.
	ErrUnauthorized = errors.New("caller is not the order owner")
	ErrForbidden    = errors.New("caller lacks the required privilege")

	// Liquidity class: the whole operation aborts, no partial fill leaks.
	ErrNotEnoughLiquidity = errors.New("not enough liquidity to fill order")

	// Unit/arithmetic class. Mixing Base and Quote amounts is a programming
	// error surfaced as a defined failure, never a silent coercion.
	ErrUnitMismatch    = errors.New("order amount unit mismatch")
	ErrAmountUnderflow = errors.New("order amount underflow")

	// Merge class.
	ErrPaymentBookMismatch = errors.New("payments belong to different order books")
	ErrDealAmountConflict  = errors.New("conflicting deal amounts in market change")

	// Internal class: indicates the agenda and the order set disagree,
	// never user-triggered.
	ErrExpirationNotFound = errors.New("expiration entry not found in agenda")
)
