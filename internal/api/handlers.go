package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/halcyonex/dexbook/internal/orderbook"
)

// accountHeader carries the acting account on mutating routes. The engine
// trusts the surrounding deployment to authenticate it.
const accountHeader = "X-Account-ID"

func (s *Server) account(c *gin.Context) (orderbook.AccountID, bool) {
	raw := c.GetHeader(accountHeader)
	if raw == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": accountHeader + " header required"})
		return orderbook.AccountID{}, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid " + accountHeader})
		return orderbook.AccountID{}, false
	}
	return id, true
}

func (s *Server) bookID(c *gin.Context) (orderbook.OrderBookID, bool) {
	dex, err := strconv.ParseUint(c.Param("dex"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid dex id"})
		return orderbook.OrderBookID{}, false
	}
	return orderbook.OrderBookID{
		DEX:   orderbook.DEXID(dex),
		Base:  orderbook.AssetID(c.Param("base")),
		Quote: orderbook.AssetID(c.Param("quote")),
	}, true
}

func parseSide(raw string) (orderbook.Side, bool) {
	side := orderbook.Side(raw)
	return side, side.Valid()
}

func parseAmount(side, unit, value string) (orderbook.Side, orderbook.OrderAmount, error) {
	sd, ok := parseSide(side)
	if !ok {
		return "", orderbook.OrderAmount{}, errors.New("side must be BUY or SELL")
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return "", orderbook.OrderAmount{}, errors.New("invalid amount")
	}
	switch unit {
	case "base", "":
		return sd, orderbook.BaseAmount(v), nil
	case "quote":
		return sd, orderbook.QuoteAmount(v), nil
	default:
		return "", orderbook.OrderAmount{}, errors.New("unit must be base or quote")
	}
}

// writeError maps engine sentinels onto HTTP statuses. Anything unmapped is a
// 500 and gets logged; mapped failures are the caller's problem and are not.
func (s *Server) writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, orderbook.ErrUnknownOrderBook),
		errors.Is(err, orderbook.ErrUnknownLimitOrder),
		errors.Is(err, orderbook.ErrPriceNotFound),
		errors.Is(err, orderbook.ErrExpirationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orderbook.ErrOrderBookAlreadyExists),
		errors.Is(err, orderbook.ErrLimitOrderAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, orderbook.ErrUnauthorized),
		errors.Is(err, orderbook.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, orderbook.ErrUserOrderLimitReached),
		errors.Is(err, orderbook.ErrPriceOrderLimitReached),
		errors.Is(err, orderbook.ErrSidePriceLimitReached),
		errors.Is(err, orderbook.ErrAgendaFull):
		status = http.StatusTooManyRequests
	case errors.Is(err, orderbook.ErrInvalidLifespan),
		errors.Is(err, orderbook.ErrInvalidOrderAmount),
		errors.Is(err, orderbook.ErrInvalidLimitPrice),
		errors.Is(err, orderbook.ErrPriceTooFarFromSpread),
		errors.Is(err, orderbook.ErrForbiddenSameAssets),
		errors.Is(err, orderbook.ErrDisallowedBaseAsset),
		errors.Is(err, orderbook.ErrNotAllowedQuoteAsset),
		errors.Is(err, orderbook.ErrUserHasNoNFT),
		errors.Is(err, orderbook.ErrInvalidTickSize),
		errors.Is(err, orderbook.ErrInvalidLotSize),
		errors.Is(err, orderbook.ErrTradingPairMissing),
		errors.Is(err, orderbook.ErrUnitMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, orderbook.ErrPlacementForbidden),
		errors.Is(err, orderbook.ErrCancellationForbidden),
		errors.Is(err, orderbook.ErrTradingForbidden),
		errors.Is(err, orderbook.ErrNotEnoughLiquidity):
		status = http.StatusConflict
	default:
		status = http.StatusInternalServerError
		s.logger.Error("handler error", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) listOrderBooks(c *gin.Context) {
	books, err := s.svc.ListOrderBooks()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

type createBookRequest struct {
	DEX   uint32 `json:"dex_id"`
	Base  string `json:"base_asset" binding:"required"`
	Quote string `json:"quote_asset" binding:"required"`
}

func (s *Server) createOrderBook(c *gin.Context) {
	caller, ok := s.account(c)
	if !ok {
		return
	}
	var req createBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := orderbook.OrderBookID{
		DEX:   orderbook.DEXID(req.DEX),
		Base:  orderbook.AssetID(req.Base),
		Quote: orderbook.AssetID(req.Quote),
	}
	book, err := s.svc.CreateOrderBook(c.Request.Context(), caller, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"book": book})
}

func (s *Server) getOrderBook(c *gin.Context) {
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	book, err := s.svc.GetOrderBook(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book": book})
}

func (s *Server) deleteOrderBook(c *gin.Context) {
	caller, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	if err := s.svc.DeleteOrderBook(c.Request.Context(), caller, id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book_id": id.String(), "status": "deleted"})
}

type updateBookRequest struct {
	TickSize    string `json:"tick_size" binding:"required"`
	StepLotSize string `json:"step_lot_size" binding:"required"`
	MinLotSize  string `json:"min_lot_size" binding:"required"`
	MaxLotSize  string `json:"max_lot_size" binding:"required"`
}

func (s *Server) updateOrderBook(c *gin.Context) {
	caller, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	var req updateBookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	fields := [4]string{req.TickSize, req.StepLotSize, req.MinLotSize, req.MaxLotSize}
	var vals [4]decimal.Decimal
	for i, f := range fields {
		v, err := decimal.NewFromString(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "sizing fields must be decimal strings"})
			return
		}
		vals[i] = v
	}
	if err := s.svc.UpdateOrderBook(c.Request.Context(), caller, id, vals[0], vals[1], vals[2], vals[3]); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book_id": id.String(), "status": "updated"})
}

type changeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) changeStatus(c *gin.Context) {
	caller, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.ChangeOrderBookStatus(c.Request.Context(), caller, id, orderbook.OrderBookStatus(req.Status)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"book_id": id.String(), "status": req.Status})
}

func (s *Server) getDepth(c *gin.Context) {
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	bids, asks, err := s.svc.Depth(id, limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids, "asks": asks})
}

func (s *Server) getBestPrices(c *gin.Context) {
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	bid, hasBid, err := s.svc.BestBid(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	ask, hasAsk, err := s.svc.BestAsk(id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := gin.H{}
	if hasBid {
		resp["bid"] = bid
	}
	if hasAsk {
		resp["ask"] = ask
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) quoteExchange(c *gin.Context) {
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	side, amount, err := parseAmount(c.Query("side"), c.Query("unit"), c.Query("amount"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.svc.Quote(c.Request.Context(), id, side, amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"receive": out})
}

type placeOrderRequest struct {
	Side     string `json:"side" binding:"required"`
	Price    string `json:"price" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Lifespan string `json:"lifespan" binding:"required"`
}

func (s *Server) placeLimitOrder(c *gin.Context) {
	owner, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "side must be BUY or SELL"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	lifespan, err := time.ParseDuration(req.Lifespan)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lifespan must be a duration such as 24h"})
		return
	}
	res, err := s.svc.PlaceLimitOrder(c.Request.Context(), owner, id, side, price, amount, lifespan)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order_id":     res.OrderID,
		"rested":       res.Rested,
		"filled_base":  res.FilledBase,
		"filled_quote": res.FilledQuote,
	})
}

func (s *Server) listUserOrders(c *gin.Context) {
	owner, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	orders, err := s.svc.UserOrders(id, owner)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) getLimitOrder(c *gin.Context) {
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	rawID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	order, err := s.svc.GetLimitOrder(id, orderbook.OrderID(rawID))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) cancelLimitOrder(c *gin.Context) {
	caller, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	rawID, err := strconv.ParseUint(c.Param("order_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := s.svc.CancelLimitOrder(c.Request.Context(), caller, id, orderbook.OrderID(rawID)); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": rawID, "status": "canceled"})
}

type marketOrderRequest struct {
	Side   string `json:"side" binding:"required"`
	Unit   string `json:"unit"`
	Amount string `json:"amount" binding:"required"`
}

func (s *Server) exchangeMarketOrder(c *gin.Context) {
	owner, ok := s.account(c)
	if !ok {
		return
	}
	id, ok := s.bookID(c)
	if !ok {
		return
	}
	var req marketOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	side, amount, err := parseAmount(req.Side, req.Unit, req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := s.svc.ExchangeMarketOrder(c.Request.Context(), owner, id, side, amount)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": out})
}
