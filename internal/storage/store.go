package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/halcyonex/dexbook/internal/orderbook"
	"github.com/shopspring/decimal"
)

// errKeyNotFound is the internal miss marker every kv maps its own
// not-found condition to.
var errKeyNotFound = errors.New("storage: key not found")

// kv is the flat dialect all backends speak. set with an empty value is not
// used; absence is expressed by delete.
type kv interface {
	get(key string) ([]byte, error)
	set(key string, val []byte) error
	delete(key string) error
	scan(prefix string, fn func(key string, val []byte) error) error
}

// batcher is implemented by backends that can apply a whole mutation set in
// one durable transaction.
type batcher interface {
	applyBatch(muts []mutation) error
}

type mutation struct {
	key string
	val []byte // nil means delete
}

// Store adapts a kv backend to the engine's DataLayer contract.
type Store struct {
	kv kv
}

var _ orderbook.DataLayer = (*Store)(nil)

func getJSON[T any](k kv, key string, out *T) (bool, error) {
	raw, err := k.get(key)
	if errors.Is(err, errKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(k kv, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return k.set(key, raw)
}

// putList stores a slice, deleting the key when the slice is empty so an
// empty list and a missing list stay indistinguishable.
func putList[T any](k kv, key string, list []T) error {
	if len(list) == 0 {
		err := k.delete(key)
		if errors.Is(err, errKeyNotFound) {
			return nil
		}
		return err
	}
	return putJSON(k, key, list)
}

func (s *Store) GetOrderBook(id orderbook.OrderBookID) (orderbook.OrderBook, error) {
	var book orderbook.OrderBook
	ok, err := getJSON(s.kv, bookKey(id), &book)
	if err != nil {
		return orderbook.OrderBook{}, err
	}
	if !ok {
		return orderbook.OrderBook{}, fmt.Errorf("%w: %s", orderbook.ErrUnknownOrderBook, id)
	}
	return book, nil
}

func (s *Store) PutOrderBook(book orderbook.OrderBook) error {
	return putJSON(s.kv, bookKey(book.ID), book)
}

func (s *Store) DeleteOrderBook(id orderbook.OrderBookID) error {
	err := s.kv.delete(bookKey(id))
	if errors.Is(err, errKeyNotFound) {
		return fmt.Errorf("%w: %s", orderbook.ErrUnknownOrderBook, id)
	}
	return err
}

func (s *Store) ListOrderBooks() ([]orderbook.OrderBook, error) {
	var books []orderbook.OrderBook
	err := s.kv.scan(prefixBook, func(key string, val []byte) error {
		var book orderbook.OrderBook
		if err := json.Unmarshal(val, &book); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		books = append(books, book)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(books, func(i, j int) bool { return books[i].ID.String() < books[j].ID.String() })
	return books, nil
}

func (s *Store) GetLimitOrder(id orderbook.OrderBookID, orderID orderbook.OrderID) (orderbook.LimitOrder, error) {
	var order orderbook.LimitOrder
	ok, err := getJSON(s.kv, orderKey(id, orderID), &order)
	if err != nil {
		return orderbook.LimitOrder{}, err
	}
	if !ok {
		return orderbook.LimitOrder{}, fmt.Errorf("%w: %s/%d", orderbook.ErrUnknownLimitOrder, id, orderID)
	}
	return order, nil
}

func (s *Store) PutLimitOrder(id orderbook.OrderBookID, order orderbook.LimitOrder) error {
	return putJSON(s.kv, orderKey(id, order.ID), order)
}

func (s *Store) DeleteLimitOrder(id orderbook.OrderBookID, orderID orderbook.OrderID) error {
	err := s.kv.delete(orderKey(id, orderID))
	if errors.Is(err, errKeyNotFound) {
		return fmt.Errorf("%w: %s/%d", orderbook.ErrUnknownLimitOrder, id, orderID)
	}
	return err
}

func (s *Store) AllLimitOrders(id orderbook.OrderBookID) ([]orderbook.LimitOrder, error) {
	var orders []orderbook.LimitOrder
	err := s.kv.scan(orderPrefix(id), func(key string, val []byte) error {
		var order orderbook.LimitOrder
		if err := json.Unmarshal(val, &order); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		orders = append(orders, order)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	return orders, nil
}

func (s *Store) GetPriceQueue(id orderbook.OrderBookID, side orderbook.Side, price decimal.Decimal) ([]orderbook.OrderID, error) {
	var queue []orderbook.OrderID
	if _, err := getJSON(s.kv, queueKey(id, side, price), &queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func (s *Store) PutPriceQueue(id orderbook.OrderBookID, side orderbook.Side, price decimal.Decimal, orders []orderbook.OrderID) error {
	return putList(s.kv, queueKey(id, side, price), orders)
}

func (s *Store) GetAggregatedSide(id orderbook.OrderBookID, side orderbook.Side) ([]orderbook.PriceLevel, error) {
	var levels []orderbook.PriceLevel
	if _, err := getJSON(s.kv, aggKey(id, side), &levels); err != nil {
		return nil, err
	}
	return levels, nil
}

func (s *Store) PutAggregatedSide(id orderbook.OrderBookID, side orderbook.Side, levels []orderbook.PriceLevel) error {
	return putList(s.kv, aggKey(id, side), levels)
}

func (s *Store) GetUserOrders(id orderbook.OrderBookID, owner orderbook.AccountID) ([]orderbook.OrderID, error) {
	var orders []orderbook.OrderID
	if _, err := getJSON(s.kv, userKey(id, owner), &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) PutUserOrders(id orderbook.OrderBookID, owner orderbook.AccountID, orders []orderbook.OrderID) error {
	return putList(s.kv, userKey(id, owner), orders)
}

func (s *Store) GetAgenda(block orderbook.BlockNumber) ([]orderbook.ExpirationEntry, error) {
	var entries []orderbook.ExpirationEntry
	if _, err := getJSON(s.kv, agendaKey(block), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) PutAgenda(block orderbook.BlockNumber, entries []orderbook.ExpirationEntry) error {
	return putList(s.kv, agendaKey(block), entries)
}

func (s *Store) GetIncompleteSince() (orderbook.BlockNumber, bool, error) {
	var block orderbook.BlockNumber
	ok, err := getJSON(s.kv, keyExpirySince, &block)
	return block, ok, err
}

func (s *Store) SetIncompleteSince(block orderbook.BlockNumber) error {
	return putJSON(s.kv, keyExpirySince, block)
}

func (s *Store) ClearIncompleteSince() error {
	err := s.kv.delete(keyExpirySince)
	if errors.Is(err, errKeyNotFound) {
		return nil
	}
	return err
}
