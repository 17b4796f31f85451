package storage

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v3"
)

// badgerKV is the durable backend. Each operation's mutations arrive through
// applyBatch as one badger transaction, which is the engine's durable commit
// boundary.
type badgerKV struct {
	db *badger.DB
}

// NewBadger opens (or creates) a BadgerDB-backed Store at path.
func NewBadger(path string) (*Store, func() error, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // badger's own logging is too chatty for a default run
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("opening badger db: %w", err)
	}
	kv := &badgerKV{db: db}
	return &Store{kv: kv}, db.Close, nil
}

func (b *badgerKV) get(key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return out, nil
}

func (b *badgerKV) set(key string, val []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), val)
	})
	if err != nil {
		return fmt.Errorf("badger set %s: %w", key, err)
	}
	return nil
}

func (b *badgerKV) delete(key string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(key)); err != nil {
			return err
		}
		return txn.Delete([]byte(key))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("badger delete %s: %w", key, err)
	}
	return nil
}

func (b *badgerKV) scan(prefix string, fn func(key string, val []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(string(item.Key()), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *badgerKV) applyBatch(muts []mutation) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, mut := range muts {
			if mut.val == nil {
				if err := txn.Delete([]byte(mut.key)); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set([]byte(mut.key), mut.val); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger batch of %d mutations: %w", len(muts), err)
	}
	return nil
}
