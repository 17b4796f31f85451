package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// cacheEntry is one cached key: val == nil marks a tombstone.
type cacheEntry struct {
	val   []byte
	dirty bool
}

// cacheKV is a read-through, write-back overlay over another kv. Reads
// populate the overlay so one matching pass touching the same price level or
// order repeatedly pays the durable-storage cost once; writes stay in the
// overlay until Commit flushes them as one deduplicated batch.
type cacheKV struct {
	base    kv
	entries map[string]cacheEntry
}

func (c *cacheKV) get(key string) ([]byte, error) {
	if e, ok := c.entries[key]; ok {
		if e.val == nil {
			return nil, errKeyNotFound
		}
		return e.val, nil
	}
	val, err := c.base.get(key)
	if errors.Is(err, errKeyNotFound) {
		c.entries[key] = cacheEntry{val: nil}
		return nil, errKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	c.entries[key] = cacheEntry{val: val}
	return val, nil
}

func (c *cacheKV) set(key string, val []byte) error {
	c.entries[key] = cacheEntry{val: val, dirty: true}
	return nil
}

func (c *cacheKV) delete(key string) error {
	if _, err := c.get(key); err != nil {
		return err
	}
	c.entries[key] = cacheEntry{val: nil, dirty: true}
	return nil
}

func (c *cacheKV) scan(prefix string, fn func(key string, val []byte) error) error {
	merged := make(map[string][]byte)
	err := c.base.scan(prefix, func(key string, val []byte) error {
		merged[key] = val
		return nil
	})
	if err != nil {
		return err
	}
	for key, e := range c.entries {
		if !strings.HasPrefix(key, prefix) || !e.dirty {
			continue
		}
		if e.val == nil {
			delete(merged, key)
			continue
		}
		merged[key] = e.val
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Cache wraps a durable Store for the duration of one operation. All
// DataLayer calls go through the overlay; nothing reaches the base store
// until Commit. A Cache that is never committed leaves no trace, which is
// what makes every engine operation all-or-nothing.
type Cache struct {
	Store
	ckv *cacheKV
}

// NewCache builds a call-scoped cache over base.
func NewCache(base *Store) *Cache {
	c := &cacheKV{base: base.kv, entries: make(map[string]cacheEntry)}
	return &Cache{Store: Store{kv: c}, ckv: c}
}

// Commit flushes every dirty key to the base store, deduplicated (one final
// value per key) and, when the backend supports it, inside a single durable
// transaction.
func (c *Cache) Commit() error {
	muts := make([]mutation, 0, len(c.ckv.entries))
	for key, e := range c.ckv.entries {
		if !e.dirty {
			continue
		}
		muts = append(muts, mutation{key: key, val: e.val})
	}
	if len(muts) == 0 {
		return nil
	}
	sort.Slice(muts, func(i, j int) bool { return muts[i].key < muts[j].key })

	if b, ok := c.ckv.base.(batcher); ok {
		if err := b.applyBatch(muts); err != nil {
			return err
		}
		c.Discard()
		return nil
	}
	for _, mut := range muts {
		var err error
		if mut.val == nil {
			err = c.ckv.base.delete(mut.key)
			if errors.Is(err, errKeyNotFound) {
				err = nil // key was created and dropped within this cache
			}
		} else {
			err = c.ckv.base.set(mut.key, mut.val)
		}
		if err != nil {
			return fmt.Errorf("flush %s: %w", mut.key, err)
		}
	}
	c.Discard()
	return nil
}

// Discard drops the overlay without touching the base store.
func (c *Cache) Discard() {
	c.ckv.entries = make(map[string]cacheEntry)
}
