package store

import (
	"context"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/txmanager/internal/txhash"
)

// CachePolicy controls how long a retrieved transaction stays cached.
// Expiry decisions use the clock passed to NewCachedTxStore, the same
// determinism discipline SQLStore uses for its own timestamp column; a
// nil clock falls back to time.Now.
type CachePolicy struct {
	TTL      time.Duration
	MaxItems int
}

// DefaultCachePolicy is conservative: short TTL, bounded size.
func DefaultCachePolicy() CachePolicy {
	return CachePolicy{TTL: 30 * time.Second, MaxItems: 10000}
}

type cacheEntry struct {
	tx        EncryptedTransaction
	expiresAt time.Time
}

// CachedTxStore wraps a TxStore with a read-through cache over
// RetrieveByHash: content-addressed transactions are immutable once
// written, so a cache hit never needs invalidation beyond TTL expiry or
// an explicit call through this wrapper: Delete evicts the entry eagerly
// and Save replaces it.
type CachedTxStore struct {
	inner  *TxStore
	policy CachePolicy
	clock  func() time.Time

	mu      sync.Mutex
	entries map[txhash.MessageHash]cacheEntry
}

func NewCachedTxStore(inner *TxStore, policy CachePolicy, clock func() time.Time) *CachedTxStore {
	if clock == nil {
		clock = time.Now
	}
	if policy.MaxItems <= 0 {
		policy.MaxItems = DefaultCachePolicy().MaxItems
	}
	return &CachedTxStore{
		inner:   inner,
		policy:  policy,
		clock:   clock,
		entries: map[txhash.MessageHash]cacheEntry{},
	}
}

func (c *CachedTxStore) RetrieveByHash(ctx context.Context, hash txhash.MessageHash) (EncryptedTransaction, error) {
	if tx, ok := c.get(hash); ok {
		return tx, nil
	}
	tx, err := c.inner.RetrieveByHash(ctx, hash)
	if err != nil {
		return EncryptedTransaction{}, err
	}
	c.put(hash, tx)
	return tx, nil
}

func (c *CachedTxStore) Save(ctx context.Context, tx EncryptedTransaction) error {
	if err := c.inner.Save(ctx, tx); err != nil {
		return err
	}
	c.put(tx.Hash, tx)
	return nil
}

func (c *CachedTxStore) Delete(ctx context.Context, hash txhash.MessageHash) error {
	if err := c.inner.Delete(ctx, hash); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.entries, hash)
	c.mu.Unlock()
	return nil
}

func (c *CachedTxStore) Count(ctx context.Context) (int, error) {
	return c.inner.Count(ctx)
}

func (c *CachedTxStore) RetrievePage(ctx context.Context, offset, limit int) ([]EncryptedTransaction, error) {
	return c.inner.RetrievePage(ctx, offset, limit)
}

func (c *CachedTxStore) get(hash txhash.MessageHash) (EncryptedTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[hash]
	if !ok {
		return EncryptedTransaction{}, false
	}
	if c.policy.TTL > 0 && c.clock().After(e.expiresAt) {
		delete(c.entries, hash)
		return EncryptedTransaction{}, false
	}
	return e.tx, true
}

func (c *CachedTxStore) put(hash txhash.MessageHash, tx EncryptedTransaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.policy.MaxItems {
		for k := range c.entries {
			delete(c.entries, k)
			break
		}
	}
	c.entries[hash] = cacheEntry{tx: tx, expiresAt: c.clock().Add(c.policy.TTL)}
}
