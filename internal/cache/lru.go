package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRUProvider implements Provider with a bounded in-process LRU. Entries
// expire at the shorter of their own ttl and the cache-wide maxTTL.
type LRUProvider struct {
	lru    *expirable.LRU[string, lruEntry]
	maxTTL time.Duration
}

// NewLRUProvider creates an in-process cache holding at most size entries.
func NewLRUProvider(size int, maxTTL time.Duration) *LRUProvider {
	if size <= 0 {
		size = 1024
	}
	if maxTTL <= 0 {
		maxTTL = time.Hour
	}
	return &LRUProvider{
		lru:    expirable.NewLRU[string, lruEntry](size, nil, maxTTL),
		maxTTL: maxTTL,
	}
}

// Get returns the cached bytes or ErrCacheMiss.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	entry, ok := p.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		p.lru.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), entry.value...), nil
}

// Set stores value under key. A ttl of zero uses the cache-wide maximum.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.lru.Add(key, p.entry(value, ttl))
	return nil
}

// Del removes key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (p *LRUProvider) Len() int {
	return p.lru.Len()
}

// Close purges the cache.
func (p *LRUProvider) Close() error {
	p.lru.Purge()
	return nil
}

func (p *LRUProvider) entry(value []byte, ttl time.Duration) lruEntry {
	e := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 && ttl < p.maxTTL {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}
