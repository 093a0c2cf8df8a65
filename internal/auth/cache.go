package auth

import (
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"time"
)

// cacheState says how a verified key was found in the cache.
type cacheState int

const (
	cacheMiss cacheState = iota
	cacheFresh
	cacheStale        // served; another caller owns the refresh
	cacheStaleRefresh // served; this caller must refresh
)

// keyCache remembers keys that passed bcrypt so the interception path pays
// for a hash comparison once per TTL. Entries are keyed by the SHA-256 of
// the raw key, so plaintext keys are never retained.
//
// An expired entry keeps being served while one caller re-verifies it, but
// never past ttl+maxStale. That bound caps how long a revoked key survives
// a key store outage.
type keyCache struct {
	entries  sync.Map // [sha256.Size]byte → *verifiedKey
	ttl      time.Duration
	maxStale time.Duration
	now      func() time.Time
}

type verifiedKey struct {
	principal  *Principal
	verifiedAt time.Time
	refreshing atomic.Bool
}

func newKeyCache(ttl, maxStale time.Duration) *keyCache {
	return &keyCache{ttl: ttl, maxStale: maxStale, now: time.Now}
}

func digest(apiKey string) [sha256.Size]byte {
	return sha256.Sum256([]byte(apiKey))
}

// get returns the cached principal and its state. Exactly one caller per
// expiry observes cacheStaleRefresh.
func (c *keyCache) get(apiKey string) (*Principal, cacheState) {
	k := digest(apiKey)
	v, ok := c.entries.Load(k)
	if !ok {
		return nil, cacheMiss
	}
	e := v.(*verifiedKey)
	age := c.now().Sub(e.verifiedAt)
	switch {
	case age < c.ttl:
		return e.principal, cacheFresh
	case age >= c.ttl+c.maxStale:
		c.entries.CompareAndDelete(k, e)
		return nil, cacheMiss
	case e.refreshing.CompareAndSwap(false, true):
		return e.principal, cacheStaleRefresh
	default:
		return e.principal, cacheStale
	}
}

func (c *keyCache) put(apiKey string, p *Principal) {
	c.entries.Store(digest(apiKey), &verifiedKey{principal: p, verifiedAt: c.now()})
}

func (c *keyCache) drop(apiKey string) {
	c.entries.Delete(digest(apiKey))
}

// release gives up a refresh claim without changing the entry, so the next
// stale read retries.
func (c *keyCache) release(apiKey string) {
	if v, ok := c.entries.Load(digest(apiKey)); ok {
		v.(*verifiedKey).refreshing.Store(false)
	}
}
