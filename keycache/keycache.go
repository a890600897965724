// Package keycache caches resolved verification keys, keyed by
// (issuer, kid, alg), so that repeated verifications against the same
// issuer do not re-run key lookup and material import on every call.
package keycache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/deep-rent/jwtverify/jwk"
)

// DefaultCapacity is used when no capacity is given to New. It comfortably
// covers a handful of issuers each rotating through a handful of live kids.
const DefaultCapacity = 64

type entryKey struct {
	issuer, kid, alg string
}

// Cache is an LRU of (issuer, kid, alg) to a resolved jwk.Key.
type Cache struct {
	lru *lru.Cache[entryKey, jwk.Key]
}

// New creates a Cache with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c, err := lru.New[entryKey, jwk.Key](capacity)
	if err != nil {
		// Only returned by the library for a non-positive size, which
		// cannot happen here.
		panic(err)
	}
	return &Cache{lru: c}
}

// Resolve returns the key cached under (issuer, kid, alg), calling create
// and caching its result on a miss. If issuer, kid, or alg is empty, the
// cache is bypassed entirely and create is called directly.
func (c *Cache) Resolve(issuer, kid, alg string, create func() (jwk.Key, error)) (jwk.Key, error) {
	if issuer == "" || kid == "" || alg == "" {
		return create()
	}

	ek := entryKey{issuer: issuer, kid: kid, alg: alg}
	if k, ok := c.lru.Get(ek); ok {
		return k, nil
	}
	k, err := create()
	if err != nil {
		return nil, err
	}
	c.lru.Add(ek, k)
	return k, nil
}

// ClearIssuer evicts every cached key belonging to issuer. It must be
// called whenever the JWKS for that issuer is replaced, since a stale
// handle could otherwise outlive the key that produced it.
func (c *Cache) ClearIssuer(issuer string) {
	for _, ek := range c.lru.Keys() {
		if ek.issuer == issuer {
			c.lru.Remove(ek)
		}
	}
}

// Len reports the number of cached keys.
func (c *Cache) Len() int { return c.lru.Len() }
