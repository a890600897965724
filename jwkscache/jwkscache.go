// Package jwkscache caches JWK Sets by issuer JWKS URI, coordinating
// concurrent fetches with a single-flight group and gating repeated misses
// through a penalty box.
package jwkscache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/deep-rent/jwtverify/jwk"
	"github.com/deep-rent/jwtverify/jwksfetch"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/penaltybox"
)

// Cache maps a JWKS URI to its most recently fetched key set. Fetches for
// the same URI are deduplicated via single-flight; misses are gated by a
// PenaltyBox to keep a bad or unknown kid from flooding the issuer.
//
// In per-kid mode (see NewALB), each entry is additionally keyed by kid,
// since ALB exposes one PEM document per kid rather than a single JWKS
// document, and GetJwks is unsupported.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]jwk.Set
	fetcher    jwksfetch.Fetcher
	box        *penaltybox.PenaltyBox
	group      singleflight.Group
	onReplace  func(uri string)
	perKidOnly bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithOnReplace registers a hook invoked with the URI whenever that URI's
// cached entry is replaced, whether by an explicit AddJwks or a
// fresh fetch. Verifiers wire this to evict the key-object cache for the
// corresponding issuer, so that a stale key handle never outlives the JWKS
// entry that produced it.
func WithOnReplace(fn func(uri string)) Option {
	return func(c *Cache) { c.onReplace = fn }
}

func newCache(fetcher jwksfetch.Fetcher, box *penaltybox.PenaltyBox, perKidOnly bool, opts ...Option) *Cache {
	c := &Cache{
		entries:    make(map[string]jwk.Set),
		fetcher:    fetcher,
		box:        box,
		perKidOnly: perKidOnly,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New creates a Cache backed by fetcher, a standard one-JWKS-per-URI
// document fetcher such as the default built by jwksfetch.New.
func New(fetcher jwksfetch.Fetcher, box *penaltybox.PenaltyBox, opts ...Option) *Cache {
	return newCache(fetcher, box, false, opts...)
}

// NewALB creates a Cache for AWS ALB's one-PEM-key-per-kid layout: uri is
// rewritten to uri+"/"+kid for each fetch, and GetJwks is unsupported since
// there is no single JWKS document to return. fetcher must be built with a
// PEM-to-JWK parser, e.g. jwksfetch.New(jwksfetch.WithParser(alb.ParsePEM)).
func NewALB(fetcher jwksfetch.Fetcher, box *penaltybox.PenaltyBox, opts ...Option) *Cache {
	return newCache(fetcher, box, true, opts...)
}

func (c *Cache) entryKey(uri, kid string) string {
	if c.perKidOnly {
		return uri + "\x00" + kid
	}
	return uri
}

func (c *Cache) fetchURI(uri, kid string) string {
	if c.perKidOnly {
		return uri + "/" + kid
	}
	return uri
}

// AddJwks replaces the cached entry for uri. It is unsupported in per-kid
// (ALB) mode, where there is no single entry per URI.
func (c *Cache) AddJwks(uri string, set jwk.Set) error {
	if c.perKidOnly {
		return fmt.Errorf("%w: AddJwks is not supported for a per-kid cache", jwterr.ErrParameterValidation)
	}
	c.mu.Lock()
	c.entries[uri] = set
	c.mu.Unlock()
	if c.onReplace != nil {
		c.onReplace(uri)
	}
	return nil
}

// GetJwks returns the key set cached for uri, fetching it if necessary.
// Concurrent calls for the same uri share a single in-flight fetch; on
// error, the in-flight marker is cleared so the next call retries.
//
// It is unsupported in per-kid (ALB) mode.
func (c *Cache) GetJwks(ctx context.Context, uri string) (jwk.Set, error) {
	if c.perKidOnly {
		return jwk.Empty, fmt.Errorf("%w: getJwks is not supported for a per-kid JWKS source", jwterr.ErrParameterValidation)
	}
	return c.fetch(ctx, uri, "")
}

// fetch performs the single-flight-deduplicated fetch for (uri, kid),
// caching and returning the resulting set.
func (c *Cache) fetch(ctx context.Context, uri, kid string) (jwk.Set, error) {
	key := c.entryKey(uri, kid)
	v, err, _ := c.group.Do(key, func() (any, error) {
		set, err := c.fetcher.Fetch(ctx, c.fetchURI(uri, kid))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = set
		c.mu.Unlock()
		if c.onReplace != nil {
			c.onReplace(uri)
		}
		return set, nil
	})
	if err != nil {
		return jwk.Empty, err
	}
	return v.(jwk.Set), nil
}

// GetCachedJwk synchronously looks up kid in the entry already cached for
// uri. It returns jwterr.ErrJwksNotAvailableInCache if there is no cached
// entry, or jwterr.ErrKidNotFoundInJwks if kid is absent from it. kid must
// be non-empty.
func (c *Cache) GetCachedJwk(uri, kid string) (jwk.Key, error) {
	if kid == "" {
		return nil, jwterr.ErrJwtWithoutValidKid
	}
	c.mu.RLock()
	set, ok := c.entries[c.entryKey(uri, kid)]
	c.mu.RUnlock()
	if !ok {
		return nil, jwterr.ErrJwksNotAvailableInCache
	}
	k := set.Find(kid)
	if k == nil {
		return nil, jwterr.ErrKidNotFoundInJwks
	}
	return k, nil
}

// GetJwk resolves kid against uri: a cached hit returns immediately;
// otherwise it waits on the penalty box, fetches (deduplicated via
// single-flight), and looks the kid up in the result. A post-fetch miss
// arms the penalty box and fails with jwterr.ErrKidNotFoundInJwks; a
// post-fetch hit clears it. kid must be non-empty.
func (c *Cache) GetJwk(ctx context.Context, uri, kid string) (jwk.Key, error) {
	if kid == "" {
		return nil, jwterr.ErrJwtWithoutValidKid
	}

	c.mu.RLock()
	set, ok := c.entries[c.entryKey(uri, kid)]
	c.mu.RUnlock()
	if ok {
		if k := set.Find(kid); k != nil {
			return k, nil
		}
	}

	if err := c.box.Wait(uri, kid); err != nil {
		return nil, err
	}

	set, err := c.fetch(ctx, uri, kid)
	if err != nil {
		return nil, err
	}

	k := set.Find(kid)
	if k == nil {
		c.box.RegisterFailedAttempt(uri, kid)
		return nil, jwterr.ErrKidNotFoundInJwks
	}
	c.box.RegisterSuccessfulAttempt(uri, kid)
	return k, nil
}
