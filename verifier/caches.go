package verifier

import (
	"github.com/deep-rent/jwtverify/jwksfetch"
	"github.com/deep-rent/jwtverify/jwkscache"
	"github.com/deep-rent/jwtverify/keycache"
	"github.com/deep-rent/jwtverify/penaltybox"
)

// NewCaches builds a JWKS cache and a key-object cache wired together: when
// the JWKS cache replaces the entry for an issuer's URI (via AddJwks or a
// fresh fetch), the corresponding issuer's key-object cache entries are
// evicted, per the key-object cache's invalidate-on-replace contract.
//
// keyCacheCapacity is passed to keycache.New; non-positive falls back to
// keycache.DefaultCapacity.
func NewCaches(fetcher jwksfetch.Fetcher, box *penaltybox.PenaltyBox, issuers []IssuerConfig, keyCacheCapacity int) (*jwkscache.Cache, *keycache.Cache) {
	keys := keycache.New(keyCacheCapacity)

	byURI := make(map[string]string, len(issuers))
	for _, ic := range issuers {
		byURI[ic.JwksURI] = ic.Issuer
	}

	jwks := jwkscache.New(fetcher, box, jwkscache.WithOnReplace(func(uri string) {
		if issuer, ok := byURI[uri]; ok {
			keys.ClearIssuer(issuer)
		}
	}))
	return jwks, keys
}
