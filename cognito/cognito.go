// Package cognito adapts the generic verifier core to Amazon Cognito user
// pools: parsing a pool ID into its two issuer configs, and checking
// Cognito's token_use/client_id/cognito:groups claims after the generic
// claim validator has accepted a token.
package cognito

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/deep-rent/jwtverify/internal/cache"
	"github.com/deep-rent/jwtverify/internal/scheduler"
	"github.com/deep-rent/jwtverify/jwk"
	"github.com/deep-rent/jwtverify/jwkscache"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/token"
	"github.com/deep-rent/jwtverify/verifier"
	"golang.org/x/sync/errgroup"
)

// poolID matches a Cognito user pool id and captures its region, anchored at
// both ends so an embedded pool id elsewhere in a larger string is rejected.
var poolID = regexp.MustCompile(`^(?P<region>[a-z]{2}(-gov)?-[a-z]+-\d)_[a-zA-Z0-9]+$`)

// Pool describes one Cognito user pool's trust configuration: the expected
// client ids ("aud" for id tokens, "client_id" for access tokens) and, if
// non-nil, the cognito:groups a token must overlap.
type Pool struct {
	ID        string
	ClientIDs []string
	Groups    []string
}

// ParsePoolID validates id against Cognito's user-pool-id shape and returns
// its region.
func ParsePoolID(id string) (region string, err error) {
	m := poolID.FindStringSubmatch(id)
	if m == nil {
		return "", fmt.Errorf("%w: %q is not a valid cognito user pool id", jwterr.ErrParameterValidation, id)
	}
	return m[poolID.SubexpIndex("region")], nil
}

// issuers returns the pool's two issuer URIs: the standard regional issuer
// and Cognito's multi-region issuer, sharing the same claim options.
func (p Pool) issuers(region string, claims []token.ClaimOption) ([]verifier.IssuerConfig, error) {
	standard := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, p.ID)
	multiRegion := fmt.Sprintf("https://issuer.cognito-idp.%s.amazonaws.com/%s", region, p.ID)
	return []verifier.IssuerConfig{
		{Issuer: standard, JwksURI: standard + "/.well-known/jwks.json", Claims: claims},
		{Issuer: multiRegion, JwksURI: multiRegion + "/.well-known/jwks.json", Claims: claims},
	}, nil
}

// IssuerConfigs builds the verifier.IssuerConfig pair for every pool, both
// sharing claims. Use the result with verifier.NewMultiIssuerVerifier and
// verifier.NewCaches.
func IssuerConfigs(claims []token.ClaimOption, pools ...Pool) ([]verifier.IssuerConfig, error) {
	var out []verifier.IssuerConfig
	for _, p := range pools {
		region, err := ParsePoolID(p.ID)
		if err != nil {
			return nil, err
		}
		ics, err := p.issuers(region, claims)
		if err != nil {
			return nil, err
		}
		out = append(out, ics...)
	}
	return out, nil
}

// ProviderCheck builds a verifier.ProviderCheck enforcing Cognito's three
// provider-specific claims: token_use must be "id" or "access" (and match
// wantTokenUse if it is non-empty); client_id/aud, if the pool's ClientIDs is
// non-empty, must be among them; cognito:groups, if the pool's Groups is
// non-empty, must overlap it. The pool is located by matching the token's
// "iss" claim against the two issuer URIs IssuerConfigs derived for it.
func ProviderCheck(wantTokenUse string, pools ...Pool) verifier.ProviderCheck {
	byIssuer := make(map[string]Pool)
	for _, p := range pools {
		region, err := ParsePoolID(p.ID)
		if err != nil {
			continue
		}
		byIssuer[fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", region, p.ID)] = p
		byIssuer[fmt.Sprintf("https://issuer.cognito-idp.%s.amazonaws.com/%s", region, p.ID)] = p
	}

	return func(d *token.Decomposed) error {
		use := d.TokenUse()
		if use != "id" && use != "access" {
			return jwterr.NewClaimError(jwterr.ErrCognitoInvalidTokenUse, jwterr.FailedAssertion{
				Name: "token_use", Actual: use, Expected: []string{"id", "access"},
			}, nil)
		}
		if wantTokenUse != "" && use != wantTokenUse {
			return jwterr.NewClaimError(jwterr.ErrCognitoInvalidTokenUse, jwterr.FailedAssertion{
				Name: "token_use", Actual: use, Expected: wantTokenUse,
			}, nil)
		}

		pool, ok := byIssuer[d.Issuer()]
		if !ok {
			return fmt.Errorf("%w: no pool configured for issuer %q", jwterr.ErrParameterValidation, d.Issuer())
		}

		var clientID string
		if use == "id" {
			aud := d.Audience()
			if len(aud) > 0 {
				clientID = aud[0]
			}
		} else {
			clientID = d.ClientID()
		}
		if len(pool.ClientIDs) > 0 && !slices.Contains(pool.ClientIDs, clientID) {
			return jwterr.NewClaimError(jwterr.ErrCognitoInvalidClientID, jwterr.FailedAssertion{
				Name: "client_id", Actual: clientID, Expected: pool.ClientIDs,
			}, nil)
		}

		if len(pool.Groups) > 0 {
			groups := d.Groups()
			if !overlaps(groups, pool.Groups) {
				return jwterr.NewClaimError(jwterr.ErrCognitoInvalidGroup, jwterr.FailedAssertion{
					Name: "cognito:groups", Actual: groups, Expected: pool.Groups,
				}, nil)
			}
		}
		return nil
	}
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// Hydrate fetches every issuer's JWKS in parallel, populating jwks before
// any synchronous verification is attempted. The first fetch error cancels
// the remaining in-flight fetches, mirroring errgroup's usual fail-fast
// behaviour for independent concurrent work.
func Hydrate(ctx context.Context, jwks *jwkscache.Cache, issuers []verifier.IssuerConfig) error {
	g, gCtx := errgroup.WithContext(ctx)
	for _, ic := range issuers {
		uri := ic.JwksURI
		g.Go(func() error {
			_, err := jwks.GetJwks(gCtx, uri)
			return err
		})
	}
	return g.Wait()
}

// WarmCache dispatches a background refresh tick per issuer JWKS URI that
// periodically re-fetches the document and pushes it into jwks via AddJwks,
// keeping the synchronous verification path warm independently of the
// on-demand single-flight fetch. Shut the returned scheduler down when the
// verifier is no longer needed.
func WarmCache(ctx context.Context, jwks *jwkscache.Cache, issuers []verifier.IssuerConfig, opts ...cache.Option) scheduler.Scheduler {
	s := scheduler.New(ctx)
	for _, ic := range issuers {
		uri := ic.JwksURI
		ctrl := cache.NewController[jwk.Set](uri, jwk.ParseSet, opts...)
		s.Dispatch(scheduler.TickFn(func(ctx context.Context) time.Duration {
			d := ctrl.Run(ctx)
			if set, ok := ctrl.Get(); ok {
				_ = jwks.AddJwks(uri, set)
			}
			return d
		}))
	}
	return s
}
