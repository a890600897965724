package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deep-rent/jwtverify/alb"
	"github.com/deep-rent/jwtverify/cognito"
	"github.com/deep-rent/jwtverify/jwksfetch"
	"github.com/deep-rent/jwtverify/jwkscache"
	"github.com/deep-rent/jwtverify/keycache"
	"github.com/deep-rent/jwtverify/penaltybox"
	"github.com/deep-rent/jwtverify/token"
	"github.com/deep-rent/jwtverify/verifier"
	"golang.org/x/sync/errgroup"
)

// verifiers holds the (up to) three independently configured verifiers the
// trust-store file can populate, one per provider shape. Each keeps its own
// JWKS/key-object caches, so invalidating one provider's issuers never
// touches another's.
type verifiers struct {
	generic *verifier.Verifier
	cognito *verifier.Verifier
	alb     *verifier.Verifier
}

// build constructs a verifier per non-empty section of store, pre-hydrating
// every generic and Cognito JWKS URI before the server starts accepting
// requests. ALB keys are not pre-hydrated; they are fetched per kid on first
// use.
func build(ctx context.Context, store TrustStore, log *slog.Logger) (*verifiers, error) {
	box := penaltybox.New()
	fetcher := jwksfetch.New(jwksfetch.WithLogger(log))
	out := &verifiers{}

	if len(store.Generic) > 0 {
		issuers := make([]verifier.IssuerConfig, 0, len(store.Generic))
		for _, g := range store.Generic {
			opts := []token.ClaimOption{token.WithIssuer(g.Issuer)}
			if len(g.Audience) > 0 {
				opts = append(opts, token.WithAudience(g.Audience...))
			} else {
				opts = append(opts, token.WithoutAudienceCheck())
			}
			issuers = append(issuers, verifier.IssuerConfig{
				Issuer: g.Issuer, JwksURI: g.JwksURI, Claims: opts,
			})
		}
		jwks, keys := verifier.NewCaches(fetcher, box, issuers, keycache.DefaultCapacity)
		if err := hydrate(ctx, jwks, issuers); err != nil {
			return nil, fmt.Errorf("hydrating generic issuers: %w", err)
		}
		out.generic = verifier.NewMultiIssuerVerifier(issuers, jwks, keys)
	}

	if store.Cognito != nil && len(store.Cognito.Pools) > 0 {
		pools := make([]cognito.Pool, len(store.Cognito.Pools))
		for i, p := range store.Cognito.Pools {
			pools[i] = cognito.Pool{ID: p.ID, ClientIDs: p.ClientIDs, Groups: p.Groups}
		}

		// Harvest every pool's two issuer URIs first so WithIssuer can
		// accept tokens from any of them; the pool each token actually
		// belongs to is then located by cognito.ProviderCheck itself.
		unclaimed, err := cognito.IssuerConfigs(nil, pools...)
		if err != nil {
			return nil, fmt.Errorf("configuring cognito pools: %w", err)
		}
		trustedIssuers := make([]string, len(unclaimed))
		for i, ic := range unclaimed {
			trustedIssuers[i] = ic.Issuer
		}
		claims := []token.ClaimOption{
			token.WithIssuer(trustedIssuers...),
			token.WithoutAudienceCheck(),
		}
		issuers, err := cognito.IssuerConfigs(claims, pools...)
		if err != nil {
			return nil, fmt.Errorf("configuring cognito pools: %w", err)
		}

		jwks, keys := verifier.NewCaches(fetcher, box, issuers, keycache.DefaultCapacity)
		if err := cognito.Hydrate(ctx, jwks, issuers); err != nil {
			return nil, fmt.Errorf("hydrating cognito pools: %w", err)
		}
		out.cognito = verifier.NewMultiIssuerVerifier(issuers, jwks, keys,
			verifier.WithProviderCheck(cognito.ProviderCheck(store.Cognito.TokenUse, pools...)),
		)
	}

	if store.ALB != nil && len(store.ALB.Signers) > 0 {
		signers := make([]alb.Signer, len(store.ALB.Signers))
		for i, s := range store.ALB.Signers {
			signers[i] = alb.Signer{ARN: s.ARN, ClientIDs: s.ClientIDs}
		}
		claims := []token.ClaimOption{token.WithoutIssuerCheck(), token.WithoutAudienceCheck()}
		issuers, err := alb.IssuerConfigs(claims, "", signers...)
		if err != nil {
			return nil, fmt.Errorf("configuring alb signers: %w", err)
		}

		// ALB's cache is per-kid rather than per-JWKS-document (GetJwks is
		// unsupported on it), and there is no way to enumerate a signer's
		// kids ahead of time, so there is nothing to pre-hydrate here: the
		// first request for a given kid fetches and caches it lazily.
		jwks, keys := albCaches(alb.Fetcher(jwksfetch.WithLogger(log)), box, issuers)
		out.alb = verifier.NewMultiIssuerVerifier(issuers, jwks, keys,
			verifier.WithIssuerSelector(alb.Selector),
			verifier.WithProviderCheck(alb.ProviderCheck(signers...)),
		)
	}

	return out, nil
}

// albCaches mirrors verifier.NewCaches' issuer-invalidation wiring for
// ALB's per-kid-URL cache variant, which NewCaches itself cannot build
// since it always calls jwkscache.New rather than jwkscache.NewALB.
func albCaches(fetcher jwksfetch.Fetcher, box *penaltybox.PenaltyBox, issuers []verifier.IssuerConfig) (*jwkscache.Cache, *keycache.Cache) {
	keys := keycache.New(keycache.DefaultCapacity)
	byURI := make(map[string]string, len(issuers))
	for _, ic := range issuers {
		byURI[ic.JwksURI] = ic.Issuer
	}
	jwks := jwkscache.NewALB(fetcher, box, jwkscache.WithOnReplace(func(uri string) {
		if issuer, ok := byURI[uri]; ok {
			keys.ClearIssuer(issuer)
		}
	}))
	return jwks, keys
}

// hydrate fetches every issuer's JWKS up front so the server never serves
// its first request against a cold cache. Same shape as cognito.Hydrate,
// kept local since it has no Cognito-specific behavior.
func hydrate(ctx context.Context, jwks *jwkscache.Cache, issuers []verifier.IssuerConfig) error {
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
