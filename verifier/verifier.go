// Package verifier composes the decomposer, JWKS cache, key-object cache
// and crypto adapter into the end-to-end JWT verification state machine:
//
//	Start -> Decomposed -> IssuerResolved -> JwkResolved ->
//	  HeaderJwkChecked -> SignatureVerified -> ClaimsValidated ->
//	  ProviderClaimsValidated -> CustomChecked -> Accepted
//
// Every transition's failure is terminal; there is no partial credit for a
// token that fails halfway through.
package verifier

import (
	"context"
	"fmt"

	"github.com/deep-rent/jwtverify/internal/clock"
	"github.com/deep-rent/jwtverify/jwa"
	"github.com/deep-rent/jwtverify/jwk"
	"github.com/deep-rent/jwtverify/jwkscache"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/keycache"
	"github.com/deep-rent/jwtverify/token"
)

// IssuerConfig binds a trusted issuer to the JWKS URI serving its keys and
// the default claim-validation options applied to its tokens.
type IssuerConfig struct {
	Issuer  string
	JwksURI string
	Claims  []token.ClaimOption
}

// CustomCheck inspects an accepted token's header, payload and resolved
// JWK after every built-in check has passed. Returning an error rejects
// the token.
type CustomCheck func(header, payload map[string]any, key jwk.Key) error

// ProviderCheck runs provider-specific claim validation (Cognito's
// token_use/group/client_id, ALB's signer/client) after the generic claim
// validator has accepted a token.
type ProviderCheck func(d *token.Decomposed) error

// Result is the payload of an accepted token: its header and claims, with
// the raw JWT contents never attached on a signature failure.
type Result struct {
	Header  map[string]any
	Payload map[string]any
}

// Verifier validates JWTs against one or more configured issuers.
type Verifier struct {
	issuers  map[string]IssuerConfig
	single   bool
	jwks     *jwkscache.Cache
	keys     *keycache.Cache
	now      clock.Clock
	selector func(d *token.Decomposed) string

	includeRaw bool
	provider   ProviderCheck
	custom     CustomCheck
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithClock overrides the time source used for claim validation. The
// default is the system wall clock. A token.WithClock in an issuer's own
// Claims takes precedence over it.
func WithClock(c clock.Clock) Option {
	return func(v *Verifier) {
		if c != nil {
			v.now = c
		}
	}
}

// WithRawJWTInErrors attaches the decomposed header and payload to claim
// errors (never to signature errors) for diagnostics.
func WithRawJWTInErrors() Option {
	return func(v *Verifier) { v.includeRaw = true }
}

// WithProviderCheck installs a provider-specific claim check (Cognito or
// ALB), run after the generic claim validator accepts a token.
func WithProviderCheck(p ProviderCheck) Option {
	return func(v *Verifier) { v.provider = p }
}

// WithCustomCheck installs a final user-supplied check, run after every
// built-in and provider check has passed.
func WithCustomCheck(c CustomCheck) Option {
	return func(v *Verifier) { v.custom = c }
}

// WithIssuerSelector overrides how the Decomposed->IssuerResolved transition
// locates an IssuerConfig: by default the payload "iss" claim is used as the
// lookup key into the configured issuers map; the ALB facade overrides this
// to the header "signer" claim, since ALB dispatches by ARN rather than by
// issuer URL.
func WithIssuerSelector(fn func(d *token.Decomposed) string) Option {
	return func(v *Verifier) {
		if fn != nil {
			v.selector = fn
		}
	}
}

// NewSingleIssuerVerifier creates a Verifier trusting exactly one issuer.
// Unlike the multi-issuer constructor, a token whose "iss" does not match
// is rejected the same way a completely unconfigured issuer would be,
// without requiring every caller to pre-declare the expected issuer twice.
func NewSingleIssuerVerifier(issuer IssuerConfig, jwks *jwkscache.Cache, keys *keycache.Cache, opts ...Option) *Verifier {
	v := newVerifier(jwks, keys, opts...)
	v.single = true
	v.issuers = map[string]IssuerConfig{issuer.Issuer: issuer}
	return v
}

// NewMultiIssuerVerifier creates a Verifier trusting any of the given
// issuers, selecting the matching IssuerConfig by the token's "iss" claim.
func NewMultiIssuerVerifier(issuers []IssuerConfig, jwks *jwkscache.Cache, keys *keycache.Cache, opts ...Option) *Verifier {
	v := newVerifier(jwks, keys, opts...)
	v.issuers = make(map[string]IssuerConfig, len(issuers))
	for _, ic := range issuers {
		v.issuers[ic.Issuer] = ic
	}
	return v
}

func newVerifier(jwks *jwkscache.Cache, keys *keycache.Cache, opts ...Option) *Verifier {
	v := &Verifier{
		jwks:     jwks,
		keys:     keys,
		now:      clock.SystemClock(),
		selector: (*token.Decomposed).Issuer,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify decomposes, resolves and validates s, fetching the issuer's JWKS
// over the network if it is not already cached. It blocks until the fetch
// completes or ctx is done.
func (v *Verifier) Verify(ctx context.Context, s string) (*Result, error) {
	d, ic, err := v.decomposeAndResolveIssuer(s)
	if err != nil {
		return nil, err
	}

	kid := d.KeyID()
	if kid == "" {
		return nil, jwterr.ErrJwtWithoutValidKid
	}
	k, err := v.jwks.GetJwk(ctx, ic.JwksURI, kid)
	if err != nil {
		return nil, err
	}
	return v.finish(d, ic, k)
}

// VerifySync decomposes, resolves and validates s using only what is
// already cached; it never performs network I/O. It fails with
// jwterr.ErrJwksNotAvailableInCache if the issuer's JWKS has not been
// pre-fetched or hydrated.
func (v *Verifier) VerifySync(s string) (*Result, error) {
	d, ic, err := v.decomposeAndResolveIssuer(s)
	if err != nil {
		return nil, err
	}

	kid := d.KeyID()
	if kid == "" {
		return nil, jwterr.ErrJwtWithoutValidKid
	}
	k, err := v.jwks.GetCachedJwk(ic.JwksURI, kid)
	if err != nil {
		return nil, err
	}
	return v.finish(d, ic, k)
}

func (v *Verifier) decomposeAndResolveIssuer(s string) (*token.Decomposed, IssuerConfig, error) {
	d, err := token.Decompose(s)
	if err != nil {
		return nil, IssuerConfig{}, err
	}

	iss := v.selector(d)
	if v.single {
		for _, ic := range v.issuers {
			if iss == ic.Issuer {
				return d, ic, nil
			}
		}
	}
	ic, ok := v.issuers[iss]
	if !ok {
		if iss == "" {
			return nil, IssuerConfig{}, fmt.Errorf("%w: missing iss claim", jwterr.ErrInvalidIssuer)
		}
		return nil, IssuerConfig{}, fmt.Errorf("%w: %q", jwterr.ErrInvalidIssuer, iss)
	}
	return d, ic, nil
}

// finish runs HeaderJwkChecked through Accepted given an already-resolved
// JWK.
func (v *Verifier) finish(d *token.Decomposed, ic IssuerConfig, k jwk.Key) (*Result, error) {
	if err := v.checkHeaderAgainstJwk(d, k); err != nil {
		return nil, err
	}

	// A JWK that declared no alg (possible only for RSA, see jwk.Resolvable)
	// reaches this point with checkHeaderAgainstJwk having already confirmed
	// the header's alg is supported; bind the key to it now, before it is
	// used as a cache key or for verification.
	if k.Algorithm() == "" {
		r, ok := k.(jwk.Resolvable)
		if !ok {
			return nil, fmt.Errorf("%w: jwk declares no alg and cannot be resolved", jwterr.ErrInvalidSignatureAlgorithm)
		}
		resolved, err := r.Resolve(d.Algorithm())
		if err != nil {
			return nil, err
		}
		k = resolved
	}

	// HeaderJwkChecked -> SignatureVerified: the key-object cache only
	// ever sees a JWK whose alg has already been validated against the
	// header, so (issuer, kid, alg) uniquely identifies it.
	k, err := v.keys.Resolve(ic.Issuer, k.KeyID(), k.Algorithm(), func() (jwk.Key, error) {
		return k, nil
	})
	if err != nil {
		return nil, err
	}
	if !k.Verify(d.SigningInput, d.Signature) {
		return nil, jwterr.ErrInvalidSignature
	}

	opts := token.NewClaimOptions(append([]token.ClaimOption{token.WithClock(v.now)}, ic.Claims...)...)
	if err := token.ValidateClaims(d, opts); err != nil {
		return nil, v.enrich(d, err)
	}

	if v.provider != nil {
		if err := v.provider(d); err != nil {
			return nil, v.enrich(d, err)
		}
	}

	if v.custom != nil {
		if err := v.custom(d.Header, d.Payload, k); err != nil {
			return nil, v.enrich(d, err)
		}
	}

	return &Result{Header: d.Header, Payload: d.Payload}, nil
}

// checkHeaderAgainstJwk implements the JwkResolved -> HeaderJwkChecked
// transition: the header alg must be present and one this adapter
// supports, and the JWK's declared alg (if any) must agree with it. The
// JWK's use/key_ops eligibility is not checked here; jwk.Parse has already
// applied it.
func (v *Verifier) checkHeaderAgainstJwk(d *token.Decomposed, k jwk.Key) error {
	alg := d.Algorithm()
	if alg == "" {
		return fmt.Errorf("%w: missing header alg", jwterr.ErrInvalidSignatureAlgorithm)
	}
	if !jwa.Supported(alg) {
		return fmt.Errorf("%w: unsupported alg %q", jwterr.ErrInvalidSignatureAlgorithm, alg)
	}
	if k.Algorithm() != "" && k.Algorithm() != alg {
		return fmt.Errorf("%w: header alg %q does not match jwk alg %q",
			jwterr.ErrInvalidSignatureAlgorithm, alg, k.Algorithm())
	}
	return nil
}

// enrich attaches the decomposed header/payload to a claim error when
// configured, per the "never on signature failures" rule: this is only
// ever called after the signature has already verified.
func (v *Verifier) enrich(d *token.Decomposed, err error) error {
	if !v.includeRaw {
		return err
	}
	if ce, ok := err.(*jwterr.ClaimError); ok {
		ce.RawJWT = &jwterr.RawJWT{Header: d.Header, Payload: d.Payload}
	}
	return err
}
