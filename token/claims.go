package token

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/deep-rent/jwtverify/jwterr"
)

// checkMode distinguishes the three states a null/undefined claim check can
// be in: unset (the caller never said what to do), disabled (explicitly
// told to skip), or enabled (check against a concrete set of expected
// values).
type checkMode int

const (
	checkUnset checkMode = iota
	checkDisabled
	checkEnabled
)

// ClaimOptions configures ValidateClaims. Build one with NewClaimOptions and
// the With* functions below.
type ClaimOptions struct {
	issuerMode   checkMode
	issuers      []string
	audienceMode checkMode
	audiences    []string
	scopes       []string
	grace        time.Duration
	now          func() time.Time
}

// ClaimOption configures a ClaimOptions value.
type ClaimOption func(*ClaimOptions)

// WithIssuer enables issuer checking: the payload "iss" must equal one of
// the given values.
func WithIssuer(iss ...string) ClaimOption {
	return func(o *ClaimOptions) {
		o.issuerMode = checkEnabled
		o.issuers = iss
	}
}

// WithoutIssuerCheck explicitly disables issuer checking.
func WithoutIssuerCheck() ClaimOption {
	return func(o *ClaimOptions) { o.issuerMode = checkDisabled }
}

// WithAudience enables audience checking: the payload "aud" must overlap
// the given values.
func WithAudience(aud ...string) ClaimOption {
	return func(o *ClaimOptions) {
		o.audienceMode = checkEnabled
		o.audiences = aud
	}
}

// WithoutAudienceCheck explicitly disables audience checking.
func WithoutAudienceCheck() ClaimOption {
	return func(o *ClaimOptions) { o.audienceMode = checkDisabled }
}

// WithScope enables scope checking: the space-separated payload "scope"
// must contain at least one of the given values. Scope checking is
// disabled by default; unlike issuer and audience, omitting it is not an
// error.
func WithScope(scope ...string) ClaimOption {
	return func(o *ClaimOptions) { o.scopes = scope }
}

// WithGrace sets a leeway applied to "exp" and "nbf" checks, to absorb
// clock skew between issuer and verifier. The default is zero.
func WithGrace(d time.Duration) ClaimOption {
	return func(o *ClaimOptions) { o.grace = d }
}

// WithClock overrides the time source used for "exp" and "nbf" checks.
// The default is time.Now.
func WithClock(now func() time.Time) ClaimOption {
	return func(o *ClaimOptions) { o.now = now }
}

// NewClaimOptions builds a ClaimOptions from the given options. Issuer and
// audience checking are left unset until a With*/Without* option is
// applied; ValidateClaims rejects an unset check with
// jwterr.ErrParameterValidation, since silently skipping it would be an
// easy way to leave a verifier unconfigured by accident.
func NewClaimOptions(opts ...ClaimOption) ClaimOptions {
	var o ClaimOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// ValidateClaims checks exp, nbf, iss, aud and scope on an already
// decomposed, signature-verified token against opts.
func ValidateClaims(d *Decomposed, opts ClaimOptions) error {
	now := opts.now()

	if exp, ok := d.Expiry(); ok {
		deadline := time.Unix(int64(exp), 0).Add(opts.grace)
		if deadline.Before(now) {
			return jwterr.NewClaimError(jwterr.ErrExpired, jwterr.FailedAssertion{
				Name: "exp", Actual: exp, Expected: deadline,
			}, nil)
		}
	}
	if nbf, ok := d.NotBefore(); ok {
		start := time.Unix(int64(nbf), 0).Add(-opts.grace)
		if start.After(now) {
			return jwterr.NewClaimError(jwterr.ErrNotYetValid, jwterr.FailedAssertion{
				Name: "nbf", Actual: nbf, Expected: start,
			}, nil)
		}
	}

	switch opts.issuerMode {
	case checkUnset:
		return fmt.Errorf("%w: issuer check was never configured", jwterr.ErrParameterValidation)
	case checkEnabled:
		if iss := d.Issuer(); !slices.Contains(opts.issuers, iss) {
			return jwterr.NewClaimError(jwterr.ErrInvalidIssuer, jwterr.FailedAssertion{
				Name: "iss", Actual: iss, Expected: opts.issuers,
			}, nil)
		}
	}

	switch opts.audienceMode {
	case checkUnset:
		return fmt.Errorf("%w: audience check was never configured", jwterr.ErrParameterValidation)
	case checkEnabled:
		aud := d.Audience()
		if !overlaps(aud, opts.audiences) {
			return jwterr.NewClaimError(jwterr.ErrInvalidAudience, jwterr.FailedAssertion{
				Name: "aud", Actual: aud, Expected: opts.audiences,
			}, nil)
		}
	}

	if len(opts.scopes) > 0 {
		scope := d.Scope()
		if scope == "" {
			return jwterr.NewClaimError(jwterr.ErrInvalidScope, jwterr.FailedAssertion{
				Name: "scope", Actual: "Missing Scope", Expected: opts.scopes,
			}, nil)
		}
		if !overlaps(strings.Fields(scope), opts.scopes) {
			return jwterr.NewClaimError(jwterr.ErrInvalidScope, jwterr.FailedAssertion{
				Name: "scope", Actual: scope, Expected: opts.scopes,
			}, nil)
		}
	}

	return nil
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
