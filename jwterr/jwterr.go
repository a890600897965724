// Package jwterr defines the typed error taxonomy shared by every stage of
// the verification pipeline, in the same sentinel-error style the rest of
// this module's crypto packages use (see jwk.ErrIneligibleKey, jwa's bare
// errors.New calls): a fixed set of package-level errors, compared with
// errors.Is, optionally wrapped in a richer struct carrying assertion detail.
package jwterr

import (
	"errors"
	"fmt"
)

var (
	// ErrParse signals a structural failure to decompose a JWT: wrong
	// segment count, bad base64url, non-object header/payload, or a
	// recognized field with the wrong shape.
	ErrParse = errors.New("jwt: parse error")

	// ErrInvalidSignatureAlgorithm signals that the header "alg" is
	// unsupported by the crypto adapter, or does not match the JWK's "alg".
	ErrInvalidSignatureAlgorithm = errors.New("jwt: invalid signature algorithm")
	// ErrInvalidSignature signals that cryptographic verification failed.
	ErrInvalidSignature = errors.New("jwt: invalid signature")

	// ErrExpired signals that "exp" (plus grace) is in the past.
	ErrExpired = errors.New("jwt: token is expired")
	// ErrNotYetValid signals that "nbf" (minus grace) is in the future.
	ErrNotYetValid = errors.New("jwt: token is not yet valid")
	// ErrInvalidIssuer signals that "iss" did not match an expected issuer.
	ErrInvalidIssuer = errors.New("jwt: invalid issuer")
	// ErrInvalidAudience signals that "aud" did not overlap the expected set.
	ErrInvalidAudience = errors.New("jwt: invalid audience")
	// ErrInvalidScope signals that "scope" did not contain an expected value.
	ErrInvalidScope = errors.New("jwt: invalid scope")

	// ErrCognitoInvalidTokenUse signals an unexpected or missing token_use.
	ErrCognitoInvalidTokenUse = errors.New("cognito: invalid token_use")
	// ErrCognitoInvalidGroup signals no overlap with cognito:groups.
	ErrCognitoInvalidGroup = errors.New("cognito: invalid group")
	// ErrCognitoInvalidClientID signals a client_id/aud mismatch.
	ErrCognitoInvalidClientID = errors.New("cognito: invalid client id")

	// ErrAlbInvalidSigner signals that the ALB "signer" header claim did
	// not match an expected ARN.
	ErrAlbInvalidSigner = errors.New("alb: invalid signer")
	// ErrAlbInvalidClientID signals that the ALB "client" header claim did
	// not match an expected client id.
	ErrAlbInvalidClientID = errors.New("alb: invalid client id")

	// ErrJwkValidation signals a JWK whose required shape fields are
	// missing or malformed.
	ErrJwkValidation = errors.New("jwk: validation error")
	// ErrJwkInvalidUse signals a JWK declaring a "use" other than "sig".
	ErrJwkInvalidUse = errors.New("jwk: invalid use")
	// ErrJwkInvalidKty signals a JWK with an unrecognized or incompatible
	// "kty".
	ErrJwkInvalidKty = errors.New("jwk: invalid kty")
	// ErrKidNotFoundInJwks signals that no key in the JWKS has the
	// requested kid.
	ErrKidNotFoundInJwks = errors.New("jwk: kid not found in jwks")
	// ErrJwtWithoutValidKid signals a JWT header missing a usable "kid".
	ErrJwtWithoutValidKid = errors.New("jwt: token without valid kid")
	// ErrJwksValidation signals a structurally invalid JWKS document (for
	// example, one that is not a JSON key set, or that repeats a kid).
	ErrJwksValidation = errors.New("jwks: validation error")
	// ErrJwksNotAvailableInCache signals a cold-cache synchronous lookup.
	ErrJwksNotAvailableInCache = errors.New("jwks: not available in cache")

	// ErrWaitPeriodNotYetEnded signals an active penalty-box throttle.
	ErrWaitPeriodNotYetEnded = errors.New("penaltybox: wait period not yet ended")

	// ErrFetch signals a retryable failure to fetch a JWKS or key document.
	ErrFetch = errors.New("fetch: error")
	// ErrNonRetryableFetch signals a fetch failure the caller should not
	// retry (e.g. a 4xx response).
	ErrNonRetryableFetch = errors.New("fetch: non-retryable error")

	// ErrParameterValidation signals API misuse: a missing required
	// option, or a sync call encountering asynchrony it cannot honor.
	ErrParameterValidation = errors.New("parameter validation error")

	// ErrAsn1Decoding signals a failure decoding a DER-encoded key, only
	// relevant to the ALB PEM-to-JWK path.
	ErrAsn1Decoding = errors.New("asn1 decoding error")
)

// FailedAssertion records the specific comparison that rejected a claim, for
// diagnostics and for the literal test scenarios in spec §8.
type FailedAssertion struct {
	Name     string
	Actual   any
	Expected any
}

func (f FailedAssertion) String() string {
	return fmt.Sprintf("%s: got %v, want %v", f.Name, f.Actual, f.Expected)
}

// RawJWT is the diagnostic payload attached to a ClaimError when the
// verifier was built with verifier.WithRawJWTInErrors. It is only ever
// attached after the
// signature has already been verified; signature failures never carry it.
type RawJWT struct {
	Header  map[string]any
	Payload map[string]any
}

// ClaimError wraps one of the Err* claim sentinels above with the specific
// assertion that failed and, optionally, the raw decomposed token.
type ClaimError struct {
	Cause           error
	FailedAssertion FailedAssertion
	RawJWT          *RawJWT
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Cause, e.FailedAssertion)
}

func (e *ClaimError) Unwrap() error { return e.Cause }

// NewClaimError constructs a ClaimError for the given sentinel cause and
// assertion. raw may be nil; it is attached by the verifier core only when
// verifier.WithRawJWTInErrors was given and the signature already passed.
func NewClaimError(cause error, assertion FailedAssertion, raw *RawJWT) *ClaimError {
	return &ClaimError{Cause: cause, FailedAssertion: assertion, RawJWT: raw}
}
