package token_test

import (
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/token"
)

func seg(json string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(json))
}

func compose(header, payload string) string {
	return seg(header) + "." + seg(payload) + "." + seg("sig")
}

func TestDecompose_Basic(t *testing.T) {
	s := compose(`{"alg":"RS256","kid":"k1"}`, `{"iss":"issuer","aud":"api","exp":9999999999}`)
	d, err := token.Decompose(s)
	require.NoError(t, err)

	assert.Equal(t, "RS256", d.Algorithm())
	assert.Equal(t, "k1", d.KeyID())
	assert.Equal(t, "issuer", d.Issuer())
	assert.Equal(t, []string{"api"}, d.Audience())

	exp, ok := d.Expiry()
	assert.True(t, ok)
	assert.Equal(t, float64(9999999999), exp)
}

func TestDecompose_AudienceArray(t *testing.T) {
	s := compose(`{"alg":"RS256"}`, `{"aud":["a","b"]}`)
	d, err := token.Decompose(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, d.Audience())
}

func TestDecompose_RejectsWrongSegmentCount(t *testing.T) {
	_, err := token.Decompose(seg(`{}`) + "." + seg(`{}`))
	assert.ErrorIs(t, err, jwterr.ErrParse)
}

func TestDecompose_RejectsEmpty(t *testing.T) {
	_, err := token.Decompose("")
	assert.ErrorIs(t, err, jwterr.ErrParse)
}

func TestDecompose_RejectsNonObjectHeader(t *testing.T) {
	s := seg(`"not an object"`) + "." + seg(`{}`) + "." + seg("sig")
	_, err := token.Decompose(s)
	assert.ErrorIs(t, err, jwterr.ErrParse)
}

func TestDecompose_RejectsNonNumericExp(t *testing.T) {
	s := compose(`{"alg":"RS256"}`, `{"exp":"soon"}`)
	_, err := token.Decompose(s)
	assert.ErrorIs(t, err, jwterr.ErrParse)
}

func TestDecompose_RejectsMalformedBase64(t *testing.T) {
	_, err := token.Decompose("not-base64!.also-not.either")
	assert.ErrorIs(t, err, jwterr.ErrParse)
}

func claimToken(t *testing.T, payload string) *token.Decomposed {
	t.Helper()
	s := compose(`{"alg":"RS256"}`, payload)
	d, err := token.Decompose(s)
	require.NoError(t, err)
	return d
}

func TestValidateClaims_IssuerMustBeConfigured(t *testing.T) {
	d := claimToken(t, `{"iss":"i"}`)
	opts := token.NewClaimOptions(token.WithoutAudienceCheck())
	err := token.ValidateClaims(d, opts)
	assert.ErrorIs(t, err, jwterr.ErrParameterValidation)
}

func TestValidateClaims_AudienceMustBeConfigured(t *testing.T) {
	d := claimToken(t, `{"aud":"a"}`)
	opts := token.NewClaimOptions(token.WithoutIssuerCheck())
	err := token.ValidateClaims(d, opts)
	assert.ErrorIs(t, err, jwterr.ErrParameterValidation)
}

func TestValidateClaims_IssuerMismatch(t *testing.T) {
	d := claimToken(t, `{"iss":"wrong"}`)
	opts := token.NewClaimOptions(token.WithIssuer("expected"), token.WithoutAudienceCheck())
	err := token.ValidateClaims(d, opts)
	assert.ErrorIs(t, err, jwterr.ErrInvalidIssuer)
}

func TestValidateClaims_AudienceOverlap(t *testing.T) {
	d := claimToken(t, `{"aud":["a","b"]}`)
	opts := token.NewClaimOptions(token.WithoutIssuerCheck(), token.WithAudience("b", "c"))
	assert.NoError(t, token.ValidateClaims(d, opts))
}

func TestValidateClaims_Expired(t *testing.T) {
	d := claimToken(t, `{"exp":1000}`)
	now := time.Unix(2000, 0)
	opts := token.NewClaimOptions(
		token.WithoutIssuerCheck(), token.WithoutAudienceCheck(),
		token.WithClock(func() time.Time { return now }),
	)
	err := token.ValidateClaims(d, opts)
	assert.ErrorIs(t, err, jwterr.ErrExpired)

	var claimErr *jwterr.ClaimError
	if assert.ErrorAs(t, err, &claimErr) {
		assert.Equal(t, float64(1000), claimErr.FailedAssertion.Actual)
	}
}

func TestValidateClaims_ExpiredWithinGrace(t *testing.T) {
	d := claimToken(t, `{"exp":1000}`)
	now := time.Unix(1010, 0)
	opts := token.NewClaimOptions(
		token.WithoutIssuerCheck(), token.WithoutAudienceCheck(),
		token.WithClock(func() time.Time { return now }),
		token.WithGrace(30*time.Second),
	)
	assert.NoError(t, token.ValidateClaims(d, opts))
}

func TestValidateClaims_NotYetValid(t *testing.T) {
	d := claimToken(t, `{"nbf":2000}`)
	now := time.Unix(1000, 0)
	opts := token.NewClaimOptions(
		token.WithoutIssuerCheck(), token.WithoutAudienceCheck(),
		token.WithClock(func() time.Time { return now }),
	)
	err := token.ValidateClaims(d, opts)
	assert.ErrorIs(t, err, jwterr.ErrNotYetValid)
}

func TestValidateClaims_MissingScope(t *testing.T) {
	d := claimToken(t, `{}`)
	opts := token.NewClaimOptions(
		token.WithoutIssuerCheck(), token.WithoutAudienceCheck(),
		token.WithScope("read"),
	)
	err := token.ValidateClaims(d, opts)
	var claimErr *jwterr.ClaimError
	require.True(t, errors.As(err, &claimErr))
	assert.Equal(t, "Missing Scope", claimErr.FailedAssertion.Actual)
}

func TestValidateClaims_ScopeOverlap(t *testing.T) {
	d := claimToken(t, `{"scope":"read write"}`)
	opts := token.NewClaimOptions(
		token.WithoutIssuerCheck(), token.WithoutAudienceCheck(),
		token.WithScope("admin", "write"),
	)
	assert.NoError(t, token.ValidateClaims(d, opts))
}

func TestValidateClaims_ScopeDisabledByDefault(t *testing.T) {
	d := claimToken(t, `{}`)
	opts := token.NewClaimOptions(token.WithoutIssuerCheck(), token.WithoutAudienceCheck())
	assert.NoError(t, token.ValidateClaims(d, opts))
}
