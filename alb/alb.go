// Package alb adapts the generic verifier core to AWS Application Load
// Balancer's authenticate-action JWTs: dispatch by the header "signer" ARN
// rather than payload "iss", an SPKI-PEM public key per kid instead of a
// single JWKS document, and signer/client claim checks in place of
// issuer/audience.
package alb

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/deep-rent/jwtverify/jwa"
	"github.com/deep-rent/jwtverify/jwk"
	"github.com/deep-rent/jwtverify/jwksfetch"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/token"
	"github.com/deep-rent/jwtverify/verifier"
)

// arnRegion extracts the region segment of an ELB ARN, e.g.
// "arn:aws:elasticloadbalancing:eu-central-1:123456789012:loadbalancer/...".
var arnRegion = regexp.MustCompile(`^arn:aws:elasticloadbalancing:([a-z0-9-]+):`)

// Region returns the AWS region encoded in an ALB ARN.
func Region(arn string) (string, error) {
	m := arnRegion.FindStringSubmatch(arn)
	if m == nil {
		return "", fmt.Errorf("%w: %q is not a valid ELB ARN", jwterr.ErrParameterValidation, arn)
	}
	return m[1], nil
}

// DefaultJwksURI returns ALB's regional public-key endpoint, the default
// source for PEM documents keyed by kid (the URI's last path segment).
func DefaultJwksURI(arn string) (string, error) {
	region, err := Region(arn)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://public-keys.auth.elb.%s.amazonaws.com", region), nil
}

// Signer describes one ALB listener rule's trust configuration: the
// expected ARN (the lookup key) and the client ids permitted to present a
// token signed by it.
type Signer struct {
	ARN       string
	ClientIDs []string
}

// IssuerConfigs builds one verifier.IssuerConfig per signer, keyed by ARN
// instead of a payload issuer, for use with
// verifier.NewMultiIssuerVerifier(..., verifier.WithIssuerSelector(Selector)).
// jwksURI overrides the default per-ARN endpoint derived from the ARN's
// region; pass "" to use the default.
func IssuerConfigs(claims []token.ClaimOption, jwksURI string, signers ...Signer) ([]verifier.IssuerConfig, error) {
	out := make([]verifier.IssuerConfig, 0, len(signers))
	for _, s := range signers {
		uri := jwksURI
		if uri == "" {
			var err error
			uri, err = DefaultJwksURI(s.ARN)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, verifier.IssuerConfig{Issuer: s.ARN, JwksURI: uri, Claims: claims})
	}
	return out, nil
}

// Selector reads the ALB-specific "signer" header claim in place of the
// payload "iss" claim, for use with verifier.WithIssuerSelector.
func Selector(d *token.Decomposed) string { return d.Signer() }

// ProviderCheck builds a verifier.ProviderCheck enforcing that the header
// "client" claim, when non-empty in the signer's configuration, is among
// the expected client ids for the ARN the token was dispatched to.
func ProviderCheck(signers ...Signer) verifier.ProviderCheck {
	byARN := make(map[string][]string, len(signers))
	for _, s := range signers {
		byARN[s.ARN] = s.ClientIDs
	}
	return func(d *token.Decomposed) error {
		arn := d.Signer()
		if arn == "" {
			return fmt.Errorf("%w: missing signer header", jwterr.ErrAlbInvalidSigner)
		}
		clientIDs, ok := byARN[arn]
		if !ok {
			return jwterr.NewClaimError(jwterr.ErrAlbInvalidSigner, jwterr.FailedAssertion{
				Name: "signer", Actual: arn, Expected: signerARNs(signers),
			}, nil)
		}
		if len(clientIDs) == 0 {
			return nil
		}
		client := d.Client()
		if !slices.Contains(clientIDs, client) {
			return jwterr.NewClaimError(jwterr.ErrAlbInvalidClientID, jwterr.FailedAssertion{
				Name: "client", Actual: client, Expected: clientIDs,
			}, nil)
		}
		return nil
	}
}

func signerARNs(signers []Signer) []string {
	arns := make([]string, len(signers))
	for i, s := range signers {
		arns[i] = s.ARN
	}
	return arns
}

// ParsePEM parses ALB's public-key endpoint response: an SPKI-PEM document
// for a single EC public key. kid is required, since an SPKI document
// carries no key id of its own; the resulting Set has exactly one entry,
// keyed by kid. The PEM structure is grounded in standard SPKI parsing; ALB
// only ever issues EC keys, so jwa.ES256 is assumed.
func ParsePEM(kid string) jwksfetch.Parser {
	return func(body []byte) (jwk.Set, error) {
		if kid == "" {
			return jwk.Empty, fmt.Errorf("%w: missing kid", jwterr.ErrParameterValidation)
		}
		block, _ := pem.Decode(body)
		if block == nil {
			return jwk.Empty, fmt.Errorf("%w: not a PEM document", jwterr.ErrAsn1Decoding)
		}
		raw, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return jwk.Empty, fmt.Errorf("%w: %w", jwterr.ErrAsn1Decoding, err)
		}
		pub, ok := raw.(*ecdsa.PublicKey)
		if !ok {
			return jwk.Empty, fmt.Errorf("%w: expected an EC public key", jwterr.ErrJwkInvalidKty)
		}
		return jwk.NewSet(jwk.New(jwa.ES256, kid, pub)), nil
	}
}

// Fetcher wraps jwksfetch.New with a Parser that re-derives the kid from
// the request URI's last path segment, since jwkscache's per-kid mode
// rewrites the fetch URI to uri+"/"+kid before calling Fetch.
func Fetcher(opts ...jwksfetch.Option) jwksfetch.Fetcher {
	return jwksfetch.FetchFunc(func(ctx context.Context, uri string) (jwk.Set, error) {
		kid := uri
		if i := strings.LastIndex(uri, "/"); i >= 0 {
			kid = uri[i+1:]
		}
		f := jwksfetch.New(append(slices.Clone(opts), jwksfetch.WithParser(ParsePEM(kid)))...)
		return f.Fetch(ctx, uri)
	})
}
