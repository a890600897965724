// Package token splits a compact-serialization JWT into its header, payload
// and signature, and validates that each recognized field has the JSON
// shape the rest of the pipeline expects. Nothing in this package performs
// or implies cryptographic verification: the values it returns must not be
// trusted for any security decision until a signature has been checked
// against them.
package token

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/deep-rent/jwtverify/jwterr"
)

// compact matches the three dot-separated, base64url segments of a JWT in
// compact serialization. Padding is tolerated even though RFC 7515 forbids
// it, since some issuers emit it anyway.
var compact = regexp.MustCompile(`^[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]+={0,2}\.[A-Za-z0-9_-]+={0,2}$`)

// Decomposed holds the three parts of a JWT after structural validation, but
// before its signature has been checked.
type Decomposed struct {
	Header  map[string]any
	Payload map[string]any

	// SigningInput is the exact byte sequence the signature was computed
	// over: the base64url header, a dot, and the base64url payload.
	SigningInput []byte
	// Signature is the decoded signature bytes.
	Signature []byte
}

// Decompose splits s into header, payload and signature, base64url-decodes
// and JSON-parses the first two, and checks that every recognized field has
// its declared shape. It returns jwterr.ErrParse wrapping a description of
// whatever failed.
//
// The result must not be trusted for any security decision until its
// signature has been verified.
func Decompose(s string) (*Decomposed, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty token", jwterr.ErrParse)
	}
	if !compact.MatchString(s) {
		return nil, fmt.Errorf("%w: expected three dot-separated base64url segments", jwterr.ErrParse)
	}
	i, j := -1, -1
	for k := 0; k < len(s); k++ {
		if s[k] != '.' {
			continue
		}
		if i < 0 {
			i = k
		} else {
			j = k
		}
	}

	headerB64, payloadB64, sigB64 := s[:i], s[i+1:j], s[j+1:]

	headerJSON, err := decode(headerB64)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", jwterr.ErrParse, err)
	}
	var header map[string]any
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("%w: header is not a JSON object: %w", jwterr.ErrParse, err)
	}
	if err := checkHeaderShape(header); err != nil {
		return nil, err
	}

	payloadJSON, err := decode(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("%w: payload: %w", jwterr.ErrParse, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object: %w", jwterr.ErrParse, err)
	}
	if err := checkPayloadShape(payload); err != nil {
		return nil, err
	}

	sig, err := decode(sigB64)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %w", jwterr.ErrParse, err)
	}

	return &Decomposed{
		Header:       header,
		Payload:      payload,
		SigningInput: []byte(headerB64 + "." + payloadB64),
		Signature:    sig,
	}, nil
}

func decode(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func checkHeaderShape(h map[string]any) error {
	for _, name := range []string{"alg", "kid", "signer", "client"} {
		if v, ok := h[name]; ok {
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%w: header %q is not a string", jwterr.ErrParse, name)
			}
		}
	}
	return nil
}

func checkPayloadShape(p map[string]any) error {
	for _, name := range []string{"exp", "nbf", "iat"} {
		if v, ok := p[name]; ok {
			n, isNum := v.(float64)
			if !isNum || math.IsNaN(n) || math.IsInf(n, 0) {
				return fmt.Errorf("%w: payload %q is not a finite number", jwterr.ErrParse, name)
			}
		}
	}
	for _, name := range []string{"iss", "sub", "jti", "scope", "token_use", "client_id"} {
		if v, ok := p[name]; ok {
			if _, ok := v.(string); !ok {
				return fmt.Errorf("%w: payload %q is not a string", jwterr.ErrParse, name)
			}
		}
	}
	if v, ok := p["aud"]; ok {
		switch t := v.(type) {
		case string:
		case []any:
			for _, e := range t {
				if _, ok := e.(string); !ok {
					return fmt.Errorf("%w: payload %q contains a non-string entry", jwterr.ErrParse, "aud")
				}
			}
		default:
			return fmt.Errorf("%w: payload %q is not a string or array of strings", jwterr.ErrParse, "aud")
		}
	}
	if v, ok := p["cognito:groups"]; ok {
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: payload %q is not an array", jwterr.ErrParse, "cognito:groups")
		}
		for _, e := range arr {
			if _, ok := e.(string); !ok {
				return fmt.Errorf("%w: payload %q contains a non-string entry", jwterr.ErrParse, "cognito:groups")
			}
		}
	}
	return nil
}

// Algorithm returns the header "alg", or "" if absent.
func (d *Decomposed) Algorithm() string { return str(d.Header, "alg") }

// KeyID returns the header "kid", or "" if absent.
func (d *Decomposed) KeyID() string { return str(d.Header, "kid") }

// Issuer returns the payload "iss", or "" if absent.
func (d *Decomposed) Issuer() string { return str(d.Payload, "iss") }

// Subject returns the payload "sub", or "" if absent.
func (d *Decomposed) Subject() string { return str(d.Payload, "sub") }

// ID returns the payload "jti", or "" if absent.
func (d *Decomposed) ID() string { return str(d.Payload, "jti") }

// Scope returns the payload "scope", or "" if absent.
func (d *Decomposed) Scope() string { return str(d.Payload, "scope") }

// TokenUse returns the payload "token_use" (Cognito), or "" if absent.
func (d *Decomposed) TokenUse() string { return str(d.Payload, "token_use") }

// ClientID returns the payload "client_id" (Cognito), or "" if absent.
func (d *Decomposed) ClientID() string { return str(d.Payload, "client_id") }

// Groups returns the payload "cognito:groups", or nil if absent.
func (d *Decomposed) Groups() []string {
	v, ok := d.Payload["cognito:groups"].([]any)
	if !ok {
		return nil
	}
	groups := make([]string, 0, len(v))
	for _, e := range v {
		groups = append(groups, e.(string))
	}
	return groups
}

// Signer returns the header "signer" (ALB), or "" if absent.
func (d *Decomposed) Signer() string { return str(d.Header, "signer") }

// Client returns the header "client" (ALB), or "" if absent.
func (d *Decomposed) Client() string { return str(d.Header, "client") }

// Audience returns the payload "aud" normalized to a slice, or nil if
// absent. A single string value is returned as a one-element slice.
func (d *Decomposed) Audience() []string {
	v, ok := d.Payload["aud"]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		aud := make([]string, 0, len(t))
		for _, e := range t {
			aud = append(aud, e.(string))
		}
		return aud
	}
	return nil
}

// Expiry returns the payload "exp" in seconds since the epoch, and whether
// it was present.
func (d *Decomposed) Expiry() (float64, bool) { return num(d.Payload, "exp") }

// NotBefore returns the payload "nbf" in seconds since the epoch, and
// whether it was present.
func (d *Decomposed) NotBefore() (float64, bool) { return num(d.Payload, "nbf") }

// IssuedAt returns the payload "iat" in seconds since the epoch, and
// whether it was present.
func (d *Decomposed) IssuedAt() (float64, bool) { return num(d.Payload, "iat") }

func str(m map[string]any, name string) string {
	if v, ok := m[name].(string); ok {
		return v
	}
	return ""
}

func num(m map[string]any, name string) (float64, bool) {
	v, ok := m[name].(float64)
	return v, ok
}
