// Package jwk parses and models JSON Web Keys (JWK) and JSON Web Key Sets
// (JWKS), as defined in RFC 7517, for the sole purpose of signature
// verification.
//
// Keys that declare neither "use" nor a "verify" entry in "key_ops" are not
// eligible for signature verification and are skipped when parsing a set.
// A key whose "use" is present but not "sig" is an error, not skipped.
//
// Both "kid" and "alg" are optional per RFC 7517 and are accepted as such: a
// key missing "kid" parses successfully but can never be found by
// Set.Find, since lookup is by kid. A key missing "alg" is unambiguous for
// EC (curve determines the algorithm) and OKP (both Ed25519 and Ed448 map
// to the single EdDSA algorithm) and is resolved immediately; for RSA,
// where "alg" could be any of RS256/384/512 or PS256/384/512 over the same
// key material, resolution is deferred to the verifier, which binds the
// key to the JWT header's own alg once it has confirmed that alg is
// supported (see Resolvable).
package jwk

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"maps"
	"math/big"
	"slices"

	"github.com/cloudflare/circl/sign/ed448"
	"github.com/deep-rent/jwtverify/jwa"
	"github.com/deep-rent/jwtverify/jwterr"
)

// Key represents a public JSON Web Key used for signature verification.
type Key interface {
	// Algorithm returns the JWA algorithm name ("alg") this key must be
	// used with, or "" if the key declares none.
	Algorithm() string
	// KeyID returns the key's unique id ("kid").
	KeyID() string
	// Verify checks a signature against a message using the key's
	// material and its associated algorithm. It returns false if the
	// signature is invalid or if any parameter is nil. A Key whose
	// Algorithm is "" must be passed through Resolve first; its Verify
	// always fails.
	Verify(msg, sig []byte) bool
}

// Resolvable is implemented by a Key whose Algorithm is "", meaning the
// source JWK declared no alg and more than one JWA could plausibly apply to
// its key material. Resolve binds it to a concrete algorithm, normally the
// JWT header's own alg once the caller has confirmed that alg is supported.
type Resolvable interface {
	Resolve(alg string) (Key, error)
}

// New creates a Key programmatically from its constituent parts. The type
// parameter T must match the public key type expected by the given
// algorithm (e.g. *rsa.PublicKey for jwa.RS256).
func New[T crypto.PublicKey](alg jwa.Algorithm[T], kid string, mat T) Key {
	return &key[T]{alg: alg, kid: kid, mat: mat}
}

type key[T crypto.PublicKey] struct {
	alg jwa.Algorithm[T]
	kid string
	mat T
}

func (k *key[T]) Algorithm() string { return k.alg.String() }
func (k *key[T]) KeyID() string     { return k.kid }

func (k *key[T]) Verify(msg, sig []byte) bool {
	if msg == nil || sig == nil {
		return false
	}
	return k.alg.Verify(k.mat, msg, sig)
}

// Parse parses a single Key from its JSON representation.
//
// It first checks whether the key is eligible for signature verification
// (its "use" is "sig", or its "key_ops" contains "verify"): a key with
// neither returns ErrIneligibleKey, and a key whose "use" is anything other
// than "sig" returns jwterr.ErrJwkInvalidUse. It then validates the
// required "kty" parameter,
// the supported algorithm (if "alg" is present, see inferAlgorithm
// otherwise), and the integrity of the key material itself. "kid" is
// carried through unchanged, empty or not.
func Parse(in []byte) (Key, error) {
	var raw raw
	if err := json.Unmarshal(in, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %w", jwterr.ErrJwkValidation, err)
	}
	// Per RFC 7517, a key's purpose is the union of "use" and "key_ops".
	// Checked first since only signature-verification keys are relevant.
	if raw.Use == "" && !slices.Contains(raw.Ops, "verify") {
		return nil, ErrIneligibleKey
	}
	if raw.Use != "" && raw.Use != "sig" {
		return nil, fmt.Errorf("%w: use %q", jwterr.ErrJwkInvalidUse, raw.Use)
	}
	if raw.Kty == "" {
		return nil, fmt.Errorf("%w: missing kty", jwterr.ErrJwkValidation)
	}
	if raw.Alg == "" {
		return inferAlgorithm(&raw)
	}
	load := loaders[raw.Alg]
	if load == nil {
		return nil, fmt.Errorf("%w: unknown algorithm %q", jwterr.ErrJwkInvalidKty, raw.Alg)
	}
	key, err := load(&raw)
	if err != nil {
		return nil, err
	}
	return key, nil
}

// inferAlgorithm builds a Key for a JWK that declares no "alg". For EC and
// OKP, the key's own kty/crv leave no real choice of algorithm, so the
// inferred one is assigned directly. For RSA, the same key material is
// valid under six different algorithms (RS/PS x 256/384/512), so inference
// is deferred: the returned Key's Algorithm is "" and its Resolve method
// must be used to bind it to the JWT header's own alg.
func inferAlgorithm(r *raw) (Key, error) {
	switch r.Kty {
	case "RSA":
		mat, err := decodeRSA(r)
		if err != nil {
			return nil, err
		}
		return &undeclaredRSAKey{kid: r.Kid, mat: mat}, nil
	case "EC":
		curve, alg, ok := ecdsaAlgorithmForCurve(r.Crv)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported EC curve %q", jwterr.ErrJwkValidation, r.Crv)
		}
		mat, err := decodeECDSA(curve)(r)
		if err != nil {
			return nil, err
		}
		return New(alg, r.Kid, mat), nil
	case "OKP":
		mat, err := decodeEdDSA(r)
		if err != nil {
			return nil, err
		}
		return New(jwa.EdDSA, r.Kid, mat), nil
	default:
		return nil, fmt.Errorf("%w: cannot infer algorithm for kty %q without alg", jwterr.ErrJwkInvalidKty, r.Kty)
	}
}

// ecdsaAlgorithmForCurve maps a JWK "crv" value to its one possible ES
// algorithm and the corresponding stdlib curve.
func ecdsaAlgorithmForCurve(crv string) (elliptic.Curve, jwa.Algorithm[*ecdsa.PublicKey], bool) {
	switch crv {
	case "P-256":
		return elliptic.P256(), jwa.ES256, true
	case "P-384":
		return elliptic.P384(), jwa.ES384, true
	case "P-521":
		return elliptic.P521(), jwa.ES512, true
	default:
		return nil, nil, false
	}
}

// rsaAlgorithms maps every RSA-compatible JWA name to its Algorithm, for
// binding an undeclaredRSAKey to the header's alg once checkHeaderAgainstJwk
// has confirmed that alg is supported.
var rsaAlgorithms = map[string]jwa.Algorithm[*rsa.PublicKey]{
	"RS256": jwa.RS256, "RS384": jwa.RS384, "RS512": jwa.RS512,
	"PS256": jwa.PS256, "PS384": jwa.PS384, "PS512": jwa.PS512,
}

// undeclaredRSAKey is an RSA key parsed from a JWK with no "alg": its
// material alone doesn't determine RS vs PS or the hash size, so Verify
// always fails until Resolve binds it to a specific algorithm.
type undeclaredRSAKey struct {
	kid string
	mat *rsa.PublicKey
}

func (k *undeclaredRSAKey) Algorithm() string { return "" }
func (k *undeclaredRSAKey) KeyID() string     { return k.kid }

func (k *undeclaredRSAKey) Verify(msg, sig []byte) bool { return false }

func (k *undeclaredRSAKey) Resolve(alg string) (Key, error) {
	a, ok := rsaAlgorithms[alg]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an RSA algorithm", jwterr.ErrInvalidSignatureAlgorithm, alg)
	}
	return New(a, k.kid, k.mat), nil
}

// ErrIneligibleKey indicates that a key may be syntactically valid but
// should not be used for signature verification according to its "use" or
// "key_ops" parameters: it declares no "use" and its "key_ops" lacks
// "verify". A key with a "use" other than "sig" (for example, an encryption
// key) yields jwterr.ErrJwkInvalidUse instead.
var ErrIneligibleKey = errors.New("jwk: ineligible for signature verification")

// Set stores an immutable collection of Keys, typically parsed from a JWKS
// document. It provides efficient kid-based lookup.
type Set interface {
	// Keys returns an iterator over all keys in the set.
	Keys() iter.Seq[Key]
	// Len returns the number of keys in the set.
	Len() int
	// Find looks up a key by its kid. It returns nil if kid is empty or no
	// key with that kid exists. The caller is responsible for separately
	// checking that the key's Algorithm matches the JWT header's alg.
	Find(kid string) Key
}

// NewSet creates a Set programmatically from the given keys. Nil keys are
// filtered out. If multiple keys share a kid, the last one wins.
func NewSet(keys ...Key) Set {
	s := make(set, len(keys))
	for _, k := range keys {
		if k != nil {
			s[k.KeyID()] = k
		}
	}
	return s
}

type set map[string]Key

func (s set) Keys() iter.Seq[Key] { return maps.Values(s) }
func (s set) Len() int            { return len(s) }

func (s set) Find(kid string) Key {
	if kid == "" {
		return nil
	}
	return s[kid]
}

type emptySet struct{}

func (emptySet) Keys() iter.Seq[Key] { return func(func(Key) bool) {} }
func (emptySet) Len() int            { return 0 }
func (emptySet) Find(string) Key     { return nil }

// Empty is the singleton empty Set, useful as a safe zero value.
var Empty Set = emptySet{}

// ParseSet parses a Set from a JWKS document ({"keys":[...]}).
//
// If the top-level structure is malformed, it returns Empty and a fatal
// error. Otherwise it parses each entry of "keys" individually: ineligible
// keys are silently skipped, while keys that are invalid, unsupported, or
// carry a duplicate kid produce non-fatal errors joined into the result.
func ParseSet(in []byte) (Set, error) {
	var doc struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.Unmarshal(in, &doc); err != nil {
		return Empty, fmt.Errorf("%w: invalid format: %w", jwterr.ErrJwksValidation, err)
	}
	s := make(set, len(doc.Keys))
	var errs []error
	for i, v := range doc.Keys {
		k, err := Parse(v)
		if err != nil {
			if errors.Is(err, ErrIneligibleKey) {
				continue
			}
			errs = append(errs, fmt.Errorf("key at index %d: %w", i, err))
			continue
		}
		kid := k.KeyID()
		if s[kid] != nil {
			errs = append(errs, fmt.Errorf("%w: key at index %d: duplicate kid %q", jwterr.ErrJwksValidation, i, kid))
			continue
		}
		s[kid] = k
	}
	return s, errors.Join(errs...)
}

// raw holds the parsed JWK envelope, deferring key-material decoding until
// the algorithm-specific loader runs.
type raw struct {
	Kty string   `json:"kty"`
	Use string   `json:"use"`
	Ops []string `json:"key_ops"`
	Alg string   `json:"alg"`
	Kid string   `json:"kid"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	Crv string   `json:"crv"`
	X   string   `json:"x"`
	Y   string   `json:"y"`
}

func b64(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// loader decodes the key material from a raw JWK and constructs a Key.
type loader func(r *raw) (Key, error)

var loaders map[string]loader

func init() {
	loaders = make(map[string]loader, 10)
	addLoader(jwa.RS256, decodeRSA)
	addLoader(jwa.RS384, decodeRSA)
	addLoader(jwa.RS512, decodeRSA)
	addLoader(jwa.PS256, decodeRSA)
	addLoader(jwa.PS384, decodeRSA)
	addLoader(jwa.PS512, decodeRSA)
	addLoader(jwa.ES256, decodeECDSA(elliptic.P256()))
	addLoader(jwa.ES384, decodeECDSA(elliptic.P384()))
	addLoader(jwa.ES512, decodeECDSA(elliptic.P521()))
	addLoader(jwa.EdDSA, decodeEdDSA)
}

func addLoader[T crypto.PublicKey](alg jwa.Algorithm[T], dec decoder[T]) {
	loaders[alg.String()] = func(r *raw) (Key, error) {
		mat, err := dec(r)
		if err != nil {
			return nil, err
		}
		return New(alg, r.Kid, mat), nil
	}
}

type decoder[T crypto.PublicKey] func(*raw) (T, error)

func decodeRSA(raw *raw) (*rsa.PublicKey, error) {
	if raw.Kty != "RSA" {
		return nil, fmt.Errorf("%w: incompatible kty %q", jwterr.ErrJwkInvalidKty, raw.Kty)
	}
	n, err := b64(raw.N)
	if err != nil {
		return nil, fmt.Errorf("%w: modulus: %w", jwterr.ErrJwkValidation, err)
	}
	e, err := b64(raw.E)
	if err != nil {
		return nil, fmt.Errorf("%w: exponent: %w", jwterr.ErrJwkValidation, err)
	}
	if len(n) == 0 {
		return nil, fmt.Errorf("%w: missing RSA modulus", jwterr.ErrJwkValidation)
	}
	if len(e) == 0 {
		return nil, fmt.Errorf("%w: missing RSA public exponent", jwterr.ErrJwkValidation)
	}
	if len(e) > 4 {
		return nil, fmt.Errorf("%w: RSA public exponent exceeds 32 bits", jwterr.ErrJwkValidation)
	}
	exp := 0
	for _, b := range e {
		exp = (exp << 8) | int(b)
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: exp}, nil
}

func decodeECDSA(crv elliptic.Curve) decoder[*ecdsa.PublicKey] {
	return func(raw *raw) (*ecdsa.PublicKey, error) {
		if raw.Kty != "EC" {
			return nil, fmt.Errorf("%w: incompatible kty %q", jwterr.ErrJwkInvalidKty, raw.Kty)
		}
		if raw.Crv != crv.Params().Name {
			return nil, fmt.Errorf("%w: incompatible curve %q", jwterr.ErrJwkValidation, raw.Crv)
		}
		x, err := b64(raw.X)
		if err != nil {
			return nil, fmt.Errorf("%w: x coordinate: %w", jwterr.ErrJwkValidation, err)
		}
		y, err := b64(raw.Y)
		if err != nil {
			return nil, fmt.Errorf("%w: y coordinate: %w", jwterr.ErrJwkValidation, err)
		}
		if len(x) == 0 {
			return nil, fmt.Errorf("%w: missing EC x coordinate", jwterr.ErrJwkValidation)
		}
		if len(y) == 0 {
			return nil, fmt.Errorf("%w: missing EC y coordinate", jwterr.ErrJwkValidation)
		}
		return &ecdsa.PublicKey{Curve: crv, X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}, nil
	}
}

func decodeEdDSA(raw *raw) ([]byte, error) {
	if raw.Kty != "OKP" {
		return nil, fmt.Errorf("%w: incompatible kty %q", jwterr.ErrJwkInvalidKty, raw.Kty)
	}
	x, err := b64(raw.X)
	if err != nil {
		return nil, fmt.Errorf("%w: x coordinate: %w", jwterr.ErrJwkValidation, err)
	}
	var n int
	switch raw.Crv {
	case "Ed448":
		n = ed448.PublicKeySize
	case "Ed25519":
		n = ed25519.PublicKeySize
	default:
		return nil, fmt.Errorf("%w: unsupported OKP curve %q", jwterr.ErrJwkValidation, raw.Crv)
	}
	if m := len(x); m != n {
		return nil, fmt.Errorf("%w: illegal key size for %s: got %d, want %d",
			jwterr.ErrJwkValidation, raw.Crv, m, n)
	}
	return x, nil
}
