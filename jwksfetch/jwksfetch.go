// Package jwksfetch fetches and parses a JWKS (or ALB's PEM public key)
// document from a URI. HTTPS transport mechanics — timeouts, retries,
// headers, TLS — are external collaborators; this package only defines the
// contract the cache depends on and a default implementation assembled
// from them.
package jwksfetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deep-rent/jwtverify/internal/backoff"
	"github.com/deep-rent/jwtverify/internal/log"
	"github.com/deep-rent/jwtverify/internal/retry"
	"github.com/deep-rent/jwtverify/jwk"
	"github.com/deep-rent/jwtverify/jwterr"
)

// Fetcher retrieves a JWK Set from uri. Implementations decide how to
// translate a non-2xx response or a transport error into jwterr.ErrFetch
// (retryable) or jwterr.ErrNonRetryableFetch (not).
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (jwk.Set, error)
}

// FetchFunc adapts a function to a Fetcher.
type FetchFunc func(ctx context.Context, uri string) (jwk.Set, error)

func (f FetchFunc) Fetch(ctx context.Context, uri string) (jwk.Set, error) { return f(ctx, uri) }

// Parser turns a raw response body into a JWK Set. jwk.ParseSet satisfies
// this for a standard JWKS document; the ALB facade supplies a PEM-based
// parser instead.
type Parser func(body []byte) (jwk.Set, error)

type httpFetcher struct {
	client *http.Client
	parse  Parser
}

// New builds a default Fetcher over net/http, wrapped with the retry
// transport's default policy and request/response logging. parse defaults
// to jwk.ParseSet when nil.
func New(opts ...Option) Fetcher {
	cfg := config{
		timeout: 10 * time.Second,
		parse:   jwk.ParseSet,
		limit:   3,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	base := cfg.transport
	if base == nil {
		base = http.DefaultTransport
	}
	transport := retry.NewTransport(base,
		retry.WithAttemptLimit(cfg.limit),
		retry.WithBackoff(backoff.New(backoff.WithMinDelay(200*time.Millisecond))),
	)
	transport = log.NewTransport(transport, cfg.logger)

	return &httpFetcher{
		client: &http.Client{Transport: transport, Timeout: cfg.timeout},
		parse:  cfg.parse,
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, uri string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return jwk.Empty, fmt.Errorf("%w: %w", jwterr.ErrNonRetryableFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	res, err := f.client.Do(req)
	if err != nil {
		return jwk.Empty, fmt.Errorf("%w: %w", jwterr.ErrFetch, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return jwk.Empty, fmt.Errorf("%w: reading body: %w", jwterr.ErrFetch, err)
	}

	if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
		return jwk.Empty, fmt.Errorf("%w: status %d", jwterr.ErrFetch, res.StatusCode)
	}
	if res.StatusCode >= 400 {
		return jwk.Empty, fmt.Errorf("%w: status %d", jwterr.ErrNonRetryableFetch, res.StatusCode)
	}

	set, err := f.parse(body)
	if err != nil {
		if set == nil || set.Len() == 0 {
			return jwk.Empty, fmt.Errorf("%w: %w", jwterr.ErrNonRetryableFetch, err)
		}
		// One or more individual keys failed to parse (invalid material,
		// unsupported alg, duplicate kid) but at least one key in the
		// document is usable; per jwk.ParseSet's contract those failures
		// are non-fatal, so the partial Set is still returned.
	}
	return set, nil
}

type config struct {
	transport http.RoundTripper
	logger    *slog.Logger
	parse     Parser
	timeout   time.Duration
	limit     int
}

// Option configures a default Fetcher built by New.
type Option func(*config)

// WithTransport overrides the base http.RoundTripper wrapped by the
// default retry and logging middleware. If nil, http.DefaultTransport is
// used.
func WithTransport(t http.RoundTripper) Option {
	return func(c *config) { c.transport = t }
}

// WithParser overrides the function used to turn a response body into a
// jwk.Set. The default is jwk.ParseSet.
func WithParser(p Parser) Option {
	return func(c *config) {
		if p != nil {
			c.parse = p
		}
	}
}

// WithTimeout sets the overall per-request timeout. The default is ten
// seconds.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAttemptLimit sets the maximum number of HTTP attempts per fetch,
// including the first. The default is three.
func WithAttemptLimit(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithLogger sets the logger used for request/response debug logging. If
// nil, slog.Default() is used (see internal/log.NewTransport).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}
