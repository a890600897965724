// Package penaltybox throttles repeated JWKS fetch attempts for a URI/kid
// pair that has already failed once, so that a client presenting a bad or
// unknown kid cannot force a flood of requests against an issuer's JWKS
// endpoint.
//
// Unlike the retry transport in internal/retry, which sleeps between
// attempts, a PenaltyBox never blocks: Wait fails
// instantly while a penalty is active, leaving it to the caller (an HTTP
// handler, a retry loop) to decide whether and how long to wait.
package penaltybox

import (
	"sync"
	"time"

	"github.com/deep-rent/jwtverify/internal/backoff"
	"github.com/deep-rent/jwtverify/jwterr"
)

// DefaultDuration is the penalty lifetime used when no Strategy option is
// given: a fixed ten seconds, matching the default described for a single
// failed attempt.
const DefaultDuration = 10 * time.Second

type pair struct{ uri, kid string }

type entry struct {
	strategy backoff.Strategy
	timer    *time.Timer
	active   bool
}

// PenaltyBox gates repeated JWKS fetches for the same uri and kid after a
// failed kid lookup. The zero value is not usable; construct one with New.
type PenaltyBox struct {
	mu       sync.Mutex
	entries  map[pair]*entry
	strategy func() backoff.Strategy
}

// Option configures a PenaltyBox.
type Option func(*PenaltyBox)

// WithStrategy overrides the backoff strategy used to grow the penalty
// duration across consecutive failed attempts for the same uri/kid. The
// default is a constant ten-second penalty; passing a strategy from
// internal/backoff.New lets repeated failures back off further apart.
func WithStrategy(factory func() backoff.Strategy) Option {
	return func(p *PenaltyBox) { p.strategy = factory }
}

// New creates a PenaltyBox.
func New(opts ...Option) *PenaltyBox {
	p := &PenaltyBox{
		entries: make(map[pair]*entry),
		strategy: func() backoff.Strategy {
			return backoff.Constant(DefaultDuration)
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Wait returns nil if no penalty is currently active for uri/kid, or
// jwterr.ErrWaitPeriodNotYetEnded if one is. Concurrent callers observing
// the same active penalty all see the same error.
func (p *PenaltyBox) Wait(uri, kid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[pair{uri, kid}]; ok && e.active {
		return jwterr.ErrWaitPeriodNotYetEnded
	}
	return nil
}

// RegisterFailedAttempt arms a timer that clears the penalty for uri/kid on
// expiry. Repeated calls before the timer fires extend the penalty using
// the configured backoff strategy.
func (p *PenaltyBox) RegisterFailedAttempt(uri, kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := pair{uri, kid}
	e, ok := p.entries[k]
	if !ok {
		e = &entry{strategy: p.strategy()}
		p.entries[k] = e
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	d := e.strategy.Next()
	e.active = true
	e.timer = time.AfterFunc(d, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		e.active = false
	})
}

// RegisterSuccessfulAttempt immediately clears any active penalty for
// uri/kid and resets its backoff progression.
func (p *PenaltyBox) RegisterSuccessfulAttempt(uri, kid string) {
	p.clear(uri, kid)
}

// Release clears the penalty for uri/kid. If kid is empty, it clears every
// penalty registered for uri.
func (p *PenaltyBox) Release(uri, kid string) {
	if kid == "" {
		p.clearURI(uri)
		return
	}
	p.clear(uri, kid)
}

func (p *PenaltyBox) clear(uri, kid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	k := pair{uri, kid}
	if e, ok := p.entries[k]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.entries, k)
	}
}

func (p *PenaltyBox) clearURI(uri string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.entries {
		if k.uri != uri {
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(p.entries, k)
	}
}
