package penaltybox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep-rent/jwtverify/internal/backoff"
	"github.com/deep-rent/jwtverify/jwterr"
	"github.com/deep-rent/jwtverify/penaltybox"
)

func TestWait_NoPenaltyByDefault(t *testing.T) {
	p := penaltybox.New()
	assert.NoError(t, p.Wait("https://issuer/jwks.json", "k1"))
}

func TestWait_FailsWhilePenaltyActive(t *testing.T) {
	p := penaltybox.New(penaltybox.WithStrategy(func() backoff.Strategy {
		return backoff.Constant(50 * time.Millisecond)
	}))
	p.RegisterFailedAttempt("uri", "k1")

	err := p.Wait("uri", "k1")
	require.Error(t, err)
	assert.ErrorIs(t, err, jwterr.ErrWaitPeriodNotYetEnded)
}

func TestWait_ClearsAfterExpiry(t *testing.T) {
	p := penaltybox.New(penaltybox.WithStrategy(func() backoff.Strategy {
		return backoff.Constant(20 * time.Millisecond)
	}))
	p.RegisterFailedAttempt("uri", "k1")
	require.Error(t, p.Wait("uri", "k1"))

	assert.Eventually(t, func() bool {
		return p.Wait("uri", "k1") == nil
	}, time.Second, 5*time.Millisecond)
}

func TestWait_IsolatedPerURIAndKid(t *testing.T) {
	p := penaltybox.New()
	p.RegisterFailedAttempt("uri-a", "k1")

	assert.Error(t, p.Wait("uri-a", "k1"))
	assert.NoError(t, p.Wait("uri-a", "k2"))
	assert.NoError(t, p.Wait("uri-b", "k1"))
}

func TestRegisterSuccessfulAttempt_ClearsPenalty(t *testing.T) {
	p := penaltybox.New()
	p.RegisterFailedAttempt("uri", "k1")
	require.Error(t, p.Wait("uri", "k1"))

	p.RegisterSuccessfulAttempt("uri", "k1")
	assert.NoError(t, p.Wait("uri", "k1"))
}

func TestRelease_WithKid(t *testing.T) {
	p := penaltybox.New()
	p.RegisterFailedAttempt("uri", "k1")
	p.RegisterFailedAttempt("uri", "k2")

	p.Release("uri", "k1")
	assert.NoError(t, p.Wait("uri", "k1"))
	assert.Error(t, p.Wait("uri", "k2"))
}

func TestRelease_WithoutKidClearsAllForURI(t *testing.T) {
	p := penaltybox.New()
	p.RegisterFailedAttempt("uri", "k1")
	p.RegisterFailedAttempt("uri", "k2")
	p.RegisterFailedAttempt("other-uri", "k1")

	p.Release("uri", "")
	assert.NoError(t, p.Wait("uri", "k1"))
	assert.NoError(t, p.Wait("uri", "k2"))
	assert.Error(t, p.Wait("other-uri", "k1"))
}
