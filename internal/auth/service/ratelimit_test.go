package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testRules() []RateRule {
	return []RateRule{
		{
			Name:         "global",
			PathPrefixes: []string{"/"},
			Limit:        100,
			Period:       time.Minute,
			KeyMode:      RateByIP,
		},
		{
			Name:         "auth",
			PathPrefixes: []string{"/v1/auth/login", "/v1/auth/mfa"},
			Limit:        5,
			Period:       time.Minute,
			KeyMode:      RateByIP,
		},
	}
}

func TestRateLimiterMatch(t *testing.T) {
	t.Parallel()

	shared, _ := newTestRedis(t)
	limiter := NewRateLimiter(shared, testRules())

	matched := limiter.Match("/v1/auth/login")
	require.Len(t, matched, 2)

	matched = limiter.Match("/v1/auth/me")
	require.Len(t, matched, 1)
	require.Equal(t, "global", matched[0].Name)
}

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	t.Parallel()

	shared, _ := newTestRedis(t)
	limiter := NewRateLimiter(shared, testRules())
	ctx := context.Background()
	rule := testRules()[1]

	for i := 0; i < rule.Limit; i++ {
		d := limiter.Allow(ctx, rule, "", "203.0.113.9")
		require.True(t, d.Allowed)
	}

	d := limiter.Allow(ctx, rule, "", "203.0.113.9")
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, rule.Period)
}

func TestRateLimiterWindowResets(t *testing.T) {
	t.Parallel()

	shared, mr := newTestRedis(t)
	limiter := NewRateLimiter(shared, testRules())
	ctx := context.Background()
	rule := testRules()[1]

	for i := 0; i <= rule.Limit; i++ {
		limiter.Allow(ctx, rule, "", "203.0.113.9")
	}
	require.False(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)

	mr.FastForward(rule.Period + time.Second)

	require.True(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)
}

func TestRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	shared, _ := newTestRedis(t)
	limiter := NewRateLimiter(shared, testRules())
	ctx := context.Background()
	rule := testRules()[1]

	for i := 0; i <= rule.Limit; i++ {
		limiter.Allow(ctx, rule, "", "203.0.113.9")
	}
	require.False(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)
	require.True(t, limiter.Allow(ctx, rule, "", "198.51.100.7").Allowed)
}

func TestRateLimiterAllowAllRequiresEveryRule(t *testing.T) {
	t.Parallel()

	shared, _ := newTestRedis(t)
	limiter := NewRateLimiter(shared, testRules())
	ctx := context.Background()

	// Exhaust only the stricter auth rule.
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.AllowAll(ctx, "/v1/auth/login", "", "203.0.113.9"))
	}

	err := limiter.AllowAll(ctx, "/v1/auth/login", "", "203.0.113.9")
	require.ErrorIs(t, err, ErrRateLimited)

	var limited *RateLimitedError
	require.True(t, errors.As(err, &limited))
	require.Greater(t, limited.RetryAfter, time.Duration(0))

	// Other paths only match the global rule and stay allowed.
	require.NoError(t, limiter.AllowAll(ctx, "/v1/auth/me", "", "203.0.113.9"))
}

func TestRateLimiterSubjectOrIPMode(t *testing.T) {
	t.Parallel()

	shared, _ := newTestRedis(t)
	rule := RateRule{
		Name:         "api",
		PathPrefixes: []string{"/"},
		Limit:        2,
		Period:       time.Minute,
		KeyMode:      RateBySubjectOrIP,
	}
	limiter := NewRateLimiter(shared, []RateRule{rule})
	ctx := context.Background()

	// Authenticated traffic counts per subject regardless of IP.
	limiter.Allow(ctx, rule, "user-1", "203.0.113.9")
	limiter.Allow(ctx, rule, "user-1", "198.51.100.7")
	require.False(t, limiter.Allow(ctx, rule, "user-1", "192.0.2.1").Allowed)

	// Anonymous traffic falls back to the IP.
	require.True(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)
}

func TestRateLimiterLocalFallbackOnOutage(t *testing.T) {
	t.Parallel()

	shared, mr := newTestRedis(t)
	rule := RateRule{
		Name:         "auth",
		PathPrefixes: []string{"/"},
		Limit:        3,
		Period:       time.Minute,
		KeyMode:      RateByIP,
	}
	limiter := NewRateLimiter(shared, []RateRule{rule})
	ctx := context.Background()

	mr.Close()

	// The pipeline never hard-fails; the local bucket takes over and
	// still enforces the burst.
	for i := 0; i < rule.Limit; i++ {
		require.True(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)
	}
	require.False(t, limiter.Allow(ctx, rule, "", "203.0.113.9").Allowed)
}
