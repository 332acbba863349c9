package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoginIssuesTokensWhenMFADisabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user := env.seedUser(t, false)

	result, err := env.Login.Login(context.Background(), user.Email, testPassword, "203.0.113.9")
	require.NoError(t, err)
	require.NotNil(t, result.Pair)
	require.Nil(t, result.Challenge)
	require.NotEmpty(t, result.Pair.AccessToken)
	require.NotEmpty(t, result.Pair.RefreshToken)
}

func TestLoginWrongPassword(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user := env.seedUser(t, false)

	_, err := env.Login.Login(context.Background(), user.Email, "wrong", "203.0.113.9")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginUnknownAccountIndistinguishable(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user := env.seedUser(t, false)

	_, unknownErr := env.Login.Login(context.Background(), "ghost@example.edu", testPassword, "203.0.113.9")
	_, wrongErr := env.Login.Login(context.Background(), user.Email, "wrong", "203.0.113.9")

	require.ErrorIs(t, unknownErr, ErrInvalidCredentials)
	require.ErrorIs(t, wrongErr, ErrInvalidCredentials)
	require.Equal(t, unknownErr.Error(), wrongErr.Error())
}

func TestLoginLockoutAfterThresholdFailures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, false)
	ip := "203.0.113.9"

	for i := 0; i < DefaultLockoutThreshold; i++ {
		_, err := env.Login.Login(ctx, user.Email, "wrong", ip)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The next attempt is rejected before password verification, even
	// with the correct password.
	_, err := env.Login.Login(ctx, user.Email, testPassword, ip)
	require.ErrorIs(t, err, ErrAccountLocked)

	var locked *LockedError
	require.True(t, errors.As(err, &locked))
	require.Greater(t, locked.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, locked.RetryAfter, DefaultLockoutWindow)
}

func TestLoginLockExpiresWithWindow(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, false)
	ip := "203.0.113.9"

	for i := 0; i < DefaultLockoutThreshold; i++ {
		_, _ = env.Login.Login(ctx, user.Email, "wrong", ip)
	}
	_, err := env.Login.Login(ctx, user.Email, testPassword, ip)
	require.ErrorIs(t, err, ErrAccountLocked)

	env.Redis.FastForward(DefaultLockoutWindow + time.Second)

	result, err := env.Login.Login(ctx, user.Email, testPassword, ip)
	require.NoError(t, err)
	require.NotNil(t, result.Pair)
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	user := env.seedUser(t, false)
	ip := "203.0.113.9"

	for i := 0; i < DefaultLockoutThreshold-1; i++ {
		_, _ = env.Login.Login(ctx, user.Email, "wrong", ip)
	}

	_, err := env.Login.Login(ctx, user.Email, testPassword, ip)
	require.NoError(t, err)

	// The counter restarted, so another few failures stay under the
	// threshold.
	for i := 0; i < DefaultLockoutThreshold-1; i++ {
		_, err := env.Login.Login(ctx, user.Email, "wrong", ip)
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err = env.Login.Login(ctx, user.Email, testPassword, ip)
	require.NoError(t, err)
}

func TestLoginWithMFAEnabledReturnsChallenge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	user := env.seedUser(t, true)

	result, err := env.Login.Login(context.Background(), user.Email, testPassword, "203.0.113.9")
	require.NoError(t, err)
	require.Nil(t, result.Pair, "no tokens before the second factor")
	require.NotNil(t, result.Challenge)
	require.True(t, result.Challenge.MFARequired)
	require.NotEmpty(t, result.Challenge.ChallengeID)
}

func TestLoginEmptyInputs(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	_, err := env.Login.Login(context.Background(), "", "pw", "203.0.113.9")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = env.Login.Login(context.Background(), "a@example.edu", "", "203.0.113.9")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}
