package sqlite

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func seedUser(t *testing.T, s *Store) domain.User {
	t.Helper()

	u := domain.User{
		ID:           idx.New().String(),
		Email:        idx.New().String() + "@example.edu",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		Role:         "student",
	}
	require.NoError(t, s.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsersRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	got, err := s.Users().GetUserByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, u.PasswordHash, got.PasswordHash)
	require.Equal(t, "student", got.Role)
	require.Equal(t, 1, got.CredentialVersion)
	require.False(t, got.MFAEnabled)
	require.Nil(t, got.TOTPSecret)

	byID, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, got.Email, byID.Email)
}

func TestUsersNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	_, err := s.Users().GetUserByEmail(context.Background(), "nobody@example.edu")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUsersDuplicateEmail(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	u := seedUser(t, s)

	dup := domain.User{
		ID:           idx.New().String(),
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Role:         "student",
	}
	err := s.Users().CreateUser(context.Background(), dup)
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestUpdatePasswordHashBumpsCredentialVersion(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	require.NoError(t, s.Users().UpdatePasswordHash(ctx, u.ID, "new-hash"))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "new-hash", got.PasswordHash)
	require.Equal(t, 2, got.CredentialVersion)

	require.NoError(t, s.Users().BumpCredentialVersion(ctx, u.ID))
	got, err = s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.CredentialVersion)
}

func TestEnableTOTP(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	require.NoError(t, s.Users().EnableTOTP(ctx, u.ID, "JBSWY3DPEHPK3PXP"))

	got, err := s.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.MFAEnabled)
	require.NotNil(t, got.TOTPSecret)
	require.Equal(t, "JBSWY3DPEHPK3PXP", *got.TOTPSecret)
}

func seedRefreshToken(t *testing.T, s *Store, userID, sessionID string) domain.RefreshToken {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Second)
	rt := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    userID,
		TokenHash: "hash-" + idx.New().String(),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * 24 * time.Hour),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(context.Background(), rt))
	return rt
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	rt := seedRefreshToken(t, s, u.ID, "sess-1")

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	require.Equal(t, rt.ID, got.ID)
	require.Equal(t, "sess-1", got.SessionID)
	require.Nil(t, got.RevokedAt)
	require.Nil(t, got.ReplacedBy)
	require.True(t, got.Live(time.Now()))

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeIfLiveWinsOnce(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	rt := seedRefreshToken(t, s, u.ID, "sess-1")

	successor := idx.New().String()
	now := time.Now().UTC()

	won, err := s.RefreshTokens().RevokeIfLive(ctx, rt.ID, &successor, now)
	require.NoError(t, err)
	require.True(t, won)

	// Second attempt loses: the record is already revoked.
	won, err = s.RefreshTokens().RevokeIfLive(ctx, rt.ID, nil, now)
	require.NoError(t, err)
	require.False(t, won)

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, rt.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)
	require.NotNil(t, got.ReplacedBy)
	require.Equal(t, successor, *got.ReplacedBy)
	require.True(t, got.Rotated())
}

func TestRevokeIfLiveConcurrent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	rt := seedRefreshToken(t, s, u.ID, "sess-1")

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.RefreshTokens().RevokeIfLive(ctx, rt.ID, nil, time.Now().UTC())
			require.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, wins, "exactly one concurrent revocation should win")
}

func TestRevokeSessionLineage(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	a := seedRefreshToken(t, s, u.ID, "sess-1")
	b := seedRefreshToken(t, s, u.ID, "sess-1")
	other := seedRefreshToken(t, s, u.ID, "sess-2")

	require.NoError(t, s.RefreshTokens().RevokeSession(ctx, "sess-1", time.Now().UTC()))

	for _, hash := range []string{a.TokenHash, b.TokenHash} {
		got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		require.NoError(t, err)
		require.NotNil(t, got.RevokedAt)
		require.Nil(t, got.ReplacedBy, "lineage revocation is not a rotation")
	}

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, other.TokenHash)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt, "other sessions stay live")
}

func TestRevokeAllForUser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)
	v := seedUser(t, s)

	mine := seedRefreshToken(t, s, u.ID, "sess-1")
	theirs := seedRefreshToken(t, s, v.ID, "sess-9")

	require.NoError(t, s.RefreshTokens().RevokeAllForUser(ctx, u.ID, time.Now().UTC()))

	got, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, mine.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, got.RevokedAt)

	got, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, theirs.TokenHash)
	require.NoError(t, err)
	require.Nil(t, got.RevokedAt)
}

func TestDeleteExpiredRefreshTokens(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	old := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: "hash-old",
		SessionID: "sess-old",
		IssuedAt:  time.Now().Add(-100 * 24 * time.Hour),
		ExpiresAt: time.Now().Add(-70 * 24 * time.Hour),
	}
	require.NoError(t, s.RefreshTokens().CreateRefreshToken(ctx, old))
	fresh := seedRefreshToken(t, s, u.ID, "sess-1")

	require.NoError(t, s.RefreshTokens().DeleteExpired(ctx, 30*24*time.Hour))

	_, err := s.RefreshTokens().GetRefreshTokenByHash(ctx, old.TokenHash)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, fresh.TokenHash)
	require.NoError(t, err)
}

func TestMFAChallengeLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	c := domain.MFAChallenge{
		ID:        idx.New().String(),
		UserID:    u.ID,
		CodeHash:  "digest",
		Salt:      "salt",
		ExpiresAt: time.Now().Add(10 * time.Minute).UTC(),
	}
	require.NoError(t, s.MFAChallenges().CreateChallenge(ctx, c))

	got, err := s.MFAChallenges().GetChallenge(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, u.ID, got.UserID)
	require.Zero(t, got.Attempts)
	require.Nil(t, got.ConsumedAt)

	got, err = s.MFAChallenges().IncrementAttempts(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)

	won, err := s.MFAChallenges().Consume(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	// Single use: a second consume loses.
	won, err = s.MFAChallenges().Consume(ctx, c.ID, time.Now().UTC())
	require.NoError(t, err)
	require.False(t, won)
}

func TestMFAChallengeNotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.MFAChallenges().GetChallenge(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.MFAChallenges().IncrementAttempts(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteExpiredChallenges(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	expired := domain.MFAChallenge{
		ID:        idx.New().String(),
		UserID:    u.ID,
		CodeHash:  "digest",
		Salt:      "salt",
		ExpiresAt: time.Now().Add(-time.Hour).UTC(),
	}
	require.NoError(t, s.MFAChallenges().CreateChallenge(ctx, expired))

	require.NoError(t, s.MFAChallenges().DeleteExpired(ctx))

	_, err := s.MFAChallenges().GetChallenge(ctx, expired.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	errBoom := context.Canceled
	err := s.WithTx(ctx, func(tx store.Tx) error {
		rt := domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: "hash-tx",
			SessionID: "sess-tx",
			IssuedAt:  time.Now().UTC(),
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		}
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-tx")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxCommits(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s)

	err := s.WithTx(ctx, func(tx store.Tx) error {
		return tx.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:        idx.New().String(),
			UserID:    u.ID,
			TokenHash: "hash-commit",
			SessionID: "sess-tx",
			IssuedAt:  time.Now().UTC(),
			ExpiresAt: time.Now().Add(time.Hour).UTC(),
		})
	})
	require.NoError(t, err)

	_, err = s.RefreshTokens().GetRefreshTokenByHash(ctx, "hash-commit")
	require.NoError(t, err)
}
