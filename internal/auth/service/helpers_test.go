package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/audit"
	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/internal/auth/store/drivers/sqlite"
	"github.com/Kandil7/lms-auth/pkg/cryptox"
	"github.com/Kandil7/lms-auth/pkg/idx"
	"github.com/Kandil7/lms-auth/pkg/jwtx"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct horse battery staple"

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())
	return st
}

func newTestIssuer(t *testing.T) *jwtx.Issuer {
	t.Helper()

	iss, err := jwtx.NewIssuer("lms-auth-test", jwtx.Secrets{
		Current: []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)
	return iss
}

// newTestRedis returns a miniredis-backed KV plus the miniredis handle for
// clock control and outage simulation.
func newTestRedis(t *testing.T) (*kv.RedisKV, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return kv.NewRedisKV(client), mr
}

type testEnv struct {
	Store    *sqlite.Store
	Issuer   *jwtx.Issuer
	Sessions *SessionService
	Login    *LoginService
	MFA      *MFAService
	Lockout  *LockoutGuard
	Notifier *captureNotifier
	Redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st := newTestStore(t)
	iss := newTestIssuer(t)
	shared, mr := newTestRedis(t)

	revocations := NewRevocationList(shared, FailClosed)
	sessions := NewSessionService(iss, st, revocations, audit.NopSink{}, 15*time.Minute, 30*24*time.Hour)
	notifier := &captureNotifier{}
	mfa := NewMFAService(st, sessions, notifier, audit.NopSink{}, DefaultMFATTL, DefaultMFAMaxAttempts)
	lockout := NewLockoutGuard(shared, DefaultLockoutThreshold, DefaultLockoutWindow, LockBySubjectOrIP, audit.NopSink{})

	return &testEnv{
		Store:    st,
		Issuer:   iss,
		Sessions: sessions,
		Login: &LoginService{
			Store:    st,
			Sessions: sessions,
			MFA:      mfa,
			Lockout:  lockout,
			Audit:    audit.NopSink{},
		},
		MFA:      mfa,
		Lockout:  lockout,
		Notifier: notifier,
		Redis:    mr,
	}
}

func (e *testEnv) seedUser(t *testing.T, mfaEnabled bool) domain.User {
	t.Helper()

	hash, err := cryptox.HashPassword(testPassword)
	require.NoError(t, err)

	u := domain.User{
		ID:           idx.New().String(),
		Email:        idx.New().String() + "@example.edu",
		PasswordHash: hash,
		Role:         "student",
		MFAEnabled:   mfaEnabled,
	}
	require.NoError(t, e.Store.Users().CreateUser(context.Background(), u))

	// Re-read for the store-assigned credential version and timestamps.
	u, err = e.Store.Users().GetUserByID(context.Background(), u.ID)
	require.NoError(t, err)
	return u
}

// captureNotifier records delivered MFA codes so tests can confirm with the
// real code. SendMFACode runs on a goroutine, hence the lock and waiting.
type captureNotifier struct {
	mu    sync.Mutex
	codes []string
}

func (n *captureNotifier) SendMFACode(ctx context.Context, user domain.User, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	return nil
}

func (n *captureNotifier) lastCode(t *testing.T) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n.mu.Lock()
		if len(n.codes) > 0 {
			code := n.codes[len(n.codes)-1]
			n.mu.Unlock()
			return code
		}
		n.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no mfa code delivered")
	return ""
}
