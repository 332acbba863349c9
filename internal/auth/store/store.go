package store

import (
	"context"
	"errors"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite today,
// postgres later) implement this. It exposes sub-repositories to keep
// concerns tidy and testable.
type Store interface {
	Users() Users
	RefreshTokens() RefreshTokens
	MFAChallenges() MFAChallenges

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, rolling back if fn returns
	// an error and committing otherwise. This is the recommended way to
	// handle multi-step operations that must be atomic (refresh rotation).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Users is the user directory contract. In this deployment it is backed by
// the same database; swapping in a remote directory only means implementing
// this interface.
type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByEmail is the login-path lookup.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdatePasswordHash sets the password hash and bumps the credential
	// version, invalidating outstanding access tokens.
	UpdatePasswordHash(ctx context.Context, userID string, newHash string) error

	// BumpCredentialVersion invalidates outstanding access tokens without
	// a password change (admin "log everyone out of this account").
	BumpCredentialVersion(ctx context.Context, userID string) error

	// EnableTOTP stores an authenticator secret and flags MFA on.
	EnableTOTP(ctx context.Context, userID string, secret string) error

	// SetMFAEnabled toggles code-based MFA without touching any
	// authenticator secret.
	SetMFAEnabled(ctx context.Context, userID string, enabled bool) error
}

type RefreshTokens interface {
	// CreateRefreshToken stores a new refresh token record.
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the record matching a presented
	// value's fingerprint, revoked or not. Callers inspect RevokedAt and
	// ReplacedBy to distinguish rotation reuse from plain revocation.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeIfLive is the rotation compare-and-swap: it sets revoked_at
	// (and replaced_by, when the revocation is a rotation) only if the
	// record is still live, and reports whether this call won. Under
	// concurrent rotation exactly one caller observes true.
	RevokeIfLive(ctx context.Context, id string, replacedBy *string, at time.Time) (bool, error)

	// RevokeSession revokes every live record in a session lineage.
	// Used by logout and by breach handling.
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error

	// RevokeAllForUser revokes every live record for a subject.
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) error

	// DeleteExpired removes records whose expiry is older than the audit
	// retention window. Housekeeping only; revoked records inside the
	// window are kept.
	DeleteExpired(ctx context.Context, retain time.Duration) error
}

type MFAChallenges interface {
	// CreateChallenge stores a freshly issued challenge.
	CreateChallenge(ctx context.Context, c domain.MFAChallenge) error

	// GetChallenge retrieves a challenge by id, consumed or not.
	GetChallenge(ctx context.Context, id string) (domain.MFAChallenge, error)

	// IncrementAttempts bumps the failed-attempt counter and returns the
	// updated challenge.
	IncrementAttempts(ctx context.Context, id string) (domain.MFAChallenge, error)

	// Consume marks the challenge used if it has not been consumed yet,
	// reporting whether this call won. Single use is enforced here, not
	// in the caller.
	Consume(ctx context.Context, id string, at time.Time) (bool, error)

	// DeleteExpired removes expired challenges (housekeeping).
	DeleteExpired(ctx context.Context) error
}
