package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/audit"
	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/pkg/cryptox"
	"github.com/Kandil7/lms-auth/pkg/idx"
	"github.com/Kandil7/lms-auth/pkg/jwtx"
	"github.com/Kandil7/lms-auth/pkg/slogx"
)

// SessionService owns the token pair lifecycle: issuance at login, rotation
// at refresh, revocation at logout, and the breach handling that fires when
// an already-rotated refresh token is presented again.
type SessionService struct {
	Issuer      *jwtx.Issuer
	Store       store.Store
	Revocations *RevocationList
	Audit       audit.Sink

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	now func() time.Time
}

func NewSessionService(issuer *jwtx.Issuer, st store.Store, revocations *RevocationList, sink audit.Sink, accessTTL, refreshTTL time.Duration) *SessionService {
	if accessTTL <= 0 {
		accessTTL = jwtx.DefaultAccessTokenTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = jwtx.DefaultRefreshTokenTTL
	}
	return &SessionService{
		Issuer:      issuer,
		Store:       st,
		Revocations: revocations,
		Audit:       sink,
		AccessTTL:   accessTTL,
		RefreshTTL:  refreshTTL,
		now:         time.Now,
	}
}

// Issue starts a new session lineage for an authenticated user: a signed
// access token plus an opaque refresh token whose fingerprint is persisted.
func (s *SessionService) Issue(ctx context.Context, user domain.User) (*domain.TokenPair, error) {
	now := s.now().UTC()
	sessionID := idx.New().String()

	accessToken, _, err := s.Issuer.Mint(user.ID, user.Role, user.CredentialVersion, jwtx.KindAccess, s.AccessTTL)
	if err != nil {
		return nil, err
	}

	refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}

	record := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    user.ID,
		TokenHash: cryptox.FingerprintToken(refreshOpaque),
		SessionID: sessionID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.RefreshTTL),
	}
	if err := s.Store.RefreshTokens().CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshOpaque,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Rotate exchanges a refresh token for a fresh pair. The predecessor is
// revoked with a compare-and-swap on its live state, so under concurrent
// rotation exactly one caller wins; the loser observes an already-revoked
// record and lands in breach handling like any other reuse.
//
// Reuse of a record that was revoked by rotation (a successor exists)
// revokes the entire lineage and returns ErrBreachDetected. Reuse of a
// record revoked by logout or admin action returns ErrTokenRevoked.
func (s *SessionService) Rotate(ctx context.Context, presented string) (*domain.TokenPair, error) {
	now := s.now().UTC()
	hash := cryptox.FingerprintToken(presented)

	var (
		pair   *domain.TokenPair
		breach *domain.RefreshToken
	)

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		record, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Unknown values get the same answer as revoked ones
				// so callers cannot probe which tokens ever existed.
				return ErrTokenRevoked
			}
			return err
		}

		if record.RevokedAt != nil {
			if record.Rotated() {
				breach = &record
				return nil
			}
			return ErrTokenRevoked
		}
		if now.After(record.ExpiresAt) {
			return ErrTokenExpired
		}

		user, err := tx.Users().GetUserByID(ctx, record.UserID)
		if err != nil {
			return err
		}

		successorID := idx.New().String()
		won, err := tx.RefreshTokens().RevokeIfLive(ctx, record.ID, &successorID, now)
		if err != nil {
			return err
		}
		if !won {
			// Lost a rotation race: someone already exchanged this
			// value. Same treatment as any rotated-token reuse.
			breach = &record
			return nil
		}

		accessToken, _, err := s.Issuer.Mint(user.ID, user.Role, user.CredentialVersion, jwtx.KindAccess, s.AccessTTL)
		if err != nil {
			return err
		}
		refreshOpaque, err := cryptox.GenerateToken(cryptox.TokenSize256)
		if err != nil {
			return err
		}

		successor := domain.RefreshToken{
			ID:        successorID,
			UserID:    record.UserID,
			TokenHash: cryptox.FingerprintToken(refreshOpaque),
			SessionID: record.SessionID,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.RefreshTTL),
		}
		if err := tx.RefreshTokens().CreateRefreshToken(ctx, successor); err != nil {
			return err
		}

		pair = &domain.TokenPair{
			AccessToken:  accessToken,
			RefreshToken: refreshOpaque,
			TokenType:    "Bearer",
			ExpiresIn:    s.AccessTTL,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if breach != nil {
		// Handled outside the rotation transaction so the lineage
		// revocation commits even though the rotation itself failed.
		return nil, s.handleBreach(ctx, *breach, now)
	}
	return pair, nil
}

// handleBreach revokes every record in the lineage of a reused token. The
// revocation happens before the error surfaces; by the time the caller sees
// ErrBreachDetected no token in the lineage works.
func (s *SessionService) handleBreach(ctx context.Context, record domain.RefreshToken, now time.Time) error {
	if err := s.Store.RefreshTokens().RevokeSession(ctx, record.SessionID, now); err != nil {
		return err
	}

	slogx.FromContext(ctx).Warn("refresh token reuse detected, lineage revoked",
		slog.String("user_id", record.UserID),
		slog.String("session_id", record.SessionID),
	)
	audit.Emit(ctx, s.Audit, audit.Event{
		Name:      audit.EventBreachDetected,
		Subject:   record.UserID,
		SessionID: record.SessionID,
	})
	return ErrBreachDetected
}

// Logout revokes the whole session lineage of the presented refresh token.
// Idempotent from the caller's view: a second logout of the same token
// reports ErrTokenRevoked.
func (s *SessionService) Logout(ctx context.Context, presented string) error {
	now := s.now().UTC()
	hash := cryptox.FingerprintToken(presented)

	var record domain.RefreshToken
	err := retryTransient(ctx, func() error {
		var err error
		record, err = s.Store.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenRevoked
		}
		return err
	}
	if record.RevokedAt != nil {
		return ErrTokenRevoked
	}

	// Revoking an already-revoked lineage is a no-op, so the retry is safe.
	err = retryTransient(ctx, func() error {
		return s.Store.RefreshTokens().RevokeSession(ctx, record.SessionID, now)
	})
	if err != nil {
		return err
	}

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:      audit.EventLogout,
		Subject:   record.UserID,
		SessionID: record.SessionID,
	})
	return nil
}

// LogoutAll revokes every live refresh token of a user and bumps the
// credential version so outstanding access tokens stop authorizing too.
func (s *SessionService) LogoutAll(ctx context.Context, userID string) error {
	now := s.now().UTC()

	// A failed transaction rolled back, so replaying it is safe.
	err := retryTransient(ctx, func() error {
		return s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.RefreshTokens().RevokeAllForUser(ctx, userID, now); err != nil {
				return err
			}
			return tx.Users().BumpCredentialVersion(ctx, userID)
		})
	})
	if err != nil {
		return err
	}

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventTokenRevoked,
		Subject: userID,
		Detail:  "all sessions",
	})
	return nil
}

// RevokeAccess puts an access token's jti on the revocation list for its
// remaining lifetime.
func (s *SessionService) RevokeAccess(ctx context.Context, claims *jwtx.Claims) error {
	remaining := time.Until(claims.ExpiresAt.Time)
	return s.Revocations.Add(ctx, claims.ID, remaining)
}

// VerifyAccess authenticates a bearer token: signature and expiry first,
// then the revocation overlay, then the credential version against the
// current user record.
func (s *SessionService) VerifyAccess(ctx context.Context, token string) (domain.Principal, error) {
	claims, err := s.Issuer.Verify(token, jwtx.KindAccess)
	if err != nil {
		switch {
		case errors.Is(err, jwtx.ErrExpired):
			return domain.Principal{}, ErrTokenExpired
		case errors.Is(err, jwtx.ErrSignatureInvalid), errors.Is(err, jwtx.ErrMalformed), errors.Is(err, jwtx.ErrWrongType):
			return domain.Principal{}, ErrTokenMalformed
		default:
			return domain.Principal{}, err
		}
	}

	revoked, err := s.Revocations.Check(ctx, claims.ID)
	if err != nil {
		return domain.Principal{}, err
	}
	if revoked {
		return domain.Principal{}, ErrTokenRevoked
	}

	var user domain.User
	err = retryTransient(ctx, func() error {
		var err error
		user, err = s.Store.Users().GetUserByID(ctx, claims.Subject)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Principal{}, ErrTokenRevoked
		}
		return domain.Principal{}, err
	}
	if claims.CredentialVersion != user.CredentialVersion {
		return domain.Principal{}, ErrTokenRevoked
	}

	return domain.Principal{
		Subject:           claims.Subject,
		Role:              claims.Role,
		JTI:               claims.ID,
		CredentialVersion: claims.CredentialVersion,
	}, nil
}
