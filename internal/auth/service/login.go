package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/Kandil7/lms-auth/internal/auth/audit"
	"github.com/Kandil7/lms-auth/internal/auth/domain"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/pkg/cryptox"
	"github.com/Kandil7/lms-auth/pkg/slogx"
)

// LoginResult is the outcome of a successful password verification: either
// a full token pair, or a pending MFA challenge when the account requires a
// second factor.
type LoginResult struct {
	Pair      *domain.TokenPair
	Challenge *domain.MFAChallengeResponse
}

// LoginService runs the password login state machine: lockout gate, then
// password verification, then either token issuance or an MFA challenge.
// Any verification failure records a lockout strike and returns the caller
// to square one.
type LoginService struct {
	Store    store.Store
	Sessions *SessionService
	MFA      *MFAService
	Lockout  *LockoutGuard
	Audit    audit.Sink
}

// Login authenticates an email/password pair. Unknown accounts and wrong
// passwords are indistinguishable to the caller.
func (s *LoginService) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	// The lockout key is the submitted email, not a user id: the gate has
	// to hold before we reveal whether the account exists.
	if locked, remaining := s.Lockout.IsLocked(ctx, email, ip); locked {
		return nil, &LockedError{RetryAfter: remaining}
	}

	var user domain.User
	err := retryTransient(ctx, func() error {
		var err error
		user, err = s.Store.Users().GetUserByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.fail(ctx, email, ip, "unknown account")
		}
		return nil, err
	}

	if err := cryptox.VerifyPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return nil, s.fail(ctx, email, ip, "wrong password")
		}
		return nil, err
	}

	s.Lockout.RecordSuccess(ctx, email, ip)

	if user.MFAEnabled {
		challenge, err := s.MFA.IssueChallenge(ctx, user)
		if err != nil {
			return nil, err
		}
		return &LoginResult{Challenge: &challenge}, nil
	}

	pair, err := s.Sessions.Issue(ctx, user)
	if err != nil {
		return nil, err
	}

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventLoginSuccess,
		Subject: user.ID,
		IP:      ip,
	})
	return &LoginResult{Pair: pair}, nil
}

func (s *LoginService) fail(ctx context.Context, email, ip, reason string) error {
	s.Lockout.RecordFailure(ctx, email, ip)

	slogx.FromContext(ctx).Info("login failed",
		slog.String("email", email),
		slog.String("reason", reason),
	)
	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventLoginFailure,
		Subject: email,
		IP:      ip,
		Detail:  reason,
	})
	return ErrInvalidCredentials
}
