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
	"github.com/Kandil7/lms-auth/pkg/slogx"
	"github.com/pquerna/otp/totp"
)

const (
	// DefaultMFATTL is how long a delivered code stays valid. The expiry
	// is fixed at issuance; verification attempts do not extend it.
	DefaultMFATTL = 10 * time.Minute

	// DefaultMFAMaxAttempts is the failed-verification ceiling. Crossing
	// it makes the challenge permanently unusable, correct code or not.
	DefaultMFAMaxAttempts = 5

	mfaCodeDigits = 6
)

// Notifier delivers MFA codes out of band. Delivery is fire-and-forget:
// a failure is logged, never surfaced to the login caller.
type Notifier interface {
	SendMFACode(ctx context.Context, user domain.User, code string) error
}

// LogNotifier writes the code to the log instead of delivering it. Default
// for development; production wires an email/SMS collaborator.
type LogNotifier struct{}

func (LogNotifier) SendMFACode(ctx context.Context, user domain.User, code string) error {
	slogx.FromContext(ctx).Info("mfa code issued (log delivery)",
		slog.String("user_id", user.ID),
		slog.String("code", code),
	)
	return nil
}

// MFAService runs the one-time-code challenge workflow between password
// verification and token issuance.
type MFAService struct {
	Store    store.Store
	Sessions *SessionService
	Notifier Notifier
	Audit    audit.Sink

	TTL         time.Duration
	MaxAttempts int

	now func() time.Time
}

func NewMFAService(st store.Store, sessions *SessionService, notifier Notifier, sink audit.Sink, ttl time.Duration, maxAttempts int) *MFAService {
	if ttl <= 0 {
		ttl = DefaultMFATTL
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMFAMaxAttempts
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &MFAService{
		Store:       st,
		Sessions:    sessions,
		Notifier:    notifier,
		Audit:       sink,
		TTL:         ttl,
		MaxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// IssueChallenge creates a pending challenge and dispatches the code to the
// notification collaborator. Only the salted hash of the code is stored.
func (s *MFAService) IssueChallenge(ctx context.Context, user domain.User) (domain.MFAChallengeResponse, error) {
	now := s.now().UTC()

	code, err := cryptox.GenerateNumericCode(mfaCodeDigits)
	if err != nil {
		return domain.MFAChallengeResponse{}, err
	}
	salt, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.MFAChallengeResponse{}, err
	}

	challenge := domain.MFAChallenge{
		ID:        idx.New().String(),
		UserID:    user.ID,
		CodeHash:  cryptox.HashCode(salt, code),
		Salt:      salt,
		ExpiresAt: now.Add(s.TTL),
	}
	if err := s.Store.MFAChallenges().CreateChallenge(ctx, challenge); err != nil {
		return domain.MFAChallengeResponse{}, err
	}

	// Fire and forget: the challenge exists whether or not delivery
	// succeeds, so a flaky mail relay cannot fail the login.
	go func() {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := s.Notifier.SendMFACode(dctx, user, code); err != nil {
			slogx.FromContext(ctx).Error("mfa code delivery failed",
				slog.String("user_id", user.ID),
				slog.String("challenge_id", challenge.ID),
				slog.Any("error", err),
			)
		}
	}()

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventMFAIssued,
		Subject: user.ID,
		Detail:  challenge.ID,
	})

	return domain.MFAChallengeResponse{
		MFARequired: true,
		ChallengeID: challenge.ID,
	}, nil
}

// Confirm verifies a code against a pending challenge and, on success,
// consumes the challenge and issues the real token pair. A delivered code
// and an authenticator TOTP code are both accepted when the user enrolled
// an authenticator.
func (s *MFAService) Confirm(ctx context.Context, challengeID, code string) (*domain.TokenPair, error) {
	now := s.now().UTC()

	var challenge domain.MFAChallenge
	err := retryTransient(ctx, func() error {
		var err error
		challenge, err = s.Store.MFAChallenges().GetChallenge(ctx, challengeID)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrMFAInvalid
		}
		return nil, err
	}

	if challenge.ConsumedAt != nil {
		return nil, ErrMFAInvalid
	}
	if challenge.Attempts >= s.MaxAttempts {
		return nil, ErrMFAAttemptsExceeded
	}
	if now.After(challenge.ExpiresAt) {
		return nil, ErrMFAExpired
	}

	user, err := s.Store.Users().GetUserByID(ctx, challenge.UserID)
	if err != nil {
		return nil, err
	}

	if !s.codeValid(challenge, user, code) {
		return nil, s.recordFailedAttempt(ctx, challenge)
	}

	won, err := s.Store.MFAChallenges().Consume(ctx, challengeID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		// Concurrent confirmation already spent this challenge.
		return nil, ErrMFAInvalid
	}

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventMFAConfirmed,
		Subject: user.ID,
		Detail:  challengeID,
	})
	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventLoginSuccess,
		Subject: user.ID,
		Detail:  "mfa",
	})

	return s.Sessions.Issue(ctx, user)
}

func (s *MFAService) codeValid(challenge domain.MFAChallenge, user domain.User, code string) bool {
	if cryptox.VerifyCode(challenge.Salt, code, challenge.CodeHash) {
		return true
	}
	if user.TOTPSecret != nil && *user.TOTPSecret != "" {
		return totp.Validate(code, *user.TOTPSecret)
	}
	return false
}

func (s *MFAService) recordFailedAttempt(ctx context.Context, challenge domain.MFAChallenge) error {
	updated, err := s.Store.MFAChallenges().IncrementAttempts(ctx, challenge.ID)
	if err != nil {
		slogx.FromContext(ctx).Error("mfa attempt increment failed",
			slog.String("challenge_id", challenge.ID),
			slog.Any("error", err),
		)
		return ErrMFAInvalid
	}

	if updated.Attempts >= s.MaxAttempts {
		audit.Emit(ctx, s.Audit, audit.Event{
			Name:    audit.EventMFAAttemptsExceeded,
			Subject: challenge.UserID,
			Detail:  challenge.ID,
		})
		return ErrMFAAttemptsExceeded
	}

	audit.Emit(ctx, s.Audit, audit.Event{
		Name:    audit.EventMFAFailed,
		Subject: challenge.UserID,
		Detail:  challenge.ID,
	})
	return ErrMFAInvalid
}
