package service

import (
	"errors"
	"time"
)

// Stable outward-facing error kinds. The HTTP layer maps these to the wire
// envelope verbatim; internal store errors are never leaked.
var (
	// ErrInvalidCredentials covers both unknown subject and wrong
	// password. The two cases are indistinguishable to the caller to
	// prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid_credentials")

	ErrAccountLocked = errors.New("account_locked")

	ErrMFAInvalid          = errors.New("mfa_invalid")
	ErrMFAExpired          = errors.New("mfa_expired")
	ErrMFAAttemptsExceeded = errors.New("mfa_attempts_exceeded")

	ErrTokenExpired   = errors.New("token_expired")
	ErrTokenMalformed = errors.New("token_malformed")
	ErrTokenRevoked   = errors.New("token_revoked")

	// ErrBreachDetected signals reuse of an already-rotated refresh token.
	// By the time a caller sees it the whole lineage is already revoked.
	ErrBreachDetected = errors.New("breach_detected")

	ErrRateLimited      = errors.New("rate_limited")
	ErrStoreUnavailable = errors.New("store_unavailable")
)

// LockedError carries the remaining lock duration so the transport can set
// Retry-After. errors.Is(err, ErrAccountLocked) matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string        { return ErrAccountLocked.Error() }
func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RateLimitedError carries the retry delay of the strictest denying rule.
// errors.Is(err, ErrRateLimited) matches it.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string        { return ErrRateLimited.Error() }
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
