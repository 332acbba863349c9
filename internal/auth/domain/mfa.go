package domain

import "time"

// MFAChallenge is a pending one-time-code challenge. Single use: terminal on
// confirmation, expiry, or the attempt ceiling.
type MFAChallenge struct {
	ID     string
	UserID string

	// CodeHash is the salted SHA-256 digest of the delivered code; Salt is
	// per-challenge so identical codes never share a digest.
	CodeHash string
	Salt     string

	// ExpiresAt is fixed at issuance. Verification attempts do not extend it.
	ExpiresAt time.Time

	// Attempts counts failed verifications. Crossing the ceiling makes the
	// challenge permanently unusable, correct code or not.
	Attempts int

	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// MFAChallengeResponse is returned by login when a second factor is required.
type MFAChallengeResponse struct {
	MFARequired bool   `json:"mfa_required"` // always true
	ChallengeID string `json:"challenge_id"`
}
