package domain

import "time"

// TokenPair is what a successful login, MFA confirmation or refresh returns:
// the short-lived signed access token and the opaque refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // always "Bearer"
	ExpiresIn    time.Duration
}

// RefreshToken models the stored refresh token record. The raw opaque value
// is never persisted, only its SHA-256 fingerprint.
//
// SessionID groups every record of one login session into a lineage:
// rotation revokes the predecessor and creates a successor under the same
// SessionID. Presenting a value whose record was already rotated away is the
// session-theft signal and revokes the whole lineage.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string
	SessionID string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// RevokedAt is set exactly once, by rotation, logout, breach handling
	// or administrative revocation. Records are retained after revocation
	// for the audit window.
	RevokedAt *time.Time

	// ReplacedBy is the ID of the rotation successor. Nil on records
	// revoked by logout or admin action; that distinction is what
	// separates "revoked token reused" from "rotated token reused".
	ReplacedBy *string
}

// Live reports whether the record can still be exchanged.
func (t RefreshToken) Live(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// Rotated reports whether the record was revoked by rotation, i.e. a
// successor exists.
func (t RefreshToken) Rotated() bool {
	return t.RevokedAt != nil && t.ReplacedBy != nil
}
