// Package domain holds the data model of the authentication engine. Types
// here are storage-agnostic; the store drivers map them to rows and the
// services enforce their invariants.
package domain

import "time"

// User is the account record consumed from the user directory. The engine
// only reads identity, role, password hash and MFA posture; everything else
// about a user (profile, enrollments, ...) belongs to other systems.
type User struct {
	ID           string
	Email        string
	PasswordHash string // argon2id PHC string
	Role         string

	// CredentialVersion is bumped on password change or forced logout.
	// Access tokens carry the version they were minted against and stop
	// authorizing once it moves.
	CredentialVersion int

	MFAEnabled bool
	TOTPSecret *string // set when the user enrolled an authenticator app

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Principal is the authenticated identity attached to every authorized
// request. Immutable per request; built once per token verification.
type Principal struct {
	Subject           string `json:"subject"`
	Role              string `json:"role"`
	JTI               string `json:"jti"`
	CredentialVersion int    `json:"-"`
}
