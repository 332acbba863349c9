// Package cryptox holds the hashing and random-token primitives shared by the
// credential issuer, the refresh token store and the MFA challenge manager.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"math/big"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	// Recommended for refresh tokens.
	TokenSize256 = 32
)

// GenerateToken creates a cryptographically secure random token of the
// specified byte length, returned as a base64url string without padding.
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// MustGenerateToken is like GenerateToken but panics on error. Only for
// initialization paths and tests.
func MustGenerateToken(size int) string {
	token, err := GenerateToken(size)
	if err != nil {
		panic(fmt.Sprintf("cryptox: failed to generate token: %v", err))
	}
	return token
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token,
// base64url-encoded. Only fingerprints are persisted; the raw opaque value
// never touches the database.
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateNumericCode returns a random code of the given number of decimal
// digits, for out-of-band MFA delivery. Leading zeros are preserved.
func GenerateNumericCode(digits int) (string, error) {
	if digits <= 0 || digits > 10 {
		return "", fmt.Errorf("invalid code length %d", digits)
	}

	limit := big.NewInt(1)
	for range digits {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	return fmt.Sprintf("%0*d", digits, n), nil
}

// HashCode returns the salted SHA-256 digest of a short-lived code. The salt
// is per-challenge so identical codes issued to different users never share
// a digest.
func HashCode(salt, code string) string {
	sum := sha256.Sum256([]byte(salt + ":" + code))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyCode compares a presented code against a stored salted digest in
// constant time.
func VerifyCode(salt, code, digest string) bool {
	computed := HashCode(salt, code)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}
