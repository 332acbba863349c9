// Package jwtx is the credential issuer: it mints and verifies the
// self-contained signed tokens used as access and refresh credentials.
// It is stateless; explicit revocation is layered on top by the revocation
// cache, never here.
package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTLs. Short-lived access tokens limit the damage of a leaked
// bearer credential; the refresh TTL bounds total session length.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// TokenKind discriminates access from refresh tokens so one can never be
// substituted for the other.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrSignatureInvalid = errors.New("jwtx: signature invalid")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrWrongType        = errors.New("jwtx: wrong token type")
)

// Claims are the claims embedded in every minted token.
type Claims struct {
	jwt.RegisteredClaims

	Role string    `json:"role,omitempty"`
	Kind TokenKind `json:"typ"`

	// CredentialVersion pins the token to the subject's credentials at
	// mint time. A password change bumps the stored version and every
	// older token stops authorizing.
	CredentialVersion int `json:"ver,omitempty"`
}

// Secrets holds the HMAC signing material. Previous is accepted for
// verification for Grace after RotatedAt, so tokens signed before a rotation
// stay valid until their natural expiry.
type Secrets struct {
	Current   []byte
	Previous  []byte
	RotatedAt time.Time
	Grace     time.Duration
}

const minSecretLen = 32

// Issuer mints and verifies signed tokens. It has no side effects and is
// safe for concurrent use.
type Issuer struct {
	secrets Secrets
	issuer  string

	now func() time.Time
}

func NewIssuer(issuer string, secrets Secrets) (*Issuer, error) {
	if issuer == "" {
		return nil, errors.New("jwtx: issuer is required")
	}
	if len(secrets.Current) < minSecretLen {
		return nil, errors.New("jwtx: signing secret must be at least 32 bytes")
	}
	if len(secrets.Previous) > 0 && len(secrets.Previous) < minSecretLen {
		return nil, errors.New("jwtx: previous signing secret must be at least 32 bytes")
	}
	if len(secrets.Previous) > 0 && secrets.Grace <= 0 {
		return nil, errors.New("jwtx: previous secret requires a grace window")
	}

	return &Issuer{
		secrets: secrets,
		issuer:  issuer,
		now:     time.Now,
	}, nil
}

// Mint produces an opaque signed token with a fresh unique jti.
func (i *Issuer) Mint(subject, role string, version int, kind TokenKind, ttl time.Duration) (token, jti string, err error) {
	now := i.now().UTC()
	jti = NewJTI()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
		Role:              role,
		Kind:              kind,
		CredentialVersion: version,
	}

	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secrets.Current)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// Verify checks signature, expiry and token type. During the grace window
// after a secret rotation it also accepts tokens signed with the previous
// secret.
func (i *Issuer) Verify(token string, kind TokenKind) (*Claims, error) {
	claims, err := i.parse(token, i.secrets.Current)
	if errors.Is(err, ErrSignatureInvalid) && i.previousUsable() {
		claims, err = i.parse(token, i.secrets.Previous)
	}
	if err != nil {
		return nil, err
	}

	if claims.Kind != kind {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (i *Issuer) previousUsable() bool {
	if len(i.secrets.Previous) == 0 {
		return false
	}
	return i.now().Before(i.secrets.RotatedAt.Add(i.secrets.Grace))
}

func (i *Issuer) parse(token string, key []byte) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.now),
	)

	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrMalformed
		}
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}
