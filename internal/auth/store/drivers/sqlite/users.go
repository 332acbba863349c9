package sqlite

import (
	"context"
	"database/sql"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, email, password_hash, role, credential_version, mfa_enabled, totp_secret, created_at, updated_at`

func scanUser(row *sql.Row) (domain.User, error) {
	var (
		u          domain.User
		mfaEnabled int
		totpSecret sql.NullString
	)
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Role,
		&u.CredentialVersion,
		&mfaEnabled,
		&totpSecret,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.MFAEnabled = mfaEnabled != 0
	u.TOTPSecret = mapNullStringPtr(totpSecret)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	mfaEnabled := 0
	if u.MFAEnabled {
		mfaEnabled = 1
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, mfa_enabled, totp_secret)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.Role, mfaEnabled, mapOptionalString(u.TOTPSecret))
	return mapConstraint(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID string, newHash string) error {
	// Credential version moves with the password so outstanding access
	// tokens stop authorizing.
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET password_hash = ?, credential_version = credential_version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		newHash, userID)
	return err
}

func (r *usersRepo) BumpCredentialVersion(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET credential_version = credential_version + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		userID)
	return err
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID string, secret string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET totp_secret = ?, mfa_enabled = 1, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		secret, userID)
	return err
}

func (r *usersRepo) SetMFAEnabled(ctx context.Context, userID string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		val, userID)
	return err
}
