package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

const refreshTokenColumns = `id, user_id, token_hash, session_id, issued_at, expires_at, revoked_at, replaced_by`

func scanRefreshToken(row *sql.Row) (domain.RefreshToken, error) {
	var (
		t          domain.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.TokenHash,
		&t.SessionID,
		&t.IssuedAt,
		&t.ExpiresAt,
		&revokedAt,
		&replacedBy,
	)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.RevokedAt = mapNullTimePtr(revokedAt)
	t.ReplacedBy = mapNullStringPtr(replacedBy)
	return t, nil
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, session_id, issued_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.TokenHash, t.SessionID, t.IssuedAt.UTC(), t.ExpiresAt.UTC())
	return mapConstraint(err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+refreshTokenColumns+` FROM refresh_tokens WHERE token_hash = ?`, hash)
	return scanRefreshToken(row)
}

// RevokeIfLive is the rotation compare-and-swap. The WHERE revoked_at IS NULL
// guard means exactly one concurrent caller observes rows == 1.
func (r *refreshTokensRepo) RevokeIfLive(ctx context.Context, id string, replacedBy *string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked_at = ?, replaced_by = ?
		 WHERE id = ? AND revoked_at IS NULL`,
		at.UTC(), mapOptionalString(replacedBy), id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *refreshTokensRepo) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked_at = ?
		 WHERE session_id = ? AND revoked_at IS NULL`,
		at.UTC(), sessionID)
	return err
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE refresh_tokens
		 SET revoked_at = ?
		 WHERE user_id = ? AND revoked_at IS NULL`,
		at.UTC(), userID)
	return err
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, retain time.Duration) error {
	cutoff := time.Now().Add(-retain).UTC()
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, cutoff)
	return err
}
