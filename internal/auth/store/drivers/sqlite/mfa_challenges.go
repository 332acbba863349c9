package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/domain"
)

type mfaChallengesRepo struct {
	db dbtx
}

const mfaChallengeColumns = `id, user_id, code_hash, salt, expires_at, attempts, consumed_at, created_at`

func scanMFAChallenge(row *sql.Row) (domain.MFAChallenge, error) {
	var (
		c          domain.MFAChallenge
		consumedAt sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.UserID,
		&c.CodeHash,
		&c.Salt,
		&c.ExpiresAt,
		&c.Attempts,
		&consumedAt,
		&c.CreatedAt,
	)
	if err != nil {
		return domain.MFAChallenge{}, mapNotFound(err)
	}
	c.ConsumedAt = mapNullTimePtr(consumedAt)
	return c, nil
}

func (r *mfaChallengesRepo) CreateChallenge(ctx context.Context, c domain.MFAChallenge) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO mfa_challenges (id, user_id, code_hash, salt, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.CodeHash, c.Salt, c.ExpiresAt.UTC())
	return mapConstraint(err)
}

func (r *mfaChallengesRepo) GetChallenge(ctx context.Context, id string) (domain.MFAChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+mfaChallengeColumns+` FROM mfa_challenges WHERE id = ?`, id)
	return scanMFAChallenge(row)
}

func (r *mfaChallengesRepo) IncrementAttempts(ctx context.Context, id string) (domain.MFAChallenge, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_challenges SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return domain.MFAChallenge{}, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return domain.MFAChallenge{}, err
	}
	if rows == 0 {
		return domain.MFAChallenge{}, mapNotFound(sql.ErrNoRows)
	}
	return r.GetChallenge(ctx, id)
}

// Consume marks the challenge used. The WHERE consumed_at IS NULL guard keeps
// it single use under concurrent confirmation.
func (r *mfaChallengesRepo) Consume(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE mfa_challenges
		 SET consumed_at = ?
		 WHERE id = ? AND consumed_at IS NULL`,
		at.UTC(), id)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *mfaChallengesRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM mfa_challenges WHERE expires_at < ?`, time.Now().UTC())
	return err
}
