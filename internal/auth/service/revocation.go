package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/pkg/slogx"
)

// FailMode is the revocation cache's behavior when the shared store cannot
// answer. Resolved once at startup, never decided per request.
type FailMode string

const (
	// FailClosed treats an unanswerable revocation check as revoked.
	// Required for deployments needing strong revocation guarantees.
	FailClosed FailMode = "closed"

	// FailOpen treats an unanswerable check as not revoked. Only for
	// non-critical contexts.
	FailOpen FailMode = "open"
)

func ParseFailMode(s string) (FailMode, error) {
	switch FailMode(s) {
	case FailClosed, FailOpen:
		return FailMode(s), nil
	default:
		return "", fmt.Errorf("unknown revocation fail mode %q (want closed or open)", s)
	}
}

const revocationKeyPrefix = "revoked:"

// RevocationList is the fast negative-cache for explicitly revoked access
// token identifiers. Absence from the list proves nothing; signature and
// expiry stay authoritative. A process-local mirror of recent entries keeps
// answers flowing through brief shared-store outages.
type RevocationList struct {
	shared kv.KV
	mirror *kv.LocalKV
	mode   FailMode
}

func NewRevocationList(shared kv.KV, mode FailMode) *RevocationList {
	return &RevocationList{
		shared: shared,
		mirror: kv.NewLocalKV(),
		mode:   mode,
	}
}

func (r *RevocationList) Mode() FailMode { return r.mode }

// Add marks a jti revoked for ttl, which callers set to the remaining token
// lifetime. The mirror is written first so the entry holds locally even if
// the shared store write fails.
func (r *RevocationList) Add(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil // token already expired, nothing to revoke
	}
	key := revocationKeyPrefix + jti

	_ = r.mirror.Set(ctx, key, "1", ttl)

	if err := r.shared.Set(ctx, key, "1", ttl); err != nil {
		slogx.FromContext(ctx).Warn("revocation write to shared store failed, local mirror only",
			slog.String("jti", jti),
			slog.Any("error", err),
		)
		return err
	}
	return nil
}

// Check reports whether jti was explicitly revoked. Shared-store
// unavailability resolves through the mirror first, then the configured
// fail mode.
func (r *RevocationList) Check(ctx context.Context, jti string) (bool, error) {
	key := revocationKeyPrefix + jti

	_, err := r.shared.Get(ctx, key)
	switch {
	case err == nil:
		// Refresh the mirror so a subsequent outage keeps the answer.
		if ttl, terr := r.shared.TTL(ctx, key); terr == nil && ttl > 0 {
			_ = r.mirror.Set(ctx, key, "1", ttl)
		}
		return true, nil

	case errors.Is(err, kv.ErrNotFound):
		return false, nil

	default:
		if _, merr := r.mirror.Get(ctx, key); merr == nil {
			return true, nil
		}
		l := slogx.FromContext(ctx)
		if r.mode == FailClosed {
			l.Warn("revocation store unavailable, failing closed",
				slog.String("jti", jti),
				slog.Any("error", err),
			)
			return true, nil
		}
		l.Warn("revocation store unavailable, failing open",
			slog.String("jti", jti),
			slog.Any("error", err),
		)
		return false, nil
	}
}
