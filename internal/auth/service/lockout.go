package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/audit"
	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/pkg/slogx"
)

// Lockout defaults: 5 failures within 15 minutes locks the key for the
// remainder of the window.
const (
	DefaultLockoutThreshold = 5
	DefaultLockoutWindow    = 15 * time.Minute
)

// LockoutKeyMode selects which identities a failed attempt counts against.
// Counting only by subject lets an attacker lock a victim out by spamming
// their email; counting only by IP misses distributed attacks. The default
// counts both.
type LockoutKeyMode string

const (
	LockBySubject     LockoutKeyMode = "subject"
	LockByIP          LockoutKeyMode = "ip"
	LockBySubjectOrIP LockoutKeyMode = "subject-or-ip"
)

func ParseLockoutKeyMode(s string) (LockoutKeyMode, error) {
	switch LockoutKeyMode(s) {
	case LockBySubject, LockByIP, LockBySubjectOrIP:
		return LockoutKeyMode(s), nil
	default:
		return "", fmt.Errorf("unknown lockout key mode %q (want subject, ip or subject-or-ip)", s)
	}
}

// LockoutGuard is the brute-force failed-attempt counter. It is consulted
// before password verification so a locked key never reaches the hasher.
// Counters live in the shared store; when that store is unreachable a
// process-local fallback keeps counting with reduced accuracy rather than
// silently waving attempts through.
type LockoutGuard struct {
	KV        kv.KV
	Threshold int
	Window    time.Duration
	Mode      LockoutKeyMode
	Audit     audit.Sink

	fallback *kv.LocalKV
}

func NewLockoutGuard(shared kv.KV, threshold int, window time.Duration, mode LockoutKeyMode, sink audit.Sink) *LockoutGuard {
	if threshold <= 0 {
		threshold = DefaultLockoutThreshold
	}
	if window <= 0 {
		window = DefaultLockoutWindow
	}
	return &LockoutGuard{
		KV:        shared,
		Threshold: threshold,
		Window:    window,
		Mode:      mode,
		Audit:     sink,
		fallback:  kv.NewLocalKV(),
	}
}

func (g *LockoutGuard) keys(subject, ip string) []string {
	var keys []string
	switch g.Mode {
	case LockByIP:
		if ip != "" {
			keys = append(keys, "lockout:ip:"+ip)
		}
	case LockBySubject:
		if subject != "" {
			keys = append(keys, "lockout:sub:"+subject)
		}
	default: // subject-or-ip
		if subject != "" {
			keys = append(keys, "lockout:sub:"+subject)
		}
		if ip != "" {
			keys = append(keys, "lockout:ip:"+ip)
		}
	}
	return keys
}

// RecordFailure increments every applicable counter. Crossing the threshold
// arms a lock for the rest of the window and emits a lockout audit event.
func (g *LockoutGuard) RecordFailure(ctx context.Context, subject, ip string) {
	for _, key := range g.keys(subject, ip) {
		count, err := g.incr(ctx, key+":fails")
		if err != nil {
			slogx.FromContext(ctx).Error("lockout counter increment failed",
				slog.String("key", key),
				slog.Any("error", err),
			)
			continue
		}
		if count >= int64(g.Threshold) {
			g.arm(ctx, key, subject, ip)
		}
	}
}

// RecordSuccess resets all applicable counters. Success never clears an
// armed lock early; the lock expires with its window.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, subject, ip string) {
	for _, key := range g.keys(subject, ip) {
		_ = g.KV.Delete(ctx, key+":fails")
		_ = g.fallback.Delete(ctx, key+":fails")
	}
}

// IsLocked reports whether any applicable key is locked and the longest
// remaining lock duration.
func (g *LockoutGuard) IsLocked(ctx context.Context, subject, ip string) (bool, time.Duration) {
	var remaining time.Duration
	for _, key := range g.keys(subject, ip) {
		ttl, err := g.ttl(ctx, key+":lock")
		if err != nil {
			continue
		}
		if ttl > remaining {
			remaining = ttl
		}
	}
	return remaining > 0, remaining
}

func (g *LockoutGuard) arm(ctx context.Context, key, subject, ip string) {
	value := strconv.FormatInt(time.Now().Add(g.Window).Unix(), 10)
	if err := g.KV.Set(ctx, key+":lock", value, g.Window); err != nil {
		_ = g.fallback.Set(ctx, key+":lock", value, g.Window)
	}

	slogx.FromContext(ctx).Warn("account lockout triggered",
		slog.String("key", key),
		slog.Int("threshold", g.Threshold),
		slog.Duration("window", g.Window),
	)
	audit.Emit(ctx, g.Audit, audit.Event{
		Name:    audit.EventLockoutTriggered,
		Subject: subject,
		IP:      ip,
		Detail:  key,
	})
}

func (g *LockoutGuard) incr(ctx context.Context, key string) (int64, error) {
	count, err := g.KV.IncrAndExpire(ctx, key, g.Window)
	if err == nil {
		return count, nil
	}
	if errors.Is(err, kv.ErrUnavailable) {
		return g.fallback.IncrAndExpire(ctx, key, g.Window)
	}
	return 0, err
}

func (g *LockoutGuard) ttl(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := g.KV.TTL(ctx, key)
	if err == nil {
		return ttl, nil
	}
	if errors.Is(err, kv.ErrUnavailable) {
		return g.fallback.TTL(ctx, key)
	}
	return 0, err
}
