// Package kv defines the shared-store capability used by the revocation
// cache, the lockout guard and the rate limiter: get/set with TTL plus an
// atomic increment-with-expiry. Two implementations exist, a Redis-backed
// one for multi-instance deployments and a process-local one used as outage
// fallback and in tests. Callers never see which one they hold.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and TTL when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrUnavailable wraps backend connectivity failures. Callers decide
	// per-component what unavailability means (fail-closed, fallback, ...).
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// KV is the storage capability shared by all counter- and flag-style state.
// Every operation is a single round trip; there are no multi-key
// transactions.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL. A non-positive TTL is
	// rejected; nothing in this system lives forever.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// IncrAndExpire atomically increments the counter at key and, on the
	// first hit of a window, applies the TTL. Fixed-window semantics: the
	// TTL is not refreshed on subsequent hits.
	IncrAndExpire(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// TTL reports the remaining lifetime of key, or ErrNotFound.
	TTL(ctx context.Context, key string) (time.Duration, error)
}
