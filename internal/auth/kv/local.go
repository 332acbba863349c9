package kv

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultLocalMaxEntries bounds the local KV so a flood of distinct keys
// (e.g. spoofed IPs) cannot exhaust memory.
const DefaultLocalMaxEntries = 100_000

type localEntry struct {
	value     string
	count     int64
	expiresAt time.Time
}

// LocalKV is a process-scoped KV used when no shared store is configured and
// as the degraded-accuracy fallback during Redis outages. It is deliberately
// dependency-free: it must keep working when everything else is down.
// Entries expire by TTL; a sweep runs when the map exceeds its size bound.
type LocalKV struct {
	mu         sync.Mutex
	entries    map[string]localEntry
	maxEntries int

	now func() time.Time
}

func NewLocalKV() *LocalKV {
	return &LocalKV{
		entries:    make(map[string]localEntry),
		maxEntries: DefaultLocalMaxEntries,
		now:        time.Now,
	}
}

func (l *LocalKV) Get(ctx context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (l *LocalKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("kv: non-positive ttl for %q", key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.maybeSweep()
	l.entries[key] = localEntry{value: value, expiresAt: l.now().Add(ttl)}
	return nil
}

func (l *LocalKV) Delete(ctx context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, k := range keys {
		delete(l.entries, k)
	}
	return nil
}

func (l *LocalKV) IncrAndExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.live(key)
	if !ok {
		l.maybeSweep()
		l.entries[key] = localEntry{count: 1, expiresAt: l.now().Add(ttl)}
		return 1, nil
	}

	e.count++
	l.entries[key] = e
	return e.count, nil
}

func (l *LocalKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	return e.expiresAt.Sub(l.now()), nil
}

// live returns the entry at key if it exists and has not expired, removing
// it if it has. Callers must hold the mutex.
func (l *LocalKV) live(key string) (localEntry, bool) {
	e, ok := l.entries[key]
	if !ok {
		return localEntry{}, false
	}
	if l.now().After(e.expiresAt) {
		delete(l.entries, key)
		return localEntry{}, false
	}
	return e, true
}

// maybeSweep drops expired entries once the map hits its size bound.
// Callers must hold the mutex.
func (l *LocalKV) maybeSweep() {
	if len(l.entries) < l.maxEntries {
		return
	}
	now := l.now()
	for k, e := range l.entries {
		if now.After(e.expiresAt) {
			delete(l.entries, k)
		}
	}
}
