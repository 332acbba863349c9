package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateKeyMode selects the identity a rule counts against.
type RateKeyMode string

const (
	RateByIP          RateKeyMode = "ip"
	RateBySubject     RateKeyMode = "subject"
	RateBySubjectOrIP RateKeyMode = "subject-or-ip"
)

// RateRule is one named bucket definition. A request may match several
// rules; all of them must allow it.
type RateRule struct {
	Name         string
	PathPrefixes []string
	Limit        int
	Period       time.Duration
	KeyMode      RateKeyMode
}

func (r RateRule) matches(path string) bool {
	for _, prefix := range r.PathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (r RateRule) key(subject, ip string) string {
	identity := ip
	switch r.KeyMode {
	case RateBySubject:
		identity = subject
	case RateBySubjectOrIP:
		if subject != "" {
			identity = subject
		}
	}
	return "ratelimit:" + r.Name + ":" + identity
}

// maxLocalBuckets bounds the fallback bucket map. Exceeding it drops the
// whole map; losing approximate counters is acceptable, unbounded memory is
// not.
const maxLocalBuckets = 100_000

// Decision is the outcome of one rule evaluation.
type Decision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RateLimiter gates requests per named rule with fixed-window counters in
// the shared store. When the store is unreachable it degrades to per-key
// in-process token buckets, approximate across instances but never a hard
// failure of the request pipeline.
type RateLimiter struct {
	KV    kv.KV
	Rules []RateRule

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewRateLimiter(shared kv.KV, rules []RateRule) *RateLimiter {
	return &RateLimiter{
		KV:      shared,
		Rules:   rules,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Match returns every rule whose path prefixes cover path.
func (l *RateLimiter) Match(path string) []RateRule {
	var matched []RateRule
	for _, r := range l.Rules {
		if r.matches(path) {
			matched = append(matched, r)
		}
	}
	return matched
}

// Allow evaluates one rule for one identity.
func (l *RateLimiter) Allow(ctx context.Context, rule RateRule, subject, ip string) Decision {
	key := rule.key(subject, ip)

	count, err := l.KV.IncrAndExpire(ctx, key, rule.Period)
	if err != nil {
		if errors.Is(err, kv.ErrUnavailable) {
			return l.allowLocal(ctx, rule, key)
		}
		slogx.FromContext(ctx).Error("rate limit counter failed",
			slog.String("rule", rule.Name),
			slog.Any("error", err),
		)
		// Never hard-fail the pipeline on limiter trouble.
		return Decision{Allowed: true}
	}

	if count > int64(rule.Limit) {
		retry := rule.Period
		if ttl, terr := l.KV.TTL(ctx, key); terr == nil && ttl > 0 {
			retry = ttl
		}
		return Decision{
			Allowed:    false,
			ResetAt:    time.Now().Add(retry),
			RetryAfter: retry,
		}
	}

	return Decision{
		Allowed:   true,
		Remaining: rule.Limit - int(count),
	}
}

// AllowAll evaluates every rule matching path. The first denial wins and
// carries the retry delay.
func (l *RateLimiter) AllowAll(ctx context.Context, path, subject, ip string) error {
	for _, rule := range l.Match(path) {
		d := l.Allow(ctx, rule, subject, ip)
		if !d.Allowed {
			slogx.FromContext(ctx).Info("rate limited",
				slog.String("rule", rule.Name),
				slog.String("path", path),
			)
			return &RateLimitedError{RetryAfter: d.RetryAfter}
		}
	}
	return nil
}

// allowLocal is the outage path: a per-key token bucket sized to the rule.
func (l *RateLimiter) allowLocal(ctx context.Context, rule RateRule, key string) Decision {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalBuckets {
			l.buckets = make(map[string]*rate.Limiter)
		}
		bucket = rate.NewLimiter(rate.Every(rule.Period/time.Duration(rule.Limit)), rule.Limit)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	if bucket.Allow() {
		return Decision{Allowed: true}
	}
	slogx.FromContext(ctx).Warn("rate limit store unavailable, using local bucket",
		slog.String("rule", rule.Name),
	)
	return Decision{
		Allowed:    false,
		RetryAfter: rule.Period,
		ResetAt:    time.Now().Add(rule.Period),
	}
}
