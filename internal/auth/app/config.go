package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/pkg/jwtx"
)

type Config struct {
	Issuer string // Issuer claim for tokens (default: lms-auth)

	Secret         string        // Required: HMAC signing secret, min 32 bytes
	PreviousSecret string        // Optional: prior secret accepted during the grace window
	SecretGrace    time.Duration // Grace window after a secret rotation (default: 24h)

	AccessTTL  time.Duration // Access token lifetime (default: 15m)
	RefreshTTL time.Duration // Refresh token lifetime (default: 720h)

	MFATTL         time.Duration // MFA challenge lifetime (default: 10m)
	MFAMaxAttempts int           // Failed MFA verification ceiling (default: 5)

	LockoutThreshold int                    // Failed logins before lockout (default: 5)
	LockoutWindow    time.Duration          // Lockout counting window and lock duration (default: 15m)
	LockoutKeyMode   service.LockoutKeyMode // subject, ip or subject-or-ip (default: subject-or-ip)

	RevocationFailMode service.FailMode // closed or open (default: closed)

	RedisAddr     string // Optional: shared store address; empty selects the in-process KV
	RedisPassword string

	DatabaseFile         string        // Path to SQLite database file (default: ./auth.db)
	AuditRetention       time.Duration // How long expired token records are kept (default: 720h)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

// LoadConfig reads the environment. Validation is separate so tests can
// build configs directly.
func LoadConfig() Config {
	return Config{
		Issuer:         getEnvOrDefault("AUTH_ISSUER", "lms-auth"),
		Secret:         os.Getenv("AUTH_SECRET"),
		PreviousSecret: os.Getenv("AUTH_PREVIOUS_SECRET"),
		SecretGrace:    getEnvDurationOrDefault("AUTH_SECRET_GRACE", 24*time.Hour),

		AccessTTL:  getEnvDurationOrDefault("ACCESS_TTL", jwtx.DefaultAccessTokenTTL),
		RefreshTTL: getEnvDurationOrDefault("REFRESH_TTL", jwtx.DefaultRefreshTokenTTL),

		MFATTL:         getEnvDurationOrDefault("MFA_TTL", service.DefaultMFATTL),
		MFAMaxAttempts: getEnvIntOrDefault("MFA_MAX_ATTEMPTS", service.DefaultMFAMaxAttempts),

		LockoutThreshold: getEnvIntOrDefault("LOCKOUT_THRESHOLD", service.DefaultLockoutThreshold),
		LockoutWindow:    getEnvDurationOrDefault("LOCKOUT_WINDOW", service.DefaultLockoutWindow),
		LockoutKeyMode:   service.LockoutKeyMode(getEnvOrDefault("LOCKOUT_KEY_MODE", string(service.LockBySubjectOrIP))),

		RevocationFailMode: service.FailMode(getEnvOrDefault("REVOCATION_FAIL_MODE", string(service.FailClosed))),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		DatabaseFile:         getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		AuditRetention:       getEnvDurationOrDefault("AUDIT_RETENTION", service.DefaultAuditRetention),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

// Validate resolves the policy knobs once at startup. A process with an
// unparseable fail mode or key mode refuses to start rather than guessing
// at request time.
func (c Config) Validate() error {
	if len(c.Secret) < 32 {
		return errors.New("AUTH_SECRET must be set to at least 32 bytes")
	}
	if c.PreviousSecret != "" && len(c.PreviousSecret) < 32 {
		return errors.New("AUTH_PREVIOUS_SECRET must be at least 32 bytes when set")
	}
	if _, err := service.ParseFailMode(string(c.RevocationFailMode)); err != nil {
		return fmt.Errorf("REVOCATION_FAIL_MODE: %w", err)
	}
	if _, err := service.ParseLockoutKeyMode(string(c.LockoutKeyMode)); err != nil {
		return fmt.Errorf("LOCKOUT_KEY_MODE: %w", err)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
