package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kandil7/lms-auth/internal/auth/audit"
	httpapi "github.com/Kandil7/lms-auth/internal/auth/http"
	"github.com/Kandil7/lms-auth/internal/auth/kv"
	"github.com/Kandil7/lms-auth/internal/auth/service"
	"github.com/Kandil7/lms-auth/internal/auth/store"
	"github.com/Kandil7/lms-auth/internal/auth/store/drivers/sqlite"
	"github.com/Kandil7/lms-auth/pkg/jwtx"
	"github.com/Kandil7/lms-auth/pkg/slogx"
	"github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db       store.Store
	sharedKV kv.KV
	issuer   *jwtx.Issuer

	sessionService      *service.SessionService
	loginService        *service.LoginService
	mfaService          *service.MFAService
	lockoutGuard        *service.LockoutGuard
	rateLimiter         *service.RateLimiter
	revocationList      *service.RevocationList
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "lms-auth",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initKV(); err != nil {
		return nil, err
	}
	if err := app.initIssuer(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	app.logger.Info("auth service starting",
		"port", app.cfg.Port,
		"version", BuildVersion,
		"revocation_fail_mode", app.cfg.RevocationFailMode,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down auth service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("auth service stopped")
	return nil
}

func (app *Application) initDatabase() error {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(dsn)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initKV selects the shared store: Redis when an address is configured,
// otherwise the in-process KV. The local KV has no cross-instance view, so
// lockout and rate limit counters only hold per instance; fine for a single
// node, not for a fleet.
func (app *Application) initKV() error {
	if app.cfg.RedisAddr == "" {
		app.logger.Warn("REDIS_ADDR not set, using in-process counters (single instance only)")
		app.sharedKV = kv.NewLocalKV()
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     app.cfg.RedisAddr,
		Password: app.cfg.RedisPassword,
	})
	shared := kv.NewRedisKV(client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shared.Ping(ctx); err != nil {
		// Startup continues: the components fall back per their policies
		// and Redis may come up after us.
		app.logger.Warn("redis unreachable at startup", "addr", app.cfg.RedisAddr, "error", err)
	}

	app.sharedKV = shared
	return nil
}

func (app *Application) initIssuer() error {
	secrets := jwtx.Secrets{
		Current: []byte(app.cfg.Secret),
	}
	if app.cfg.PreviousSecret != "" {
		secrets.Previous = []byte(app.cfg.PreviousSecret)
		secrets.RotatedAt = time.Now()
		secrets.Grace = app.cfg.SecretGrace
	}

	issuer, err := jwtx.NewIssuer(app.cfg.Issuer, secrets)
	if err != nil {
		return fmt.Errorf("failed to initialize token issuer: %w", err)
	}
	app.issuer = issuer
	return nil
}

func (app *Application) initServices() {
	sink := &audit.SlogSink{Logger: app.logger}

	app.revocationList = service.NewRevocationList(app.sharedKV, app.cfg.RevocationFailMode)

	app.sessionService = service.NewSessionService(
		app.issuer,
		app.db,
		app.revocationList,
		sink,
		app.cfg.AccessTTL,
		app.cfg.RefreshTTL,
	)

	app.mfaService = service.NewMFAService(
		app.db,
		app.sessionService,
		service.LogNotifier{},
		sink,
		app.cfg.MFATTL,
		app.cfg.MFAMaxAttempts,
	)

	app.lockoutGuard = service.NewLockoutGuard(
		app.sharedKV,
		app.cfg.LockoutThreshold,
		app.cfg.LockoutWindow,
		app.cfg.LockoutKeyMode,
		sink,
	)

	app.rateLimiter = service.NewRateLimiter(app.sharedKV, defaultRateRules())

	app.loginService = &service.LoginService{
		Store:    app.db,
		Sessions: app.sessionService,
		MFA:      app.mfaService,
		Lockout:  app.lockoutGuard,
		Audit:    sink,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
		app.cfg.AuditRetention,
	)
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(BuildVersion, app.db, app.sharedKV, app.logger)
	router.Sessions = app.sessionService
	router.Login = app.loginService
	router.MFA = app.mfaService
	router.Limiter = app.rateLimiter
	router.ApplyRoutes()
	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// defaultRateRules gates the credential endpoints hard and everything else
// loosely. Unauthenticated endpoints key by IP; authenticated traffic keys
// by subject when present.
func defaultRateRules() []service.RateRule {
	return []service.RateRule{
		{
			Name:         "global",
			PathPrefixes: []string{"/"},
			Limit:        300,
			Period:       time.Minute,
			KeyMode:      service.RateBySubjectOrIP,
		},
		{
			Name:         "credentials",
			PathPrefixes: []string{"/v1/auth/login", "/v1/auth/mfa"},
			Limit:        10,
			Period:       time.Minute,
			KeyMode:      service.RateByIP,
		},
		{
			Name:         "refresh",
			PathPrefixes: []string{"/v1/auth/refresh"},
			Limit:        30,
			Period:       time.Minute,
			KeyMode:      service.RateByIP,
		},
	}
}
