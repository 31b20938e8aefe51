// Package main is the entrypoint for the automations API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modofreelanceos/automations/internal/api"
	"github.com/modofreelanceos/automations/internal/api/handler"
	mw "github.com/modofreelanceos/automations/internal/api/middleware"
	"github.com/modofreelanceos/automations/internal/assistant"
	"github.com/modofreelanceos/automations/internal/auth"
	"github.com/modofreelanceos/automations/internal/automation"
	"github.com/modofreelanceos/automations/internal/backend"
	"github.com/modofreelanceos/automations/internal/cache"
	"github.com/modofreelanceos/automations/internal/config"
	"github.com/modofreelanceos/automations/internal/retry"
	"github.com/modofreelanceos/automations/internal/scheduler"
	"github.com/modofreelanceos/automations/internal/store"
	"github.com/modofreelanceos/automations/internal/tracker"
)

const (
	shutdownTimeout = 30 * time.Second
	// sessionTTL only matters for tokens this process signs; sessions are
	// issued elsewhere and just verified here.
	sessionTTL = 12 * time.Hour
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "backend", cfg.Backend.BaseURL, "env", cfg.Server.Env)

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, cache.WithKeyPrefix(cfg.Redis.KeyPrefix))
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Backend client, signing a service token per user
	serviceTokens := auth.NewServiceTokens(auth.NewJWT(cfg.Auth.BackendTokenSecret, cfg.Backend.TokenTTL))
	backendClient := backend.NewHTTPClient(cfg.Backend.BaseURL, serviceTokens, cfg.Backend.Timeout)

	// 6. Services and router
	app, err := newApp(cfg, store.NewPostgresStore(pool), redisCache, backendClient)
	if err != nil {
		return err
	}
	defer app.tracker.Close()

	// 7. Resume polling for runs left in flight, then keep sweeping
	if n, err := app.scheduler.RunOnce(ctx); err != nil {
		slog.Warn("startup reconcile failed", "error", err)
	} else {
		slog.Info("startup reconcile done", "resumed", n)
	}
	app.scheduler.Start()

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		app.scheduler.Stop(context.Background())
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	app.scheduler.Stop(shutdownCtx)

	slog.Info("server stopped gracefully")
	return nil
}

// app is the wired service graph behind the HTTP router.
type app struct {
	router    http.Handler
	tracker   *tracker.Tracker
	scheduler *scheduler.Scheduler
}

func newApp(cfg *config.Config, st store.Store, ca cache.Cache, bc backend.Client) (*app, error) {
	tr := tracker.New(bc, st, tracker.WithCache(ca))
	retrySvc := retry.NewService(st, bc, ca, cfg.Backend.DefaultsCacheTTL)
	autoSvc := automation.NewService(st, tr, retrySvc)
	dispatcher := assistant.NewDispatcher(autoSvc, retrySvc)

	sched, err := scheduler.New(autoSvc, cfg.Scheduler.ReconcileSchedule)
	if err != nil {
		tr.Close()
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	deps := api.Dependencies{
		Auth:                 mw.NewAuth(st, auth.NewJWT(cfg.Auth.JWTSecret, sessionTTL)),
		RateLimit:            mw.NewRateLimit(ca, cfg.Server.RequestsPerMinute),
		CORSOrigins:          cfg.CORS.AllowedOrigins,
		CORSAllowCredentials: cfg.CORS.AllowCredentials,

		HealthHandler: handler.NewHealthHandler(st, ca),

		ListAutomations:  handler.NewListAutomationsHandler(autoSvc),
		CreateAutomation: handler.NewCreateAutomationHandler(autoSvc),
		GetAutomation:    handler.NewGetAutomationHandler(autoSvc),
		UpdateAutomation: handler.NewUpdateAutomationHandler(autoSvc),
		DeleteAutomation: handler.NewDeleteAutomationHandler(autoSvc),
		SetEnabled:       handler.NewSetEnabledHandler(autoSvc),
		RunAutomation:    handler.NewRunAutomationHandler(autoSvc),
		RunStatus:        handler.NewRunStatusHandler(autoSvc, tr),
		PutRetryOverride: handler.NewPutRetryOverrideHandler(retrySvc, autoSvc),

		GetRetryDefaults: handler.NewGetRetryDefaultsHandler(retrySvc),
		PutRetryDefaults: handler.NewPutRetryDefaultsHandler(retrySvc),

		AssistantAction: handler.NewAssistantActionHandler(dispatcher),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	}

	return &app{router: api.NewRouter(deps), tracker: tr, scheduler: sched}, nil
}
