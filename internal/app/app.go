package app

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

	"github.com/redis/go-redis/v9"

	"autoshop-api/internal/config"
	"autoshop-api/internal/database"
	"autoshop-api/internal/handler"
	"autoshop-api/internal/mailer"
	"autoshop-api/internal/middleware"
	"autoshop-api/internal/repository"
	"autoshop-api/internal/router"
	"autoshop-api/internal/service"
)

type App struct {
	server       *http.Server
	resets       *service.PasswordResetService
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	slog.Info("connecting to database", "engine", cfg.Database.Engine)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}
	if err := repository.NewRoleRepository(db.Gorm).EnsureDefaults(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure default roles: %w", err)
	}
	slog.Info("database ready")

	m, err := mailer.New(cfg.SMTP)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure mailer: %w", err)
	}

	limiter, closeLimiter := newLimiter(ctx, cfg)
	appHandler, resets := buildHandler(cfg, db, m, limiter)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appHandler,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		resets: resets,
		cleanupFuncs: []func(){
			closeLimiter,
			db.Close,
		},
	}, nil
}

// buildHandler wires repositories, services and handlers into the HTTP router.
func buildHandler(cfg *config.Config, db *database.DB, m mailer.Mailer, limiter middleware.Limiter) (http.Handler, *service.PasswordResetService) {
	userRepo := repository.NewUserRepository(db.Gorm)
	roleRepo := repository.NewRoleRepository(db.Gorm)
	tokenRepo := repository.NewTokenRepository(db.Gorm)
	resetRepo := repository.NewResetTokenRepository(db.Gorm)
	auditRepo := repository.NewAuditRepository(db.Gorm)

	issuer := service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL)
	authService := service.NewAuthService(userRepo, roleRepo, tokenRepo, issuer, service.NewPasswordHasher(cfg.BcryptCost))
	resetService := service.NewPasswordResetService(userRepo, resetRepo, authService, m, service.ResetOptions{
		FrontendURL: cfg.FrontendURL,
		TTL:         cfg.ResetTokenTTL,
		ExposeURL:   !cfg.IsProduction(),
	})
	auditService := service.NewAuditService(auditRepo)

	authMiddleware := middleware.NewAuthMiddleware(authService)

	return router.New(cfg, authMiddleware, limiter, router.Handlers{
		Auth:   handler.NewAuthHandler(authService, resetService, auditService),
		User:   handler.NewUserHandler(authService, auditService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(db),
	}), resetService
}

// newLimiter returns the configured rate-limit backend. An unreachable redis
// falls back to the in-memory limiter.
func newLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func()) {
	if cfg.RateLimitBackend != config.RateLimitRedis {
		return middleware.NewMemoryLimiter(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		slog.Warn("redis unavailable; using in-memory rate limiter", "addr", cfg.Redis.Addr, "error", err)
		_ = client.Close()
		return middleware.NewMemoryLimiter(), func() {}
	}

	slog.Info("rate limiter using redis", "addr", cfg.Redis.Addr)
	return middleware.NewRedisLimiter(client, "autoshop:ratelimit"), func() { _ = client.Close() }
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)

	// Pending reset emails still need the process alive.
	a.resets.Wait()

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
