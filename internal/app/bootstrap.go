package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"campus-gateway/internal/auth"
	"campus-gateway/internal/config"
	"campus-gateway/internal/db"
	"campus-gateway/internal/mail"
	"campus-gateway/internal/maintenance"
	"campus-gateway/internal/observability"
	"campus-gateway/internal/student"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Config  config.Config
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	cfg, err := config.Load(options.LoadDotEnv)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger()

	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv, cfg.AppVersion); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(cfg.DBMaxOpen)
	database.SetMaxIdleConns(cfg.DBMaxIdle)
	database.SetConnMaxLifetime(cfg.DBConnMaxLife)
	database.SetConnMaxIdleTime(cfg.DBConnMaxIdle)

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations || cfg.RunMigrations {
		if err := db.RunMigrations(context.Background(), database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	repo := auth.NewRepository(database)
	codec := auth.NewCodec(cfg.JWTSecret)
	hasher := auth.NewPasswordHasher(cfg.BcryptCost, cfg.HashWorkers)

	var mailer auth.Mailer
	if strings.TrimSpace(cfg.MailAPIURL) != "" {
		client, err := mail.NewClient(cfg.MailAPIURL, cfg.MailAPIKey, cfg.MailFrom)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("init mail client: %w", err)
		}
		mailer = client
	} else {
		mailer = mail.NewLogMailer(logger)
	}

	service := auth.NewService(repo, codec, hasher, mailer, logger)
	service.WithSecurityConfig(
		cfg.LoginMaxAttempts,
		cfg.LoginLockDuration,
		cfg.AccessTokenTTL,
		cfg.RefreshTokenTTL,
		cfg.ResetTokenTTL,
	)
	service.WithResetLink(cfg.ResetLinkBase)

	if err := seedAdmin(context.Background(), repo, hasher, cfg); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	var redisClient *redis.Client
	var limiter auth.LoginLimiter
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(redisOpts)
		limiter = auth.NewRedisLoginLimiter(redisClient, cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
	} else {
		limiter = auth.NewMemoryLoginLimiter(cfg.LoginRateLimitMax, cfg.LoginRateLimitWindow)
	}

	authHandler := auth.NewHandler(service, logger)
	resolver := auth.NewResolver(codec)
	cleanupHandler := maintenance.NewCleanupHandler(
		repo,
		logger,
		cfg.CronSecret,
		cfg.ResetTokenRetention,
		cfg.CleanupBatchSize,
	)
	studentHandler := student.NewHandler(student.NewRepository(database))

	mux := http.NewServeMux()
	mux.Handle("POST /auth/login", auth.RateLimitMiddleware(limiter, http.HandlerFunc(authHandler.Login)))
	mux.HandleFunc("POST /auth/refresh", authHandler.Refresh)
	mux.HandleFunc("POST /auth/logout", authHandler.Logout)
	mux.Handle("POST /auth/forgot-password", auth.RateLimitMiddleware(limiter, http.HandlerFunc(authHandler.ForgotPassword)))
	mux.HandleFunc("POST /auth/reset-password", authHandler.ResetPassword)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(database))
	mux.Handle("GET /students", resolver.Middleware(http.HandlerFunc(studentHandler.List)))
	mux.Handle("GET /students/{id}", resolver.Middleware(http.HandlerFunc(studentHandler.Get)))
	mux.Handle("POST /students", resolver.RequireRole("ADMIN", http.HandlerFunc(studentHandler.Create)))
	mux.Handle("PUT /students/{id}", resolver.RequireRole("ADMIN", http.HandlerFunc(studentHandler.Update)))
	mux.Handle("DELETE /students/{id}", resolver.RequireRole("ADMIN", http.HandlerFunc(studentHandler.Delete)))

	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Config:  cfg,
		Close: func() error {
			observability.FlushSentry()
			if redisClient != nil {
				_ = redisClient.Close()
			}
			return database.Close()
		},
	}, nil
}

func seedAdmin(ctx context.Context, repo *auth.Repository, hasher *auth.PasswordHasher, cfg config.Config) error {
	email := strings.TrimSpace(strings.ToLower(cfg.AdminEmail))
	password := strings.TrimSpace(cfg.AdminPassword)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	hash, err := hasher.Hash(ctx, password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	return repo.UpsertAdminUser(ctx, email, cfg.AdminName, hash, time.Now().UTC())
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
