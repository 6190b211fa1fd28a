package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the immutable runtime configuration. Everything with a security
// meaning (secret, expirations, lockout threshold) is explicit here and
// passed into the components at construction, never read ambiently.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	JWTSecret   string `env:"JWT_SECRET"`
	Port        string `env:"PORT" envDefault:"8080"`
	AppEnv      string `env:"APP_ENV" envDefault:"development"`
	AppVersion  string `env:"APP_VERSION"`
	SentryDSN   string `env:"SENTRY_DSN"`
	RedisURL    string `env:"REDIS_URL"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	ResetTokenTTL   time.Duration `env:"RESET_TOKEN_TTL" envDefault:"1h"`

	LoginMaxAttempts  int           `env:"LOGIN_MAX_ATTEMPTS" envDefault:"5"`
	LoginLockDuration time.Duration `env:"LOGIN_LOCK_DURATION" envDefault:"30m"`

	LoginRateLimitMax    int           `env:"LOGIN_RATE_LIMIT_MAX" envDefault:"10"`
	LoginRateLimitWindow time.Duration `env:"LOGIN_RATE_LIMIT_WINDOW" envDefault:"1m"`

	BcryptCost    int           `env:"BCRYPT_COST" envDefault:"10"`
	HashWorkers   int           `env:"HASH_WORKERS" envDefault:"4"`
	DBMaxOpen     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdle     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLife time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	DBConnMaxIdle time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"10m"`

	CronSecret          string        `env:"CRON_SECRET"`
	ResetTokenRetention time.Duration `env:"RESET_TOKEN_RETENTION" envDefault:"720h"`
	CleanupBatchSize    int           `env:"CLEANUP_BATCH_SIZE" envDefault:"500"`

	MailAPIURL    string `env:"MAIL_API_URL"`
	MailAPIKey    string `env:"MAIL_API_KEY"`
	MailFrom      string `env:"MAIL_FROM" envDefault:"no-reply@campus-gateway.local"`
	ResetLinkBase string `env:"RESET_LINK_BASE_URL" envDefault:"http://localhost:3000/reset-password"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminName     string `env:"ADMIN_NAME" envDefault:"Administrator"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	RunMigrations bool `env:"RUN_MIGRATIONS_ON_STARTUP" envDefault:"false"`
}

// Load parses configuration from the environment, optionally reading a .env
// file first.
func Load(loadDotEnv bool) (Config, error) {
	if loadDotEnv {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env config: %w", err)
	}

	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return Config{}, fmt.Errorf("missing required env: DATABASE_URL")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return Config{}, fmt.Errorf("missing required env: JWT_SECRET")
	}
	if len(cfg.JWTSecret) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	return cfg, nil
}
