package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the automation service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backend   BackendConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port              int    `env:"MFO_PORT, default=8080"`
	Env               string `env:"MFO_ENV, default=development"`
	RequestsPerMinute int    `env:"RATE_LIMIT_PER_MINUTE, default=60"`
}

type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME, default=5m"`
	MigrationsDir   string        `env:"DATABASE_MIGRATIONS_DIR, default=migrations"`
}

type RedisConfig struct {
	URL       string `env:"REDIS_URL"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX, default=mfo:"`
}

// BackendConfig points at the external automation runner.
type BackendConfig struct {
	BaseURL          string        `env:"BACKEND_BASE_URL"`
	Timeout          time.Duration `env:"BACKEND_TIMEOUT, default=30s"`
	TokenTTL         time.Duration `env:"BACKEND_TOKEN_TTL, default=5m"`
	DefaultsCacheTTL time.Duration `env:"RETRY_DEFAULTS_CACHE_TTL, default=1h"`
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	// BackendTokenSecret signs service tokens sent to the backend.
	// Falls back to JWTSecret when unset.
	BackendTokenSecret string `env:"BACKEND_TOKEN_SECRET"`
}

type SchedulerConfig struct {
	ReconcileSchedule string `env:"RECONCILE_SCHEDULE, default=@every 30s"`
}

type CORSConfig struct {
	AllowedOrigins   []string `env:"CORS_ALLOWED_ORIGINS"`
	AllowCredentials bool     `env:"CORS_ALLOW_CREDENTIALS, default=false"`
}

// Load reads configuration from the environment (and a .env file when present)
// and returns a validated Config.
func Load(ctx context.Context) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}

	if cfg.Auth.BackendTokenSecret == "" {
		cfg.Auth.BackendTokenSecret = cfg.Auth.JWTSecret
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must start with http:// or https://, got %q", c.Backend.BaseURL)
	}
	c.Backend.BaseURL = strings.TrimRight(c.Backend.BaseURL, "/")

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("MFO_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Scheduler.ReconcileSchedule == "" {
		return fmt.Errorf("RECONCILE_SCHEDULE must not be empty")
	}

	return nil
}
