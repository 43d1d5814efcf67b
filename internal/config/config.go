package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the client-side configuration used by cmd/syncagent.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	APIBaseURL  string `env:"API_BASE_URL" envDefault:"http://127.0.0.1:8080/api/v1"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"gaspos.db"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	UnreadPollInterval time.Duration `env:"UNREAD_POLL_INTERVAL" envDefault:"30s"`
	StreamBaseDelay    time.Duration `env:"STREAM_BASE_DELAY" envDefault:"3s"`
	StreamMaxAttempts  int           `env:"STREAM_MAX_ATTEMPTS" envDefault:"5"`

	LoginEmail    string `env:"LOGIN_EMAIL"`
	LoginPassword string `env:"LOGIN_PASSWORD"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"console"`
}

// ServerConfig configures cmd/devserver.
type ServerConfig struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	AllowedOrigin  string        `env:"ALLOWED_ORIGIN" envDefault:"*"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"8h"`
	SeedAdminEmail string        `env:"SEED_ADMIN_EMAIL" envDefault:"admin@gaspos.local"`
	SeedAdminPass  string        `env:"SEED_ADMIN_PASSWORD"`
	LegacyShape    bool          `env:"LEGACY_SHAPE" envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads the client configuration from the environment, after applying an
// optional .env file in the working directory.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse client config: %w", err)
	}

	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.UnreadPollInterval <= 0 {
		cfg.UnreadPollInterval = 30 * time.Second
	}
	if cfg.StreamBaseDelay <= 0 {
		cfg.StreamBaseDelay = 3 * time.Second
	}
	if cfg.StreamMaxAttempts < 1 {
		cfg.StreamMaxAttempts = 5
	}
	return cfg, nil
}

// LoadServer reads the dev server configuration.
func LoadServer() (ServerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return ServerConfig{}, err
	}

	var cfg ServerConfig
	if err := env.Parse(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("parse server config: %w", err)
	}

	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.SeedAdminPass = strings.TrimSpace(cfg.SeedAdminPass)
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = 8 * time.Hour
	}
	return cfg, nil
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// StreamURL is the sale event endpoint derived from the API base URL.
func (c Config) StreamURL() string {
	return c.APIBaseURL + "/sales/events"
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}
