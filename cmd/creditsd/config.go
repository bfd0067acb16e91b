package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all service configuration, loaded from the environment.
type Config struct {
	Server ServerConfig `env:",prefix=SERVER_"`
	Store  StoreConfig  `env:",prefix=STORE_"`
	Redis  RedisConfig  `env:",prefix=REDIS_"`
	App    AppConfig    `env:",prefix=APP_"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host         string        `env:"HOST,default=0.0.0.0"`
	Port         string        `env:"PORT,default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT,default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT,default=30s"`
}

// Addr returns the listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite" or "postgres".
	Driver string `env:"DRIVER,default=memory"`

	// DSN is the postgres connection string, for example
	// "host=localhost user=credits dbname=credits sslmode=disable".
	DSN string `env:"DSN"`

	// Path is the sqlite database file.
	Path string `env:"PATH,default=credits.db"`
}

// RedisConfig configures the optional Redis backend for rate-limit
// counters. An empty Addr keeps counters in process memory.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB,default=0"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel      string        `env:"LOG_LEVEL,default=info"`
	AdminToken    string        `env:"ADMIN_TOKEN"`
	BaseURL       string        `env:"BASE_URL,default=http://localhost:8080"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=1h"`
	TokenTTL      time.Duration `env:"TOKEN_TTL,default=15m"`
	Metrics       bool          `env:"METRICS,default=true"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}
