// Package config reads the relying party settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

const (
	BackendDB    = "db"
	BackendRedis = "redis"
)

// Config is loaded once at startup and not changed afterwards.
type Config struct {
	BaseURL     string
	RedirectURL string
	ClientName  string

	Backend     string
	DatabaseURL string
	RedisURL    string

	AlwaysUseClientURL bool

	SessionSecret string
	ListenAddr    string

	LogLevel  string
	LogFormat string

	HTTPTimeout time.Duration
	SafeHTTP    bool

	// RegisterRate is requests per second per client ip on /register.
	RegisterRate rate.Limit
}

// Load reads a .env file from the working directory if there is one, then the
// environment. Every missing required variable is reported in one error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("could not read .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var missing []string

	cfg.BaseURL = os.Getenv("BASE_URL")
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	} else if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}

	cfg.Backend = getEnvString("BACKEND", BackendDB)
	switch cfg.Backend {
	case BackendDB:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case BackendRedis:
		cfg.RedisURL = os.Getenv("REDIS_URL")
		if cfg.RedisURL == "" {
			missing = append(missing, "REDIS_URL")
		}
	default:
		return nil, fmt.Errorf("BACKEND must be %q or %q, got %q", BackendDB, BackendRedis, cfg.Backend)
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %s", strings.Join(missing, ", "))
	}

	cfg.RedirectURL = getEnvString("REDIRECT_URL", cfg.BaseURL+"redirect")
	cfg.ClientName = getEnvString("CLIENT_NAME", "Solid OIDC Golang Client")
	cfg.AlwaysUseClientURL = getEnvBool("ALWAYS_USE_CLIENT_URL", false)
	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	cfg.ListenAddr = getEnvString("LISTEN_ADDR", ":7070")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvString("LOG_FORMAT", "text")
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 10*time.Second)
	cfg.SafeHTTP = getEnvBool("SAFE_HTTP", false)
	cfg.RegisterRate = rate.Limit(getEnvFloat("REGISTER_RATE", 1))

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
