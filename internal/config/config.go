package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr       = ":8080"
	defaultDBPath           = "runforge.db"
	defaultProviderURL      = "http://localhost:9090"
	defaultProviderTimeoutS = 10

	envListenAddr       = "RUNFORGE_LISTEN_ADDR"
	envDBPath           = "RUNFORGE_DB_PATH"
	envLogLevel         = "RUNFORGE_LOG_LEVEL"
	envProviderURL      = "RUNFORGE_PROVIDER_URL"
	envProviderKey      = "RUNFORGE_PROVIDER_KEY"
	envProviderTimeoutS = "RUNFORGE_PROVIDER_TIMEOUT_S"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	LogLevel        slog.Level
	ProviderURL     string
	ProviderKey     string
	ProviderTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		ProviderURL:     defaultProviderURL,
		ProviderTimeout: defaultProviderTimeoutS * time.Second,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envProviderURL); v != "" {
		cfg.ProviderURL = v
	}
	if v := os.Getenv(envProviderKey); v != "" {
		cfg.ProviderKey = v
	}
	if v := os.Getenv(envProviderTimeoutS); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ProviderTimeout = time.Duration(n) * time.Second
		}
	}

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
