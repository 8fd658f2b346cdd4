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

	"today-planner/internal/logger"
)

// Marker backends.
const (
	MarkerDisk   = "diskv"
	MarkerRedis  = "redis"
	MarkerMemory = "memory"
)

// Config keeps runtime settings for the bot and the HTTP API.
type Config struct {
	TelegramToken    string
	DatabaseURL      string
	HTTPAddr         string
	JWTSecret        string
	CORSOrigins      []string
	Location         *time.Location
	MarkerBackend    string
	MarkerDir        string
	RedisURL         string
	SummaryTime      string
	WriteConcurrency int
	Log              logger.Config
}

// TelegramEnabled reports whether the bot front end should run.
func (c Config) TelegramEnabled() bool { return c.TelegramToken != "" }

// HTTPEnabled reports whether the HTTP API should run.
func (c Config) HTTPEnabled() bool { return c.HTTPAddr != "" && c.JWTSecret != "" }

// Load reads a .env file if present, then environment variables with sane defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	cfg := Config{
		TelegramToken:    get("TELEGRAM_TOKEN"),
		DatabaseURL:      get("DATABASE_URL"),
		HTTPAddr:         get("HTTP_ADDR"),
		JWTSecret:        get("JWT_SECRET"),
		CORSOrigins:      splitList(get("CORS_ORIGINS")),
		MarkerBackend:    strings.ToLower(get("MARKER_BACKEND")),
		MarkerDir:        get("MARKER_DIR"),
		RedisURL:         get("REDIS_URL"),
		SummaryTime:      get("SUMMARY_TIME"),
		WriteConcurrency: parsePositive(get("WRITE_CONCURRENCY")),
		Log:              logger.DefaultConfig(),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "today_planner.db"
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":3001"
	}
	if cfg.MarkerBackend == "" {
		cfg.MarkerBackend = MarkerDisk
	}
	if cfg.MarkerDir == "" {
		cfg.MarkerDir = "markers"
	}
	if cfg.WriteConcurrency == 0 {
		cfg.WriteConcurrency = 8
	}
	if v := get("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	cfg.Log.FilePath = get("LOG_FILE")

	loc, err := loadLocation(get("TIMEZONE"))
	if err != nil {
		return cfg, err
	}
	cfg.Location = loc

	switch cfg.MarkerBackend {
	case MarkerDisk, MarkerMemory:
	case MarkerRedis:
		if cfg.RedisURL == "" {
			return cfg, fmt.Errorf("REDIS_URL is required when MARKER_BACKEND=redis")
		}
	default:
		return cfg, fmt.Errorf("unknown MARKER_BACKEND %q", cfg.MarkerBackend)
	}

	if !cfg.TelegramEnabled() && !cfg.HTTPEnabled() {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN or JWT_SECRET is required")
	}

	return cfg, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", name, err)
	}
	return loc, nil
}

func parsePositive(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
