// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-driven setting of the service.
type Config struct {
	DatabaseURL string
	DBDriver    string // postgres | sqlite
	Port        string
	LogMode     string

	AllowedOrigins []string

	RedisURL string
	LockTTL  time.Duration

	SweepInterval       time.Duration
	SweepConcurrency    int
	EntryTierAutoAssign bool

	ProgressSyncURL      string
	ServiceToken         string
	ProgressSyncInterval time.Duration

	R2 R2Config

	ArchiveInterval time.Duration
}

// R2Config is the Cloudflare R2 (S3 compatible) target for assign-log archives.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
}

// Enabled reports whether enough settings are present to build an S3 client.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.Bucket != ""
}

// Load reads .env (when present) and then the process environment.
// The boolean reports whether a .env file was found.
func Load() (*Config, bool, error) {
	dotenv := godotenv.Load() == nil
	cfg, err := FromEnv()
	return cfg, dotenv, err
}

// FromEnv builds a Config from the current environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		DBDriver:        strings.ToLower(getenv("DB_DRIVER", "postgres")),
		Port:            getenv("PORT", "5200"),
		LogMode:         getenv("LOG_MODE", "dev"),
		AllowedOrigins:  splitList(getenv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RedisURL:        os.Getenv("REDIS_URL"),
		ProgressSyncURL: os.Getenv("PROGRESS_SYNC_URL"),
		ServiceToken:    os.Getenv("SERVICE_TOKEN"),
		R2: R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
		},
	}

	var err error
	if cfg.LockTTL, err = durationEnv("LOCK_TTL", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ProgressSyncInterval, err = durationEnv("PROGRESS_SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ArchiveInterval, err = durationEnv("ARCHIVE_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency, err = intEnv("SWEEP_CONCURRENCY", 8); err != nil {
		return nil, err
	}
	if cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("SWEEP_CONCURRENCY must be >= 1, got %d", cfg.SweepConcurrency)
	}
	if cfg.EntryTierAutoAssign, err = boolEnv("ENTRY_TIER_AUTO_ASSIGN", true); err != nil {
		return nil, err
	}

	switch cfg.DBDriver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want postgres or sqlite)", cfg.DBDriver)
	}
	return cfg, nil
}

// Validate checks the settings needed to talk to the database.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}
