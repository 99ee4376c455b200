// Package cmd holds the user-level CLI: the HTTP server and one-shot admin commands.
package cmd

import (
	"context"
	"fmt"
	"os"

	"user-level-system/config"
	"user-level-system/database"
	"user-level-system/logger"
	"user-level-system/services"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var rootCmd = &cobra.Command{
	Use:           "user-level",
	Short:         "Membership level service",
	Long:          `Keeps every user on one membership level and promotes them when an upgrade rule is met.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, advanceCmd, demoteCmd)
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtime is what every command needs: settings, a logger and an open database.
type runtime struct {
	cfg *config.Config
	log *logger.Logger
	db  *gorm.DB
}

func bootstrap() (*runtime, error) {
	cfg, dotenv, err := config.Load()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if !dotenv {
		log.Debug("No .env file found, reading environment variables directly")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DBDriver, cfg.DatabaseURL, cfg.LogMode != "dev")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &runtime{cfg: cfg, log: log, db: db}, nil
}

func (r *runtime) close() {
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	r.log.Sync()
}

// upgradeService wires the engine with a Redis lock when REDIS_URL is set.
func (r *runtime) upgradeService(ctx context.Context) (*services.UpgradeService, func(), error) {
	opts := []services.UpgradeOption{services.WithEntryTierAutoAssign(r.cfg.EntryTierAutoAssign)}
	cleanup := func() {}

	if r.cfg.RedisURL != "" {
		ropts, err := redis.ParseURL(r.cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(ropts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		opts = append(opts, services.WithLocker(services.NewRedisLocker(rdb, r.cfg.LockTTL)))
		cleanup = func() { _ = rdb.Close() }
		r.log.Info("Using Redis lock for level transitions", "ttl", r.cfg.LockTTL.String())
	}

	return services.NewUpgradeService(services.NewGormStore(r.db), r.log, opts...), cleanup, nil
}
