package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"user-level-system/database"
	"user-level-system/handlers"
	"user-level-system/services"
	"user-level-system/utils"
	"user-level-system/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.close()
	log, cfg := rt.log, rt.cfg

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(rt.db); err != nil {
		return err
	}

	upgrades, closeLock, err := rt.upgradeService(ctx)
	if err != nil {
		return err
	}
	defer closeLock()

	svc := handlers.Services{
		Levels:    services.NewLevelService(rt.db, log),
		Rules:     services.NewRuleService(rt.db, log),
		Progress:  services.NewProgressService(rt.db, log),
		Logs:      services.NewAssignLogService(rt.db),
		Upgrades:  upgrades,
		Relations: services.NewRelationService(rt.db, upgrades),
	}

	jobs := []workers.Job{{
		Name:     "sweep",
		Interval: cfg.SweepInterval,
		Run: func(ctx context.Context) error {
			_, err := workers.NewSweeper(svc.Progress, upgrades, log, cfg.SweepConcurrency).Run(ctx)
			return err
		},
	}}

	if cfg.R2.Enabled() {
		client, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			return err
		}
		archiver := workers.NewArchiver(svc.Logs, &utils.Uploader{Client: client, Bucket: cfg.R2.Bucket}, log, time.Now().Add(-cfg.ArchiveInterval))
		jobs = append(jobs, workers.Job{
			Name:     "archive",
			Interval: cfg.ArchiveInterval,
			Run: func(ctx context.Context) error {
				_, err := archiver.Run(ctx)
				return err
			},
		})
	} else {
		log.Info("R2 not configured, assign-log archive disabled")
	}

	sched, err := workers.StartScheduler(ctx, log, jobs...)
	if err != nil {
		return err
	}
	defer func() { _ = sched.Shutdown() }()

	if cfg.ProgressSyncURL != "" {
		poller := workers.NewProgressSyncWorker(
			workers.NewProgressSyncClient(cfg.ProgressSyncURL, cfg.ServiceToken),
			svc.Progress, upgrades, log, cfg.ProgressSyncInterval,
		)
		go poller.Run(ctx)
	} else {
		log.Info("PROGRESS_SYNC_URL not set, progress polling disabled")
	}

	app := fiber.New(fiber.Config{AppName: "user-level-system"})
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Service-Token",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	handlers.SetupRoutes(app, svc, log)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("Server error", "error", err)
			stop()
		}
	}()

	log.Info("Server running", "port", cfg.Port, "origins", cfg.AllowedOrigins)
	<-ctx.Done()
	log.Info("Shutting down server...")
	return app.ShutdownWithTimeout(10 * time.Second)
}
