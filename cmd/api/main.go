package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/wolfman30/medspa-roster-sync/cmd/mainconfig"
	"github.com/wolfman30/medspa-roster-sync/internal/api/router"
	"github.com/wolfman30/medspa-roster-sync/internal/app/bootstrap"
	appconfig "github.com/wolfman30/medspa-roster-sync/internal/config"
	"github.com/wolfman30/medspa-roster-sync/internal/http/handlers"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting medspa-roster-sync API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"sync_enabled", cfg.SyncEnabled,
	)
	if cfg.AdminJWTSecret == "" {
		logger.Warn("ADMIN_JWT_SECRET not set, admin routes will reject every request")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var awsCfg *aws.Config
	if loaded, err := mainconfig.LoadAWSConfig(ctx, cfg); err != nil {
		logger.Warn("aws config unavailable, queue, archive and ses disabled", "error", err)
	} else {
		awsCfg = &loaded
	}

	app, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{AWS: awsCfg, VerifyRedis: true})
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	r := router.New(&router.Config{
		Logger:             logger,
		Health:             handlers.NewHealthHandler(app.Pool),
		AdminSync:          handlers.NewAdminSyncHandler(app.Orchestrator, app.Runs, logger),
		AdminMatches:       handlers.NewAdminMatchHandler(app.Identity, app.Duplicates, logger),
		AdminOperations:    handlers.NewAdminOperationsHandler(app.Memberships, app.Issues, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     app.MetricsHandler,
		AdminRatePerSecond: cfg.AdminRatePerSecond,
		AdminRateBurst:     cfg.AdminRateBurst,
	})

	// Full runs can outlast the default write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	var background sync.WaitGroup
	background.Add(1)
	go func() {
		defer background.Done()
		app.Deliverer.Start(ctx)
	}()

	scheduler, err := app.Scheduler()
	if err != nil {
		logger.Error("failed to build scheduler", "error", err)
		os.Exit(1)
	}
	if scheduler != nil {
		background.Add(1)
		go func() {
			defer background.Done()
			scheduler.Start(ctx)
		}()
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	background.Wait()
	logger.Info("server stopped")
}
