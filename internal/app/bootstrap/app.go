// Package bootstrap wires the sync service from configuration. The API
// server, the CLI and the Lambda entrypoint all build on App.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/medspa-roster-sync/internal/archive"
	"github.com/wolfman30/medspa-roster-sync/internal/audit"
	"github.com/wolfman30/medspa-roster-sync/internal/billing"
	appconfig "github.com/wolfman30/medspa-roster-sync/internal/config"
	"github.com/wolfman30/medspa-roster-sync/internal/crm"
	"github.com/wolfman30/medspa-roster-sync/internal/duplicates"
	"github.com/wolfman30/medspa-roster-sync/internal/events"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/internal/membership"
	"github.com/wolfman30/medspa-roster-sync/internal/notify"
	"github.com/wolfman30/medspa-roster-sync/internal/observability/metrics"
	"github.com/wolfman30/medspa-roster-sync/internal/packages"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
	"github.com/wolfman30/medspa-roster-sync/internal/pipeline"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

// App holds every wired component. Close releases the connections.
type App struct {
	Config *appconfig.Config
	Logger *logging.Logger

	Pool  *pgxpool.Pool
	SQLDB *sql.DB
	Redis *redis.Client

	Orchestrator *pipeline.Orchestrator
	Runs         *pipeline.RunStore
	Identity     *identity.Service
	Duplicates   *duplicates.Service
	Memberships  *membership.Importer
	Issues       *payments.Service
	Deliverer    *events.Deliverer

	Registry       *prometheus.Registry
	MetricsHandler http.Handler
}

// Options carries the clients Build cannot create from config alone.
type Options struct {
	// AWS is used for SQS, S3 and SES. Nil disables all three.
	AWS *aws.Config
	// VerifyRedis pings Redis and falls back to the advisory lock on failure.
	VerifyRedis bool
}

// Build connects to Postgres and Redis and wires the full component graph.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, opts Options) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	pool, err := ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	sqlDB := stdlib.OpenDBFromPool(pool)

	app := &App{
		Config: cfg,
		Logger: logger,
		Pool:   pool,
		SQLDB:  sqlDB,
		Redis:  BuildRedisClient(ctx, cfg, logger, opts.VerifyRedis),
	}
	if cfg.MigrateOnStart {
		if err := Migrate(sqlDB, logger); err != nil {
			app.Close()
			return nil, err
		}
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.MetricsHandler = promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})
	syncMetrics := metrics.NewSyncMetrics(app.Registry)

	recorder := audit.NewSink(audit.NewService(sqlDB), logger.Component("audit"))
	transport := upstream.Config{
		Timeout:    cfg.ExternalCallTimeout,
		RatePerSec: cfg.ExternalRatePerSecond,
		Burst:      cfg.ExternalRateBurst,
		Logger:     logger,
	}

	links := identity.NewLinkStore(pool)
	roster := identity.NewRosterStore(pool)
	app.Identity = identity.NewService(identity.ServiceConfig{
		Links:                    links,
		Roster:                   roster,
		Audit:                    recorder,
		MembershipPaymentMethods: cfg.MembershipPaymentMethods,
		BillingPaymentMethods:    cfg.BillingPaymentMethods,
		Logger:                   logger,
	})
	app.Duplicates = duplicates.NewService(roster, links)

	healthie := membership.NewHealthieClient(membership.HealthieConfig{
		URL:       cfg.HealthieURL,
		APIKey:    cfg.HealthieAPIKey,
		Transport: transport,
	})
	app.Memberships = membership.NewImporter(healthie, roster, logger)

	paymentStore := payments.NewStore(pool)
	app.Issues = payments.NewService(paymentStore, recorder, logger)

	app.Runs = pipeline.NewRunStore(pool)
	outbox := events.NewOutboxStore(pool)

	orchestratorCfg := pipeline.Config{
		Billing: billing.NewQuickBooksClient(billing.QuickBooksConfig{
			BaseURL:     cfg.QuickBooksBaseURL,
			RealmID:     cfg.QuickBooksRealmID,
			AccessToken: cfg.QuickBooksAccessToken,
			Transport:   transport,
		}),
		Mirror:        billing.NewMirrorStore(pool),
		DailyFallback: packages.ParseFrequency(cfg.PackageDailyFallback),
		Evaluator:     payments.NewEvaluator(paymentStore, recorder, logger),
		Targets:       crm.NewStateStore(pool),
		Propagator: crm.NewPropagator(crm.PropagatorConfig{
			Client: crm.NewGHLClient(crm.GHLConfig{
				BaseURL:    cfg.GHLBaseURL,
				APIKey:     cfg.GHLAPIKey,
				LocationID: cfg.GHLLocationID,
				Transport:  transport,
			}),
			Links:            links,
			State:            crm.NewStateStore(pool),
			Audit:            recorder,
			HoldTag:          cfg.GHLHoldTag,
			BalanceField:     cfg.GHLBalanceField,
			DaysOverdueField: cfg.GHLDaysOverdueField,
			Logger:           logger,
		}),
		Locker:      buildLocker(app.Redis, pool, cfg),
		Runs:        app.Runs,
		Events:      outbox,
		Observers:   buildObservers(cfg, opts.AWS, logger),
		Metrics:     syncMetrics,
		Audit:       recorder,
		Concurrency: cfg.SyncConcurrency,
		Logger:      logger,
	}
	// Package resolution needs the membership system; without it the
	// recurring stage only mirrors templates.
	if cfg.HealthieAPIKey != "" {
		orchestratorCfg.Packages = packages.NewResolver(packages.NewStore(pool), healthie, int64(cfg.PackagePriceToleranceCents), logger)
	} else {
		logger.Info("membership system not configured, package resolution disabled")
	}

	app.Orchestrator, err = pipeline.New(orchestratorCfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Deliverer = events.NewDeliverer(outbox, buildDeliveryHandler(cfg, opts.AWS, logger), logger).
		WithInterval(cfg.OutboxPollInterval)
	return app, nil
}

// Close releases database and cache connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.SQLDB != nil {
		_ = a.SQLDB.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Scheduler returns the interval runner, or nil when scheduled sync is off.
func (a *App) Scheduler() (*pipeline.Scheduler, error) {
	if !a.Config.SyncEnabled {
		return nil, nil
	}
	return pipeline.NewScheduler(pipeline.SchedulerConfig{
		Runner:   a.Orchestrator,
		Interval: a.Config.SyncInterval,
		Logger:   a.Logger,
	})
}

func buildLocker(client *redis.Client, pool *pgxpool.Pool, cfg *appconfig.Config) pipeline.Locker {
	if client != nil {
		return pipeline.NewRedisLocker(client, cfg.SyncRunLockTTL)
	}
	return pipeline.NewAdvisoryLocker(pool)
}

func buildObservers(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) []pipeline.RunObserver {
	var observers []pipeline.RunObserver
	if awsCfg != nil && cfg.RunReportBucket != "" {
		observers = append(observers, archive.NewStore(s3.NewFromConfig(*awsCfg), cfg.RunReportBucket, logger))
	}
	if alerter := notify.NewRunAlerter(buildEmailSender(cfg, awsCfg, logger), cfg.AlertEmailTo, logger); alerter != nil {
		observers = append(observers, alerter)
	}
	return observers
}

// buildEmailSender picks the configured provider, falling back to the log
// sender so alerts are never silently dropped.
func buildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) notify.EmailSender {
	switch cfg.EmailProvider {
	case "ses":
		if awsCfg != nil {
			if s := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail: cfg.SESFromEmail,
				FromName:  cfg.SendGridFromName,
			}, logger); s != nil {
				return s
			}
		}
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s
		}
	}
	logger.Warn("email provider not configured, alerts go to the log", "provider", cfg.EmailProvider)
	return notify.NewLogSender(logger)
}

func buildDeliveryHandler(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) events.DeliveryHandler {
	if awsCfg != nil && cfg.StatusEventsQueueURL != "" {
		return events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.StatusEventsQueueURL)
	}
	return events.LogHandler{Logger: logger}
}
