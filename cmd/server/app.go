package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"immoledger/server/config"
	"immoledger/server/internal/checkout"
	"immoledger/server/internal/database"
	"immoledger/server/internal/gateway"
	"immoledger/server/internal/ledger"
	"immoledger/server/internal/metrics"
	"immoledger/server/internal/models"
	"immoledger/server/internal/queue"
	"immoledger/server/internal/scheduler"
	"immoledger/server/internal/webhook"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg          *config.Config
	logger       *logrus.Logger
	db           *database.Database
	metrics      *metrics.Collector
	events       *queue.EventQueue
	gateways     *gateway.Registry
	ledger       *ledger.Ledger
	reconciler   *webhook.Reconciler
	orchestrator *checkout.Orchestrator
	scheduler    *scheduler.Scheduler
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", level).Warn("Unknown log level, using info")
	}
	return logger
}

// openDatabase opens the database, runs migrations and seeds the plan
// catalog.
func openDatabase(cfg *config.Config, logger *logrus.Logger) (*database.Database, error) {
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	logger.Infof("Using database at: %s", cfg.Database.Path)

	db, err := database.NewDatabase(cfg.Database.Path,
		database.WithRetry(cfg.Database.MaxRetries, cfg.RetryDelay()),
		database.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	catalog, err := config.LoadPlanCatalog(cfg.Billing.PlanCatalogPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load plan catalog: %w", err)
	}
	seeded, err := db.SeedPlans(catalog.Plans)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed plans: %w", err)
	}
	logger.WithField("new_plans", seeded).Info("Plan catalog loaded")
	return db, nil
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig(envFiles...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := newLogger(cfg.LogLevel)

	db, err := openDatabase(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, metrics: metrics.New()}

	a.events = queue.NewEventQueue(cfg.EventQueueSize, logger)
	a.events.Subscribe(func(ev models.LedgerEvent) error {
		a.metrics.RecordEvent(string(ev.Kind))
		logger.WithFields(logrus.Fields{
			"kind":           ev.Kind,
			"agency_id":      ev.AgencyID,
			"sale_id":        ev.SaleID,
			"transaction_id": ev.TransactionID,
		}).Info("Ledger event")
		return nil
	})

	a.gateways = gateway.NewRegistry(
		gateway.NewPushGateway(gateway.PushConfig{
			Name:          cfg.Push.Name,
			BaseURL:       cfg.Push.BaseURL,
			APIToken:      cfg.Push.APIToken,
			WebhookSecret: cfg.Push.WebhookSecret,
			Timeout:       cfg.GatewayTimeout(),
		}),
		gateway.NewRedirectGateway(gateway.RedirectConfig{
			Name:      cfg.Redirect.Name,
			BaseURL:   cfg.Redirect.BaseURL,
			APIKey:    cfg.Redirect.APIKey,
			SiteID:    cfg.Redirect.SiteID,
			SecretKey: cfg.Redirect.SecretKey,
			NotifyURL: cfg.Redirect.NotifyURL,
			ReturnURL: cfg.Redirect.ReturnURL,
			Timeout:   cfg.GatewayTimeout(),
		}),
	)

	a.ledger = ledger.NewLedger(db, a.events, logger)
	a.reconciler = webhook.NewReconciler(db, a.gateways, a.ledger, a.events, a.metrics, logger, cfg.GatewayTimeout())
	a.orchestrator = checkout.NewOrchestrator(db, a.gateways, a.reconciler, a.events, a.metrics, logger, cfg.GatewayTimeout())
	a.scheduler = scheduler.NewScheduler(db, a.reconciler, logger, scheduler.Options{
		Interval:   cfg.SweepInterval(),
		PendingTTL: cfg.PendingTTL(),
		BatchSize:  cfg.Billing.SweepBatchSize,
	})
	return a, nil
}

func (a *app) Close() {
	if err := a.events.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close event queue")
	}
	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Warn("Failed to close database")
	}
}
