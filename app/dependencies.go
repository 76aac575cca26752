package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/syspro/erp-automation/config"
	"github.com/syspro/erp-automation/internal/observability"
	"github.com/syspro/erp-automation/middleware"
	"github.com/syspro/erp-automation/models"
	"github.com/syspro/erp-automation/repositories"
	"github.com/syspro/erp-automation/repositories/postgres"
	"github.com/syspro/erp-automation/services/automation"
	"github.com/syspro/erp-automation/services/decision"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies following the GrantPulse pattern.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Tenants     repositories.TenantRepository
	Policies    repositories.PolicyRepository
	Rules       repositories.RuleRepository
	ActionQueue repositories.ActionQueueRepository
	RuleAudits  repositories.RuleAuditRepository
	TxManager   repositories.TransactionManager

	// Observability
	Metrics *observability.Metrics

	// Services
	Decisions  *decision.Service
	Registry   *automation.HandlerRegistry
	Dispatcher *automation.Dispatcher
	Engine     *automation.Engine
	Processor  *automation.Processor
	Bus        *automation.EventBus

	// Middleware
	TenantMiddleware *middleware.TenantMiddleware
}

// NewDependencies creates and wires up all application dependencies.
// This follows the GrantPulse pattern of centralized dependency injection.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	// Initialize PostgreSQL
	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize repositories
	deps.initRepositories()

	// Initialize metrics and services
	deps.Metrics = observability.NewMetrics()
	deps.initServices(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	// Test the connection
	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Tenants = repos.Tenants
	d.Policies = repos.Policies
	d.Rules = repos.Rules
	d.ActionQueue = repos.ActionQueue
	d.RuleAudits = repos.RuleAudits
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the decision service and the automation pipeline.
// The handler registry is assembled here at startup and injected; no
// component mutates it afterwards.
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Decisions = decision.NewService(d.Policies, d.Metrics, d.Logger)

	webhookClient := &http.Client{Timeout: cfg.Automation.WebhookTimeout}
	d.Registry = automation.NewDefaultRegistry(webhookClient, d.Logger)

	d.Dispatcher = automation.NewDispatcher(d.Registry, d.Decisions, d.Metrics, d.Logger)
	d.Engine = automation.NewEngine(d.Rules, d.ActionQueue, d.RuleAudits, d.Logger)
	d.Processor = automation.NewProcessor(d.ActionQueue, d.Dispatcher, d.Metrics, d.Logger,
		cfg.Automation.QueueBatchLimit, cfg.Automation.MaxAttempts)

	d.Bus = automation.NewEventBus(d.Logger)
	d.Bus.Subscribe("*", func(ctx context.Context, event models.Event) {
		if err := d.Engine.HandleEvent(ctx, event); err != nil {
			d.Logger.Error("event handling failed",
				zap.String("event_type", event.Type),
				zap.Error(err))
		}
	})

	d.TenantMiddleware = middleware.NewTenantMiddleware(d.Logger)

	d.Logger.Info("automation services initialized",
		zap.Strings("action_types", d.Registry.Types()))
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	// Close database connection
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	// Sync logger
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
