package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/callsight/rag-control-plane/config"
	"github.com/callsight/rag-control-plane/repositories"
	"github.com/callsight/rag-control-plane/repositories/postgres"
	"github.com/callsight/rag-control-plane/services/audit"
	"github.com/callsight/rag-control-plane/services/contextitems"
	"github.com/callsight/rag-control-plane/services/features"
	"github.com/callsight/rag-control-plane/services/isolation"
	"github.com/callsight/rag-control-plane/services/quota"
	"github.com/callsight/rag-control-plane/services/sharing"
	"github.com/callsight/rag-control-plane/services/tenants"
)

// Dependencies holds all wired components. This is the central dependency
// injection point for embedding the governance core into a host application.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Organizations   repositories.OrganizationRepository
	FeatureToggles  repositories.FeatureToggleRepository
	Quotas          repositories.QuotaRepository
	ContextItems    repositories.ContextItemRepository
	SharingRequests repositories.SharingRequestRepository
	AuditEntries    repositories.AuditRepository
	TxManager       repositories.TransactionManager

	// Services
	Audit     *audit.Recorder
	Features  *features.Service
	Quota     *quota.Service
	Items     *contextitems.Service
	Sharing   *sharing.Service
	Isolation *isolation.Service
	Tenants   *tenants.Service
}

// Options customizes wiring. Entitlement is the host-supplied plan predicate;
// when nil, every plan is treated as entitled to every catalog feature.
type Options struct {
	Entitlement features.EntitlementFunc
}

// NewDependencies creates and wires up all components
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initServices(cfg, opts)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection(s) and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := factory.InitAuditSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Organizations = repos.Organizations
	d.FeatureToggles = repos.FeatureToggles
	d.Quotas = repos.Quotas
	d.ContextItems = repos.ContextItems
	d.SharingRequests = repos.SharingRequests
	d.AuditEntries = repos.AuditEntries
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initServices wires the service layer in dependency order
func (d *Dependencies) initServices(cfg *config.Config, opts Options) {
	d.Audit = audit.NewRecorder(d.AuditEntries, d.TxManager, d.Logger)

	cache := features.NewResolutionCache(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	d.Features = features.NewService(d.Organizations, d.FeatureToggles,
		d.TxManager, d.Audit, opts.Entitlement, cache, d.Logger)

	d.Quota = quota.NewService(d.Quotas, d.Organizations, d.TxManager,
		d.Audit, cfg.Quota, d.Logger)

	d.Items = contextitems.NewService(d.ContextItems, d.Organizations,
		d.TxManager, d.Audit, d.Logger)

	d.Sharing = sharing.NewService(d.SharingRequests, d.ContextItems,
		d.Organizations, d.TxManager, d.Audit, d.Logger)

	d.Isolation = isolation.NewService(d.Features, d.Quota, d.Sharing,
		d.ContextItems, d.Organizations, d.TxManager, d.Audit, d.Logger)

	d.Tenants = tenants.NewService(d.Organizations, d.TxManager, d.Audit, d.Logger)

	d.Logger.Info("services initialized")
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
