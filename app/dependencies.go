package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/authcore/auth"
	"github.com/upb/authcore/config"
	"github.com/upb/authcore/handlers"
	"github.com/upb/authcore/internal/observability"
	"github.com/upb/authcore/middleware"
	"github.com/upb/authcore/repositories"
	"github.com/upb/authcore/repositories/postgres"
	"github.com/upb/authcore/services"
	"github.com/upb/authcore/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config  *config.Config
	DB      *postgres.DB
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Identities          repositories.IdentityRepository
	FederatedIdentities repositories.FederatedIdentityRepository
	TxManager           repositories.TransactionManager

	// Services
	IdentityService *services.IdentityService
	Tokens          *token.Service

	// Auth
	AuthMiddleware *middleware.AuthMiddleware
	OAuth2Bridge   *auth.Bridge
	OAuth2Handler  *auth.Handler // nil unless OAuth is enabled

	// HTTP handlers
	HealthHandler          *handlers.HealthHandler
	CurrentIdentityHandler *handlers.CurrentIdentityHandler
}

// NewDependencies connects to the database, prepares its schema and wires
// every component on top of it. Metrics go to the default Prometheus registry.
// ctx must outlive the returned Dependencies: OIDC key sets keep using it.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := factory.GetDB().InitSchema(ctx); err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	metrics, err := observability.NewDefaultMetrics()
	if err != nil {
		_ = factory.Close()
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	deps, err := NewDependenciesWithFactory(ctx, cfg, factory, metrics, logger)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesWithFactory wires the application on an already opened
// repository factory.
func NewDependenciesWithFactory(
	ctx context.Context,
	cfg *config.Config,
	factory *postgres.RepositoryFactory,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Dependencies, error) {
	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	deps.initRepositories()

	if err := deps.initAuth(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	deps.HealthHandler = handlers.NewHealthHandler(deps.DB, logger)
	deps.CurrentIdentityHandler = handlers.NewCurrentIdentityHandler(deps.IdentityService, logger)

	logger.Info("all dependencies initialized successfully",
		zap.Bool("oauth_enabled", deps.OAuth2Handler != nil))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Identities = repos.Identities
	d.FederatedIdentities = repos.FederatedIdentities
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.IdentityService = services.NewIdentityService(repos, d.TxManager, d.Logger)

	d.Logger.Info("repositories initialized")
}

func (d *Dependencies) initAuth(ctx context.Context, cfg *config.Config) error {
	tokens, err := token.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	d.Tokens = tokens

	d.AuthMiddleware, err = middleware.NewAuthMiddleware(cfg.Auth, tokens, d.IdentityService, d.recorder(), d.Logger)
	if err != nil {
		return err
	}
	d.Logger.Info("authentication interceptor initialized",
		zap.String("header", cfg.Auth.HeaderString),
		zap.Duration("token_ttl", tokens.TTL()),
		zap.Strings("whitelist", d.AuthMiddleware.Whitelist().Patterns()))

	if !cfg.Auth.EnableOAuth {
		d.Logger.Warn("oauth disabled, login endpoints not registered")
		return nil
	}

	var loginRecorder auth.LoginRecorder
	if d.Metrics != nil {
		loginRecorder = d.Metrics
	}
	d.OAuth2Bridge, err = auth.NewBridge(cfg.Auth, d.IdentityService, tokens, nil, loginRecorder, d.Logger)
	if err != nil {
		return err
	}

	d.OAuth2Handler, err = auth.NewHandler(ctx, cfg.OAuth2, d.OAuth2Bridge, d.Logger)
	if err != nil {
		return err
	}
	d.Logger.Info("oauth2 login handler initialized",
		zap.Int("providers", len(cfg.OAuth2.Providers)))
	return nil
}

// recorder avoids handing the middleware a typed nil
func (d *Dependencies) recorder() middleware.OutcomeRecorder {
	if d.Metrics == nil {
		return nil
	}
	return d.Metrics
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
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}

	return nil
}
