package container

import (
	"context"
	"fmt"
	"net/http"

	"lmmpower/adapters/lmm"
	"lmmpower/adapters/rng"
	"lmmpower/adapters/sqlstore"
	"lmmpower/app"
	"lmmpower/internal"
	"lmmpower/internal/api"
	"lmmpower/internal/config"
)

// Container holds all application dependencies and manages their lifecycle
type Container struct {
	Config *config.Config
	Logger *internal.Logger

	// Infrastructure
	Store *sqlstore.Store
	Cache *app.AnalysisCache

	// Engine
	Fitter  *lmm.Fitter
	RNG     *rng.Source
	Service *app.PowerService

	// HTTP
	SSEHub  *api.SSEHub
	Handler *api.PowerHandler
}

// New creates a new dependency injection container. The store is opened only
// when DATABASE_URL is set.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	c := &Container{
		Config: cfg,
		Logger: cfg.Logger(),
	}

	if err := c.initStore(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := c.initEngine(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) initStore(ctx context.Context) error {
	if c.Config.Database.URL == "" {
		c.Logger.Info("[Container] DATABASE_URL not set, analyses will not be persisted")
		return nil
	}
	store, err := sqlstore.Open(ctx, c.Config.Database.URL)
	if err != nil {
		return err
	}
	c.Store = store
	c.Logger.Info("[Container] %s store ready", sqlstore.Driver(c.Config.Database.URL))
	return nil
}

func (c *Container) initEngine() error {
	c.Fitter = lmm.NewFitter(c.Config.FitterConfig(), c.Logger)
	c.RNG = rng.NewSource()
	if c.Config.Engine.CacheSize > 0 {
		cache, err := app.NewAnalysisCache(c.Config.Engine.CacheSize)
		if err != nil {
			return fmt.Errorf("failed to create analysis cache: %w", err)
		}
		c.Cache = cache
	}
	c.SSEHub = api.NewSSEHub(c.Logger)
	c.Service = c.NewService(api.NewSSEEventBroadcaster(c.SSEHub).Publish)
	c.Handler = api.NewPowerHandler(c.Service, c.Logger)
	return nil
}

// NewService builds a power service sharing the container's fitter, store
// and cache, reporting progress to the given function
func (c *Container) NewService(progress app.ProgressFunc) *app.PowerService {
	opts := []app.PowerServiceOption{
		app.WithLogger(c.Logger),
		app.WithWorkers(c.Config.Engine.Workers),
		app.WithProgress(progress),
	}
	if c.Store != nil {
		opts = append(opts, app.WithRepository(c.Store))
	}
	if c.Cache != nil {
		opts = append(opts, app.WithCache(c.Cache))
	}
	return app.NewPowerService(c.Fitter, c.RNG, opts...)
}

// Router builds the HTTP handler serving the API
func (c *Container) Router() http.Handler {
	return api.NewRouter(api.RouterConfig{
		GinMode:        c.Config.Server.GinMode,
		MetricsEnabled: c.Config.Server.MetricsEnabled,
	}, c.Handler, c.SSEHub, c.Logger)
}

// Shutdown releases resources held by the container
func (c *Container) Shutdown(ctx context.Context) error {
	c.Logger.Info("[Container] shutting down")
	if c.SSEHub != nil {
		c.SSEHub.Close()
	}
	var err error
	if c.Store != nil {
		if cerr := c.Store.Close(); cerr != nil {
			err = fmt.Errorf("failed to close store: %w", cerr)
		}
	}
	if c.Cache != nil {
		c.Cache.Purge()
	}
	_ = c.Logger.Sync()
	return err
}
