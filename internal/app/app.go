// Package app wires the storage, cache and page service shared by the
// server and the admin CLI.
package app

import (
	"context"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sourcegraph/conc"

	"go-wiki-engine/internal/acl"
	"go-wiki-engine/internal/cache"
	"go-wiki-engine/internal/config"
	"go-wiki-engine/internal/data"
	"go-wiki-engine/internal/logger"
	"go-wiki-engine/internal/markdown"
	"go-wiki-engine/internal/metrics"
	"go-wiki-engine/internal/schema"
	"go-wiki-engine/internal/service"
)

// App holds the long lived components of the wiki.
type App struct {
	Config  *config.Config
	DB      *sqlx.DB
	Cache   *cache.Coordinator
	Metrics *metrics.Collector
	Pages   *service.PageService

	backend cache.Backend
	log     logger.Logger
}

// Open connects to the database and cache and builds the page service.
// Migrations are not applied; see Migrate.
func Open(cfg *config.Config, log logger.Logger) (*App, error) {
	db, err := data.NewDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	backend, err := cache.NewBackend(cfg.Cache.Driver, cfg.Cache.FilePath)
	if err != nil {
		db.Close()
		return nil, err
	}
	registry, err := schema.NewRegistry()
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.NewCollector("wiki")
	coordinator := cache.NewCoordinator(backend, log.With(map[string]interface{}{"component": "cache"}), m, cfg.Cache.DefaultTTL)
	pages := service.NewPageService(service.Deps{
		Pages:       data.NewSQLPageRepository(db),
		Revisions:   data.NewSQLRevisionRepository(db),
		Index:       data.NewSQLIndexRepository(db),
		Jobs:        data.NewSQLReconcileRepository(db),
		Cache:       coordinator,
		Schema:      registry,
		Renderer:    markdown.New(),
		Log:         log,
		Metrics:     m,
		Defaults:    acl.Rules{Read: cfg.Engine.DefaultRead, Write: cfg.Engine.DefaultWrite},
		MaxDistance: cfg.Engine.MaxWalkDistance,
		Concurrency: cfg.Engine.RecommendConcurrency,
	})

	return &App{
		Config:  cfg,
		DB:      db,
		Cache:   coordinator,
		Metrics: m,
		Pages:   pages,
		backend: backend,
		log:     log,
	}, nil
}

// Migrate applies the embedded schema migrations.
func (a *App) Migrate() error {
	a.log.Info("Applying database migrations...")
	if err := data.ApplyMigrations(a.DB, a.Config.DB.Driver); err != nil {
		return err
	}
	a.log.Info("Migrations applied successfully.")
	return nil
}

// Close releases the database and the cache backend.
func (a *App) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Error(err, "Failed to close cache")
		}
	}
	return a.DB.Close()
}

// RunMaintenance retries queued derived updates and refreshes related
// pages on the configured intervals until ctx is done. A zero interval
// disables the loop.
func (a *App) RunMaintenance(ctx context.Context) {
	engine := a.Config.Engine
	var wg conc.WaitGroup
	if engine.ReconcileInterval > 0 {
		wg.Go(func() {
			every(ctx, engine.ReconcileInterval, func() {
				res, err := a.Pages.Reconcile(ctx, engine.ReconcileBatch)
				if err != nil {
					a.log.Error(err, "Reconciliation run failed")
					return
				}
				if res.Succeeded+res.Failed > 0 {
					a.log.With(map[string]interface{}{"succeeded": res.Succeeded, "failed": res.Failed}).
						Info("Reconciliation run")
				}
			})
		})
	}
	if engine.RecommendInterval > 0 {
		wg.Go(func() {
			every(ctx, engine.RecommendInterval, func() {
				updated, err := a.Pages.RefreshRecommendations(ctx, engine.RecommendIterations, true)
				if err != nil {
					a.log.Error(err, "Recommendation refresh failed")
					return
				}
				a.log.With(map[string]interface{}{"updated": len(updated)}).Debug("Recommendations refreshed")
			})
		})
	}
	wg.Wait()
}

func every(ctx context.Context, d time.Duration, fn func()) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}
