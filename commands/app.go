package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/proconnect/auth"
	"github.com/c360studio/proconnect/backend"
	"github.com/c360studio/proconnect/config"
	"github.com/c360studio/proconnect/events"
	"github.com/c360studio/proconnect/location"
	"github.com/c360studio/proconnect/metrics"
)

// App wires the configured components for a single CLI invocation.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     auth.Store
	client    *backend.Client
	auth      *auth.Service
	metrics   *metrics.Metrics
	publisher events.Publisher
	locations location.Source
	watcher   *location.FileSource
}

// NewApp opens the session store, the event publisher and the location catalog.
// Close releases everything NewApp acquired.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.New(cfg.Metrics.Textfile != ""),
		publisher: events.Nop{},
	}

	store, err := auth.Open(ctx, cfg.Session)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	app.store = store

	app.client = backend.NewClient(cfg.API,
		backend.WithLogger(logger),
		backend.WithTokenSource(auth.StoreTokenSource{Store: store}),
		backend.WithObserver(app.metrics),
	)
	app.auth = auth.NewService(app.client, store, auth.WithLogger(logger))

	if cfg.Events.NATSURL != "" {
		pub, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			// Events are optional
			logger.Warn("Event publishing disabled", "url", cfg.Events.NATSURL, "error", err)
		} else {
			app.publisher = pub
		}
	}

	if err := app.openLocations(ctx); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) openLocations(ctx context.Context) error {
	if a.cfg.Locations.File == "" {
		a.locations = location.NewStaticSource(nil)
		return nil
	}
	src, err := location.NewFileSource(a.cfg.Locations.File,
		location.WithLogger(a.logger),
		location.WithReloadHook(func(*location.Catalog) {
			a.logger.Info("Location catalog reloaded", "path", a.cfg.Locations.File)
		}),
	)
	if err != nil {
		return fmt.Errorf("load location catalog: %w", err)
	}
	a.locations = src
	if a.cfg.Locations.Watch {
		if err := src.Watch(ctx); err != nil {
			a.logger.Warn("Location catalog will not reload", "error", err)
		} else {
			a.watcher = src
		}
	}
	return nil
}

// Close flushes events, writes the metrics textfile and closes the store.
func (a *App) Close() error {
	var errs []error
	if a.watcher != nil {
		errs = append(errs, a.watcher.Close())
	}
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if path := a.cfg.Metrics.Textfile; path != "" && a.metrics != nil {
		if err := a.metrics.WriteTextfile(path); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		} else {
			a.logger.Debug("Wrote metrics", "path", path)
		}
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
