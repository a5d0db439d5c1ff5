package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/config"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/service"
	"github.com/roach88/trainflow/internal/store"
)

// app is the wired stack shared by every command.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	monitor *offline.Monitor
	queue   *offline.Queue
	catalog *catalog.Catalog
	svc     *service.Service
}

// openApp loads configuration, opens the store, restores the offline
// queue, and hydrates local state. Callers must Close the app.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := config.Load(opts.Config, opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	logger := newLogger(logOut, opts.Verbose, cfg.Log)

	cat, err := catalog.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load catalog", err)
	}

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	monitor := offline.NewMonitor(true)
	q, err := offline.Open(ctx, offline.Options{
		Network:    monitor,
		Capacity:   cfg.Queue.Capacity,
		MaxRetries: cfg.Queue.MaxRetries,
		Journal:    st,
		Logger:     logger,
		OnLoss: func(l offline.Loss) {
			logger.Error("offline change lost",
				"action_id", l.Action.ID,
				"type", l.Action.Type,
				"reason", l.Reason,
				"error", l.Err)
		},
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to restore offline queue", err)
	}

	svc, err := service.New(service.Config{
		Store:   store.NewGated(st, monitor),
		Queue:   q,
		Network: monitor,
		Catalog: cat,
		Logger:  logger,
	})
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to build service", err)
	}
	if err := svc.Hydrate(ctx); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load state", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		monitor: monitor,
		queue:   q,
		catalog: cat,
		svc:     svc,
	}, nil
}

func (a *app) Close() error {
	a.queue.Wait()
	return a.store.Close()
}

// newLogger builds the slog handler. --verbose forces debug level.
func newLogger(w io.Writer, verbose bool, cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
