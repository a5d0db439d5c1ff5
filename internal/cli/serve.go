package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/trainflow/internal/feed"
	"github.com/roach88/trainflow/internal/httpapi"
	"github.com/roach88/trainflow/internal/store"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr         string
	RedisURL     string
	PingInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API over the configured database.

Queued offline changes replay whenever the store becomes reachable.
With a Redis URL configured, changes committed by other serve processes
sharing the database are folded into local state.`,
		Example: `  trainflow serve --addr :8080
  trainflow serve --redis redis://localhost:6379/0`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&opts.RedisURL, "redis", "", "Redis URL for the change feed (overrides config)")
	cmd.Flags().DurationVar(&opts.PingInterval, "ping-interval", 5*time.Second, "store reachability check interval")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	a, err := openApp(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Addr != "" {
		a.cfg.HTTP.Addr = opts.Addr
	}
	if opts.RedisURL != "" {
		a.cfg.Redis.URL = opts.RedisURL
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	stopWatch := a.queue.Watch(a.monitor)
	defer stopWatch()
	a.queue.Foreground()

	go watchStore(ctx, a, opts.PingInterval)

	if a.cfg.Redis.URL != "" {
		if err := startFeed(ctx, a); err != nil {
			return WrapExitError(ExitFailure, "failed to start change feed", err)
		}
	}

	ln, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to listen", err)
	}

	srv := &http.Server{
		Handler:           httpapi.New(a.svc, a.catalog, a.logger).Handler(a.cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()

	a.logger.Info("http server listening", "addr", ln.Addr().String(), "db", a.cfg.Store.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "http server error", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "http shutdown failed", err)
	}

	a.logger.Info("http server stopped gracefully")
	return nil
}

// watchStore flips the connectivity monitor as the database comes and goes.
func watchStore(ctx context.Context, a *app, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, every)
			err := a.store.Ping(pingCtx)
			cancel()
			if err != nil && a.monitor.Online() {
				a.logger.Warn("store unreachable", "error", err)
			}
			a.monitor.Set(err == nil)
		}
	}
}

// startFeed publishes local commits to Redis and follows commits from
// other processes.
func startFeed(ctx context.Context, a *app) error {
	client, err := feed.Connect(ctx, a.cfg.Redis.URL)
	if err != nil {
		return err
	}
	origin := a.cfg.Redis.Origin
	if origin == "" {
		origin = uuid.NewString()
	}

	pub := feed.NewPublisher(client, origin, a.cfg.Redis.Prefix, a.logger)
	for _, table := range store.Tables {
		sub := a.store.Subscribe(table, nil)
		go func(sub *store.Subscription) {
			defer sub.Close()
			if err := pub.Forward(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("feed forwarding stopped", "error", err)
			}
		}(sub)
	}

	remote, err := feed.Subscribe(ctx, client, origin, a.cfg.Redis.Prefix, a.logger, store.Tables...)
	if err != nil {
		client.Close()
		return err
	}
	go func() {
		defer client.Close()
		defer remote.Close()
		if err := a.svc.Follow(ctx, remote); err != nil {
			a.logger.Error("feed follow stopped", "error", err)
		}
	}()

	a.logger.Info("change feed started", "origin", origin, "prefix", a.cfg.Redis.Prefix)
	return nil
}
