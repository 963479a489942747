package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/syncer"
)

// metricsShutdownTimeout bounds the metrics server's graceful shutdown.
const metricsShutdownTimeout = 5 * time.Second

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Schedule    string
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the local log in sync until interrupted",
		Long: `Run the sync service in the foreground: pull once at startup, merge events
from other devices as they arrive, and pull again on a schedule.

Examples:
  grove watch
  grove watch --schedule "@every 1m" --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schedule, "schedule", "", "pull schedule, cron or @every (overrides config)")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	a, err := openApp(ctx, cmd, opts.RootOptions, appOptions{remote: true, registry: reg})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	schedule := a.cfg.PullSchedule
	if opts.Schedule != "" {
		schedule = opts.Schedule
	}
	sch, err := syncer.NewScheduler(a.svc, schedule, a.logger)
	if err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "invalid pull schedule", err))
	}
	metricsAddr := a.cfg.MetricsAddr
	if opts.MetricsAddr != "" {
		metricsAddr = opts.MetricsAddr
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Run reports the context error on shutdown.
		if err := a.svc.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	out := &lockedWriter{w: cmd.OutOrStdout()}

	res, err := a.svc.Pull(gctx, syncer.Incremental)
	switch {
	case remote.IsNotConfigured(err) || remote.IsNotAuthenticated(err):
		cancel()
		_ = g.Wait()
		return f.Fail(remoteExitError("cannot watch", err))
	case err != nil:
		a.logger.Warn("initial pull failed, continuing with cached log", "error", err)
	default:
		a.logger.Info("initial pull", "mode", res.Mode, "added", res.Added)
	}

	sub, err := a.svc.SubscribeRealtime(gctx, func(ev event.Event) {
		fmt.Fprintf(out, "← %s %s at %s\n", ev.Kind, ev.ClientID, ev.ClientTimestamp)
	})
	if err != nil {
		a.logger.Warn("realtime unavailable, relying on scheduled pulls", "error", err)
	}

	g.Go(func() error { return sch.Run(gctx) })

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			a.logger.Info("serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	fmt.Fprintf(out, "Watching %s (pull %s). Press Ctrl-C to stop.\n", a.cfg.DBPath, schedule)

	err = g.Wait()
	if sub != nil {
		if uerr := sub.Unsubscribe(); uerr != nil {
			a.logger.Warn("unsubscribe failed", "error", uerr)
		}
	}
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "watch stopped", err))
	}

	st := a.svc.Status()
	fmt.Fprintf(out, "Stopped with %d event(s), %d pending.\n", st.Events, st.Pending)
	return nil
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// lockedWriter serializes writes from realtime callbacks and the command.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
