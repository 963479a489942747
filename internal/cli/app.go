package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/cache"
	"github.com/roach88/grove/internal/clock"
	"github.com/roach88/grove/internal/config"
	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/remote"
	"github.com/roach88/grove/internal/syncer"
)

// natsConnectTimeout bounds ConnectNATSWithRetry at startup.
const natsConnectTimeout = 10 * time.Second

// offlineUserID signs in the in-process remote when no user is configured.
const offlineUserID = "local"

// loadConfig resolves the config file, environment and --db flag.
func loadConfig(opts *RootOptions) (config.Config, error) {
	lookup := opts.Env
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg, err := config.LoadWithEnv(opts.Config, lookup)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.DBPath = opts.Database
	}
	return cfg, nil
}

// newDeriver builds a Deriver from the configured rules file.
func newDeriver(cfg config.Config, logger *slog.Logger) (*derive.Deriver, error) {
	rules, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load rules", err)
	}
	return derive.New(derive.WithRules(rules), derive.WithLogger(logger)), nil
}

// loadSnapshot reads the cached log without starting a service. A missing or
// corrupt cache yields an empty snapshot.
func loadSnapshot(ctx context.Context, path string, logger *slog.Logger) (*cache.Snapshot, error) {
	st, err := cache.Open(path, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	defer st.Close()

	snap, err := st.Load(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read cache", err)
	}
	if snap == nil {
		snap = &cache.Snapshot{}
	}
	return snap, nil
}

// app is a running sync service with its cache and remote.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *cache.Store
	writer  *cache.Writer
	svc     *syncer.Service
	loc     *time.Location
	clock   clock.Clock
	offline bool
	closers []func()
	runDone chan error
}

// appOptions tune openApp.
type appOptions struct {
	// remote connects the configured backend; without it the service has
	// no remote and sync calls fail as not configured.
	remote bool

	// registry receives the sync metrics; nil leaves them unregistered.
	registry prometheus.Registerer
}

// openApp loads config and cache and builds the service. Call start to run
// it, or run Service.Run yourself, and always Close.
func openApp(ctx context.Context, cmd *cobra.Command, opts *RootOptions, ao appOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	loc, err := cfg.Location()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	deriver, err := newDeriver(cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, loc: loc, offline: opts.Offline}
	a.store, err = cache.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Error("error closing cache", "error", err)
		}
	})

	snap, err := a.store.Load(ctx)
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to read cache", err)
	}

	var client *remote.Client
	if ao.remote {
		client, err = a.connect(ctx, snap)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.writer = cache.NewWriter(a.store,
		cache.WithQuietPeriod(cfg.Debounce),
		cache.WithWriterLogger(logger),
	)
	a.clock = opts.Clock
	if a.clock == nil {
		a.clock = clock.SystemClock{Location: loc}
	}
	a.svc = syncer.New(syncer.Config{
		Client:      client,
		Persister:   a.writer,
		Snapshot:    snap,
		Deriver:     deriver,
		Clock:       a.clock,
		IDs:         opts.IDs,
		Logger:      logger,
		Metrics:     syncer.NewMetrics(ao.registry),
		PushTimeout: cfg.PushTimeout,
	})
	return a, nil
}

// connect builds the remote client: the in-process backend when offline,
// otherwise Postgres and NATS as configured.
func (a *app) connect(ctx context.Context, snap *cache.Snapshot) (*remote.Client, error) {
	if a.offline {
		return a.connectOffline(ctx, snap)
	}

	if a.cfg.DatabaseURL == "" {
		return remote.NewClient(nil, nil, a.cfg.Session(), a.logger), nil
	}
	pg, err := remote.OpenPostgres(ctx, a.cfg.DatabaseURL, a.cfg.Pool, a.logger)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to connect to remote log", err)
	}
	a.closers = append(a.closers, pg.Close)

	var feed remote.Feed
	if a.cfg.NATSURL != "" {
		nf, err := remote.ConnectNATSWithRetry(a.cfg.NATSURL, natsConnectTimeout)
		if err != nil {
			// Realtime is optional; pulls still converge.
			a.logger.Warn("realtime feed unavailable", "url", a.cfg.NATSURL, "error", err)
		} else {
			feed = nf
			a.closers = append(a.closers, nf.Close)
		}
	}
	return remote.NewClient(pg, feed, a.cfg.Session(), a.logger), nil
}

// connectOffline seeds a MemoryBackend with the cached log so a pull
// reproduces it. Events without a client id cannot be inserted and are
// left out.
func (a *app) connectOffline(ctx context.Context, snap *cache.Snapshot) (*remote.Client, error) {
	session := a.cfg.Session()
	if !session.SignedIn() {
		session.UserID = offlineUserID
	}
	backend := remote.NewMemoryBackend()
	if snap != nil {
		for _, ev := range snap.Events {
			if ev.ClientID == "" {
				continue
			}
			if _, err := backend.Insert(ctx, session.UserID, ev); err != nil {
				return nil, WrapExitError(ExitFailure, "failed to seed offline remote", err)
			}
		}
	}
	return remote.NewClient(backend, backend, session, a.logger), nil
}

// start runs the service loop in the background.
func (a *app) start() {
	a.runDone = make(chan error, 1)
	go func() { a.runDone <- a.svc.Run(context.Background()) }()
}

// Close stops the service, flushes the cache and releases connections in
// reverse order of acquisition.
func (a *app) Close() {
	if a.svc != nil {
		a.svc.Stop()
		if a.runDone != nil {
			if err := <-a.runDone; err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("sync service exited", "error", err)
			}
		}
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Error("cache flush failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// flush persists the latest snapshot.
func (a *app) flush(ctx context.Context) error {
	if err := a.svc.Flush(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to write cache", err)
	}
	return nil
}
