package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// DeriveOptions holds flags for the derive command.
type DeriveOptions struct {
	*RootOptions
	Events string // export file to derive from instead of the cache
	At     string // RFC 3339 instant, default now
}

// DeriveResult is the derived state as reported by the CLI.
type DeriveResult struct {
	State       *derive.State `json:"state"`
	Fingerprint string        `json:"fingerprint"`
}

// NewDeriveCommand creates the derive command.
func NewDeriveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeriveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derive the current state from the event log",
		Long: `Replay the event log and print the derived state: sprouts, soil, water,
sun, streak and category scores.

The log is read from the local cache, or from an export file with --events.

Examples:
  grove derive --db ./grove.db
  grove derive --events backup.json --at 2026-01-07T09:00:00Z --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDerive(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Events, "events", "", "derive from an export file instead of the cache")
	cmd.Flags().StringVar(&opts.At, "at", "", "derive as of this RFC 3339 time (default now)")

	return cmd
}

func runDerive(ctx context.Context, opts *DeriveOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)
	deriver, err := newDeriver(cfg, logger)
	if err != nil {
		return f.Fail(err)
	}
	now, err := resolveNow(opts.RootOptions, opts.At, cfg.Location)
	if err != nil {
		return f.Fail(err)
	}

	events, err := readLog(ctx, opts.Events, cfg.DBPath, cmd)
	if err != nil {
		return f.Fail(err)
	}
	f.VerboseLog("deriving %d events as of %s", len(events), now.Format(time.RFC3339))

	st := deriver.Derive(events, now)
	fp, err := st.Fingerprint()
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "failed to fingerprint state", err))
	}
	return f.Success(DeriveResult{State: st, Fingerprint: fp})
}

// resolveNow parses --at, or reads the clock in the configured zone.
func resolveNow(opts *RootOptions, at string, location func() (*time.Location, error)) (time.Time, error) {
	loc, err := location()
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if at != "" {
		t, err := event.ParseTimestamp(at)
		if err != nil {
			return time.Time{}, WrapExitError(ExitCommandError, "invalid --at", err)
		}
		return t.In(loc), nil
	}
	if opts.Clock != nil {
		return opts.Clock.Now().In(loc), nil
	}
	return time.Now().In(loc), nil
}

// readLog loads events from an export file when path is set, otherwise from
// the cache at dbPath.
func readLog(ctx context.Context, path, dbPath string, cmd *cobra.Command) ([]event.Event, error) {
	if path != "" {
		doc, err := readExport(path)
		if err != nil {
			return nil, err
		}
		return doc.Events, nil
	}
	snap, err := loadSnapshot(ctx, dbPath, newLogger(cmd.ErrOrStderr(), false))
	if err != nil {
		return nil, err
	}
	return snap.Events, nil
}

func readExport(path string) (event.Export, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return event.Export{}, WrapExitError(ExitCommandError, "failed to read export", err)
	}
	doc, err := event.ParseExport(data)
	if err != nil {
		return event.Export{}, WrapExitError(ExitFailure, "invalid export", err)
	}
	return doc, nil
}

// RenderText prints a summary of the state.
func (r DeriveResult) RenderText(w io.Writer, verbose bool) {
	st := r.State
	fmt.Fprintf(w, "Soil:   %.2f / %.2f\n", st.Soil.Available, st.Soil.Capacity)
	fmt.Fprintf(w, "Water:  %d/%d (resets %s)\n", st.Water.Available, st.Water.Capacity, st.Water.NextReset.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Sun:    %d/%d (resets %s)\n", st.Sun.Available, st.Sun.Capacity, st.Sun.NextReset.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Streak: %d (longest %d)\n", st.Streak.Current, st.Streak.Longest)
	fmt.Fprintln(w)

	active := st.ActiveGoals()
	fmt.Fprintf(w, "Active sprouts: %d\n", len(active))
	for _, g := range active {
		fmt.Fprintf(w, "  %s  %s [%s] %s/%s, %d log(s)\n", g.ID, g.Title, g.CategoryID, g.DurationClass, g.DifficultyClass, len(g.Logs))
	}
	closed := st.GoalsIn(derive.GoalClosed)
	abandoned := st.GoalsIn(derive.GoalAbandoned)
	fmt.Fprintf(w, "Closed: %d  Abandoned: %d  Groupings: %d  Reflections: %d\n",
		len(closed), len(abandoned), len(st.Groupings), len(st.Reflections))
	if verbose {
		for _, g := range closed {
			fmt.Fprintf(w, "  %s  %s result %d, reward %.2f\n", g.ID, g.Title, g.Result, g.Reward)
		}
	}

	fmt.Fprintf(w, "Events: %d", st.EventCount)
	if len(st.Skipped) > 0 {
		fmt.Fprintf(w, " (%d skipped)", len(st.Skipped))
	}
	fmt.Fprintln(w)
	if verbose {
		for _, s := range st.Skipped {
			fmt.Fprintf(w, "  skipped %s %s: %s\n", s.Kind, s.Key, s.Reason)
		}
		fmt.Fprintf(w, "Fingerprint: %s\n", r.Fingerprint)
	}
}
