package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/syncer"
)

// PullOptions holds flags for the pull command.
type PullOptions struct {
	*RootOptions
	Full bool
}

// PullOutput reports a completed pull.
type PullOutput struct {
	Mode       string `json:"mode"`
	Downloaded int    `json:"downloaded"`
	Added      int    `json:"added"`
	Events     int    `json:"events"`
	Watermark  string `json:"watermark,omitempty"`
}

// NewPullCommand creates the pull command.
func NewPullCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PullOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Download events from the remote",
		Long: `Download events recorded by other devices and merge them into the local log.

An incremental pull downloads events after the last sync. --full downloads
the whole remote log and replaces the local one, keeping local events that
have not been uploaded yet. A cache written by an older version always pulls
in full.

Examples:
  grove pull
  grove pull --full --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPull(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Full, "full", false, "replace the local log with the remote one")

	return cmd
}

func runPull(ctx context.Context, opts *PullOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	a, err := openApp(ctx, cmd, opts.RootOptions, appOptions{remote: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()
	a.start()

	mode := syncer.Incremental
	if opts.Full {
		mode = syncer.Full
	}
	res, err := a.svc.Pull(ctx, mode)
	if err != nil {
		return f.Fail(remoteExitError("pull failed", err))
	}
	if err := a.flush(ctx); err != nil {
		return f.Fail(err)
	}

	st := a.svc.Status()
	return f.Success(PullOutput{
		Mode:       res.Mode.String(),
		Downloaded: res.Downloaded,
		Added:      res.Added,
		Events:     st.Events,
		Watermark:  st.Watermark,
	})
}

// RenderText prints a one-line summary.
func (p PullOutput) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ %s pull: %d downloaded, %d new, %d in log\n", p.Mode, p.Downloaded, p.Added, p.Events)
	if verbose && p.Watermark != "" {
		fmt.Fprintf(w, "  synced through %s\n", p.Watermark)
	}
}

// RetryOutput reports re-uploaded events.
type RetryOutput struct {
	Uploaded int `json:"uploaded"`
	Pending  int `json:"pending"`
}

// NewRetryCommand creates the retry command.
func NewRetryCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Upload events left pending by an interrupted push",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetry(cmd.Context(), rootOpts, cmd)
		},
	}
	return cmd
}

func runRetry(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	a, err := openApp(ctx, cmd, opts, appOptions{remote: true})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()
	a.start()

	n, err := a.svc.RetryPending(ctx)
	if flushErr := a.flush(ctx); flushErr != nil && err == nil {
		err = flushErr
	}
	if err != nil {
		return f.Fail(remoteExitError("retry failed", err))
	}
	return f.Success(RetryOutput{Uploaded: n, Pending: a.svc.Status().Pending})
}

func (r RetryOutput) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ %d event(s) uploaded, %d pending\n", r.Uploaded, r.Pending)
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the local log and sync state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
}

// StatusOutput describes the cached log.
type StatusOutput struct {
	syncer.Status
	PendingIDs []string `json:"pendingIds,omitempty"`
	DBPath     string   `json:"dbPath"`
	Remote     bool     `json:"remoteConfigured"`
	UserID     string   `json:"userId,omitempty"`
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	a, err := openApp(ctx, cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()

	return f.Success(StatusOutput{
		Status:     a.svc.Status(),
		PendingIDs: a.svc.PendingIDs(),
		DBPath:     a.cfg.DBPath,
		Remote:     a.cfg.DatabaseURL != "" || opts.Offline,
		UserID:     a.cfg.UserID,
	})
}

func (s StatusOutput) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "Cache:   %s (version %d)\n", s.DBPath, s.CacheVersion)
	fmt.Fprintf(w, "Events:  %d (%d pending upload)\n", s.Events, s.Pending)
	if s.Watermark != "" {
		fmt.Fprintf(w, "Synced:  %s\n", s.Watermark)
	} else {
		fmt.Fprintln(w, "Synced:  never")
	}
	switch {
	case !s.Remote:
		fmt.Fprintln(w, "Remote:  not configured")
	case s.UserID == "":
		fmt.Fprintln(w, "Remote:  signed out")
	default:
		fmt.Fprintf(w, "Remote:  signed in as %s\n", s.UserID)
	}
	if verbose {
		for _, id := range s.PendingIDs {
			fmt.Fprintf(w, "  pending %s\n", id)
		}
	}
}
