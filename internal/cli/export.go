package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/grove/internal/derive"
	"github.com/roach88/grove/internal/event"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the event log to a backup file",
		Long: `Write the full local event log, with the category labels it refers to,
as a checksummed JSON document.

Examples:
  grove export -o backup.json
  grove export > backup.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(err)
	}
	snap, err := loadSnapshot(ctx, cfg.DBPath, newLogger(cmd.ErrOrStderr(), opts.Verbose))
	if err != nil {
		return f.Fail(err)
	}
	now, err := resolveNow(opts.RootOptions, "", cfg.Location)
	if err != nil {
		return f.Fail(err)
	}

	st := derive.Derive(snap.Events, now)
	doc, err := event.NewExport(snap.Events, categoryLabels(st), event.FormatTimestamp(now))
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "failed to build export", err))
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return f.Fail(WrapExitError(ExitFailure, "failed to encode export", err))
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return f.Fail(WrapExitError(ExitCommandError, "failed to write export", err))
	}
	return f.Success(ExportOutput{Path: opts.Output, Events: len(doc.Events), Checksum: doc.Checksum})
}

// categoryLabels collects the latest label seen for each category.
func categoryLabels(st *derive.State) map[string]event.CategoryLabel {
	labels := make(map[string]event.CategoryLabel)
	for _, r := range st.Reflections {
		if r.CategoryLabel != "" {
			labels[r.CategoryID] = event.CategoryLabel{Label: r.CategoryLabel}
		}
	}
	if len(labels) == 0 {
		return nil
	}
	return labels
}

// ExportOutput reports a written export file.
type ExportOutput struct {
	Path     string `json:"path"`
	Events   int    `json:"events"`
	Checksum string `json:"checksum"`
}

func (e ExportOutput) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ exported %d event(s) to %s\n", e.Events, e.Path)
	if verbose {
		fmt.Fprintf(w, "  checksum %s\n", e.Checksum)
	}
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the local log with a backup file",
		Long: `Replace the local event log wholesale with the events of an export file.

The checksum is verified when present. Imported events are not uploaded and
the next pull re-merges the whole remote log.

Examples:
  grove import backup.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
}

// ImportOutput reports an import.
type ImportOutput struct {
	Path   string `json:"path"`
	Events int    `json:"events"`
}

func runImport(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	doc, err := readExport(path)
	if err != nil {
		return f.Fail(err)
	}

	a, err := openApp(ctx, cmd, opts, appOptions{})
	if err != nil {
		return f.Fail(err)
	}
	defer a.Close()
	a.start()

	if err := a.svc.Import(ctx, doc.Events); err != nil {
		return f.Fail(WrapExitError(ExitFailure, "import failed", err))
	}
	if err := a.flush(ctx); err != nil {
		return f.Fail(err)
	}
	return f.Success(ImportOutput{Path: path, Events: a.svc.Status().Events})
}

func (i ImportOutput) RenderText(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "✓ imported %d event(s) from %s\n", i.Events, i.Path)
}
