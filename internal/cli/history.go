package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/nbcheck/internal/harness"
	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/store"
)

// recorder writes a run into the history database. A recorder without a
// store does nothing. Write failures are logged and never fail the run.
type recorder struct {
	store  *store.Store
	runID  string
	logger *slog.Logger
}

// openRecorder opens the history database at path and begins a run. An
// empty path disables recording.
func openRecorder(ctx context.Context, path string, run store.Run, logger *slog.Logger) (*recorder, error) {
	r := &recorder{logger: logger}
	if path == "" {
		return r, nil
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	run, err = st.BeginRun(ctx, run)
	if err != nil {
		st.Close()
		return nil, err
	}

	logger.Debug("recording run", "db", path, "run", run.ID, "seq", run.Seq)
	r.store = st
	r.runID = run.ID
	return r, nil
}

// file records one notebook's result, including the partial result of a
// notebook cut short by an interrupt.
func (r *recorder) file(ctx context.Context, f *harness.FileResult) {
	if r.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.store.WriteFile(ctx, r.runID, f); err != nil {
		r.logger.Warn("failed to record notebook", "path", f.Path, "error", err)
	}
}

// finish records the outcome implied by the run's exit error and closes the
// database.
func (r *recorder) finish(ctx context.Context, report *RunReport, runErr error) {
	if r.store == nil {
		return
	}
	defer r.store.Close()

	outcome := store.OutcomePass
	switch GetExitCode(runErr) {
	case ExitSuccess:
	case ExitFailure:
		outcome = store.OutcomeFail
	default:
		outcome = store.OutcomeError
	}

	// The run context may be cancelled by now.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.FinishRun(ctx, r.runID, outcome, report.Passed, report.Failed, report.Skipped); err != nil {
		r.logger.Warn("failed to record run outcome", "run", r.runID, "error", err)
	}
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	DB         string
	ConfigPath string
	Limit      int
	Test       string
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded by "nbcheck run --db".

Without arguments the most recent runs are listed. With a run ID every
cell result of that run is shown. With --test the recorded outcomes of one
cell test are shown, newest first.

Examples:
  nbcheck history --db .nbcheck/history.db
  nbcheck history --db .nbcheck/history.db 0192c3c4-...
  nbcheck history --test 'notebooks/analysis_test.ipynb#3'`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DB, "db", "", "history database (default: history.db from config)")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file (default .nbcheck.yaml if present)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs or outcomes to show (0 for all)")
	cmd.Flags().StringVar(&opts.Test, "test", "", "show the outcomes of one cell test ID")

	return cmd
}

func showHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	path := opts.DB
	if path == "" {
		cfg, err := loadConfig(&RunOptions{ConfigPath: opts.ConfigPath})
		if err != nil {
			return err
		}
		path = cfg.History.DB
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no history database: use --db or set history.db in the config")
	}
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "history database not found", err)
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	switch {
	case opts.Test != "":
		outcomes, err := st.ReadTestHistory(ctx, opts.Test, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		return out.TestHistory(opts.Test, outcomes)

	case len(args) == 1:
		run, files, err := st.ReadRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return NewExitError(ExitCommandError, fmt.Sprintf("no run with ID %s", args[0]))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		return out.RunDetail(run, files)

	default:
		runs, err := st.ReadRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		return out.Runs(runs)
	}
}

// Runs lists recorded runs, newest first.
func (f *OutputFormatter) Runs(runs []store.Run) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: runs})
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		writeRunLine(f.Writer, r)
	}
	return nil
}

// RunDetail shows every cell result of one run.
func (f *OutputFormatter) RunDetail(run store.Run, files []*harness.FileResult) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: struct {
			Run   store.Run             `json:"run"`
			Files []*harness.FileResult `json:"files"`
		}{run, files}})
	}

	writeRunLine(f.Writer, run)
	fmt.Fprintln(f.Writer)
	for _, file := range files {
		if file.Skipped {
			f.Skipped(file)
			continue
		}
		for _, c := range file.Cells {
			f.Cell(c)
		}
	}
	return nil
}

// TestHistory shows the recorded outcomes of one cell test.
func (f *OutputFormatter) TestHistory(testID string, outcomes []store.TestOutcome) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: outcomes})
	}
	if len(outcomes) == 0 {
		fmt.Fprintf(f.Writer, "No outcomes recorded for %s.\n", testID)
		return nil
	}
	for _, o := range outcomes {
		if o.Pass {
			fmt.Fprintf(f.Writer, "✓ %s\n", o.RunID)
		} else {
			fmt.Fprintln(f.Writer, strings.TrimSpace("✗ "+o.RunID+" "+o.ErrorName))
		}
	}
	return nil
}

func writeRunLine(w io.Writer, r store.Run) {
	fmt.Fprintf(w, "%s  %s  %-7s  %d passed, %d failed, %d skipped\n",
		r.ID, r.StartedAt.UTC().Format(time.RFC3339), r.Outcome, r.Passed, r.Failed, r.Skipped)
}

// runIDs returns the generator for run IDs.
func (o *RunOptions) runIDs() kernel.IDGenerator {
	if o.RunIDs != nil {
		return o.RunIDs
	}
	return kernel.UUIDv7Generator{}
}
