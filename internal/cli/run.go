package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/nbcheck/internal/config"
	"github.com/roach88/nbcheck/internal/discovery"
	"github.com/roach88/nbcheck/internal/harness"
	"github.com/roach88/nbcheck/internal/jupyter"
	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Match      string
	ServerURL  string
	Token      string
	ConfigPath string
	DB         string

	// Starter overrides the Jupyter Server connection (for testing).
	// If nil, the configured server is probed, or a local one launched.
	Starter kernel.Starter

	// RunIDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs kernel.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run test notebooks",
		Long: `Find test notebooks below the given paths and run every code cell.

A notebook is a test notebook when its path matches the test pattern
(default ".*[Tt]est.*\.ipynb$", overridden by --match or NBCHECK_TESTMATCH)
and it has at least one code cell. Each notebook gets its own kernel.

Without --server-url a local "jupyter server" is started for the run.
With --db every result is also recorded for "nbcheck history".

Exit codes:
  0 - All cells passed
  1 - One or more cells failed
  2 - Command error (bad config, no server, kernel start failure, etc.)

Examples:
  nbcheck run
  nbcheck run notebooks/ --match '.*_check\.ipynb$'
  nbcheck run --server-url http://localhost:8888/ --token $TOKEN
  nbcheck run --format json
  nbcheck run --db .nbcheck/history.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotebooks(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Match, "match", "", "test notebook pattern (regular expression)")
	cmd.Flags().StringVar(&opts.ServerURL, "server-url", "", "Jupyter Server URL (default: launch a local server)")
	cmd.Flags().StringVar(&opts.Token, "token", "", "Jupyter Server token")
	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultFile+" if present)")
	cmd.Flags().StringVar(&opts.DB, "db", "", "record results in this history database")

	return cmd
}

func runNotebooks(opts *RunOptions, args []string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	matcher, err := discovery.NewMatcher(cfg.Match, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	roots := args
	if len(roots) == 0 {
		roots = cfg.Paths
	}
	files, err := matcher.Discover(ctx, roots...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to discover notebooks", err)
	}
	logger.Debug("discovered notebooks", "pattern", matcher.Pattern(), "count", len(files))

	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	report := NewRunReport(matcher.Pattern())

	rec, err := openRecorder(ctx, cfg.History.DB, store.Run{
		ID:        opts.runIDs().Generate(),
		StartedAt: time.Now(),
		Pattern:   matcher.Pattern(),
		Server:    cfg.Server.URL,
	}, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}

	err = runFiles(ctx, opts, cfg, logger, files, out, report, rec)
	rec.finish(ctx, report, err)
	return err
}

// runFiles runs every notebook in order and writes the report. The returned
// error carries the exit code.
func runFiles(ctx context.Context, opts *RunOptions, cfg *config.Config, logger *slog.Logger, files []string, out *OutputFormatter, report *RunReport, rec *recorder) error {
	if len(files) == 0 {
		logger.Info("no test notebooks found", "pattern", report.Pattern)
		return out.Report(report)
	}

	starter, cleanup, err := connect(ctx, opts, cfg, logger)
	if err != nil {
		return out.Abort(report, CodeCommandError, WrapExitError(ExitCommandError, "failed to reach jupyter server", err))
	}
	defer cleanup()

	h := harness.New(starter, logger)
	for _, path := range files {
		res, err := h.RunFile(ctx, path, out.Cell)
		report.Add(res)
		rec.file(ctx, res)
		switch {
		case err == nil:
		case harness.IsKernelStartError(err):
			return out.Abort(report, CodeKernelStart, WrapExitError(ExitCommandError, "kernel start failed", err))
		case ctx.Err() != nil:
			return out.Abort(report, CodeInterrupted, WrapExitError(ExitCommandError, "interrupted", err))
		default:
			return out.Abort(report, CodeCommandError, WrapExitError(ExitCommandError, fmt.Sprintf("failed to run %s", path), err))
		}
		if res.Skipped {
			out.Skipped(res)
		}
	}

	return out.Report(report)
}

// loadConfig layers the config file, the environment and the flags, then
// validates the result.
func loadConfig(opts *RunOptions) (*config.Config, error) {
	path, mustExist := config.DefaultFile, false
	if opts.ConfigPath != "" {
		path, mustExist = opts.ConfigPath, true
	}

	cfg, err := config.Load(path, mustExist)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	if opts.Match != "" {
		cfg.Match = opts.Match
	}
	if opts.ServerURL != "" {
		cfg.Server.URL = opts.ServerURL
	}
	if opts.Token != "" {
		cfg.Server.Token = opts.Token
	}
	if opts.DB != "" {
		cfg.History.DB = opts.DB
	}

	if err := cfg.Validate(); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	return cfg, nil
}

// connect returns the kernel starter for the run and a cleanup function
// that releases the server.
func connect(ctx context.Context, opts *RunOptions, cfg *config.Config, logger *slog.Logger) (kernel.Starter, func(), error) {
	if opts.Starter != nil {
		return opts.Starter, func() {}, nil
	}

	cleanup := func() {}
	var client *jupyter.Client
	if cfg.Server.URL != "" {
		c, err := jupyter.NewClient(cfg.Server.URL, jupyter.WithToken(cfg.Server.Token), jupyter.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		client = c
	} else {
		timeout, err := cfg.StartTimeout()
		if err != nil {
			return nil, nil, err
		}
		srv, err := jupyter.Launch(ctx, jupyter.LaunchOptions{
			Command:      cfg.Launch.Command,
			Args:         cfg.Launch.Args,
			StartTimeout: timeout,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		cleanup = func() {
			if err := srv.Stop(); err != nil {
				logger.Warn("failed to stop jupyter server", "error", err)
			}
		}
		c, err := srv.Client()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		client = c
	}

	starter, err := jupyter.Probe(ctx, client, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return starter, cleanup, nil
}
