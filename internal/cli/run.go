package cli

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/output"
	"github.com/hupe1980/assetpipe/internal/task"
)

type runOptions struct {
	dryRun bool
	diff   bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <task>...",
		Short: "Run tasks or composites once",
		Long: `Run executes the named tasks or composites once, one after another.
A sequence stops at its first failing step; a parallel composite waits for
all of its members and reports the first failure.

Use --dry-run to see which outputs would be written without touching the
output directory, and --diff to also print unified diffs against the
existing outputs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(cmd, args, opts)
		},
		ValidArgsFunction: completeTaskNames,
	}

	f := cmd.Flags()
	f.BoolVar(&opts.dryRun, "dry-run", false, "report outputs without writing them")
	f.BoolVar(&opts.diff, "diff", false, "with --dry-run, show diffs against existing outputs")

	return cmd
}

func runTasks(cmd *cobra.Command, names []string, opts *runOptions) error {
	if opts.diff && !opts.dryRun {
		return &ExitError{Code: 2, Err: errors.New("--diff requires --dry-run")}
	}

	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	var w output.Writer
	if opts.dryRun {
		w = output.NewDryRunWriter(p.OutputRoot, cmd.OutOrStdout(), opts.diff, !cfg.NoColor)
	}

	start := time.Now()

	if err := p.Runner(w).Run(ctx, names...); err != nil {
		if errors.Is(err, task.ErrUnknownTask) {
			return &ExitError{Code: 2, Err: err}
		}

		return &ExitError{Code: 1, Err: err}
	}

	logger.Info("done",
		slog.String("targets", strings.Join(names, ", ")),
		slog.Duration("duration", time.Since(start)),
	)

	return nil
}

// completeTaskNames offers registered task and composite names.
func completeTaskNames(cmd *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	cfg, err := config.Load(cmd, "")
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	spec, err := config.LoadProject(cfg)
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	names := make([]string, 0, len(spec.Tasks)+len(spec.Composites))
	for _, t := range spec.Tasks {
		names = append(names, t.Name)
	}

	for _, c := range spec.Composites {
		names = append(names, c.Name)
	}

	return names, cobra.ShellCompDirectiveNoFileComp
}
