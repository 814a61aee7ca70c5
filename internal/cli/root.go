// Package cli implements the cobra command tree for assetpipe.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
)

// ExitError wraps an error with a specific process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute builds the command tree, runs it, and returns the exit code.
func Execute() int {
	cmd := NewRootCommand()

	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)

		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return exitErr.Code
		}

		return 1
	}

	return 0
}

// NewRootCommand constructs the top-level cobra.Command with all
// subcommands attached.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "assetpipe [task]...",
		Short: "Build, watch and serve front-end assets",
		Long: `assetpipe builds front-end assets from named tasks: stylesheets,
scripts, optimised images, WebP conversions and SVG sprites. Compilers and
optimisers are external tools; assetpipe decides what runs when.

Tasks, composites and watch bindings are read from the project sections of
.assetpipe.yaml. Without a project definition the built-in project is used.

Running "assetpipe <task>" is a shortcut for "assetpipe run <task>".`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}

			logger := logging.Setup(cfg)

			ctx := cmd.Context()
			ctx = config.NewContext(ctx, cfg)
			ctx = logging.NewContext(ctx, logger)
			cmd.SetContext(ctx)

			logger.Debug("configuration loaded",
				slog.String("logLevel", cfg.LogLevel),
				slog.String("logFormat", cfg.LogFormat),
				slog.String("configFile", cfg.ConfigFile),
			)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			return runTasks(cmd, args, &runOptions{})
		},
		ValidArgsFunction: completeTaskNames,
	}

	// Global persistent flags.
	pf := cmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: .assetpipe.yaml)")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", "text", "log format: text, json")
	pf.Bool("no-color", false, "disable colored output")
	pf.BoolP("quiet", "q", false, "suppress non-essential output")

	// Flag parsing errors return exit code 2.
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &ExitError{Code: 2, Err: err}
	})

	// Register subcommands.
	cmd.AddCommand(
		newRunCommand(),
		newWatchCommand(),
		newServeCommand(),
		newTasksCommand(),
		newVersionCommand(),
		newCompletionCommand(),
	)

	return cmd
}

// loadProject assembles the project from the configuration stored in the
// command context. Project errors are configuration errors.
func loadProject(cmd *cobra.Command) (*project.Project, error) {
	ctx := cmd.Context()

	p, err := project.Load(config.FromContext(ctx), logging.FromContext(ctx))
	if err != nil {
		return nil, &ExitError{Code: 2, Err: err}
	}

	return p, nil
}
