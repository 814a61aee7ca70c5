package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/dispatch"
	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
)

// devOptions are shared by watch and serve.
type devOptions struct {
	initial bool
}

func registerDevFlags(cmd *cobra.Command, opts *devOptions) {
	f := cmd.Flags()
	f.Duration("debounce", 0, "quiet period before a watch fires (0 disables)")
	f.Bool("allow-missing", false, "keep watches on missing paths as inert instead of failing")
	f.BoolVar(&opts.initial, "initial", false, "run every bound target once before watching")
}

// runDev watches the project's bindings and dispatches rebuilds until ctx
// is cancelled or SIGINT/SIGTERM is received. Task failures are logged and
// never stop the loop.
func runDev(ctx context.Context, cmd *cobra.Command, p *project.Project, opts *devOptions, listeners ...dispatch.Listener) error {
	cfg := config.FromContext(ctx)
	logger := logging.FromContext(ctx)

	// Trap SIGINT / SIGTERM for graceful shutdown.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := dispatch.Run(sigCtx, p, dispatch.RunOptions{
		Debounce:     cfg.Debounce,
		AllowMissing: cfg.AllowMissing,
		Initial:      opts.initial,
		Ready: func(patterns int) {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "watching %d pattern(s) in %s (debounce=%s)\n",
				patterns, p.Root, cfg.Debounce)
		},
	}, listeners...)

	switch {
	case errors.Is(err, dispatch.ErrInvalidBinding):
		return &ExitError{Code: 2, Err: err}
	case err != nil:
		logger.Error("watcher stopped", slog.String("error", err.Error()))
		return &ExitError{Code: 1, Err: err}
	}

	_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "\nshutting down watcher")

	return nil
}
