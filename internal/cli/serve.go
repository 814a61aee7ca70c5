package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/livereload"
)

type serveOptions struct {
	devOptions

	noInject bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the output directory with live reload while watching",
		Long: `Serve starts a development server for the output directory and watches
the project like "assetpipe watch". Connected browsers refresh after every
successful rebuild: stylesheet rebuilds swap stylesheets in place, all
other rebuilds and markup changes reload the page.

HTML pages are served with the live reload client script injected. Use
--no-inject to serve pages unchanged and include
/__livereload/client.js yourself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	registerDevFlags(cmd, &opts.devOptions)

	f := cmd.Flags()
	f.String("host", config.DefaultHost, "interface to listen on")
	f.IntP("port", "p", config.DefaultPort, "port to listen on")
	f.BoolVar(&opts.noInject, "no-inject", false, "do not inject the live reload script into HTML pages")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts *serveOptions) error {
	p, err := loadProject(cmd)
	if err != nil {
		return err
	}

	cfg := config.FromContext(ctx)

	srv := livereload.New(p, livereload.Options{
		Addr:     cfg.Addr(),
		NoInject: opts.noInject,
	})

	if err := srv.Start(); err != nil {
		return &ExitError{Code: 1, Err: err}
	}

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "serving %s at http://%s\n", p.OutputRoot, srv.Addr())

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	failed := make(chan error, 1)

	go func() {
		select {
		case err := <-srv.Err():
			if !errors.Is(err, http.ErrServerClosed) {
				failed <- err
				cancel()
			}
		case <-serveCtx.Done():
		}
	}()

	runErr := runDev(serveCtx, cmd, p, &opts.devOptions, srv)

	if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = &ExitError{Code: 1, Err: err}
	}

	if runErr != nil {
		return runErr
	}

	select {
	case err := <-failed:
		return &ExitError{Code: 1, Err: fmt.Errorf("server stopped: %w", err)}
	default:
		return nil
	}
}
