package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
	"github.com/hupe1980/assetpipe/internal/watch"
)

// ErrInvalidBinding wraps binding errors returned by Run, which are
// configuration problems rather than runtime failures.
var ErrInvalidBinding = errors.New("invalid binding")

// RunOptions configures Run.
type RunOptions struct {
	Debounce     time.Duration
	AllowMissing bool

	// Initial runs every bound target once before waiting for changes.
	Initial bool

	// Ready is called once all watches are registered, with the number of
	// active patterns.
	Ready func(patterns int)
}

// Run watches p's bindings and dispatches rebuilds until ctx is done or
// the watcher stops. The output root is excluded from recursive watches so
// rebuilt files never trigger their own bindings. In-flight rebuilds are
// completed before Run returns; task failures go to the listeners and
// never end the loop.
func Run(ctx context.Context, p *project.Project, opts RunOptions, listeners ...Listener) error {
	w, err := watch.New(watch.Options{
		Root:         p.Root,
		Debounce:     opts.Debounce,
		AllowMissing: opts.AllowMissing,
		Exclude:      []string{p.OutputRoot},
		Logger:       logging.Component(p.Logger, "watch"),
	})
	if err != nil {
		return err
	}
	defer w.Close()

	d, err := New(p, listeners...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBinding, err)
	}

	if err := d.Attach(w); err != nil {
		return fmt.Errorf("setting up watches: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.Start(loopCtx)

	if opts.Initial {
		d.TriggerAll()
	}

	if opts.Ready != nil {
		opts.Ready(len(w.Patterns()))
	}

	runErr := w.Run(loopCtx)

	cancel()
	d.Wait()

	return runErr
}
