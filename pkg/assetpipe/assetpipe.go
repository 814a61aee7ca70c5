// Package assetpipe provides a public Go API for building and watching
// front-end asset projects.
//
// This package exposes the task graph and the watch-and-rebuild loop as a
// library, allowing programmatic use without the CLI.
//
// Basic usage:
//
//	result, err := assetpipe.Build(ctx, []string{"build"},
//	    assetpipe.WithDir("path/to/site"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Duration)
//
// Watching until ctx is cancelled:
//
//	err := assetpipe.Watch(ctx,
//	    assetpipe.WithConfigData(data),
//	    assetpipe.WithCompletionHandler(func(c assetpipe.Completion) {
//	        log.Println(c.Pattern, c.Err)
//	    }),
//	)
package assetpipe

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/dispatch"
	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
	"github.com/hupe1980/assetpipe/internal/task"
	"github.com/hupe1980/assetpipe/internal/watch"
)

// Errors returned by Build and Watch. Use errors.Is to test for them.
var (
	ErrUnknownTask  = task.ErrUnknownTask
	ErrCycle        = task.ErrCycle
	ErrPathNotFound = watch.ErrPathNotFound
)

// Option configures Build, Watch and Tasks.
// Use the With* functions to create Options.
type Option func(*options)

type options struct {
	dir          string
	configData   []byte
	logger       *slog.Logger
	debounce     time.Duration
	allowMissing bool
	initial      bool
	handlers     []func(Completion)
}

// WithDir sets the directory relative roots are resolved against
// (default: ".").
func WithDir(dir string) Option { return func(o *options) { o.dir = dir } }

// WithConfigData sets raw YAML bytes of a .assetpipe.yaml file. Without it
// the built-in project is used.
func WithConfigData(data []byte) Option { return func(o *options) { o.configData = data } }

// WithLogger sets the logger (default: discard all output).
func WithLogger(logger *slog.Logger) Option { return func(o *options) { o.logger = logger } }

// WithDebounce sets the quiet period applied to file events before a watch
// fires. Zero disables debouncing.
func WithDebounce(d time.Duration) Option { return func(o *options) { o.debounce = d } }

// WithAllowMissing keeps watches on missing paths as inert instead of
// failing.
func WithAllowMissing() Option { return func(o *options) { o.allowMissing = true } }

// WithInitialBuild runs every bound target once when Watch starts.
func WithInitialBuild() Option { return func(o *options) { o.initial = true } }

// WithCompletionHandler registers fn to be called after every binding run
// during Watch. Handlers run on the dispatcher's goroutines.
func WithCompletionHandler(fn func(Completion)) Option {
	return func(o *options) { o.handlers = append(o.handlers, fn) }
}

// Completion describes a finished watch-triggered run.
type Completion struct {
	// Pattern is the watch pattern that fired.
	Pattern string

	// Targets are the tasks or composites that ran. Empty for bindings
	// that only reload browsers.
	Targets []string

	// Path is the changed file, relative to the project root. For the
	// initial build it is the pattern itself.
	Path string

	Duration time.Duration
	Err      error
}

// Result holds the outcome of a successful Build.
type Result struct {
	// Targets are the tasks or composites that ran, in order.
	Targets []string

	// OutputRoot is the absolute directory outputs were written to.
	OutputRoot string

	Duration time.Duration
}

// Build runs the named tasks or composites once, one after another.
func Build(ctx context.Context, targets []string, opts ...Option) (*Result, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	o := newOptions(opts)

	p, err := o.load()
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if err := p.Runner(nil).Run(ctx, targets...); err != nil {
		return nil, err
	}

	return &Result{
		Targets:    targets,
		OutputRoot: p.OutputRoot,
		Duration:   time.Since(start),
	}, nil
}

// Watch watches the project's bindings and rebuilds their targets on
// change until ctx is cancelled. Task failures are reported to the
// completion handlers and never stop the loop. In-flight rebuilds are
// completed before Watch returns.
func Watch(ctx context.Context, opts ...Option) error {
	o := newOptions(opts)

	p, err := o.load()
	if err != nil {
		return err
	}

	return dispatch.Run(ctx, p, dispatch.RunOptions{
		Debounce:     o.debounce,
		AllowMissing: o.allowMissing,
		Initial:      o.initial,
	}, dispatch.ListenerFunc(o.report))
}

// Tasks returns the names of all registered tasks and composites in
// definition order.
func Tasks(opts ...Option) ([]string, error) {
	p, err := newOptions(opts).load()
	if err != nil {
		return nil, err
	}

	return p.Graph.Names(), nil
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if o.dir == "" {
		o.dir = "."
	}

	if o.logger == nil {
		o.logger = logging.Discard()
	}

	return o
}

func (o *options) load() (*project.Project, error) {
	spec := config.DefaultProject()

	if o.configData != nil {
		var err error

		spec, err = config.ParseProject(o.configData)
		if err != nil {
			return nil, err
		}
	}

	return project.New(spec, project.Options{Dir: o.dir, Logger: o.logger})
}

func (o *options) report(c dispatch.Completion) {
	out := Completion{
		Pattern:  c.Pattern,
		Targets:  c.Targets,
		Path:     c.Event.Path,
		Duration: c.Duration,
		Err:      c.Err,
	}

	for _, fn := range o.handlers {
		fn(out)
	}
}
