// Package dispatch turns file change events into task runs.
//
// Each watch binding owns one goroutine. A change arriving while the
// binding is idle starts a run right away. Changes arriving while a run is
// in flight set a pending flag and collapse into a single follow-up run
// that sees the most recent change. Different bindings run independently.
// Completed runs, successful or not, are reported to every registered
// Listener.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/assetpipe/internal/logging"
	"github.com/hupe1980/assetpipe/internal/project"
	"github.com/hupe1980/assetpipe/internal/task"
	"github.com/hupe1980/assetpipe/internal/watch"
)

// Completion describes a finished binding run.
type Completion struct {
	// Pattern is the binding's watch pattern.
	Pattern string

	// Targets are the tasks or composites the binding runs.
	Targets []string

	// Kind is the common kind of the tasks behind Targets.
	Kind task.Kind

	// Reload is the binding's configured reload mode, empty for automatic.
	Reload string

	// Event is the most recent change that led to this run.
	Event watch.ChangeEvent

	Duration time.Duration
	Err      error
}

// Failed reports whether the run failed.
func (c Completion) Failed() bool { return c.Err != nil }

// Listener is notified about every completed binding run.
type Listener interface {
	ReportCompletion(c Completion)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(c Completion)

// ReportCompletion implements Listener.
func (f ListenerFunc) ReportCompletion(c Completion) { f(c) }

// Source registers pattern watches. *watch.Watcher implements it.
type Source interface {
	Watch(pattern string, onChange watch.HandlerFunc) error
}

type binding struct {
	project.Binding

	node    task.Node
	kind    task.Kind
	trigger chan struct{}

	// Guarded by mu. running is set from the moment a run is handed to the
	// worker until the worker finds no pending change after a run.
	mu      sync.Mutex
	last    watch.ChangeEvent
	running bool
	pending bool
}

// Dispatcher schedules binding runs.
type Dispatcher struct {
	runner    *task.Runner
	graph     *task.Graph
	logger    *slog.Logger
	listeners []Listener

	mu       sync.Mutex
	bindings []*binding
	started  bool
	wg       sync.WaitGroup
}

// New creates a dispatcher for p, binding every project binding. Runs
// write to the project's output root.
func New(p *project.Project, listeners ...Listener) (*Dispatcher, error) {
	return NewWithRunner(p, p.Runner(nil), listeners...)
}

// NewWithRunner is like New but runs tasks through runner.
func NewWithRunner(p *project.Project, runner *task.Runner, listeners ...Listener) (*Dispatcher, error) {
	d := &Dispatcher{
		runner:    runner,
		graph:     p.Graph,
		logger:    logging.Component(p.Logger, "dispatch"),
		listeners: slices.Clone(listeners),
	}

	for _, b := range p.Bindings {
		if err := d.Bind(b); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// AddListener registers l for future completions.
func (d *Dispatcher) AddListener(l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners = append(d.listeners, l)
}

// Bind adds a binding. Multiple targets run as a sequence. Bindings must
// be added before Start.
func (d *Dispatcher) Bind(b project.Binding) error {
	if b.Pattern == "" {
		return errors.New("binding pattern must not be empty")
	}

	var node task.Node

	switch len(b.Targets) {
	case 0:
	case 1:
		node = task.Ref{Name: b.Targets[0]}
	default:
		node = task.Seq(task.Refs(b.Targets...)...)
	}

	for _, target := range b.Targets {
		if _, err := d.graph.Lookup(target); err != nil {
			return fmt.Errorf("binding %q: %w", b.Pattern, err)
		}
	}

	kind := task.KindNone
	if node != nil {
		kind = d.graph.KindOf(node)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("dispatcher already started")
	}

	d.bindings = append(d.bindings, &binding{
		Binding: b,
		node:    node,
		kind:    kind,
		trigger: make(chan struct{}, 1),
	})

	return nil
}

// Bindings returns the registered bindings.
func (d *Dispatcher) Bindings() []project.Binding {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]project.Binding, len(d.bindings))
	for i, b := range d.bindings {
		out[i] = b.Binding
	}

	return out
}

// Attach registers a watch for every binding with src.
func (d *Dispatcher) Attach(src Source) error {
	d.mu.Lock()
	bindings := slices.Clone(d.bindings)
	d.mu.Unlock()

	for _, b := range bindings {
		if err := src.Watch(b.Pattern, func(ev watch.ChangeEvent) {
			d.schedule(b, ev)
		}); err != nil {
			return fmt.Errorf("binding %q: %w", b.Pattern, err)
		}
	}

	return nil
}

// Start launches one worker per binding. Workers stop when ctx is done;
// a run that is already in flight is completed first.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return
	}

	d.started = true

	for _, b := range d.bindings {
		d.wg.Add(1)

		go func() {
			defer d.wg.Done()
			d.work(ctx, b)
		}()
	}
}

// Wait blocks until all workers have stopped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Trigger schedules a run of the binding for pattern as if a matching file
// had changed.
func (d *Dispatcher) Trigger(pattern string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range d.bindings {
		if b.Pattern == pattern {
			d.schedule(b, watch.ChangeEvent{Path: pattern, Time: time.Now()})
			return nil
		}
	}

	return fmt.Errorf("no binding for pattern %q", pattern)
}

// TriggerAll schedules one run of every binding that has targets.
func (d *Dispatcher) TriggerAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, b := range d.bindings {
		if b.node != nil {
			d.schedule(b, watch.ChangeEvent{Path: b.Pattern, Time: time.Now()})
		}
	}
}

// schedule records ev. An idle binding is handed to its worker; a busy one
// is marked pending so the worker runs once more when the current run ends.
func (d *Dispatcher) schedule(b *binding, ev watch.ChangeEvent) {
	b.mu.Lock()
	b.last = ev

	if b.running {
		b.pending = true
		b.mu.Unlock()

		d.logger.Debug("run in flight, coalescing",
			slog.String("pattern", b.Pattern),
			slog.String("path", ev.Path),
		)

		return
	}

	b.running = true
	b.mu.Unlock()

	// The trigger is empty whenever running was false.
	b.trigger <- struct{}{}
}

func (d *Dispatcher) work(ctx context.Context, b *binding) {
	// Task runs are never cancelled; shutdown waits for the current one.
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.trigger:
		}

		for {
			d.execute(runCtx, b)

			b.mu.Lock()
			again := b.pending && ctx.Err() == nil
			b.pending = false
			b.running = again
			b.mu.Unlock()

			if !again {
				break
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, b *binding) {
	b.mu.Lock()
	ev := b.last
	b.mu.Unlock()

	logger := d.logger.With(slog.String("pattern", b.Pattern), slog.String("path", ev.Path))

	start := time.Now()

	var err error
	if b.node != nil {
		logger.Info("change detected, rebuilding", slog.Any("targets", b.Targets))
		err = d.runner.RunNode(ctx, b.node)
	} else {
		logger.Info("change detected")
	}

	c := Completion{
		Pattern:  b.Pattern,
		Targets:  slices.Clone(b.Targets),
		Kind:     b.kind,
		Reload:   b.Reload,
		Event:    ev,
		Duration: time.Since(start),
		Err:      err,
	}

	if err != nil {
		attrs := []any{slog.Duration("duration", c.Duration), slog.String("error", err.Error())}
		if name, ok := task.FailedTask(err); ok {
			attrs = append(attrs, slog.String("task", name))
		}

		logger.Error("rebuild failed", attrs...)
	} else if b.node != nil {
		logger.Info("rebuild finished", slog.Duration("duration", c.Duration))
	}

	d.mu.Lock()
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	for _, l := range listeners {
		l.ReportCompletion(c)
	}
}
