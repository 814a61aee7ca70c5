// Package project assembles the process-scoped build state from a
// declarative project definition: the task graph with its pipelines, the
// watch bindings, and the source and output roots. A Project is created
// once at startup and passed explicitly to the dispatcher and the live
// reload server.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hupe1980/assetpipe/internal/asset"
	"github.com/hupe1980/assetpipe/internal/config"
	"github.com/hupe1980/assetpipe/internal/output"
	"github.com/hupe1980/assetpipe/internal/pipeline"
	"github.com/hupe1980/assetpipe/internal/task"
	"github.com/hupe1980/assetpipe/internal/version"
)

// ErrIncompatible is returned when the project requires a different
// assetpipe version.
var ErrIncompatible = errors.New("incompatible assetpipe version")

// Binding associates a watch pattern with the targets it rebuilds. A
// binding without targets only reloads browsers.
type Binding struct {
	Pattern string   `json:"pattern" yaml:"pattern"`
	Targets []string `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	Reload  string   `json:"reload,omitempty" yaml:"reload,omitempty"`
}

// Project is the assembled build definition.
type Project struct {
	// Root is the absolute directory sources and watch patterns are
	// relative to.
	Root string

	// OutputRoot is the absolute directory task outputs are written to and
	// the development server serves.
	OutputRoot string

	Graph    *task.Graph
	Bindings []Binding
	Logger   *slog.Logger
}

// Options configures New.
type Options struct {
	// Dir is the directory relative roots are resolved against, usually
	// the directory of the config file.
	Dir string

	// Registry provides the pipeline step types. Defaults to
	// pipeline.DefaultRegistry().
	Registry *pipeline.Registry

	// Version is the running binary's version, checked against the
	// project's requires constraint. Defaults to version.GetInfo().
	Version *version.Info

	Logger *slog.Logger
}

// New builds a Project from spec.
func New(spec *config.ProjectSpec, opts Options) (*Project, error) {
	if opts.Dir == "" {
		opts.Dir = "."
	}

	if opts.Registry == nil {
		opts.Registry = pipeline.DefaultRegistry()
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if opts.Version == nil {
		info := version.GetInfo()
		opts.Version = &info
	}

	if err := checkRequires(spec.Requires, opts.Version); err != nil {
		return nil, err
	}

	root, err := resolve(opts.Dir, spec.Root)
	if err != nil {
		return nil, err
	}

	outputRoot, err := resolve(opts.Dir, spec.OutputRoot)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Root:       root,
		OutputRoot: outputRoot,
		Graph:      task.NewGraph(),
		Logger:     opts.Logger,
	}

	for _, ts := range spec.Tasks {
		t, err := buildTask(ts, opts.Registry, root)
		if err != nil {
			return nil, err
		}

		if err := p.Graph.AddTask(t); err != nil {
			return nil, err
		}
	}

	for _, cs := range spec.Composites {
		if err := p.Graph.Define(cs.Name, compositeNode(cs)); err != nil {
			return nil, err
		}
	}

	if err := p.Graph.Validate(); err != nil {
		return nil, err
	}

	for _, bs := range spec.Watch {
		for _, target := range bs.Tasks {
			if _, err := p.Graph.Lookup(target); err != nil {
				return nil, fmt.Errorf("watch %q: %w", bs.Pattern, err)
			}
		}

		p.Bindings = append(p.Bindings, Binding{
			Pattern: bs.Pattern,
			Targets: bs.Tasks,
			Reload:  bs.Reload,
		})
	}

	return p, nil
}

// Load reads the project definition referenced by cfg. Relative roots are
// resolved against the config file's directory.
func Load(cfg *config.Config, logger *slog.Logger) (*Project, error) {
	spec, err := config.LoadProject(cfg)
	if err != nil {
		return nil, err
	}

	dir := "."
	if cfg.ConfigFile != "" {
		dir = filepath.Dir(cfg.ConfigFile)
	}

	return New(spec, Options{Dir: dir, Logger: logger})
}

// Writer returns a writer for the project's output root.
func (p *Project) Writer() output.Writer {
	return output.NewFileWriter(p.OutputRoot, output.WithLogger(p.Logger))
}

// Runner returns a task runner writing through w. A nil w writes to the
// output root.
func (p *Project) Runner(w output.Writer) *task.Runner {
	if w == nil {
		w = p.Writer()
	}

	return task.NewRunner(p.Graph, task.Env{
		Root:   p.Root,
		Writer: w,
		Logger: p.Logger,
	})
}

// Targets returns the distinct targets of all bindings in binding order.
func (p *Project) Targets() []string {
	seen := make(map[string]bool)

	var out []string

	for _, b := range p.Bindings {
		for _, t := range b.Targets {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}

	return out
}

func buildTask(ts config.TaskSpec, registry *pipeline.Registry, root string) (*task.Task, error) {
	sources := make([]*asset.Pattern, 0, len(ts.Src))

	for _, src := range ts.Src {
		pat, err := asset.ParsePattern(src)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", ts.Name, err)
		}

		sources = append(sources, pat)
	}

	t := &task.Task{
		Name:    ts.Name,
		Kind:    task.Kind(ts.Kind),
		Sources: sources,
		Dest:    ts.Dest,
	}

	if len(ts.Steps) > 0 {
		chain, err := registry.Build(ts.Steps, pipeline.Options{Dir: root})
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", ts.Name, err)
		}

		t.Transform = chain
	}

	return t, nil
}

func compositeNode(cs config.CompositeSpec) task.Node {
	if len(cs.Parallel) > 0 {
		return task.Par(task.Refs(cs.Parallel...)...)
	}

	return task.Seq(task.Refs(cs.Sequence...)...)
}

func checkRequires(constraint string, info *version.Info) error {
	ok, err := info.Satisfies(constraint)
	if err != nil {
		return fmt.Errorf("requires %q: %w", constraint, err)
	}

	if !ok {
		return fmt.Errorf("%w: project requires %s, running %s", ErrIncompatible, constraint, info.Version)
	}

	return nil
}

func resolve(dir, p string) (string, error) {
	if p == "" {
		p = "."
	}

	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", p, err)
	}

	return abs, nil
}
