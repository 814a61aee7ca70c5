// Package pipeline implements task transforms as chains of steps over
// in-memory files. Steps either reshape the file set themselves (concat,
// rename) or hand each file to an external compiler or optimiser (exec).
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/assetpipe/internal/asset"
	"github.com/hupe1980/assetpipe/internal/config"
)

// Step is one stage of a task pipeline.
type Step interface {
	// Name returns the step's name for logging and error messages.
	Name() string

	// Apply transforms the input files into output files.
	Apply(ctx context.Context, files []asset.File) ([]asset.File, error)
}

// Chain runs steps in order, feeding each step the previous step's output.
type Chain []Step

// Apply runs every step of the chain. An empty file set still flows
// through the chain; steps decide what that means.
func (c Chain) Apply(ctx context.Context, files []asset.File) ([]asset.File, error) {
	for i, s := range c {
		out, err := s.Apply(ctx, files)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, s.Name(), err)
		}

		files = out
	}

	return files, nil
}

// Options carries settings shared by all steps built for a task.
type Options struct {
	// Dir is the working directory for external commands.
	Dir string
}

// Factory builds a step from its declarative spec.
type Factory func(spec config.StepSpec, opts Options) (Step, error)

// Registry maps step types to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for a step type.
func (r *Registry) Register(stepType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.factories[stepType] = f
}

// Types returns the registered step types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}

	sort.Strings(out)

	return out
}

// Build turns step specs into a chain.
func (r *Registry) Build(specs []config.StepSpec, opts Options) (Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chain := make(Chain, 0, len(specs))

	for i, spec := range specs {
		f, ok := r.factories[spec.Type]
		if !ok {
			return nil, fmt.Errorf("step %d: unknown step type %q", i+1, spec.Type)
		}

		s, err := f(spec, opts)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, spec.Type, err)
		}

		chain = append(chain, s)
	}

	return chain, nil
}

// DefaultRegistry returns a registry with the built-in step types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.StepConcat, newConcat)
	r.Register(config.StepRename, newRename)
	r.Register(config.StepExec, newExec)

	return r
}
