// Package task implements the task registry and the composite task graph.
//
// A [Task] is a named unit of work that reads its sources, runs them
// through an opaque [Transform] and writes the result below its
// destination. Tasks are combined into composites built from the [Node]
// variant: [Leaf], [Ref], [Sequence] and [Parallel]. A [Graph] holds the
// registered tasks and composites and rejects reference cycles at
// registration time; a [Runner] evaluates nodes.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/hupe1980/assetpipe/internal/asset"
	"github.com/hupe1980/assetpipe/internal/output"
)

// Kind classifies a task by the kind of asset it produces.
type Kind string

// Supported task kinds. KindMixed and KindNone only describe nodes.
const (
	KindStyle  Kind = "style"
	KindScript Kind = "script"
	KindAsset  Kind = "asset"
	KindMixed  Kind = "mixed"
	KindNone   Kind = ""
)

// Transform turns the task's source files into output files. It is the
// boundary to external compilers and optimisers.
type Transform interface {
	Apply(ctx context.Context, files []asset.File) ([]asset.File, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(ctx context.Context, files []asset.File) ([]asset.File, error)

// Apply implements Transform.
func (f TransformFunc) Apply(ctx context.Context, files []asset.File) ([]asset.File, error) {
	return f(ctx, files)
}

// Task is an immutable, registered unit of work.
type Task struct {
	Name    string
	Kind    Kind
	Sources []*asset.Pattern
	Dest    string

	// Transform is optional; without one sources are copied unchanged.
	Transform Transform
}

// Env is what a task run needs from the outside world.
type Env struct {
	// Root is the directory sources are resolved against.
	Root string

	// Writer receives the outputs, named relative to the output root.
	Writer output.Writer

	Logger *slog.Logger
}

// Error attributes a failure to the task that produced it.
type Error struct {
	Task string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("task %q: %v", e.Task, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FailedTask returns the name of the task that caused err, if any.
func FailedTask(err error) (string, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Task, true
	}

	return "", false
}

// Run reads the sources, applies the transform and writes every output
// file to <output root>/<Dest>/<file name>.
func (t *Task) Run(ctx context.Context, env Env) error {
	files, err := asset.Collect(env.Root, t.Sources)
	if err != nil {
		return &Error{Task: t.Name, Err: err}
	}

	if t.Transform != nil {
		files, err = t.Transform.Apply(ctx, files)
		if err != nil {
			return &Error{Task: t.Name, Err: err}
		}
	}

	if env.Writer == nil {
		return nil
	}

	for _, f := range files {
		if err := env.Writer.Write(path.Join(t.Dest, f.Name), f.Data); err != nil {
			return &Error{Task: t.Name, Err: err}
		}
	}

	return nil
}
