package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Runner evaluates task graph nodes against an Env.
type Runner struct {
	graph *Graph
	env   Env
}

// NewRunner creates a runner for g.
func NewRunner(g *Graph, env Env) *Runner {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	return &Runner{graph: g, env: env}
}

// Graph returns the graph the runner evaluates.
func (r *Runner) Graph() *Graph { return r.graph }

// Run evaluates the named tasks or composites one after another. Unknown
// references anywhere in the graph are reported before anything runs.
func (r *Runner) Run(ctx context.Context, names ...string) error {
	if err := r.graph.Validate(); err != nil {
		return err
	}

	nodes := make([]Node, 0, len(names))

	for _, name := range names {
		n, err := r.graph.Lookup(name)
		if err != nil {
			return err
		}

		nodes = append(nodes, n)
	}

	if len(nodes) == 1 {
		return r.RunNode(ctx, nodes[0])
	}

	return r.RunNode(ctx, Sequence{Nodes: nodes})
}

// RunNode evaluates n. A Sequence stops at its first failure; a Parallel
// waits for all members and reports the first failure. Neither cancels
// work already started.
func (r *Runner) RunNode(ctx context.Context, n Node) error {
	switch v := n.(type) {
	case Leaf:
		return r.runTask(ctx, v.Task)
	case Ref:
		resolved, err := r.graph.Lookup(v.Name)
		if err != nil {
			return err
		}

		return r.RunNode(ctx, resolved)
	case Sequence:
		for _, c := range v.Nodes {
			if err := r.RunNode(ctx, c); err != nil {
				return err
			}
		}

		return nil
	case Parallel:
		var g errgroup.Group

		for _, c := range v.Nodes {
			g.Go(func() error {
				return r.RunNode(ctx, c)
			})
		}

		return g.Wait()
	default:
		return fmt.Errorf("unsupported node type %T", n)
	}
}

func (r *Runner) runTask(ctx context.Context, t *Task) error {
	logger := r.env.Logger.With(slog.String("task", t.Name))
	logger.Info("starting task")

	start := time.Now()

	if err := t.Run(ctx, r.env); err != nil {
		logger.Error("task failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)

		return err
	}

	logger.Info("finished task", slog.Duration("duration", time.Since(start)))

	return nil
}
