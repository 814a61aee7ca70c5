package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	// ErrDuplicate is returned when a name is registered twice.
	ErrDuplicate = errors.New("duplicate task name")

	// ErrUnknownTask is returned when a name or reference cannot be resolved.
	ErrUnknownTask = errors.New("unknown task")

	// ErrCycle is returned when a composite would (transitively) contain itself.
	ErrCycle = errors.New("composite cycle")
)

// Graph is the task registry: named tasks plus named composites. Tasks and
// composites share one namespace. Registration happens during start-up;
// lookups are safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	tasks      map[string]*Task
	composites map[string]Node
	order      []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks:      make(map[string]*Task),
		composites: make(map[string]Node),
	}
}

// AddTask registers t under its name.
func (g *Graph) AddTask(t *Task) error {
	if t == nil || t.Name == "" {
		return errors.New("task name must not be empty")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exists(t.Name) {
		return fmt.Errorf("%w: %q", ErrDuplicate, t.Name)
	}

	g.tasks[t.Name] = t
	g.order = append(g.order, t.Name)

	return nil
}

// Define registers a composite. References may point to names that are
// not registered yet, but a definition that closes a reference cycle is
// rejected.
func (g *Graph) Define(name string, n Node) error {
	if name == "" {
		return errors.New("composite name must not be empty")
	}

	if n == nil {
		return fmt.Errorf("composite %q: empty definition", name)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.exists(name) {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}

	if cycle := g.findCycle(name, n); cycle != nil {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
	}

	g.composites[name] = n
	g.order = append(g.order, name)

	return nil
}

// findCycle returns the reference path leading back to name, or nil.
func (g *Graph) findCycle(name string, n Node) []string {
	visited := make(map[string]bool)

	var visit func(node Node, trail []string) []string

	visit = func(node Node, trail []string) []string {
		var found []string

		walkRefs(node, func(ref string) {
			if found != nil {
				return
			}

			if ref == name {
				found = append(slices.Clone(trail), ref)
				return
			}

			if visited[ref] {
				return
			}

			visited[ref] = true

			if sub, ok := g.composites[ref]; ok {
				found = visit(sub, append(slices.Clone(trail), ref))
			}
		})

		return found
	}

	return visit(n, []string{name})
}

func (g *Graph) exists(name string) bool {
	_, isTask := g.tasks[name]
	_, isComposite := g.composites[name]

	return isTask || isComposite
}

// Validate reports references that do not resolve to a registered name.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	for _, name := range g.order {
		n, ok := g.composites[name]
		if !ok {
			continue
		}

		walkRefs(n, func(ref string) {
			if !g.exists(ref) {
				errs = append(errs, fmt.Errorf("composite %q: %w: %q", name, ErrUnknownTask, ref))
			}
		})
	}

	return errors.Join(errs...)
}

// Lookup resolves name to a node: a Leaf for tasks, the definition for
// composites.
func (g *Graph) Lookup(name string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.lookup(name)
}

func (g *Graph) lookup(name string) (Node, error) {
	if t, ok := g.tasks[name]; ok {
		return Leaf{Task: t}, nil
	}

	if n, ok := g.composites[name]; ok {
		return n, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
}

// Task returns the registered task called name.
func (g *Graph) Task(name string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, ok := g.tasks[name]

	return t, ok
}

// IsComposite reports whether name is a registered composite.
func (g *Graph) IsComposite(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, ok := g.composites[name]

	return ok
}

// Names returns all registered names in registration order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return slices.Clone(g.order)
}

// Leaves returns the tasks reachable from n, each once, in evaluation order.
func (g *Graph) Leaves(n Node) ([]*Task, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var (
		out  []*Task
		seen = make(map[string]bool)
	)

	var visit func(Node) error

	visit = func(node Node) error {
		switch v := node.(type) {
		case Leaf:
			if !seen[v.Task.Name] {
				seen[v.Task.Name] = true
				out = append(out, v.Task)
			}
		case Ref:
			resolved, err := g.lookup(v.Name)
			if err != nil {
				return err
			}

			return visit(resolved)
		case Sequence:
			for _, c := range v.Nodes {
				if err := visit(c); err != nil {
					return err
				}
			}
		case Parallel:
			for _, c := range v.Nodes {
				if err := visit(c); err != nil {
					return err
				}
			}
		}

		return nil
	}

	if err := visit(n); err != nil {
		return nil, err
	}

	return out, nil
}

// KindOf returns the common kind of the tasks reachable from n. Nodes that
// mix kinds report KindMixed; nodes without tasks report KindNone.
func (g *Graph) KindOf(n Node) Kind {
	leaves, err := g.Leaves(n)
	if err != nil || len(leaves) == 0 {
		return KindNone
	}

	kind := leaves[0].Kind
	for _, t := range leaves[1:] {
		if t.Kind != kind {
			return KindMixed
		}
	}

	return kind
}
