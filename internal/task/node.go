package task

import "strings"

// Node is a task graph node: Leaf, Ref, Sequence or Parallel.
type Node interface {
	String() string
	isNode()
}

// Leaf wraps a single task.
type Leaf struct {
	Task *Task
}

// Ref refers to a registered task or composite by name. References are
// resolved when the node is evaluated.
type Ref struct {
	Name string
}

// Sequence runs its nodes strictly in order and stops at the first failure.
type Sequence struct {
	Nodes []Node
}

// Parallel starts all of its nodes at once and waits for every one of them.
type Parallel struct {
	Nodes []Node
}

func (Leaf) isNode()     {}
func (Ref) isNode()      {}
func (Sequence) isNode() {}
func (Parallel) isNode() {}

func (n Leaf) String() string     { return n.Task.Name }
func (n Ref) String() string      { return n.Name }
func (n Sequence) String() string { return "series(" + joinNodes(n.Nodes) + ")" }
func (n Parallel) String() string { return "parallel(" + joinNodes(n.Nodes) + ")" }

// Seq builds a Sequence.
func Seq(nodes ...Node) Node { return Sequence{Nodes: nodes} }

// Par builds a Parallel.
func Par(nodes ...Node) Node { return Parallel{Nodes: nodes} }

// Refs builds one Ref per name.
func Refs(names ...string) []Node {
	out := make([]Node, len(names))
	for i, n := range names {
		out[i] = Ref{Name: n}
	}

	return out
}

func joinNodes(nodes []Node) string {
	parts := make([]string, len(nodes))
	for i, n := range nodes {
		parts[i] = n.String()
	}

	return strings.Join(parts, ", ")
}

// walkRefs calls fn for every Ref reachable inside n without following
// references.
func walkRefs(n Node, fn func(string)) {
	switch v := n.(type) {
	case Ref:
		fn(v.Name)
	case Sequence:
		for _, c := range v.Nodes {
			walkRefs(c, fn)
		}
	case Parallel:
		for _, c := range v.Nodes {
			walkRefs(c, fn)
		}
	}
}
