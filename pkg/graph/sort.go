package graph

import "github.com/orneryd/libetude/pkg/errs"

type color int

const (
	white color = iota // unvisited
	gray               // in-progress
	black              // done
)

// TopologicalSort computes the graph's execution order via a DFS with
// three colors, per spec.md §4.4. Revisiting an in-progress node raises
// Cycle. The result is a reverse-postorder list stored on the graph.
func (g *Graph) TopologicalSort() error {
	colors := make(map[*Node]color, len(g.nodes))
	var order []*Node

	var visit func(n *Node) error
	visit = func(n *Node) error {
		switch colors[n] {
		case black:
			return nil
		case gray:
			return errs.New("graph.TopologicalSort", errs.Cycle, nil)
		}
		colors[n] = gray
		for _, succ := range n.succs {
			if err := visit(succ); err != nil {
				return err
			}
		}
		colors[n] = black
		order = append(order, n)
		return nil
	}

	for _, n := range g.nodes {
		if colors[n] == white {
			if err := visit(n); err != nil {
				return err
			}
		}
	}

	reverse(order)
	for i, n := range order {
		n.executionOrder = i
	}
	g.order = order
	g.isSorted = true
	return nil
}

func reverse(nodes []*Node) {
	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
}

// HasCycle runs the same DFS, returning a bool. It is failure-safe: an
// internal error during traversal is reported as true, per spec.md §4.4
// ("failure-safe: returns true on internal error").
func (g *Graph) HasCycle() bool {
	saved := g.order
	savedSorted := g.isSorted
	err := g.TopologicalSort()
	g.order = saved
	g.isSorted = savedSorted
	return err != nil
}

// Order returns the graph's topological order. Callers must Sort first.
func (g *Graph) Order() []*Node { return append([]*Node(nil), g.order...) }
