package graph

import (
	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/operator"
	"github.com/orneryd/libetude/pkg/pool"
)

// Graph is an owned collection of nodes with a topological execution
// order, per spec.md §3.
type Graph struct {
	name     string
	nodes    []*Node
	inputs   []*Node
	outputs  []*Node
	order    []*Node
	isSorted bool
	isOpt    bool

	pool     *pool.Pool
	registry *operator.Registry
}

// New creates an empty graph backed by p and dispatching through registry.
func New(name string, p *pool.Pool, registry *operator.Registry, initialCapacity int) *Graph {
	if initialCapacity <= 0 {
		initialCapacity = 8
	}
	return &Graph{
		name:     name,
		nodes:    make([]*Node, 0, initialCapacity),
		pool:     p,
		registry: registry,
	}
}

// Name returns the graph's debug name.
func (g *Graph) Name() string { return g.name }

// Pool returns the graph's backing pool.
func (g *Graph) Pool() *pool.Pool { return g.pool }

// IsSorted reports whether the graph's execution order is current.
func (g *Graph) IsSorted() bool { return g.isSorted }

// IsOptimized reports whether Optimize has run since the last mutation.
func (g *Graph) IsOptimized() bool { return g.isOpt }

// Nodes returns the graph's nodes in insertion order.
func (g *Graph) Nodes() []*Node { return append([]*Node(nil), g.nodes...) }

// AddNode adds n to the graph, invalidating the sort.
func (g *Graph) AddNode(n *Node) {
	g.nodes = append(g.nodes, n)
	if n.isInput {
		g.inputs = append(g.inputs, n)
	}
	if n.isOutput {
		g.outputs = append(g.outputs, n)
	}
	g.invalidate()
}

// RemoveNode removes n, disconnecting all incident edges first, per
// spec.md §4.4.
func (g *Graph) RemoveNode(n *Node) error {
	idx := g.indexOf(n)
	if idx == -1 {
		return errs.New("graph.RemoveNode", errs.InvalidParameter, nil)
	}
	for _, pred := range append([]*Node(nil), n.preds...) {
		_ = g.Disconnect(pred, n)
	}
	for _, succ := range append([]*Node(nil), n.succs...) {
		_ = g.Disconnect(n, succ)
	}
	g.nodes = append(g.nodes[:idx], g.nodes[idx+1:]...)
	g.inputs = removeNode(g.inputs, n)
	g.outputs = removeNode(g.outputs, n)
	g.invalidate()
	return nil
}

func removeNode(list []*Node, n *Node) []*Node {
	out := list[:0]
	for _, x := range list {
		if x != n {
			out = append(out, x)
		}
	}
	return out
}

func (g *Graph) indexOf(n *Node) int {
	for i, x := range g.nodes {
		if x == n {
			return i
		}
	}
	return -1
}

// Connect adds an edge src → dst, per spec.md §4.4.
func (g *Graph) Connect(src, dst *Node) error {
	if g.indexOf(src) == -1 || g.indexOf(dst) == -1 {
		return errs.New("graph.Connect", errs.InvalidParameter, nil)
	}
	src.succs = append(src.succs, dst)
	dst.preds = append(dst.preds, src)
	g.invalidate()
	return nil
}

// Disconnect removes the edge src → dst, if present.
func (g *Graph) Disconnect(src, dst *Node) error {
	src.succs = removeNode(src.succs, dst)
	dst.preds = removeNode(dst.preds, src)
	g.invalidate()
	return nil
}

func (g *Graph) invalidate() {
	g.isSorted = false
	g.isOpt = false
}

// Registry returns the operator registry nodes dispatch through.
func (g *Graph) Registry() *operator.Registry { return g.registry }

// OptimizeFlags selects which optimization passes Optimize runs.
type OptimizeFlags struct {
	FuseOperators      bool
	DeadCodeEliminate  bool
	ReorderMemoryAccess bool
}

// Optimize applies the requested passes, per spec.md §4.4. Individual
// passes may be no-ops in v1; the API is stable so policy layers can ask
// for them without a signature break later.
func (g *Graph) Optimize(flags OptimizeFlags) {
	if flags.DeadCodeEliminate {
		g.eliminateDeadNodes()
	}
	// FuseOperators and ReorderMemoryAccess: no fusable operator pairs or
	// access-reordering heuristic is defined yet; the flags are accepted
	// and recorded on isOpt so callers seeking stability never see a
	// changed call signature, per spec.md §4.4's "no-ops in v1" allowance.
	g.isOpt = true
	g.isSorted = false
}

// eliminateDeadNodes removes nodes with no path to any output node.
func (g *Graph) eliminateDeadNodes() {
	if len(g.outputs) == 0 {
		return
	}
	live := make(map[*Node]bool)
	var mark func(n *Node)
	mark = func(n *Node) {
		if live[n] {
			return
		}
		live[n] = true
		for _, p := range n.preds {
			mark(p)
		}
	}
	for _, out := range g.outputs {
		mark(out)
	}
	for _, n := range append([]*Node(nil), g.nodes...) {
		if !live[n] {
			_ = g.RemoveNode(n)
		}
	}
}
