package graph

import (
	"context"
	"runtime"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

// ParallelThreshold is the node count above which Execute picks the
// parallel runner over the sequential one, per spec.md §4.4.
const ParallelThreshold = 4

// Execute is the graph's main entry point, per spec.md §4.4's algorithm:
// sort if needed, plan memory, bind inputs, then dispatch to the
// sequential or parallel runner depending on node count.
func (g *Graph) Execute(ctx context.Context, inputs map[string]*tensor.Tensor, outputs map[string]*tensor.Tensor) error {
	if !g.isSorted {
		if err := g.TopologicalSort(); err != nil {
			return err
		}
	}
	_, lifetimes := g.planMemory()

	g.resetStates()
	if err := g.bindInputs(inputs); err != nil {
		return err
	}

	var err error
	if len(g.nodes) > ParallelThreshold {
		err = g.runParallel(ctx, lifetimes, 0)
	} else {
		err = g.runSequential(ctx, lifetimes)
	}
	if err != nil {
		return err
	}

	return g.bindOutputs(outputs)
}

// ExecuteUntilNode runs in topo order and stops after target, per
// spec.md §4.4.
func (g *Graph) ExecuteUntilNode(ctx context.Context, target *Node, inputs map[string]*tensor.Tensor) error {
	if !g.isSorted {
		if err := g.TopologicalSort(); err != nil {
			return err
		}
	}
	g.resetStates()
	if err := g.bindInputs(inputs); err != nil {
		return err
	}

	for _, n := range g.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := g.runNode(n); err != nil {
			return err
		}
		if n == target {
			return nil
		}
	}
	return nil
}

// ExecuteParallelExplicit forces the parallel runner with numThreads
// workers, per spec.md §4.4.
func (g *Graph) ExecuteParallelExplicit(ctx context.Context, inputs map[string]*tensor.Tensor, outputs map[string]*tensor.Tensor, numThreads int) error {
	if !g.isSorted {
		if err := g.TopologicalSort(); err != nil {
			return err
		}
	}
	_, lifetimes := g.planMemory()

	g.resetStates()
	if err := g.bindInputs(inputs); err != nil {
		return err
	}
	if err := g.runParallel(ctx, lifetimes, numThreads); err != nil {
		return err
	}
	return g.bindOutputs(outputs)
}

func (g *Graph) resetStates() {
	for _, n := range g.nodes {
		n.state = Ready
	}
}

func (g *Graph) bindInputs(inputs map[string]*tensor.Tensor) error {
	for _, n := range g.inputs {
		t, ok := inputs[n.name]
		if !ok {
			return errs.New("graph.bindInputs", errs.InvalidParameter, nil)
		}
		n.SetOutputs([]*tensor.Tensor{t})
		n.state = Completed
	}
	return nil
}

func (g *Graph) bindOutputs(outputs map[string]*tensor.Tensor) error {
	for _, n := range g.outputs {
		if len(n.outputs) == 0 {
			return errs.New("graph.bindOutputs", errs.Runtime, nil)
		}
		outputs[n.name] = n.outputs[0]
	}
	return nil
}

// runNode invokes a single node's operator forward function, per
// spec.md §4.4's sequential-runner step.
func (g *Graph) runNode(n *Node) error {
	if n.isInput {
		n.state = Completed
		return nil
	}
	op := g.registry.Find(n.opType)
	if op == nil || op.Forward == nil {
		n.state = Error
		return errs.New("graph.runNode", errs.Runtime, nil)
	}
	n.state = Running
	if len(n.preds) > 0 {
		n.bindInputsFromPredecessors()
	}
	if err := op.Forward(n); err != nil {
		n.state = Error
		return err
	}
	n.state = Completed
	return nil
}

func workerCount(requested int) int {
	if requested > 0 {
		return requested
	}
	n := runtime.NumCPU()
	if n > 8 {
		n = 8
	}
	if n < 1 {
		n = 1
	}
	return n
}
