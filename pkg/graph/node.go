// Package graph implements the DAG of operator nodes, topological
// scheduling, and sequential/parallel runners, per spec.md §4.4.
package graph

import (
	"github.com/orneryd/libetude/pkg/operator"
	"github.com/orneryd/libetude/pkg/tensor"
)

// State is a node's execution state, per spec.md §3.
type State int

const (
	Ready State = iota
	Running
	Completed
	Error
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Node is one vertex of the graph, per spec.md §3. It implements
// operator.NodeContext so an Operator's lifecycle functions can read its
// inputs and write its outputs without pkg/operator depending on pkg/graph.
type Node struct {
	name   string
	opType string

	inputs  []*tensor.Tensor
	outputs []*tensor.Tensor
	attrs   operator.Attrs

	preds []*Node
	succs []*Node

	state          State
	executionOrder int

	isInput  bool
	isOutput bool
}

// NewNode creates a node of opType with the given inputs. Its attributes
// are set separately via the operator's Create.
func NewNode(name, opType string, inputs []*tensor.Tensor) *Node {
	return &Node{
		name:           name,
		opType:         opType,
		inputs:         inputs,
		state:          Ready,
		executionOrder: -1,
	}
}

func (n *Node) Name() string   { return n.name }
func (n *Node) OpType() string { return n.opType }

func (n *Node) Inputs() []*tensor.Tensor      { return n.inputs }
func (n *Node) Outputs() []*tensor.Tensor     { return n.outputs }
func (n *Node) SetOutputs(o []*tensor.Tensor) { n.outputs = o }
func (n *Node) Attrs() operator.Attrs         { return n.attrs }
func (n *Node) SetAttrs(a operator.Attrs)     { n.attrs = a }

func (n *Node) State() State             { return n.state }
func (n *Node) ExecutionOrder() int      { return n.executionOrder }
func (n *Node) IsInput() bool            { return n.isInput }
func (n *Node) IsOutput() bool           { return n.isOutput }
func (n *Node) MarkInput()               { n.isInput = true }
func (n *Node) MarkOutput()              { n.isOutput = true }
func (n *Node) Predecessors() []*Node    { return n.preds }
func (n *Node) Successors() []*Node      { return n.succs }

// bindInputsFromPredecessors resolves a non-input node's operand tensors
// from its predecessors' first output slot, in predecessor order. Runs
// just before forward dispatch (spec.md §4.4's execution algorithm), since
// a predecessor's output doesn't exist until its own forward has run.
func (n *Node) bindInputsFromPredecessors() {
	ins := make([]*tensor.Tensor, 0, len(n.preds))
	for _, pred := range n.preds {
		if len(pred.outputs) > 0 {
			ins = append(ins, pred.outputs[0])
		}
	}
	n.inputs = ins
}
