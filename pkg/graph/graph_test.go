package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/libetude/pkg/operator"
	"github.com/orneryd/libetude/pkg/pool"
	"github.com/orneryd/libetude/pkg/tensor"
)

func newTestPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Create(1 << 20)
	require.NoError(t, err)
	return p
}

func newRegistry(t *testing.T) *operator.Registry {
	t.Helper()
	r := operator.NewRegistry(8)
	require.NoError(t, r.RegisterBasicBundle())
	require.NoError(t, r.RegisterAudioBundle())
	return r
}

func identityWeight(t *testing.T, p *pool.Pool, n int) *tensor.Tensor {
	t.Helper()
	w, err := tensor.Zeros(p, tensor.Float32, []int{n, n})
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.SetFloat([]int{i, i}, 1))
	}
	return w
}

// S5 Graph execute: input -> Linear -> Attention -> output, with a second
// input feeding Attention.
func TestGraphExecuteOrdering(t *testing.T) {
	p := newTestPool(t)
	r := newRegistry(t)
	g := New("tts", p, r, 8)

	x, err := tensor.Create(p, tensor.Float32, []int{1, 4})
	require.NoError(t, err)
	require.NoError(t, x.Fill(1))

	inNode := NewNode("x", "", nil)
	inNode.MarkInput()
	g.AddNode(inNode)

	linear := r.Find("Linear")
	linearNode := NewNode("linear", "Linear", nil)
	require.NoError(t, linear.Create(linearNode, operator.LinearAttrs{In: 4, Out: 4, Weight: identityWeight(t, p, 4)}))
	g.AddNode(linearNode)

	attention := r.Find("Attention")
	attnNode := NewNode("attn", "Attention", nil)
	require.NoError(t, attention.Create(attnNode, operator.AttentionAttrs{
		EmbedDim: 4, NumHeads: 1,
		Wq: identityWeight(t, p, 4), Wk: identityWeight(t, p, 4),
		Wv: identityWeight(t, p, 4), Wo: identityWeight(t, p, 4),
	}))
	attnNode.MarkOutput()
	g.AddNode(attnNode)

	second, err := tensor.Zeros(p, tensor.Float32, []int{1, 4})
	require.NoError(t, err)
	secondInput := NewNode("kv", "", nil)
	secondInput.MarkInput()
	g.AddNode(secondInput)

	require.NoError(t, g.Connect(inNode, linearNode))
	require.NoError(t, g.Connect(linearNode, attnNode))
	require.NoError(t, g.Connect(secondInput, attnNode))

	require.NoError(t, g.TopologicalSort())
	assert.Less(t, linearNode.ExecutionOrder(), attnNode.ExecutionOrder())
	assert.Less(t, attnNode.ExecutionOrder(), len(g.order))

	outputs := map[string]*tensor.Tensor{}
	err = g.Execute(context.Background(), map[string]*tensor.Tensor{"x": x, "kv": second}, outputs)
	require.NoError(t, err)

	assert.Equal(t, Completed, linearNode.State())
	assert.Equal(t, Completed, attnNode.State())
	out := outputs["attn"]
	require.NotNil(t, out)
	assert.Equal(t, []int{1, 4}, out.Shape())
}

func buildLinearChain(t *testing.T, p *pool.Pool, r *operator.Registry, n int) *Graph {
	t.Helper()
	g := New("chain", p, r, n+1)

	in := NewNode("in", "", nil)
	in.MarkInput()
	g.AddNode(in)

	linear := r.Find("Linear")
	weight := identityWeight(t, p, 2)

	prev := in
	for i := 0; i < n; i++ {
		node := NewNode("l"+string(rune('a'+i)), "Linear", nil)
		require.NoError(t, linear.Create(node, operator.LinearAttrs{In: 2, Out: 2, Weight: weight}))
		if i == n-1 {
			node.MarkOutput()
		}
		g.AddNode(node)
		require.NoError(t, g.Connect(prev, node))
		prev = node
	}
	return g
}

func TestTopologicalCorrectness(t *testing.T) {
	p := newTestPool(t)
	r := newRegistry(t)
	g := buildLinearChain(t, p, r, 6)

	require.NoError(t, g.TopologicalSort())
	order := g.Order()
	position := make(map[*Node]int, len(order))
	for i, n := range order {
		position[n] = i
	}
	for _, n := range order {
		for _, pred := range n.Predecessors() {
			assert.Less(t, position[pred], position[n])
		}
	}
}

func TestCyclicGraphFailsSort(t *testing.T) {
	p := newTestPool(t)
	r := newRegistry(t)
	g := New("cyclic", p, r, 4)

	a := NewNode("a", "Linear", nil)
	b := NewNode("b", "Linear", nil)
	g.AddNode(a)
	g.AddNode(b)
	require.NoError(t, g.Connect(a, b))
	require.NoError(t, g.Connect(b, a))

	err := g.TopologicalSort()
	assert.Error(t, err)
	assert.True(t, g.HasCycle())
}

// Parallel execution must match sequential execution bit-for-bit for pure
// operators, per spec.md §8 property 6.
func TestParallelMatchesSequential(t *testing.T) {
	r := newRegistry(t)

	pSeq := newTestPool(t)
	gSeq := buildLinearChain(t, pSeq, r, 8)
	xSeq, err := tensor.Create(pSeq, tensor.Float32, []int{1, 2})
	require.NoError(t, err)
	require.NoError(t, xSeq.Fill(3))

	require.NoError(t, gSeq.TopologicalSort())
	_, ltSeq := gSeq.planMemory()
	gSeq.resetStates()
	require.NoError(t, gSeq.bindInputs(map[string]*tensor.Tensor{"in": xSeq}))
	require.NoError(t, gSeq.runSequential(context.Background(), ltSeq))
	outSeq := map[string]*tensor.Tensor{}
	require.NoError(t, gSeq.bindOutputs(outSeq))

	pPar := newTestPool(t)
	gPar := buildLinearChain(t, pPar, r, 8)
	xPar, err := tensor.Create(pPar, tensor.Float32, []int{1, 2})
	require.NoError(t, err)
	require.NoError(t, xPar.Fill(3))

	require.NoError(t, gPar.TopologicalSort())
	outPar := map[string]*tensor.Tensor{}
	require.NoError(t, gPar.ExecuteParallelExplicit(context.Background(), map[string]*tensor.Tensor{"in": xPar}, outPar, 4))

	seqVal, err := outSeq["lh"].GetFloat([]int{0, 0})
	require.NoError(t, err)
	parVal, err := outPar["lh"].GetFloat([]int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, seqVal, parVal)
}

func TestExecuteCancelsOnContext(t *testing.T) {
	p := newTestPool(t)
	r := newRegistry(t)
	g := buildLinearChain(t, p, r, 10)

	x, err := tensor.Create(p, tensor.Float32, []int{1, 2})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = g.Execute(ctx, map[string]*tensor.Tensor{"in": x}, map[string]*tensor.Tensor{})
	assert.Error(t, err)
}

func TestOptimizeDeadCodeElimination(t *testing.T) {
	p := newTestPool(t)
	r := newRegistry(t)
	g := buildLinearChain(t, p, r, 3)

	orphan := NewNode("orphan", "Linear", nil)
	require.NoError(t, r.Find("Linear").Create(orphan, operator.LinearAttrs{In: 2, Out: 2, Weight: identityWeight(t, p, 2)}))
	g.AddNode(orphan)

	before := len(g.Nodes())
	g.Optimize(OptimizeFlags{DeadCodeEliminate: true})
	assert.Less(t, len(g.Nodes()), before)
	assert.True(t, g.IsOptimized())
}
