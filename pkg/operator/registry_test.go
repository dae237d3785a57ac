package operator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/libetude/pkg/pool"
	"github.com/orneryd/libetude/pkg/tensor"
)

// fakeNode is a minimal NodeContext for registry/operator tests, standing
// in for pkg/graph.Node without introducing an import cycle.
type fakeNode struct {
	inputs  []*tensor.Tensor
	outputs []*tensor.Tensor
	attrs   Attrs
}

func (n *fakeNode) Inputs() []*tensor.Tensor         { return n.inputs }
func (n *fakeNode) Outputs() []*tensor.Tensor        { return n.outputs }
func (n *fakeNode) SetOutputs(o []*tensor.Tensor)    { n.outputs = o }
func (n *fakeNode) Attrs() Attrs                     { return n.attrs }
func (n *fakeNode) SetAttrs(a Attrs)                 { n.attrs = a }

func TestRegisterIsIdempotentByName(t *testing.T) {
	r := NewRegistry(4)
	op := Operator{Name: "noop", Forward: func(NodeContext) error { return nil }}
	require.NoError(t, r.Register(op))
	assert.Error(t, r.Register(op))
}

func TestFindReturnsNilForUnknown(t *testing.T) {
	r := NewRegistry(4)
	assert.Nil(t, r.Find("missing"))
}

func TestRegisterBasicAndAudioBundles(t *testing.T) {
	r := NewRegistry(4)
	require.NoError(t, r.RegisterBasicBundle())
	require.NoError(t, r.RegisterAudioBundle())

	for _, name := range []string{"Linear", "Conv1D", "Attention", "STFT", "MelScale", "Vocoder"} {
		assert.NotNil(t, r.Find(name), "expected %s registered", name)
	}
	assert.Equal(t, 6, r.Len())
}

func TestLinearForward(t *testing.T) {
	p, err := pool.Create(1 << 20)
	require.NoError(t, err)

	weight, err := tensor.Create(p, tensor.Float32, []int{2, 3})
	require.NoError(t, err)
	vals := [][]float64{{1, 0, 0}, {0, 1, 0}}
	for i := range vals {
		for j := range vals[i] {
			require.NoError(t, weight.SetFloat([]int{i, j}, vals[i][j]))
		}
	}

	x, err := tensor.Create(p, tensor.Float32, []int{1, 3})
	require.NoError(t, err)
	for j, v := range []float64{1, 2, 3} {
		require.NoError(t, x.SetFloat([]int{0, j}, v))
	}

	r := NewRegistry(4)
	require.NoError(t, r.RegisterBasicBundle())
	linear := r.Find("Linear")
	require.NotNil(t, linear)

	node := &fakeNode{inputs: []*tensor.Tensor{x}}
	require.NoError(t, linear.Create(node, LinearAttrs{In: 3, Out: 2, Weight: weight}))
	require.NoError(t, linear.Forward(node))

	out := node.Outputs()[0]
	assert.Equal(t, []int{1, 2}, out.Shape())
	v0, err := out.GetFloat([]int{0, 0})
	require.NoError(t, err)
	v1, err := out.GetFloat([]int{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v0, 1e-6)
	assert.InDelta(t, 2.0, v1, 1e-6)
}
