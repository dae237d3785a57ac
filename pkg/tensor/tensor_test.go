package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/libetude/pkg/pool"
)

func newPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.Create(1 << 20)
	require.NoError(t, err)
	return p
}

func fill2D(t *testing.T, p *pool.Pool, rows [][]float64) *Tensor {
	t.Helper()
	m, n := len(rows), len(rows[0])
	ten, err := Create(p, Float32, []int{m, n})
	require.NoError(t, err)
	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			require.NoError(t, ten.SetFloat([]int{i, j}, rows[i][j]))
		}
	}
	return ten
}

// S3 Tensor matmul.
func TestMatMul(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2}, {3, 4}})
	b := fill2D(t, p, [][]float64{{2, 3}, {4, 5}})

	out, err := MatMul(a, b)
	require.NoError(t, err)

	want := [][]float64{{10, 13}, {22, 29}}
	for i := range want {
		for j := range want[i] {
			v, err := out.GetFloat([]int{i, j})
			require.NoError(t, err)
			assert.InDelta(t, want[i][j], v, 1e-4)
		}
	}
}

// S4 Reductions.
func TestReductions(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2, 3}, {4, 5, 6}})

	sumAll, err := Sum(a, -1, false)
	require.NoError(t, err)
	v, err := sumAll.GetFloat([]int{0})
	require.NoError(t, err)
	assert.InDelta(t, 21, v, 1e-9)

	sumAxis0, err := Sum(a, 0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, sumAxis0.Shape())
	for j, want := range []float64{5, 7, 9} {
		v, err := sumAxis0.GetFloat([]int{j})
		require.NoError(t, err)
		assert.InDelta(t, want, v, 1e-9)
	}

	sumAxis1, err := Sum(a, 1, false)
	require.NoError(t, err)
	for i, want := range []float64{6, 15} {
		v, err := sumAxis1.GetFloat([]int{i})
		require.NoError(t, err)
		assert.InDelta(t, want, v, 1e-9)
	}

	meanAll, err := Mean(a, -1, false)
	require.NoError(t, err)
	v, err = meanAll.GetFloat([]int{0})
	require.NoError(t, err)
	assert.InDelta(t, 3.5, v, 1e-9)
}

// Tensor round-trip: reshape ∘ reshape⁻¹ preserves content; (Aᵀ)ᵀ = A.
func TestReshapeRoundTrip(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2, 3}, {4, 5, 6}})

	flat, err := a.Reshape([]int{6})
	require.NoError(t, err)
	back, err := flat.Reshape([]int{2, 3})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			orig, err := a.GetFloat([]int{i, j})
			require.NoError(t, err)
			got, err := back.GetFloat([]int{i, j})
			require.NoError(t, err)
			assert.Equal(t, orig, got)
		}
	}
}

func TestTransposeTwice(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2, 3}, {4, 5, 6}})

	tr, err := a.Transpose()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, tr.Shape())
	assert.False(t, tr.IsContiguous())

	back, err := tr.Transpose()
	require.NoError(t, err)
	assert.Equal(t, a.Shape(), back.Shape())

	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			orig, err := a.GetFloat([]int{i, j})
			require.NoError(t, err)
			got, err := back.GetFloat([]int{i, j})
			require.NoError(t, err)
			assert.Equal(t, orig, got)
		}
	}
}

func TestSumKeepdimsMatchesSqueeze(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2, 3}, {4, 5, 6}})

	kept, err := Sum(a, 1, true)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1}, kept.Shape())

	squeezed, err := kept.Squeeze(1)
	require.NoError(t, err)

	unkept, err := Sum(a, 1, false)
	require.NoError(t, err)
	assert.Equal(t, unkept.Shape(), squeezed.Shape())

	for i := 0; i < 2; i++ {
		v1, err := squeezed.GetFloat([]int{i})
		require.NoError(t, err)
		v2, err := unkept.GetFloat([]int{i})
		require.NoError(t, err)
		assert.Equal(t, v2, v1)
	}
}

func TestElementwiseShapeMismatchFails(t *testing.T) {
	p := newPool(t)
	a, err := Zeros(p, Float32, []int{2, 2})
	require.NoError(t, err)
	b, err := Zeros(p, Float32, []int{3, 3})
	require.NoError(t, err)

	_, err = Add(a, b)
	assert.Error(t, err)
}

func TestAddInplaceMutatesFirstOperand(t *testing.T) {
	p := newPool(t)
	a := fill2D(t, p, [][]float64{{1, 2}, {3, 4}})
	b := fill2D(t, p, [][]float64{{1, 1}, {1, 1}})

	out, err := AddInplace(a, b)
	require.NoError(t, err)
	assert.Same(t, a, out)

	v, err := a.GetFloat([]int{0, 0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestRefCountReleasesAtZero(t *testing.T) {
	p := newPool(t)
	a, err := Zeros(p, Float32, []int{4})
	require.NoError(t, err)

	view, err := a.Reshape([]int{2, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, a.RefCount())

	require.NoError(t, view.Release())
	assert.Equal(t, 1, a.RefCount())

	require.NoError(t, a.Release())
	assert.Equal(t, 0, a.RefCount())
}

func TestFloat16RoundTrip(t *testing.T) {
	p := newPool(t)
	a, err := Create(p, Float16, []int{3})
	require.NoError(t, err)

	values := []float64{0.5, -2.25, 10}
	for i, v := range values {
		require.NoError(t, a.SetFloat([]int{i}, v))
	}
	for i, want := range values {
		got, err := a.GetFloat([]int{i})
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.01)
	}
}

func TestBFloat16RoundTrip(t *testing.T) {
	p := newPool(t)
	a, err := Create(p, BFloat16, []int{3})
	require.NoError(t, err)

	values := []float64{0.5, -2.25, 100}
	for i, v := range values {
		require.NoError(t, a.SetFloat([]int{i}, v))
	}
	for i, want := range values {
		got, err := a.GetFloat([]int{i})
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.1)
	}
}

func TestBFloat16RetainsFloat32ExponentRange(t *testing.T) {
	// bfloat16's 8-bit exponent covers float32's full range, unlike
	// float16's 5-bit exponent which overflows to +Inf well before 1e30.
	// A value here would round-trip as +Inf through the float16 path.
	p := newPool(t)
	a, err := Create(p, BFloat16, []int{1})
	require.NoError(t, err)

	require.NoError(t, a.SetFloat([]int{0}, 1e30))
	got, err := a.GetFloat([]int{0})
	require.NoError(t, err)
	assert.False(t, math.IsInf(got, 1))
	assert.InEpsilon(t, 1e30, got, 0.02)
}
