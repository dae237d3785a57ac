package tensor

import "github.com/orneryd/libetude/pkg/errs"

// MatMul computes the matrix product of two 2-D tensors, per spec.md §4.2:
// (m×k)·(k×n) → (m×n). Higher-rank matmul is reserved (Non-goal).
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		return nil, errs.New("tensor.MatMul", errs.InvalidParameter, nil)
	}
	m, k := a.shape[0], a.shape[1]
	k2, n := b.shape[0], b.shape[1]
	if k != k2 {
		return nil, errs.New("tensor.MatMul", errs.InvalidParameter, nil)
	}

	out, err := Create(a.p, a.dtype, []int{m, n})
	if err != nil {
		return nil, err
	}

	for i := 0; i < m; i++ {
		for j := 0; j < n; j++ {
			var acc float64
			for kk := 0; kk < k; kk++ {
				av, err := a.GetFloat([]int{i, kk})
				if err != nil {
					return nil, err
				}
				bv, err := b.GetFloat([]int{kk, j})
				if err != nil {
					return nil, err
				}
				acc += av * bv
			}
			if err := out.SetFloat([]int{i, j}, acc); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
