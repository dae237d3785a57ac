package tensor

import "github.com/orneryd/libetude/pkg/errs"

// reduceOp is one of sum/mean/max/min's accumulation strategies.
type reduceOp int

const (
	reduceSum reduceOp = iota
	reduceMean
	reduceMax
	reduceMin
)

// reduce collapses a along axis (or the whole tensor, if axis == -1) using
// op, per spec.md §4.2: "reductions with axis = −1 collapse to a 1-D
// single-element tensor". keepdims preserves the reduced axis with extent 1.
func reduce(a *Tensor, axis int, keepdims bool, op reduceOp) (*Tensor, error) {
	if axis == -1 {
		return reduceAll(a, keepdims, op)
	}
	if axis < 0 || axis >= len(a.shape) {
		return nil, errs.New("tensor.reduce", errs.InvalidParameter, nil)
	}

	outShape := make([]int, 0, len(a.shape))
	for i, d := range a.shape {
		if i == axis {
			if keepdims {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}

	out, err := Create(a.p, a.dtype, outShape)
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(a.shape))
	acc := make(map[string]accumulator)

	err = a.walk(idx, 0, func(i []int) error {
		v, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		key := outIndexKey(i, axis, keepdims)
		cur := acc[key]
		cur.add(v, op)
		acc[key] = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	outIdx := make([]int, len(outShape))
	err = out.walk(outIdx, 0, func(i []int) error {
		key := keyOf(i)
		return out.SetFloat(i, acc[key].result(op))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// accumulator folds one reduction's running state.
type accumulator struct {
	sum   float64
	count int
	max   float64
	min   float64
	first bool
}

func (a *accumulator) add(v float64, op reduceOp) {
	a.sum += v
	a.count++
	if !a.first {
		a.max, a.min, a.first = v, v, true
		return
	}
	if v > a.max {
		a.max = v
	}
	if v < a.min {
		a.min = v
	}
}

func (a accumulator) result(op reduceOp) float64 {
	switch op {
	case reduceSum:
		return a.sum
	case reduceMean:
		if a.count == 0 {
			return 0
		}
		return a.sum / float64(a.count)
	case reduceMax:
		return a.max
	case reduceMin:
		return a.min
	default:
		return 0
	}
}

func outIndexKey(fullIdx []int, axis int, keepdims bool) string {
	out := make([]int, 0, len(fullIdx))
	for i, v := range fullIdx {
		if i == axis {
			if keepdims {
				out = append(out, 0)
			}
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		out = []int{0}
	}
	return keyOf(out)
}

func keyOf(idx []int) string {
	b := make([]byte, 0, len(idx)*4)
	for _, v := range idx {
		b = append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
	return string(b)
}

func reduceAll(a *Tensor, keepdims bool, op reduceOp) (*Tensor, error) {
	shape := []int{1}
	if keepdims {
		shape = make([]int, len(a.shape))
		for i := range shape {
			shape[i] = 1
		}
	}
	out, err := Create(a.p, a.dtype, shape)
	if err != nil {
		return nil, err
	}

	var acc accumulator
	idx := make([]int, len(a.shape))
	err = a.walk(idx, 0, func(i []int) error {
		v, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		acc.add(v, op)
		return nil
	})
	if err != nil {
		return nil, err
	}

	outIdx := make([]int, len(shape))
	return out, out.SetFloat(outIdx, acc.result(op))
}

// Sum reduces a along axis (-1 for all axes).
func Sum(a *Tensor, axis int, keepdims bool) (*Tensor, error) { return reduce(a, axis, keepdims, reduceSum) }

// Mean reduces a along axis (-1 for all axes).
func Mean(a *Tensor, axis int, keepdims bool) (*Tensor, error) { return reduce(a, axis, keepdims, reduceMean) }

// Max reduces a along axis (-1 for all axes).
func Max(a *Tensor, axis int, keepdims bool) (*Tensor, error) { return reduce(a, axis, keepdims, reduceMax) }

// Min reduces a along axis (-1 for all axes).
func Min(a *Tensor, axis int, keepdims bool) (*Tensor, error) { return reduce(a, axis, keepdims, reduceMin) }
