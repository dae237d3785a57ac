package tensor

import (
	"math"

	"github.com/orneryd/libetude/pkg/errs"
)

// binaryOp applies fn(a,b) elementwise into a newly allocated output tensor.
// a and b must have identical shapes, per spec.md §4.2: "elementwise ops
// require shape equality (no broadcasting in the core)".
func binaryOp(a, b *Tensor, fn func(x, y float64) float64) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, errs.New("tensor.binaryOp", errs.InvalidParameter, nil)
	}
	out, err := Create(a.p, a.dtype, a.shape)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(a.shape))
	err = a.walk(idx, 0, func(i []int) error {
		av, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		bv, err := b.GetFloat(i)
		if err != nil {
			return err
		}
		return out.SetFloat(i, fn(av, bv))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// binaryOpInplace is binaryOp's in-place counterpart: the result is written
// back into a, which is returned, per spec.md §4.2's "_inplace forms that
// mutate the first operand and return it".
func binaryOpInplace(a, b *Tensor, fn func(x, y float64) float64) (*Tensor, error) {
	if !a.SameShape(b) {
		return nil, errs.New("tensor.binaryOpInplace", errs.InvalidParameter, nil)
	}
	idx := make([]int, len(a.shape))
	err := a.walk(idx, 0, func(i []int) error {
		av, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		bv, err := b.GetFloat(i)
		if err != nil {
			return err
		}
		return a.SetFloat(i, fn(av, bv))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func unaryOp(a *Tensor, fn func(x float64) float64) (*Tensor, error) {
	out, err := Create(a.p, a.dtype, a.shape)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(a.shape))
	err = a.walk(idx, 0, func(i []int) error {
		av, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		return out.SetFloat(i, fn(av))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func unaryOpInplace(a *Tensor, fn func(x float64) float64) (*Tensor, error) {
	idx := make([]int, len(a.shape))
	err := a.walk(idx, 0, func(i []int) error {
		av, err := a.GetFloat(i)
		if err != nil {
			return err
		}
		return a.SetFloat(i, fn(av))
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func scalarOp(a *Tensor, scalar float64, fn func(x, s float64) float64) (*Tensor, error) {
	return unaryOp(a, func(x float64) float64 { return fn(x, scalar) })
}

func scalarOpInplace(a *Tensor, scalar float64, fn func(x, s float64) float64) (*Tensor, error) {
	return unaryOpInplace(a, func(x float64) float64 { return fn(x, scalar) })
}

// Add returns a+b elementwise.
func Add(a, b *Tensor) (*Tensor, error) { return binaryOp(a, b, func(x, y float64) float64 { return x + y }) }

// AddInplace computes a += b, returning a.
func AddInplace(a, b *Tensor) (*Tensor, error) {
	return binaryOpInplace(a, b, func(x, y float64) float64 { return x + y })
}

// Mul returns a*b elementwise.
func Mul(a, b *Tensor) (*Tensor, error) { return binaryOp(a, b, func(x, y float64) float64 { return x * y }) }

// MulInplace computes a *= b, returning a.
func MulInplace(a, b *Tensor) (*Tensor, error) {
	return binaryOpInplace(a, b, func(x, y float64) float64 { return x * y })
}

// AddScalar returns a+scalar elementwise.
func AddScalar(a *Tensor, scalar float64) (*Tensor, error) {
	return scalarOp(a, scalar, func(x, s float64) float64 { return x + s })
}

// AddScalarInplace computes a += scalar, returning a.
func AddScalarInplace(a *Tensor, scalar float64) (*Tensor, error) {
	return scalarOpInplace(a, scalar, func(x, s float64) float64 { return x + s })
}

// MulScalar returns a*scalar elementwise.
func MulScalar(a *Tensor, scalar float64) (*Tensor, error) {
	return scalarOp(a, scalar, func(x, s float64) float64 { return x * s })
}

// MulScalarInplace computes a *= scalar, returning a.
func MulScalarInplace(a *Tensor, scalar float64) (*Tensor, error) {
	return scalarOpInplace(a, scalar, func(x, s float64) float64 { return x * s })
}

// Abs returns |a| elementwise.
func Abs(a *Tensor) (*Tensor, error) { return unaryOp(a, math.Abs) }

// AbsInplace computes a = |a|, returning a.
func AbsInplace(a *Tensor) (*Tensor, error) { return unaryOpInplace(a, math.Abs) }

// Square returns a*a elementwise.
func Square(a *Tensor) (*Tensor, error) { return unaryOp(a, func(x float64) float64 { return x * x }) }

// SquareInplace computes a = a*a, returning a.
func SquareInplace(a *Tensor) (*Tensor, error) {
	return unaryOpInplace(a, func(x float64) float64 { return x * x })
}

// Sqrt returns sqrt(a) elementwise.
func Sqrt(a *Tensor) (*Tensor, error) { return unaryOp(a, math.Sqrt) }

// SqrtInplace computes a = sqrt(a), returning a.
func SqrtInplace(a *Tensor) (*Tensor, error) { return unaryOpInplace(a, math.Sqrt) }

// Exp returns exp(a) elementwise.
func Exp(a *Tensor) (*Tensor, error) { return unaryOp(a, math.Exp) }

// ExpInplace computes a = exp(a), returning a.
func ExpInplace(a *Tensor) (*Tensor, error) { return unaryOpInplace(a, math.Exp) }

// Log returns log(a) elementwise.
func Log(a *Tensor) (*Tensor, error) { return unaryOp(a, math.Log) }

// LogInplace computes a = log(a), returning a.
func LogInplace(a *Tensor) (*Tensor, error) { return unaryOpInplace(a, math.Log) }
