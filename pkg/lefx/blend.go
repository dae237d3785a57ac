package lefx

import (
	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

// Blend combines base and ext pointwise according to mode, per spec's
// blend-mode table. weight is the layer's BlendWeight, used by
// Interpolate; weight2 is only consulted by WeightedSum.
func Blend(mode BlendMode, base, ext *tensor.Tensor, weight, weight2 float64) (*tensor.Tensor, error) {
	switch mode {
	case BlendReplace:
		return ext.Copy()
	case BlendAdd:
		return tensor.Add(base, ext)
	case BlendMultiply:
		return tensor.Mul(base, ext)
	case BlendInterpolate:
		return weightedSum(base, ext, 1-weight, weight)
	case BlendWeightedSum:
		return weightedSum(base, ext, weight, weight2)
	default:
		return nil, errs.New("lefx.Blend", errs.InvalidParameter, nil)
	}
}

func weightedSum(base, ext *tensor.Tensor, w1, w2 float64) (*tensor.Tensor, error) {
	scaledBase, err := tensor.MulScalar(base, w1)
	if err != nil {
		return nil, err
	}
	scaledExt, err := tensor.MulScalar(ext, w2)
	if err != nil {
		return nil, err
	}
	return tensor.Add(scaledBase, scaledExt)
}
