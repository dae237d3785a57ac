package operator

import (
	"math"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

func basicBundle() []Operator {
	return []Operator{linearOperator(), conv1DOperator(), attentionOperator()}
}

func linearOperator() Operator {
	return Operator{
		Name:   "Linear",
		Create: attrsCreate[LinearAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(LinearAttrs)
			if !ok {
				return errs.New("operator.Linear.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) == 0 {
				return errs.New("operator.Linear.Forward", errs.InvalidParameter, nil)
			}
			x := inputs[0]
			if x.NDim() != 2 || x.Shape()[1] != attrs.In {
				return errs.New("operator.Linear.Forward", errs.InvalidParameter, nil)
			}

			wT, err := attrs.Weight.Transpose()
			if err != nil {
				return err
			}
			out, err := tensor.MatMul(x, wT)
			if err != nil {
				return err
			}
			if attrs.Bias != nil {
				if err := addBiasRows(out, attrs.Bias); err != nil {
					return err
				}
			}
			ctx.SetOutputs([]*tensor.Tensor{out})
			return nil
		},
		Destroy: noopDestroy,
	}
}

// addBiasRows adds a [out]-shaped bias to every row of a [batch,out]-shaped
// tensor in place. Elementwise ops require shape equality (spec.md §4.2),
// so row-broadcast bias addition is done directly here rather than through
// tensor.AddInplace.
func addBiasRows(out, bias *tensor.Tensor) error {
	shape := out.Shape()
	for i := 0; i < shape[0]; i++ {
		for j := 0; j < shape[1]; j++ {
			b, err := bias.GetFloat([]int{j})
			if err != nil {
				return err
			}
			v, err := out.GetFloat([]int{i, j})
			if err != nil {
				return err
			}
			if err := out.SetFloat([]int{i, j}, v+b); err != nil {
				return err
			}
		}
	}
	return nil
}

func conv1DOperator() Operator {
	return Operator{
		Name:   "Conv1D",
		Create: attrsCreate[Conv1DAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(Conv1DAttrs)
			if !ok {
				return errs.New("operator.Conv1D.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) == 0 {
				return errs.New("operator.Conv1D.Forward", errs.InvalidParameter, nil)
			}
			x := inputs[0] // shape [in_channels, length]
			shape := x.Shape()
			if len(shape) != 2 || shape[0] != attrs.InChannels {
				return errs.New("operator.Conv1D.Forward", errs.InvalidParameter, nil)
			}
			length := shape[1]
			outLength := (length+2*attrs.Padding-attrs.Dilation*(attrs.Kernel-1)-1)/attrs.Stride + 1
			if outLength <= 0 {
				return errs.New("operator.Conv1D.Forward", errs.InvalidParameter, nil)
			}

			out, err := tensor.Zeros(x.Pool(), x.DType(), []int{attrs.OutChannels, outLength})
			if err != nil {
				return err
			}

			for oc := 0; oc < attrs.OutChannels; oc++ {
				for t := 0; t < outLength; t++ {
					var acc float64
					base := t*attrs.Stride - attrs.Padding
					for ic := 0; ic < attrs.InChannels; ic++ {
						for k := 0; k < attrs.Kernel; k++ {
							pos := base + k*attrs.Dilation
							if pos < 0 || pos >= length {
								continue
							}
							xv, err := x.GetFloat([]int{ic, pos})
							if err != nil {
								return err
							}
							wv, err := attrs.Weight.GetFloat([]int{oc, ic, k})
							if err != nil {
								return err
							}
							acc += xv * wv
						}
					}
					if attrs.Bias != nil {
						b, err := attrs.Bias.GetFloat([]int{oc})
						if err != nil {
							return err
						}
						acc += b
					}
					if err := out.SetFloat([]int{oc, t}, acc); err != nil {
						return err
					}
				}
			}
			ctx.SetOutputs([]*tensor.Tensor{out})
			return nil
		},
		Destroy: noopDestroy,
	}
}

func attentionOperator() Operator {
	return Operator{
		Name:   "Attention",
		Create: attrsCreate[AttentionAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(AttentionAttrs)
			if !ok {
				return errs.New("operator.Attention.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) < 1 {
				return errs.New("operator.Attention.Forward", errs.InvalidParameter, nil)
			}
			q := inputs[0]
			kv := q
			if len(inputs) > 1 {
				kv = inputs[1]
			}

			proj := func(x, w, b *tensor.Tensor) (*tensor.Tensor, error) {
				wT, err := w.Transpose()
				if err != nil {
					return nil, err
				}
				out, err := tensor.MatMul(x, wT)
				if err != nil {
					return nil, err
				}
				if b != nil {
					if err := addBiasRows(out, b); err != nil {
						return nil, err
					}
				}
				return out, nil
			}

			Q, err := proj(q, attrs.Wq, attrs.Bq)
			if err != nil {
				return err
			}
			K, err := proj(kv, attrs.Wk, attrs.Bk)
			if err != nil {
				return err
			}
			V, err := proj(kv, attrs.Wv, attrs.Bv)
			if err != nil {
				return err
			}

			scores, err := scaledDotProduct(Q, K, attrs.EmbedDim)
			if err != nil {
				return err
			}
			if err := softmaxRows(scores); err != nil {
				return err
			}
			ctxVec, err := tensor.MatMul(scores, V)
			if err != nil {
				return err
			}
			out, err := proj(ctxVec, attrs.Wo, attrs.Bo)
			if err != nil {
				return err
			}
			ctx.SetOutputs([]*tensor.Tensor{out})
			return nil
		},
		Destroy: noopDestroy,
	}
}

func scaledDotProduct(q, k *tensor.Tensor, embedDim int) (*tensor.Tensor, error) {
	kT, err := k.Transpose()
	if err != nil {
		return nil, err
	}
	scores, err := tensor.MatMul(q, kT)
	if err != nil {
		return nil, err
	}
	scale := 1.0
	if embedDim > 0 {
		scale = 1.0 / math.Sqrt(float64(embedDim))
	}
	return tensor.MulScalarInplace(scores, scale)
}

func softmaxRows(t *tensor.Tensor) error {
	shape := t.Shape()
	for i := 0; i < shape[0]; i++ {
		max := math.Inf(-1)
		for j := 0; j < shape[1]; j++ {
			v, err := t.GetFloat([]int{i, j})
			if err != nil {
				return err
			}
			if v > max {
				max = v
			}
		}
		sum := 0.0
		exps := make([]float64, shape[1])
		for j := 0; j < shape[1]; j++ {
			v, err := t.GetFloat([]int{i, j})
			if err != nil {
				return err
			}
			e := math.Exp(v - max)
			exps[j] = e
			sum += e
		}
		for j := 0; j < shape[1]; j++ {
			if err := t.SetFloat([]int{i, j}, exps[j]/sum); err != nil {
				return err
			}
		}
	}
	return nil
}

func noopDestroy(ctx NodeContext) error {
	ctx.SetAttrs(nil)
	return nil
}

// attrsCreate builds a CreateFn that type-asserts attrs to T and stores a
// copy on the node, per spec.md §4.3's "attributes blob copied into the
// node" create contract.
func attrsCreate[T Attrs]() CreateFn {
	return func(ctx NodeContext, attrs Attrs) error {
		typed, ok := attrs.(T)
		if !ok {
			return errs.New("operator.Create", errs.InvalidParameter, nil)
		}
		ctx.SetAttrs(typed)
		return nil
	}
}
