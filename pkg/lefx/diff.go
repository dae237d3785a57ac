package lefx

import (
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

// SparseEntry is one (index, value) pair of a sparse-mask differential
// layer, for deltas whose magnitude exceeds the encoder's threshold.
type SparseEntry struct {
	Index int
	Value float64
}

// QuantizedDelta is a per-tensor-scaled differential layer: each stored
// level maps back to a float delta via scale and zero-point.
type QuantizedDelta struct {
	Scale     float64
	ZeroPoint float64
	Levels    []int32
}

// SameByteHash reports whether base and ext have identical raw bytes,
// using a cheap hash comparison instead of a full float compare. A true
// result means the layer is unchanged and should be omitted from the
// extension entirely, per spec's similarity-prefilter rule.
func SameByteHash(base, ext *tensor.Tensor) bool {
	return xxhash.Sum64(base.Bytes()) == xxhash.Sum64(ext.Bytes())
}

// SimilarityScore is a normalized cosine similarity between base and ext,
// used to pick a diff encoding when the cheap hash prefilter doesn't
// already prove equality.
func SimilarityScore(base, ext *tensor.Tensor) (float64, error) {
	if !base.SameShape(ext) {
		return 0, errs.New("lefx.SimilarityScore", errs.InvalidParameter, nil)
	}
	var dot, normBase, normExt float64
	err := walkBoth(base, ext, func(a, b float64) {
		dot += a * b
		normBase += a * a
		normExt += b * b
	})
	if err != nil {
		return 0, err
	}
	if normBase == 0 || normExt == 0 {
		if normBase == 0 && normExt == 0 {
			return 1, nil
		}
		return 0, nil
	}
	return dot / (math.Sqrt(normBase) * math.Sqrt(normExt)), nil
}

// walkBoth calls fn for every matching element pair of two same-shaped
// tensors, row-major. It is intentionally simple rather than reusing
// tensor's internal recursive walk, since it needs two tensors in lockstep.
func walkBoth(a, b *tensor.Tensor, fn func(x, y float64)) error {
	shape := a.Shape()
	idx := make([]int, len(shape))
	for {
		x, err := a.GetFloat(idx)
		if err != nil {
			return err
		}
		y, err := b.GetFloat(idx)
		if err != nil {
			return err
		}
		fn(x, y)

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < shape[pos] {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return nil
		}
	}
}

// EncodeWeightDelta stores the raw ext-base delta at full shape, for use
// when similarity is too low for sparse or quantized encodings to pay off.
func EncodeWeightDelta(base, ext *tensor.Tensor) (*tensor.Tensor, error) {
	neg, err := tensor.MulScalar(base, -1)
	if err != nil {
		return nil, err
	}
	return tensor.Add(ext, neg)
}

// DecodeWeightDelta reconstructs the effective tensor from a base and a
// weight-delta diff.
func DecodeWeightDelta(base, delta *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Add(base, delta)
}

// EncodeSparseMask returns only the (index, value) deltas whose magnitude
// exceeds threshold, row-major flat-indexed.
func EncodeSparseMask(base, ext *tensor.Tensor, threshold float64) ([]SparseEntry, error) {
	if !base.SameShape(ext) {
		return nil, errs.New("lefx.EncodeSparseMask", errs.InvalidParameter, nil)
	}
	var entries []SparseEntry
	flat := 0
	err := walkBoth(base, ext, func(a, b float64) {
		delta := b - a
		if math.Abs(delta) > threshold {
			entries = append(entries, SparseEntry{Index: flat, Value: delta})
		}
		flat++
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DecodeSparseMask applies sparse deltas onto a copy of base, addressing
// elements by their row-major flat index.
func DecodeSparseMask(base *tensor.Tensor, entries []SparseEntry) (*tensor.Tensor, error) {
	out, err := base.Copy()
	if err != nil {
		return nil, err
	}
	shape := out.Shape()
	for _, e := range entries {
		idx, err := unflatten(e.Index, shape)
		if err != nil {
			return nil, err
		}
		cur, err := out.GetFloat(idx)
		if err != nil {
			return nil, err
		}
		if err := out.SetFloat(idx, cur+e.Value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unflatten(flat int, shape []int) ([]int, error) {
	idx := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] <= 0 {
			return nil, errs.New("lefx.unflatten", errs.InvalidParameter, nil)
		}
		idx[i] = flat % shape[i]
		flat /= shape[i]
	}
	return idx, nil
}

// EncodeQuantizedDelta quantizes the ext-base delta to int32 levels with a
// single per-tensor scale and zero-point.
func EncodeQuantizedDelta(base, ext *tensor.Tensor) (QuantizedDelta, error) {
	if !base.SameShape(ext) {
		return QuantizedDelta{}, errs.New("lefx.EncodeQuantizedDelta", errs.InvalidParameter, nil)
	}
	var deltas []float64
	minV, maxV := math.Inf(1), math.Inf(-1)
	err := walkBoth(base, ext, func(a, b float64) {
		d := b - a
		deltas = append(deltas, d)
		if d < minV {
			minV = d
		}
		if d > maxV {
			maxV = d
		}
	})
	if err != nil {
		return QuantizedDelta{}, err
	}
	if maxV == minV {
		return QuantizedDelta{Scale: 1, ZeroPoint: minV, Levels: make([]int32, len(deltas))}, nil
	}
	const levels = 65535.0
	scale := (maxV - minV) / levels
	qd := QuantizedDelta{Scale: scale, ZeroPoint: minV, Levels: make([]int32, len(deltas))}
	for i, d := range deltas {
		qd.Levels[i] = int32(math.Round((d - minV) / scale))
	}
	return qd, nil
}

// DecodeQuantizedDelta reconstructs the effective tensor from base and a
// quantized delta.
func DecodeQuantizedDelta(base *tensor.Tensor, qd QuantizedDelta) (*tensor.Tensor, error) {
	out, err := base.Copy()
	if err != nil {
		return nil, err
	}
	shape := out.Shape()
	idx := make([]int, len(shape))
	flat := 0
	for {
		if flat >= len(qd.Levels) {
			return nil, errs.New("lefx.DecodeQuantizedDelta", errs.InvalidParameter, nil)
		}
		delta := qd.ZeroPoint + float64(qd.Levels[flat])*qd.Scale
		cur, err := out.GetFloat(idx)
		if err != nil {
			return nil, err
		}
		if err := out.SetFloat(idx, cur+delta); err != nil {
			return nil, err
		}
		flat++

		pos := len(idx) - 1
		for pos >= 0 {
			idx[pos]++
			if idx[pos] < shape[pos] {
				break
			}
			idx[pos] = 0
			pos--
		}
		if pos < 0 {
			return out, nil
		}
	}
}
