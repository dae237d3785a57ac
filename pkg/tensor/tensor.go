package tensor

import (
	"encoding/binary"
	"math"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/pool"
)

// Tensor is an N-dimensional typed buffer backed by a pool allocation, per
// spec.md §3. Views created by Transpose/Permute/Reshape share the
// underlying data and a refcount with their parent.
type Tensor struct {
	name  string
	dtype DType
	shape []int
	// stride is measured in elements, not bytes (the teacher's vector
	// package works in typed slices throughout; the same convention
	// carries over here).
	stride []int

	p        *pool.Pool
	ptr      uintptr
	owns     bool
	refCount *int

	contiguous bool
}

// Create allocates a tensor of dtype and shape from p, per spec.md §4.2's
// create(pool, dtype, ndim, shape).
func Create(p *pool.Pool, dtype DType, shape []int) (*Tensor, error) {
	if p == nil || len(shape) == 0 {
		return nil, errs.New("tensor.Create", errs.InvalidParameter, nil)
	}
	for _, dim := range shape {
		if dim <= 0 {
			return nil, errs.New("tensor.Create", errs.InvalidParameter, nil)
		}
	}

	n := numel(shape)
	nbytes := dtype.PackedSize(n)
	ptr := p.Alloc(nbytes)
	if ptr == 0 {
		return nil, errs.New("tensor.Create", errs.OutOfMemory, nil)
	}

	refs := 1
	t := &Tensor{
		dtype:      dtype,
		shape:      append([]int(nil), shape...),
		stride:     contiguousStrides(shape),
		p:          p,
		ptr:        ptr,
		owns:       true,
		refCount:   &refs,
		contiguous: true,
	}
	return t, nil
}

// Zeros creates a tensor filled with zero.
func Zeros(p *pool.Pool, dtype DType, shape []int) (*Tensor, error) {
	t, err := Create(p, dtype, shape)
	if err != nil {
		return nil, err
	}
	return t, t.Fill(0)
}

// Ones creates a tensor filled with one.
func Ones(p *pool.Pool, dtype DType, shape []int) (*Tensor, error) {
	t, err := Create(p, dtype, shape)
	if err != nil {
		return nil, err
	}
	return t, t.Fill(1)
}

// Named creates a tensor and assigns it a debug name.
func Named(p *pool.Pool, dtype DType, shape []int, name string) (*Tensor, error) {
	t, err := Create(p, dtype, shape)
	if err != nil {
		return nil, err
	}
	t.name = name
	return t, nil
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func contiguousStrides(shape []int) []int {
	stride := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		stride[i] = acc
		acc *= shape[i]
	}
	return stride
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int { return append([]int(nil), t.shape...) }

// Stride returns a copy of the tensor's element strides.
func (t *Tensor) Stride() []int { return append([]int(nil), t.stride...) }

// DType returns the tensor's element type.
func (t *Tensor) DType() DType { return t.dtype }

// Pool returns the pool backing the tensor's storage.
func (t *Tensor) Pool() *pool.Pool { return t.p }

// Name returns the tensor's debug name.
func (t *Tensor) Name() string { return t.name }

// SetName sets the tensor's debug name.
func (t *Tensor) SetName(name string) { t.name = name }

// NDim returns the number of dimensions.
func (t *Tensor) NDim() int { return len(t.shape) }

// Size returns the total element count, ∏shape.
func (t *Tensor) Size() int { return numel(t.shape) }

// IsContiguous reports whether the tensor's layout is standard C-order.
func (t *Tensor) IsContiguous() bool { return t.contiguous }

// RefCount returns the tensor's current reference count.
func (t *Tensor) RefCount() int { return *t.refCount }

// Retain increments the tensor's reference count and returns it.
func (t *Tensor) Retain() *Tensor {
	*t.refCount++
	return t
}

// Release decrements the reference count, freeing the backing pool memory
// when it reaches zero and the tensor owns that memory (spec.md §3).
func (t *Tensor) Release() error {
	*t.refCount--
	if *t.refCount > 0 {
		return nil
	}
	if t.owns && t.ptr != 0 {
		return t.p.Free(t.ptr)
	}
	return nil
}

// SameShape reports whether t and other have identical shapes.
func (t *Tensor) SameShape(other *Tensor) bool {
	if len(t.shape) != len(other.shape) {
		return false
	}
	for i := range t.shape {
		if t.shape[i] != other.shape[i] {
			return false
		}
	}
	return true
}

// byteOffset returns the byte offset of the element at indices.
func (t *Tensor) byteOffset(indices []int) (int, error) {
	if len(indices) != len(t.shape) {
		return 0, errs.New("tensor.offset", errs.InvalidParameter, nil)
	}
	elemOffset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.shape[i] {
			return 0, errs.New("tensor.offset", errs.InvalidParameter, nil)
		}
		elemOffset += idx * t.stride[i]
	}
	return int(float64(elemOffset) * t.dtype.ItemSize()), nil
}

// bytes returns the tensor's full backing slice.
func (t *Tensor) bytes() []byte {
	return t.p.Bytes(t.ptr, t.dtype.PackedSize(numel(t.shape)))
}

// Bytes exposes the tensor's raw backing bytes, for callers that hash or
// checksum the whole buffer (e.g. a differential-layer similarity
// prefilter) rather than read it element by element.
func (t *Tensor) Bytes() []byte { return t.bytes() }

// GetFloat reads the element at indices as a float64, per spec.md §4.2.
func (t *Tensor) GetFloat(indices []int) (float64, error) {
	off, err := t.byteOffset(indices)
	if err != nil {
		return 0, err
	}
	buf := t.bytes()
	switch t.dtype {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))), nil
	case Float16:
		return float64(float16ToFloat32(binary.LittleEndian.Uint16(buf[off:]))), nil
	case BFloat16:
		return float64(bfloat16ToFloat32(binary.LittleEndian.Uint16(buf[off:]))), nil
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(buf[off:]))), nil
	case Int8:
		return float64(int8(buf[off])), nil
	default:
		return 0, errs.New("tensor.GetFloat", errs.InvalidParameter, nil)
	}
}

// SetFloat writes value to the element at indices, per spec.md §4.2.
func (t *Tensor) SetFloat(indices []int, value float64) error {
	off, err := t.byteOffset(indices)
	if err != nil {
		return err
	}
	buf := t.bytes()
	switch t.dtype {
	case Float32:
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(float32(value)))
	case Float16:
		binary.LittleEndian.PutUint16(buf[off:], float32ToFloat16(float32(value)))
	case BFloat16:
		binary.LittleEndian.PutUint16(buf[off:], float32ToBFloat16(float32(value)))
	case Int32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(value)))
	case Int8:
		buf[off] = byte(int8(value))
	default:
		return errs.New("tensor.SetFloat", errs.InvalidParameter, nil)
	}
	return nil
}

// Fill sets every element to scalar.
func (t *Tensor) Fill(scalar float64) error {
	idx := make([]int, len(t.shape))
	return t.walk(idx, 0, func(i []int) error {
		return t.SetFloat(i, scalar)
	})
}

// walk enumerates every index vector in row-major order, invoking fn.
func (t *Tensor) walk(idx []int, axis int, fn func([]int) error) error {
	if axis == len(t.shape) {
		cp := append([]int(nil), idx...)
		return fn(cp)
	}
	for i := 0; i < t.shape[axis]; i++ {
		idx[axis] = i
		if err := t.walk(idx, axis+1, fn); err != nil {
			return err
		}
	}
	return nil
}

// Copy returns a deep copy of t, allocated from the same pool.
func (t *Tensor) Copy() (*Tensor, error) {
	out, err := Create(t.p, t.dtype, t.shape)
	if err != nil {
		return nil, err
	}
	if t.contiguous && out.contiguous {
		copy(out.bytes(), t.bytes())
		return out, nil
	}
	idx := make([]int, len(t.shape))
	err = t.walk(idx, 0, func(i []int) error {
		v, err := t.GetFloat(i)
		if err != nil {
			return err
		}
		return out.SetFloat(i, v)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// view constructs a new Tensor header sharing t's data and refcount.
func (t *Tensor) view(shape, stride []int) *Tensor {
	t.Retain()
	return &Tensor{
		dtype:      t.dtype,
		shape:      shape,
		stride:     stride,
		p:          t.p,
		ptr:        t.ptr,
		owns:       false,
		refCount:   t.refCount,
		contiguous: isContiguous(shape, stride),
	}
}

func isContiguous(shape, stride []int) bool {
	expect := contiguousStrides(shape)
	for i := range stride {
		if stride[i] != expect[i] {
			return false
		}
	}
	return true
}

// Reshape returns a view with a new shape over the same element count. The
// tensor must be contiguous; spec.md §4.2 reserves non-contiguous reshape
// for a copying path callers can do explicitly via Copy().Reshape().
func (t *Tensor) Reshape(shape []int) (*Tensor, error) {
	if !t.contiguous {
		return nil, errs.New("tensor.Reshape", errs.InvalidParameter, nil)
	}
	if numel(shape) != t.Size() {
		return nil, errs.New("tensor.Reshape", errs.InvalidParameter, nil)
	}
	return t.view(append([]int(nil), shape...), contiguousStrides(shape)), nil
}

// Transpose returns a 2-D transposed view, per spec.md §4.2.
func (t *Tensor) Transpose() (*Tensor, error) {
	if len(t.shape) != 2 {
		return nil, errs.New("tensor.Transpose", errs.InvalidParameter, nil)
	}
	shape := []int{t.shape[1], t.shape[0]}
	stride := []int{t.stride[1], t.stride[0]}
	return t.view(shape, stride), nil
}

// Permute returns a view with axes reordered per axes (a permutation of
// 0..ndim-1).
func (t *Tensor) Permute(axes []int) (*Tensor, error) {
	if len(axes) != len(t.shape) {
		return nil, errs.New("tensor.Permute", errs.InvalidParameter, nil)
	}
	seen := make([]bool, len(axes))
	shape := make([]int, len(axes))
	stride := make([]int, len(axes))
	for i, ax := range axes {
		if ax < 0 || ax >= len(t.shape) || seen[ax] {
			return nil, errs.New("tensor.Permute", errs.InvalidParameter, nil)
		}
		seen[ax] = true
		shape[i] = t.shape[ax]
		stride[i] = t.stride[ax]
	}
	return t.view(shape, stride), nil
}

// ExpandDims returns a view with a size-1 axis inserted at axis.
func (t *Tensor) ExpandDims(axis int) (*Tensor, error) {
	if axis < 0 || axis > len(t.shape) {
		return nil, errs.New("tensor.ExpandDims", errs.InvalidParameter, nil)
	}
	shape := append(append(append([]int(nil), t.shape[:axis]...), 1), t.shape[axis:]...)
	var strideAt int
	if axis < len(t.stride) {
		strideAt = t.stride[axis]
	} else {
		strideAt = 1
	}
	stride := append(append(append([]int(nil), t.stride[:axis]...), strideAt), t.stride[axis:]...)
	return t.view(shape, stride), nil
}

// Squeeze removes a size-1 axis. axis=-1 removes every size-1 axis.
func (t *Tensor) Squeeze(axis int) (*Tensor, error) {
	var shape, stride []int
	if axis == -1 {
		for i, d := range t.shape {
			if d != 1 {
				shape = append(shape, d)
				stride = append(stride, t.stride[i])
			}
		}
	} else {
		if axis < 0 || axis >= len(t.shape) || t.shape[axis] != 1 {
			return nil, errs.New("tensor.Squeeze", errs.InvalidParameter, nil)
		}
		shape = append(append([]int(nil), t.shape[:axis]...), t.shape[axis+1:]...)
		stride = append(append([]int(nil), t.stride[:axis]...), t.stride[axis+1:]...)
	}
	if shape == nil {
		shape, stride = []int{}, []int{}
	}
	return t.view(shape, stride), nil
}
