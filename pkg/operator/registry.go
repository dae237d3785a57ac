package operator

import (
	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

// NodeContext is the minimal view of a graph node an operator's lifecycle
// functions need. pkg/graph.Node implements it; defining the interface here
// instead of depending on pkg/graph keeps the dependency direction
// leaves-first, per spec.md §2's component ordering.
type NodeContext interface {
	Inputs() []*tensor.Tensor
	Outputs() []*tensor.Tensor
	SetOutputs([]*tensor.Tensor)
	Attrs() Attrs
	SetAttrs(Attrs)
}

// CreateFn initializes a node's attributes, copying attrs into the node
// (the node owns the copy afterward), per spec.md §4.3.
type CreateFn func(ctx NodeContext, attrs Attrs) error

// ForwardFn reads node inputs, writes node outputs.
type ForwardFn func(ctx NodeContext) error

// BackwardFn would run a node's gradient pass. No operator in this package
// implements it: backprop is a Non-goal (spec.md §1), but the slot exists
// so the registry's shape matches the original design.
type BackwardFn func(ctx NodeContext) error

// DestroyFn releases a node's attributes blob.
type DestroyFn func(ctx NodeContext) error

// Operator is a named bundle of lifecycle functions, per spec.md §3.
// Operators are plain value types; ownership of weight tensors remains
// external (Create/Destroy never free weight tensors, per spec.md §4.3).
type Operator struct {
	Name     string
	Create   CreateFn
	Forward  ForwardFn
	Backward BackwardFn // nil unless a caller-registered operator wants one
	Destroy  DestroyFn
}

// Registry is a name→Operator table, per spec.md §4.3: "dynamic-grow array
// with linear scan (n typically < 100)".
type Registry struct {
	ops []Operator
}

// NewRegistry creates a registry with room for capacity operators before
// its first grow.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 8
	}
	return &Registry{ops: make([]Operator, 0, capacity)}
}

// Register adds op to the registry. Registration is idempotent-by-name:
// a duplicate name fails with InvalidParameter, per spec.md §4.3. The
// backing array doubles on overflow (Go slices already amortize this; the
// explicit doubling the spec names is `append`'s own growth policy).
func (r *Registry) Register(op Operator) error {
	if op.Name == "" || op.Forward == nil {
		return errs.New("operator.Register", errs.InvalidParameter, nil)
	}
	if r.Find(op.Name) != nil {
		return errs.New("operator.Register", errs.InvalidParameter, nil)
	}
	r.ops = append(r.ops, op)
	return nil
}

// Find returns the operator named name, or nil if absent.
func (r *Registry) Find(name string) *Operator {
	for i := range r.ops {
		if r.ops[i].Name == name {
			return &r.ops[i]
		}
	}
	return nil
}

// Len returns the number of registered operators.
func (r *Registry) Len() int { return len(r.ops) }

// RegisterBasicBundle registers Linear, Conv1D, and Attention, per
// spec.md §4.3.
func (r *Registry) RegisterBasicBundle() error {
	for _, op := range basicBundle() {
		if err := r.Register(op); err != nil {
			return err
		}
	}
	return nil
}

// RegisterAudioBundle registers STFT, MelScale, and Vocoder, per spec.md §4.3.
func (r *Registry) RegisterAudioBundle() error {
	for _, op := range audioBundle() {
		if err := r.Register(op); err != nil {
			return err
		}
	}
	return nil
}
