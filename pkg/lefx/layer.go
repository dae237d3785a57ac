package lefx

// BlendMode selects how an extension layer combines with its base layer.
type BlendMode uint8

const (
	BlendReplace BlendMode = iota
	BlendAdd
	BlendMultiply
	BlendInterpolate
	BlendWeightedSum
)

// ActivationCondition classifies whether a layer always applies or only
// when its activation rules match.
type ActivationCondition uint8

const (
	AlwaysActive ActivationCondition = iota
	ConditionalActive
)

// DiffEncoding selects how a differential layer's delta against its base
// is stored, per spec.
type DiffEncoding uint8

const (
	DiffNone DiffEncoding = iota
	DiffWeightDelta
	DiffSparseMask
	DiffQuantizedDelta
)

// Layer is one extension layer: either a full replacement or a
// differential encoding of the difference against BaseLayerID.
type Layer struct {
	ExtensionLayerID uint32
	BaseLayerID      uint32 // meaningful only for differential layers

	BlendMode  BlendMode
	Activation ActivationCondition

	SimilarityThreshold float64 // layers at/above this are omitted entirely
	BlendWeight         float64
	DependencyCount     int

	Diff DiffEncoding
}
