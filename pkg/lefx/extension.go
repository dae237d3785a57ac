package lefx

import (
	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

// Extension is a loaded LEFX file's runtime state: its static header/layers
// plus whether it is currently active and at what blend weight.
type Extension struct {
	Header Header
	Layers []Layer
	Rules  []Rule
	Deps   []Dependency

	Active        bool
	CurrentWeight float64
}

// CompatibleWithBase checks §4.6's compatibility rule before Apply.
func (e *Extension) CompatibleWithBase(baseHash uint32, baseMaj, baseMin uint16) bool {
	return e.Header.CompatibleWithBase(baseHash, baseMaj, baseMin)
}

// ApplyExtension applies every layer of e against base's tensors, per
// spec's blending table. baseLayers maps base_layer_id to its current
// tensor; the result maps extension_layer_id to the blended tensor.
func ApplyExtension(baseLayers map[uint32]*tensor.Tensor, extLayers map[uint32]*tensor.Tensor, e *Extension, blendWeight float64) (map[uint32]*tensor.Tensor, error) {
	e.Active = true
	e.CurrentWeight = blendWeight

	out := make(map[uint32]*tensor.Tensor, len(e.Layers))
	for _, layer := range e.Layers {
		ext, ok := extLayers[layer.ExtensionLayerID]
		if !ok {
			return nil, errs.New("lefx.ApplyExtension", errs.LayerNotFound, nil)
		}

		if layer.BlendMode == BlendReplace {
			blended, err := Blend(layer.BlendMode, nil, ext, layer.BlendWeight, blendWeight)
			if err != nil {
				return nil, err
			}
			out[layer.ExtensionLayerID] = blended
			continue
		}

		base, ok := baseLayers[layer.BaseLayerID]
		if !ok {
			return nil, errs.New("lefx.ApplyExtension", errs.LayerNotFound, nil)
		}
		blended, err := Blend(layer.BlendMode, base, ext, layer.BlendWeight, blendWeight)
		if err != nil {
			return nil, err
		}
		out[layer.ExtensionLayerID] = blended
	}
	return out, nil
}

// CheckDependencies verifies e's required dependencies are present and
// active among loaded, absent among conflicts, per spec's Dependencies
// rule. loaded maps an extension name to whether it is currently active.
func CheckDependencies(e *Extension, loaded map[string]bool) error {
	for _, d := range e.Deps {
		switch d.Type {
		case DepRequired:
			if !loaded[d.Name] {
				return errs.New("lefx.CheckDependencies", errs.Runtime, nil)
			}
		case DepConflict:
			if loaded[d.Name] {
				return errs.New("lefx.CheckDependencies", errs.Runtime, nil)
			}
		}
	}
	return nil
}

// ActivationManager evaluates activation rules for a set of extensions
// under spec's §5 single-threaded evaluation contract. It records the
// last-evaluated context and scores, but Evaluate does not consult the
// recorded context: every call rescores every extension.
type ActivationManager struct {
	extensions map[string]*Extension
	lastCtx    *Context
	lastScores map[string]float64
}

// NewActivationManager creates an empty manager.
func NewActivationManager() *ActivationManager {
	return &ActivationManager{
		extensions: make(map[string]*Extension),
		lastScores: make(map[string]float64),
	}
}

// Register adds or replaces an extension under name and clears the
// recorded last context.
func (m *ActivationManager) Register(name string, e *Extension) {
	m.extensions[name] = e
	m.Invalidate()
}

// Invalidate drops the recorded last context. LastScores is unaffected,
// and Evaluate recomputes every extension's score whether or not this was
// called.
func (m *ActivationManager) Invalidate() {
	m.lastCtx = nil
}

// Evaluate scores every registered extension against ctx, activating
// those whose weight exceeds threshold (subject to dependency checks),
// and returns the name -> weight map. Extensions are visited in
// dependency load order so a required dependency's activation state is
// already known by the time its dependent is checked.
func (m *ActivationManager) Evaluate(ctx Context, threshold float64) map[string]float64 {
	m.lastCtx = &ctx
	scores := make(map[string]float64, len(m.extensions))
	loaded := make(map[string]bool, len(m.extensions))

	order := m.loadOrder()
	for _, name := range order {
		e := m.extensions[name]
		weight := Evaluate(e.Rules, ctx)
		if weight > threshold {
			if err := CheckDependencies(e, loaded); err != nil {
				e.Active = false
				continue
			}
			e.Active = true
			e.CurrentWeight = weight
			loaded[name] = true
			scores[name] = weight
		} else {
			e.Active = false
		}
	}
	m.lastScores = scores
	return scores
}

// loadOrder resolves a dependency-respecting visit order via the graph
// package's topological sort; a cycle or unresolvable dependency falls
// back to map order (best-effort, since Evaluate must never panic).
func (m *ActivationManager) loadOrder() []string {
	descs := make([]Descriptor, 0, len(m.extensions))
	for name, e := range m.extensions {
		descs = append(descs, Descriptor{Name: name, Dependencies: e.Deps})
	}
	order, err := ResolveLoadOrder(descs)
	if err != nil {
		names := make([]string, 0, len(m.extensions))
		for name := range m.extensions {
			names = append(names, name)
		}
		return names
	}
	return order
}

// LastScores returns the most recent Evaluate result without recomputing.
func (m *ActivationManager) LastScores() map[string]float64 { return m.lastScores }
