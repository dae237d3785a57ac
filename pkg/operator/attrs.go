// Package operator implements the name→operator descriptor registry, per
// spec.md §4.3, plus the basic and audio operator bundles.
package operator

import "github.com/orneryd/libetude/pkg/tensor"

// Attrs is the sum type over an operator's attribute blob, per Design
// note §9 (see SPEC_FULL.md §3). Each operator kind implements it with a
// marker method; the Custom arm is the escape hatch for operators this
// package doesn't know about.
type Attrs interface {
	attrsMarker()
}

// LinearAttrs configures a fully-connected layer.
type LinearAttrs struct {
	In, Out int
	Weight  *tensor.Tensor
	Bias    *tensor.Tensor // nil if the layer has no bias
}

func (LinearAttrs) attrsMarker() {}

// Conv1DAttrs configures a 1-D convolution.
type Conv1DAttrs struct {
	InChannels, OutChannels int
	Kernel, Stride, Padding, Dilation int
	Weight *tensor.Tensor
	Bias   *tensor.Tensor
}

func (Conv1DAttrs) attrsMarker() {}

// AttentionAttrs configures multi-head attention.
type AttentionAttrs struct {
	EmbedDim, NumHeads int
	Wq, Wk, Wv, Wo     *tensor.Tensor
	Bq, Bk, Bv, Bo     *tensor.Tensor
	Dropout            float64
}

func (AttentionAttrs) attrsMarker() {}

// STFTAttrs configures a short-time Fourier transform.
type STFTAttrs struct {
	NFFT, Hop, WinLength int
	Window               []float64
	Center               bool
	Normalized           bool
}

func (STFTAttrs) attrsMarker() {}

// MelScaleAttrs configures a mel filterbank projection.
type MelScaleAttrs struct {
	NMels, NFFT, SampleRate int
	FMin, FMax              float64
	MelFilters              *tensor.Tensor
}

func (MelScaleAttrs) attrsMarker() {}

// VocoderAttrs configures a vocoder head.
type VocoderAttrs struct {
	MelChannels, UpsampleFactor, SampleRate int
	Weights                                map[string]*tensor.Tensor
}

func (VocoderAttrs) attrsMarker() {}

// CustomAttrs is the escape hatch for operator kinds this package doesn't
// define, carrying an opaque byte blob the operator's own create/forward
// functions know how to interpret.
type CustomAttrs struct {
	Bytes []byte
}

func (CustomAttrs) attrsMarker() {}
