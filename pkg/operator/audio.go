package operator

import (
	"math"

	"github.com/orneryd/libetude/pkg/errs"
	"github.com/orneryd/libetude/pkg/tensor"
)

func audioBundle() []Operator {
	return []Operator{stftOperator(), melScaleOperator(), vocoderOperator()}
}

// stftOperator computes a short-time Fourier transform producing
// magnitude+phase, per spec.md §4.3.
func stftOperator() Operator {
	return Operator{
		Name:   "STFT",
		Create: attrsCreate[STFTAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(STFTAttrs)
			if !ok {
				return errs.New("operator.STFT.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) == 0 || inputs[0].NDim() != 1 {
				return errs.New("operator.STFT.Forward", errs.InvalidParameter, nil)
			}
			signal := inputs[0]
			n := signal.Size()

			samples := make([]float64, n)
			for i := 0; i < n; i++ {
				v, err := signal.GetFloat([]int{i})
				if err != nil {
					return err
				}
				samples[i] = v
			}
			if attrs.Center {
				pad := attrs.NFFT / 2
				padded := make([]float64, n+2*pad)
				copy(padded[pad:], samples)
				samples = padded
				n = len(samples)
			}

			numFrames := 0
			if n >= attrs.WinLength {
				numFrames = (n-attrs.WinLength)/attrs.Hop + 1
			}
			numBins := attrs.NFFT/2 + 1

			mag, err := tensor.Zeros(signal.Pool(), signal.DType(), []int{numFrames, numBins})
			if err != nil {
				return err
			}
			phase, err := tensor.Zeros(signal.Pool(), signal.DType(), []int{numFrames, numBins})
			if err != nil {
				return err
			}

			window := attrs.Window
			if len(window) != attrs.WinLength {
				window = hannWindow(attrs.WinLength)
			}

			frame := make([]float64, attrs.NFFT)
			for f := 0; f < numFrames; f++ {
				start := f * attrs.Hop
				for i := range frame {
					frame[i] = 0
				}
				for i := 0; i < attrs.WinLength && start+i < len(samples); i++ {
					frame[i] = samples[start+i] * window[i]
				}
				re, im := naiveDFT(frame)
				norm := 1.0
				if attrs.Normalized {
					norm = 1.0 / math.Sqrt(float64(attrs.NFFT))
				}
				for b := 0; b < numBins; b++ {
					m := math.Hypot(re[b], im[b]) * norm
					p := math.Atan2(im[b], re[b])
					if err := mag.SetFloat([]int{f, b}, m); err != nil {
						return err
					}
					if err := phase.SetFloat([]int{f, b}, p); err != nil {
						return err
					}
				}
			}
			ctx.SetOutputs([]*tensor.Tensor{mag, phase})
			return nil
		},
		Destroy: noopDestroy,
	}
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// naiveDFT computes the real-input DFT's non-negative-frequency half. It is
// O(n²); spec.md reserves FFT-algorithm selection for the platform layer,
// not the engine core's operator contract.
func naiveDFT(frame []float64) (re, im []float64) {
	n := len(frame)
	bins := n/2 + 1
	re = make([]float64, bins)
	im = make([]float64, bins)
	for k := 0; k < bins; k++ {
		var sr, si float64
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			sr += frame[t] * math.Cos(angle)
			si += frame[t] * math.Sin(angle)
		}
		re[k], im[k] = sr, si
	}
	return re, im
}

// melScaleOperator projects an STFT magnitude spectrogram onto a mel
// filterbank, per spec.md §4.3.
func melScaleOperator() Operator {
	return Operator{
		Name:   "MelScale",
		Create: attrsCreate[MelScaleAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(MelScaleAttrs)
			if !ok {
				return errs.New("operator.MelScale.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) == 0 || inputs[0].NDim() != 2 {
				return errs.New("operator.MelScale.Forward", errs.InvalidParameter, nil)
			}
			mag := inputs[0]
			out, err := tensor.MatMul(mag, attrs.MelFilters)
			if err != nil {
				return err
			}
			ctx.SetOutputs([]*tensor.Tensor{out})
			return nil
		},
		Destroy: noopDestroy,
	}
}

// vocoderOperator upsamples a mel spectrogram to a waveform: each frame's
// mel channels are weighted by the learned upsample kernel and summed, and
// that one value is repeated UpsampleFactor times; frames do not overlap.
func vocoderOperator() Operator {
	return Operator{
		Name:   "Vocoder",
		Create: attrsCreate[VocoderAttrs](),
		Forward: func(ctx NodeContext) error {
			attrs, ok := ctx.Attrs().(VocoderAttrs)
			if !ok {
				return errs.New("operator.Vocoder.Forward", errs.Runtime, nil)
			}
			inputs := ctx.Inputs()
			if len(inputs) == 0 || inputs[0].NDim() != 2 {
				return errs.New("operator.Vocoder.Forward", errs.InvalidParameter, nil)
			}
			mel := inputs[0]
			kernel, ok := attrs.Weights["upsample_kernel"]
			if !ok {
				return errs.New("operator.Vocoder.Forward", errs.InvalidParameter, nil)
			}

			frames := mel.Shape()[0]
			waveLen := frames * attrs.UpsampleFactor
			wave, err := tensor.Zeros(mel.Pool(), mel.DType(), []int{waveLen})
			if err != nil {
				return err
			}

			for f := 0; f < frames; f++ {
				var energy float64
				for c := 0; c < attrs.MelChannels; c++ {
					v, err := mel.GetFloat([]int{f, c})
					if err != nil {
						return err
					}
					w, err := kernel.GetFloat([]int{c})
					if err != nil {
						return err
					}
					energy += v * w
				}
				for u := 0; u < attrs.UpsampleFactor; u++ {
					if err := wave.SetFloat([]int{f*attrs.UpsampleFactor + u}, energy); err != nil {
						return err
					}
				}
			}
			ctx.SetOutputs([]*tensor.Tensor{wave})
			return nil
		},
		Destroy: noopDestroy,
	}
}
