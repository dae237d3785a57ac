package lefx

import (
	"math"
	"time"
)

// Curve selects the easing function a Transition applies to its
// [0,1] progress before interpolating weights.
type Curve uint8

const (
	CurveLinear Curve = iota
	CurveEaseIn
	CurveEaseOut
	CurveEaseInOut
)

func (c Curve) apply(t float64) float64 {
	switch c {
	case CurveEaseIn:
		return t * t
	case CurveEaseOut:
		return 1 - (1-t)*(1-t)
	case CurveEaseInOut:
		if t < 0.5 {
			return 2 * t * t
		}
		return 1 - math.Pow(-2*t+2, 2)/2
	default:
		return t
	}
}

// Transition smoothly moves an extension's blend weight from PrevWeight
// to TargetWeight over Duration, starting at StartTime. Multiple
// extensions' transitions are independent of each other, per spec.
type Transition struct {
	PrevWeight   float64
	TargetWeight float64
	Duration     time.Duration
	StartTime    time.Time
	Curve        Curve
}

// WeightAt computes the interpolated weight at now, clamping progress to
// [0,1] before applying the curve.
func (tr Transition) WeightAt(now time.Time) float64 {
	if tr.Duration <= 0 {
		return tr.TargetWeight
	}
	progress := float64(now.Sub(tr.StartTime)) / float64(tr.Duration)
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	eased := tr.Curve.apply(progress)
	return tr.PrevWeight + (tr.TargetWeight-tr.PrevWeight)*eased
}

// Done reports whether the transition has fully reached its target.
func (tr Transition) Done(now time.Time) bool {
	return !now.Before(tr.StartTime.Add(tr.Duration))
}
