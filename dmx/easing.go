package dmx

import "math"

// Easing selects the interpolation curve f:[0,1] -> [0,1] used by a fade.
type Easing string

const (
	EasingLinear Easing = "linear"
	EasingSCurve Easing = "s_curve"
	EasingExpo   Easing = "expo"
)

// ValidEasing reports whether name is a known curve. Empty defaults to
// linear on the command path.
func ValidEasing(name string) bool {
	switch Easing(name) {
	case EasingLinear, EasingSCurve, EasingExpo:
		return true
	}
	return false
}

func ease(e Easing, t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	switch e {
	case EasingSCurve:
		return t * t * (3 - 2*t)
	case EasingExpo:
		f := math.Pow(2, 10*(t-1))
		if f > 1 {
			return 1
		}
		return f
	default:
		return t
	}
}

// interpolate computes clamp(round(sv + (tv-sv)*f(t))). Rounding is
// half-to-even so identical inputs yield identical bytes everywhere.
func interpolate(e Easing, sv, tv int, t float64) int {
	v := math.RoundToEven(float64(sv) + float64(tv-sv)*ease(e, t))
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return int(v)
}
