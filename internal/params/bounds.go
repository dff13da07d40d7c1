package params

import "math"

// Bounded parameters are optimized in an unconstrained internal coordinate
// (the MINUIT transform): a sine map for two-sided bounds and a square-root
// map for one-sided bounds. Unbounded parameters use the identity.

func (p Parameter) ToInternal(v float64) float64 {
	lo, hi := !math.IsInf(p.Min, -1), !math.IsInf(p.Max, 1)
	switch {
	case lo && hi:
		r := 2*(v-p.Min)/(p.Max-p.Min) - 1
		return math.Asin(math.Max(-1, math.Min(1, r)))
	case lo:
		d := math.Max(v-p.Min, 0) + 1
		return math.Sqrt(d*d - 1)
	case hi:
		d := math.Max(p.Max-v, 0) + 1
		return math.Sqrt(d*d - 1)
	default:
		return v
	}
}

func (p Parameter) ToExternal(u float64) float64 {
	lo, hi := !math.IsInf(p.Min, -1), !math.IsInf(p.Max, 1)
	switch {
	case lo && hi:
		return p.Min + (math.Sin(u)+1)*(p.Max-p.Min)/2
	case lo:
		return p.Min - 1 + math.Sqrt(u*u+1)
	case hi:
		return p.Max + 1 - math.Sqrt(u*u+1)
	default:
		return u
	}
}

// Clamp confines v to the parameter bounds.
func (p Parameter) Clamp(v float64) float64 {
	return math.Max(p.Min, math.Min(p.Max, v))
}

// Bounded reports whether either bound is finite.
func (p Parameter) Bounded() bool {
	return !math.IsInf(p.Min, -1) || !math.IsInf(p.Max, 1)
}
