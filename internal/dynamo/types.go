package dynamo

import (
	"fmt"
	"math"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// System is the right-hand side of dX/dt = f(X, t). Derive must be pure: the
// same (x, t) always yields the same derivative and x is never modified.
type System interface {
	Derive(x State, t float64) State
	StateDim() int
}

// Tolerance controls local error acceptance for adaptive steppers.
type Tolerance struct {
	Rel float64
	Abs float64
}

// Stepper attempts one step of size dt from (t, x). It returns the candidate
// state and the error norm scaled by the tolerance; a norm <= 1 means the
// step is acceptable. Fixed-step methods return a zero norm.
type Stepper interface {
	Attempt(sys System, x State, t, dt float64, tol Tolerance) (State, float64)
	Order() int
}

// Trajectory holds states sampled at requested times, in species order.
type Trajectory struct {
	Species []string
	Times   []float64
	States  []State
}

// Column returns the time series of one species index.
func (tr *Trajectory) Column(idx int) []float64 {
	out := make([]float64, len(tr.States))
	for i, s := range tr.States {
		out[i] = s[idx]
	}
	return out
}

// Index returns the position of a species in the state vector, or -1.
func (tr *Trajectory) Index(species string) int {
	for i, s := range tr.Species {
		if s == species {
			return i
		}
	}
	return -1
}

// Len returns the number of sampled time points.
func (tr *Trajectory) Len() int { return len(tr.Times) }

// CheckTimes reports whether times is non-empty, finite, and strictly
// increasing.
func CheckTimes(times []float64) error {
	if len(times) == 0 {
		return &ConfigurationError{What: "time points", Reason: "no time points requested"}
	}
	for i, t := range times {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return &ConfigurationError{What: "time points", Reason: fmt.Sprintf("non-finite time at index %d", i)}
		}
		if i > 0 && t <= times[i-1] {
			return &ConfigurationError{What: "time points", Reason: fmt.Sprintf("not strictly increasing at index %d (%g after %g)", i, t, times[i-1])}
		}
	}
	return nil
}
