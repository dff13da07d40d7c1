package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/kinfit/internal/dynamo"
)

const (
	DefaultRelTol   = 1e-8
	DefaultAbsTol   = 1e-10
	DefaultMaxSteps = 100000
)

// Config selects the stepper and bounds the work spent on one trajectory.
type Config struct {
	Method      string  `yaml:"method"`
	RelTol      float64 `yaml:"rel_tol"`
	AbsTol      float64 `yaml:"abs_tol"`
	InitialStep float64 `yaml:"initial_step"`
	MinStep     float64 `yaml:"min_step"`
	MaxStep     float64 `yaml:"max_step"`
	FixedStep   float64 `yaml:"fixed_step"`
	MaxSteps    int     `yaml:"max_steps"`
}

func DefaultConfig() Config {
	return Config{
		Method:   MethodRK45,
		RelTol:   DefaultRelTol,
		AbsTol:   DefaultAbsTol,
		MaxSteps: DefaultMaxSteps,
	}
}

func (c Config) Validate() error {
	if _, ok := steppers[c.Method]; !ok {
		return &dynamo.ConfigurationError{What: "integrator", Name: c.Method, Reason: "unknown method", Candidate: Methods()}
	}
	if c.RelTol <= 0 || c.AbsTol <= 0 {
		return &dynamo.ConfigurationError{What: "integrator", Name: c.Method, Reason: "tolerances must be positive"}
	}
	if c.MaxSteps <= 0 {
		return &dynamo.ConfigurationError{What: "integrator", Name: c.Method, Reason: "max_steps must be positive"}
	}
	if c.Method == MethodRK4 && c.FixedStep <= 0 {
		return &dynamo.ConfigurationError{What: "integrator", Name: c.Method, Reason: "fixed_step must be positive for fixed-step methods"}
	}
	if c.MinStep < 0 || c.MaxStep < 0 || c.InitialStep < 0 {
		return &dynamo.ConfigurationError{What: "integrator", Name: c.Method, Reason: "step sizes must not be negative"}
	}
	return nil
}

// step size controller
const (
	safety   = 0.9
	minScale = 0.2
	maxScale = 10.0
)

// Solve integrates sys from x0 at times[0] and returns the state at every
// requested time. Steps are clipped so that each requested time is hit
// exactly. Negative concentrations are left as computed.
func Solve(sys dynamo.System, x0 dynamo.State, times []float64, cfg Config) (*dynamo.Trajectory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := dynamo.CheckTimes(times); err != nil {
		return nil, err
	}
	if len(x0) != sys.StateDim() {
		return nil, &dynamo.ConfigurationError{
			What:   "initial state",
			Reason: fmt.Sprintf("has %d values, system has %d species", len(x0), sys.StateDim()),
		}
	}

	stepper, _ := New(cfg.Method)
	adaptive := cfg.Method != MethodRK4
	tol := dynamo.Tolerance{Rel: cfg.RelTol, Abs: cfg.AbsTol}

	tr := &dynamo.Trajectory{
		Times:  append([]float64(nil), times...),
		States: make([]dynamo.State, 0, len(times)),
	}
	x := x0.Clone()
	if !x.IsValid() {
		return nil, &dynamo.ConfigurationError{What: "initial state", Reason: "contains NaN or Inf"}
	}
	tr.States = append(tr.States, x.Clone())
	if len(times) == 1 {
		return tr, nil
	}

	t := times[0]
	h := cfg.FixedStep
	if adaptive {
		h = cfg.InitialStep
		if h <= 0 {
			h = initialStep(sys, x, t, times[len(times)-1]-t, stepper.Order(), tol)
		}
	}
	if cfg.MaxStep > 0 {
		h = math.Min(h, cfg.MaxStep)
	}

	steps := 0
	for i := 1; i < len(times); i++ {
		target := times[i]
		fail := func(cause error) error {
			return &dynamo.IntegrationError{From: times[i-1], To: target, Reached: t, Steps: steps, Wrapped: cause}
		}

		for t < target {
			if steps >= cfg.MaxSteps {
				return nil, fail(dynamo.ErrStepBudget)
			}

			dt := h
			clipped := false
			if t+dt >= target || target-(t+dt) < 1e-12*math.Max(math.Abs(target), 1) {
				dt = target - t
				clipped = true
			}

			xNew, errNorm := stepper.Attempt(sys, x, t, dt, tol)
			steps++

			if !xNew.IsValid() || math.IsNaN(errNorm) {
				if !adaptive {
					return nil, fail(dynamo.ErrNonFinite)
				}
				errNorm = math.Inf(1)
			}

			if !adaptive {
				x = xNew
				if clipped {
					t = target
				} else {
					t += dt
				}
				continue
			}

			exp := 1.0 / float64(stepper.Order()+1)
			if errNorm <= 1 {
				x = xNew
				if clipped {
					t = target
				} else {
					t += dt
				}
				scale := maxScale
				if errNorm > 0 {
					scale = math.Min(maxScale, safety*math.Pow(errNorm, -exp))
				}
				hNew := dt * scale
				if clipped {
					hNew = math.Max(h, hNew)
				}
				h = hNew
			} else {
				scale := minScale
				if !math.IsInf(errNorm, 1) {
					scale = math.Max(minScale, safety*math.Pow(errNorm, -exp))
				}
				h = dt * scale
				if h < minStep(cfg, t) {
					cause := dynamo.ErrStepTooSmall
					if !xNew.IsValid() {
						cause = dynamo.ErrNonFinite
					}
					return nil, fail(cause)
				}
			}
			if cfg.MaxStep > 0 {
				h = math.Min(h, cfg.MaxStep)
			}
		}

		tr.States = append(tr.States, x.Clone())
	}

	return tr, nil
}

func minStep(cfg Config, t float64) float64 {
	if cfg.MinStep > 0 {
		return cfg.MinStep
	}
	return 16 * 2.220446049250313e-16 * math.Max(math.Abs(t), 1)
}

// initialStep follows the starting step heuristic of Hairer, Norsett and
// Wanner (Solving ODEs I, II.4).
func initialStep(sys dynamo.System, x dynamo.State, t, span float64, order int, tol dynamo.Tolerance) float64 {
	n := len(x)
	if n == 0 {
		return span
	}
	f0 := sys.Derive(x, t).Clone()

	norm := func(v []float64) float64 {
		sum := 0.0
		for i := range v {
			sc := tol.Abs + tol.Rel*math.Abs(x[i])
			sum += (v[i] / sc) * (v[i] / sc)
		}
		return math.Sqrt(sum / float64(n))
	}

	d0, d1 := norm(x), norm(f0)
	h0 := 1e-6
	if d0 >= 1e-5 && d1 >= 1e-5 {
		h0 = 0.01 * d0 / d1
	}
	h0 = math.Min(h0, span)

	x1 := make(dynamo.State, n)
	for i := range x {
		x1[i] = x[i] + h0*f0[i]
	}
	f1 := sys.Derive(x1, t+h0)
	diff := make([]float64, n)
	for i := range diff {
		diff[i] = f1[i] - f0[i]
	}
	d2 := norm(diff) / h0

	var h1 float64
	if math.Max(d1, d2) <= 1e-15 {
		h1 = math.Max(1e-6, h0*1e-3)
	} else {
		h1 = math.Pow(0.01/math.Max(d1, d2), 1.0/float64(order+1))
	}

	h := math.Min(100*h0, h1)
	if math.IsNaN(h) || h <= 0 {
		h = span * 1e-3
	}
	return math.Min(h, span)
}
