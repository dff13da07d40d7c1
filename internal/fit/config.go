package fit

import (
	"math"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/integrators"
	"github.com/san-kum/kinfit/internal/residual"
)

const (
	MethodLeastSq    = "leastsq"
	MethodNelderMead = "nelder-mead"
)

const (
	DefaultMaxIterations = 1000
	DefaultTol           = 1.49012e-8
	// DefaultPoints is the number of samples in the dense fitted curves.
	DefaultPoints = 150
)

type Config struct {
	Method        string  `yaml:"method"`
	MaxIterations int     `yaml:"max_iterations"`
	FTol          float64 `yaml:"ftol"`
	XTol          float64 `yaml:"xtol"`
	GTol          float64 `yaml:"gtol"`
	// Epsfcn is the relative step of the forward-difference Jacobian. Zero
	// means machine epsilon.
	Epsfcn       float64 `yaml:"epsfcn"`
	ResidualMode string  `yaml:"residual_mode"`
	// FailurePenalty, when set, replaces every residual of a failing
	// evaluation instead of aborting the fit.
	FailurePenalty *float64 `yaml:"failure_penalty,omitempty"`
	// Points is the number of dense samples in the reported curves.
	Points int `yaml:"points"`
	// Workers caps the fits FitAll runs at once. Zero means one per CPU.
	Workers int                `yaml:"workers,omitempty"`
	Solver  integrators.Config `yaml:"solver"`
}

func DefaultConfig() Config {
	return Config{
		Method:        MethodLeastSq,
		MaxIterations: DefaultMaxIterations,
		FTol:          DefaultTol,
		XTol:          DefaultTol,
		GTol:          0,
		ResidualMode:  string(residual.Weighted),
		Points:        DefaultPoints,
		Solver:        integrators.DefaultConfig(),
	}
}

// Methods lists the supported fit methods.
func Methods() []string { return []string{MethodLeastSq, MethodNelderMead} }

func (c Config) Validate() error {
	switch c.Method {
	case MethodLeastSq, MethodNelderMead:
	default:
		return &dynamo.ConfigurationError{What: "fit method", Name: c.Method, Reason: "unknown", Candidate: Methods()}
	}
	if c.MaxIterations <= 0 {
		return &dynamo.ConfigurationError{What: "fit", Reason: "max_iterations must be positive"}
	}
	for name, v := range map[string]float64{"ftol": c.FTol, "xtol": c.XTol, "gtol": c.GTol, "epsfcn": c.Epsfcn} {
		if v < 0 || math.IsNaN(v) {
			return &dynamo.ConfigurationError{What: "fit", Name: name, Reason: "must not be negative"}
		}
	}
	if c.FailurePenalty != nil && (math.IsNaN(*c.FailurePenalty) || math.IsInf(*c.FailurePenalty, 0)) {
		return &dynamo.ConfigurationError{What: "fit", Name: "failure_penalty", Reason: "must be finite"}
	}
	if c.Points < 0 {
		return &dynamo.ConfigurationError{What: "fit", Name: "points", Reason: "must not be negative"}
	}
	if c.Workers < 0 {
		return &dynamo.ConfigurationError{What: "fit", Name: "workers", Reason: "must not be negative"}
	}
	return c.Solver.Validate()
}

// Penalty is a helper for setting Config.FailurePenalty.
func Penalty(v float64) *float64 { return &v }

type Status int

const (
	StatusInitialized Status = iota
	StatusRunning
	StatusConverged
	StatusMaxIterations
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusRunning:
		return "running"
	case StatusConverged:
		return "converged"
	case StatusMaxIterations:
		return "max-iterations"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Done reports whether the status is terminal.
func (s Status) Done() bool { return s >= StatusConverged }
