package dynamo

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors for kinetics fitting.
var (
	// ErrConfiguration indicates an unresolved reference or malformed input
	// detected before any integration was attempted.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrIntegration indicates the solver could not reach a requested time.
	ErrIntegration = errors.New("dynamo: integration failed")

	// ErrNonFinite indicates the state diverged to NaN or Inf.
	ErrNonFinite = errors.New("dynamo: state diverged (NaN or Inf detected)")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrStepBudget indicates the solver used up its step budget.
	ErrStepBudget = errors.New("dynamo: step budget exhausted")

	// ErrConvergence indicates the minimizer stopped without meeting its
	// tolerances.
	ErrConvergence = errors.New("dynamo: fit did not converge")
)

// ConfigurationError names the offending item so a caller can fix the input
// without re-running anything.
type ConfigurationError struct {
	What      string // e.g. "parameter", "species", "series"
	Name      string
	Series    string
	Reason    string
	Candidate []string
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration: ")
	b.WriteString(e.What)
	if e.Name != "" {
		fmt.Fprintf(&b, " %q", e.Name)
	}
	if e.Series != "" {
		fmt.Fprintf(&b, " in series %q", e.Series)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if len(e.Candidate) > 0 {
		fmt.Fprintf(&b, " (known: %s)", strings.Join(e.Candidate, ", "))
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// IntegrationError wraps a solver failure with the interval being integrated
// when it happened.
type IntegrationError struct {
	Series  string
	From    float64 // last requested time reached
	To      float64 // requested time that could not be reached
	Reached float64 // time of the last accepted step
	Steps   int
	Wrapped error
}

func (e *IntegrationError) Error() string {
	where := ""
	if e.Series != "" {
		where = fmt.Sprintf("series %q: ", e.Series)
	}
	return fmt.Sprintf("%sintegration failed between t=%g and t=%g (reached t=%g after %d steps): %v",
		where, e.From, e.To, e.Reached, e.Steps, e.Wrapped)
}

func (e *IntegrationError) Unwrap() []error {
	return []error{ErrIntegration, e.Wrapped}
}
