package integrators

import (
	"sort"

	"github.com/san-kum/kinfit/internal/dynamo"
)

const (
	MethodRK45         = "dopri5"
	MethodRosenbrock23 = "rosenbrock23"
	MethodRK4          = "rk4"
)

var steppers = map[string]func() dynamo.Stepper{
	MethodRK45:         func() dynamo.Stepper { return NewRK45() },
	MethodRosenbrock23: func() dynamo.Stepper { return NewRosenbrock23() },
	MethodRK4:          func() dynamo.Stepper { return NewRK4() },
}

// New returns a fresh stepper. Steppers hold scratch buffers, so every
// concurrent solve needs its own.
func New(method string) (dynamo.Stepper, error) {
	fn, ok := steppers[method]
	if !ok {
		return nil, &dynamo.ConfigurationError{What: "integrator", Name: method, Reason: "unknown method", Candidate: Methods()}
	}
	return fn(), nil
}

func Methods() []string {
	names := make([]string, 0, len(steppers))
	for name := range steppers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
