package fit

import (
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/integrators"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/params"
)

// Evaluate integrates model forward with the values in set, without
// fitting. Initial concentrations come from c0_<species> parameters;
// species without one start at zero.
func Evaluate(model *kinetics.Model, set *params.Set, times []float64, solver integrators.Config) (*dynamo.Trajectory, error) {
	sys, err := model.Bind(set)
	if err != nil {
		return nil, err
	}
	species := model.Species()
	x0 := make(dynamo.State, len(species))
	for i, s := range species {
		if p, ok := set.Get(params.InitialName(s)); ok {
			x0[i] = p.Value
		}
	}
	if solver.Method == "" {
		solver = integrators.DefaultConfig()
	}
	tr, err := integrators.Solve(sys, x0, times, solver)
	if err != nil {
		return nil, err
	}
	tr.Species = species
	return tr, nil
}
