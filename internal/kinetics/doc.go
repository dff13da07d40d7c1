// Package kinetics builds reaction networks and turns them into ODE systems.
//
// A network is a fixed species order plus a list of reactions. Reactions are
// a closed set of rate-law variants:
//
//   - [MassAction]: irreversible, rate = k · Π cᵢ^νᵢ
//   - [Reversible]: forward mass-action term minus a backward one
//   - [Custom]: a caller-supplied pure rate function with declared
//     stoichiometry
//
// Binding a [Model] to a parameter set resolves every rate constant up
// front, so a missing parameter is reported before any integration starts:
//
//	m, _ := kinetics.NewModel([]string{"A", "B"}, kinetics.MassAction{
//	    Name: "decay", Reactants: kinetics.Terms("A"), Products: kinetics.Terms("B"), Rate: "k",
//	})
//	sys, err := m.Bind(set) // ConfigurationError when "k" is absent
package kinetics
