// Package observe maps simulated species trajectories onto the quantities an
// experiment actually measures.
package observe

import (
	"fmt"
	"sort"

	"github.com/san-kum/kinfit/internal/dynamo"
)

// Faraday is N_A·e in C/mol.
const Faraday = 6.02214076e23 * 1.602176634e-19

// ChargeName is the observable name of the Charge projector.
const ChargeName = "Q"

// Projector turns a trajectory into one observable value per time point.
type Projector interface {
	Name() string
	Project(tr *dynamo.Trajectory) ([]float64, error)
}

// Species is the identity projection of one species column.
type Species struct {
	Species string
}

func (s Species) Name() string { return s.Species }

func (s Species) Project(tr *dynamo.Trajectory) ([]float64, error) {
	idx := tr.Index(s.Species)
	if idx < 0 {
		return nil, &dynamo.ConfigurationError{What: "species", Name: s.Species, Reason: "not in trajectory", Candidate: tr.Species}
	}
	return tr.Column(idx), nil
}

// Charge is the cumulative charge passed:
//
//	q(t) = F · Volume · Unit · Σᵢ nᵢ (cᵢ(t) − cᵢ(t₀))
//
// Unit converts the concentration unit to mol/L (1e-6 for µM) and Volume is
// in litres. Species missing from Electrons contribute nothing.
type Charge struct {
	Electrons map[string]float64
	Volume    float64
	Unit      float64
}

func (Charge) Name() string { return ChargeName }

func (c Charge) Validate() error {
	if !(c.Volume > 0) {
		return &dynamo.ConfigurationError{What: "charge", Reason: fmt.Sprintf("volume must be positive, got %g", c.Volume)}
	}
	if !(c.Unit > 0) {
		return &dynamo.ConfigurationError{What: "charge", Reason: fmt.Sprintf("unit must be positive, got %g", c.Unit)}
	}
	if len(c.Electrons) == 0 {
		return &dynamo.ConfigurationError{What: "charge", Reason: "no electron counts"}
	}
	return nil
}

// Check reports electron counts for species the model does not declare.
func (c Charge) Check(species []string) error {
	known := make(map[string]bool, len(species))
	for _, s := range species {
		known[s] = true
	}
	names := make([]string, 0, len(c.Electrons))
	for s := range c.Electrons {
		names = append(names, s)
	}
	sort.Strings(names)
	for _, s := range names {
		if !known[s] {
			return &dynamo.ConfigurationError{What: "charge species", Name: s, Reason: "not declared by the model", Candidate: species}
		}
	}
	return nil
}

func (c Charge) Project(tr *dynamo.Trajectory) ([]float64, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := c.Check(tr.Species); err != nil {
		return nil, err
	}

	type weight struct {
		idx int
		n   float64
	}
	ws := make([]weight, 0, len(c.Electrons))
	for i, s := range tr.Species {
		if n, ok := c.Electrons[s]; ok && n != 0 {
			ws = append(ws, weight{i, n})
		}
	}

	out := make([]float64, tr.Len())
	if tr.Len() == 0 {
		return out, nil
	}
	scale := Faraday * c.Volume * c.Unit
	x0 := tr.States[0]
	for k, x := range tr.States {
		var sum float64
		for _, w := range ws {
			sum += w.n * (x[w.idx] - x0[w.idx])
		}
		out[k] = scale * sum
	}
	return out, nil
}

// ProjectAll evaluates every projector against one trajectory. Results are
// in projector order.
func ProjectAll(tr *dynamo.Trajectory, ps []Projector) ([][]float64, error) {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		v, err := p.Project(tr)
		if err != nil {
			return nil, fmt.Errorf("observable %s: %w", p.Name(), err)
		}
		out[i] = v
	}
	return out, nil
}
