package kinetics

import (
	"fmt"
	"math"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/params"
)

type slotCoeff struct {
	idx   int
	coeff float64
}

type kind int

const (
	kindMassAction kind = iota
	kindReversible
	kindCustom
)

type compiled struct {
	kind      kind
	reactants []slotCoeff
	products  []slotCoeff
	kf, kb    int

	uses   []int
	kidx   []int
	stoich []slotCoeff
	rate   RateFunc
}

// Model is a validated reaction network with a fixed species order.
type Model struct {
	species   []string
	index     map[string]int
	reactions []Reaction
	compiled  []compiled
	params    []string
	pindex    map[string]int
}

// NewModel checks every species reference and stoichiometric coefficient.
// Errors are *dynamo.ConfigurationError.
func NewModel(species []string, reactions ...Reaction) (*Model, error) {
	m := &Model{
		species:   append([]string(nil), species...),
		index:     make(map[string]int, len(species)),
		reactions: append([]Reaction(nil), reactions...),
		pindex:    make(map[string]int),
	}
	if len(species) == 0 {
		return nil, &dynamo.ConfigurationError{What: "model", Reason: "no species declared"}
	}
	for i, s := range species {
		if s == "" {
			return nil, &dynamo.ConfigurationError{What: "species", Reason: fmt.Sprintf("empty name at position %d", i)}
		}
		if _, dup := m.index[s]; dup {
			return nil, &dynamo.ConfigurationError{What: "species", Name: s, Reason: "declared twice"}
		}
		m.index[s] = i
	}

	names := make(map[string]bool, len(reactions))
	for _, r := range reactions {
		if r == nil {
			return nil, &dynamo.ConfigurationError{What: "reaction", Reason: "nil reaction"}
		}
		if r.ReactionName() == "" {
			return nil, &dynamo.ConfigurationError{What: "reaction", Reason: "empty name"}
		}
		if names[r.ReactionName()] {
			return nil, &dynamo.ConfigurationError{What: "reaction", Name: r.ReactionName(), Reason: "declared twice"}
		}
		names[r.ReactionName()] = true

		c, err := m.compile(r)
		if err != nil {
			return nil, err
		}
		m.compiled = append(m.compiled, c)
	}
	return m, nil
}

func (m *Model) compile(r Reaction) (compiled, error) {
	bad := func(reason string) error {
		return &dynamo.ConfigurationError{What: "reaction", Name: r.ReactionName(), Reason: reason}
	}
	for _, p := range r.Parameters() {
		if p == "" {
			return compiled{}, bad("missing rate constant name")
		}
	}
	for _, s := range r.Species() {
		if _, ok := m.index[s]; !ok {
			return compiled{}, &dynamo.ConfigurationError{
				What: "species", Name: s, Reason: "referenced by reaction " + r.ReactionName() + " but not declared",
				Candidate: m.species,
			}
		}
	}

	side := func(terms []Term) ([]slotCoeff, error) {
		out := make([]slotCoeff, 0, len(terms))
		for _, t := range terms {
			if !(t.Coeff > 0) || math.IsInf(t.Coeff, 0) {
				return nil, bad(fmt.Sprintf("coefficient of %s must be positive, got %g", t.Species, t.Coeff))
			}
			out = append(out, slotCoeff{idx: m.index[t.Species], coeff: t.Coeff})
		}
		return out, nil
	}

	var c compiled
	var err error
	switch v := r.(type) {
	case MassAction:
		c.kind = kindMassAction
		if len(v.Reactants) == 0 && len(v.Products) == 0 {
			return compiled{}, bad("no reactants or products")
		}
		if c.reactants, err = side(v.Reactants); err != nil {
			return compiled{}, err
		}
		if c.products, err = side(v.Products); err != nil {
			return compiled{}, err
		}
		c.kf = m.slot(v.Rate)
	case Reversible:
		c.kind = kindReversible
		if len(v.Reactants) == 0 || len(v.Products) == 0 {
			return compiled{}, bad("reversible reactions need reactants and products")
		}
		if c.reactants, err = side(v.Reactants); err != nil {
			return compiled{}, err
		}
		if c.products, err = side(v.Products); err != nil {
			return compiled{}, err
		}
		c.kf = m.slot(v.Forward)
		c.kb = m.slot(v.Backward)
	case Custom:
		c.kind = kindCustom
		if v.Rate == nil {
			return compiled{}, bad("custom reaction without rate function")
		}
		if len(v.Stoichiometry) == 0 {
			return compiled{}, bad("custom reaction without stoichiometry")
		}
		for _, s := range v.Uses {
			c.uses = append(c.uses, m.index[s])
		}
		for _, p := range v.Params {
			c.kidx = append(c.kidx, m.slot(p))
		}
		for _, t := range v.Stoichiometry {
			if t.Coeff == 0 || math.IsNaN(t.Coeff) || math.IsInf(t.Coeff, 0) {
				return compiled{}, bad(fmt.Sprintf("coefficient of %s must be non-zero and finite", t.Species))
			}
			c.stoich = append(c.stoich, slotCoeff{idx: m.index[t.Species], coeff: t.Coeff})
		}
		c.rate = v.Rate
	default:
		return compiled{}, bad(fmt.Sprintf("unsupported reaction type %T", r))
	}
	return c, nil
}

func (m *Model) slot(name string) int {
	if i, ok := m.pindex[name]; ok {
		return i
	}
	m.pindex[name] = len(m.params)
	m.params = append(m.params, name)
	return len(m.params) - 1
}

func (m *Model) Species() []string { return append([]string(nil), m.species...) }

// Parameters lists the rate constants referenced by the network, in first
// use order.
func (m *Model) Parameters() []string { return append([]string(nil), m.params...) }

func (m *Model) Reactions() []Reaction { return append([]Reaction(nil), m.reactions...) }

func (m *Model) StateDim() int { return len(m.species) }

// Index returns the state position of a species, or -1.
func (m *Model) Index(species string) int {
	if i, ok := m.index[species]; ok {
		return i
	}
	return -1
}

// Bind resolves every rate constant against p. The result is safe to share
// between goroutines; it holds no mutable state.
func (m *Model) Bind(p *params.Set) (*System, error) {
	k := make([]float64, len(m.params))
	for i, name := range m.params {
		v, err := p.Value(name)
		if err != nil {
			return nil, err
		}
		k[i] = v
	}
	return &System{model: m, k: k}, nil
}

// BindValues binds rate constants given in Parameters order. Callers that
// evaluate the same network many times resolve names once and use this.
func (m *Model) BindValues(k []float64) (*System, error) {
	if len(k) != len(m.params) {
		return nil, &dynamo.ConfigurationError{What: "rate constants", Reason: fmt.Sprintf("got %d values for %d parameters", len(k), len(m.params))}
	}
	return &System{model: m, k: append([]float64(nil), k...)}, nil
}

// Derivatives evaluates dX/dt once. Convenience for callers that do not
// integrate.
func (m *Model) Derivatives(x dynamo.State, p *params.Set) (dynamo.State, error) {
	if len(x) != len(m.species) {
		return nil, &dynamo.ConfigurationError{What: "state", Reason: fmt.Sprintf("has %d values, model has %d species", len(x), len(m.species))}
	}
	sys, err := m.Bind(p)
	if err != nil {
		return nil, err
	}
	return sys.Derive(x, 0), nil
}

// System is a Model with resolved rate constants. It implements
// dynamo.System.
type System struct {
	model *Model
	k     []float64
}

func (s *System) StateDim() int { return len(s.model.species) }

// RateConstant returns the resolved value of a model parameter.
func (s *System) RateConstant(name string) (float64, bool) {
	i, ok := s.model.pindex[name]
	if !ok {
		return 0, false
	}
	return s.k[i], true
}

func (s *System) Derive(x dynamo.State, t float64) dynamo.State {
	dx := make(dynamo.State, len(x))
	for ci := range s.model.compiled {
		c := &s.model.compiled[ci]
		switch c.kind {
		case kindMassAction:
			r := s.k[c.kf] * product(x, c.reactants)
			apply(dx, c.reactants, c.products, r)
		case kindReversible:
			r := s.k[c.kf]*product(x, c.reactants) - s.k[c.kb]*product(x, c.products)
			apply(dx, c.reactants, c.products, r)
		case kindCustom:
			conc := make([]float64, len(c.uses))
			for i, idx := range c.uses {
				conc[i] = x[idx]
			}
			k := make([]float64, len(c.kidx))
			for i, idx := range c.kidx {
				k[i] = s.k[idx]
			}
			r := c.rate(conc, k, t)
			for _, sc := range c.stoich {
				dx[sc.idx] += sc.coeff * r
			}
		}
	}
	return dx
}

func product(x dynamo.State, terms []slotCoeff) float64 {
	p := 1.0
	for _, t := range terms {
		p *= ipow(x[t.idx], t.coeff)
	}
	return p
}

func apply(dx dynamo.State, reactants, products []slotCoeff, r float64) {
	for _, t := range reactants {
		dx[t.idx] -= t.coeff * r
	}
	for _, t := range products {
		dx[t.idx] += t.coeff * r
	}
}

// ipow avoids math.Pow for the common small integer orders.
func ipow(v, n float64) float64 {
	switch n {
	case 1:
		return v
	case 2:
		return v * v
	case 3:
		return v * v * v
	}
	return math.Pow(v, n)
}
