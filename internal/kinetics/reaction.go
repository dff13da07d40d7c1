package kinetics

// Term is one species with its stoichiometric coefficient.
type Term struct {
	Species string
	Coeff   float64
}

// Terms builds unit-coefficient terms.
func Terms(species ...string) []Term {
	out := make([]Term, len(species))
	for i, s := range species {
		out[i] = Term{Species: s, Coeff: 1}
	}
	return out
}

// Reaction is implemented only by the variants in this package.
type Reaction interface {
	ReactionName() string
	// Parameters lists every rate constant the reaction reads.
	Parameters() []string
	// Species lists every species the reaction reads or changes.
	Species() []string
	isReaction()
}

// MassAction is an irreversible elementary reaction.
type MassAction struct {
	Name      string
	Reactants []Term
	Products  []Term
	Rate      string
}

func (r MassAction) ReactionName() string { return r.Name }
func (r MassAction) Parameters() []string { return []string{r.Rate} }
func (r MassAction) Species() []string    { return termSpecies(r.Reactants, r.Products) }
func (MassAction) isReaction()            {}

// Reversible contributes kf·Π reactants − kb·Π products.
type Reversible struct {
	Name      string
	Reactants []Term
	Products  []Term
	Forward   string
	Backward  string
}

func (r Reversible) ReactionName() string { return r.Name }
func (r Reversible) Parameters() []string { return []string{r.Forward, r.Backward} }
func (r Reversible) Species() []string    { return termSpecies(r.Reactants, r.Products) }
func (Reversible) isReaction()            {}

// RateFunc receives the concentrations of the declared Uses species and the
// values of the declared Params, both in declaration order. It must be pure.
type RateFunc func(c, k []float64, t float64) float64

// Custom applies an arbitrary rate law. Stoichiometry coefficients are
// signed: negative for consumed species, positive for produced ones.
type Custom struct {
	Name          string
	Uses          []string
	Params        []string
	Stoichiometry []Term
	Rate          RateFunc
}

func (r Custom) ReactionName() string { return r.Name }
func (r Custom) Parameters() []string { return append([]string(nil), r.Params...) }
func (r Custom) Species() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.Uses {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, t := range r.Stoichiometry {
		if !seen[t.Species] {
			seen[t.Species] = true
			out = append(out, t.Species)
		}
	}
	return out
}
func (Custom) isReaction() {}

func termSpecies(sides ...[]Term) []string {
	seen := make(map[string]bool)
	var out []string
	for _, side := range sides {
		for _, t := range side {
			if !seen[t.Species] {
				seen[t.Species] = true
				out = append(out, t.Species)
			}
		}
	}
	return out
}
