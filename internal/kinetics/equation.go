package kinetics

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/san-kum/kinfit/internal/dynamo"
)

// Equation is the parsed form of a reaction string such as "2 A + B <=> C".
type Equation struct {
	Reactants  []Term
	Products   []Term
	Reversible bool
}

// ParseEquation accepts "->" for irreversible and "<=>" for reversible
// reactions. A coefficient may be separated from the species by a space or
// written directly in front of it ("2A"). "0" denotes an empty side.
func ParseEquation(s string) (Equation, error) {
	var eq Equation
	var lhs, rhs string
	switch {
	case strings.Contains(s, "<=>"):
		parts := strings.SplitN(s, "<=>", 2)
		lhs, rhs = parts[0], parts[1]
		eq.Reversible = true
	case strings.Contains(s, "->"):
		parts := strings.SplitN(s, "->", 2)
		lhs, rhs = parts[0], parts[1]
	default:
		return eq, &dynamo.ConfigurationError{What: "equation", Name: s, Reason: `missing "->" or "<=>"`}
	}
	if strings.Contains(rhs, "->") || strings.Contains(rhs, "<=>") {
		return eq, &dynamo.ConfigurationError{What: "equation", Name: s, Reason: "more than one arrow"}
	}

	var err error
	if eq.Reactants, err = parseSide(lhs); err != nil {
		return eq, &dynamo.ConfigurationError{What: "equation", Name: s, Reason: err.Error()}
	}
	if eq.Products, err = parseSide(rhs); err != nil {
		return eq, &dynamo.ConfigurationError{What: "equation", Name: s, Reason: err.Error()}
	}
	if len(eq.Reactants) == 0 && len(eq.Products) == 0 {
		return eq, &dynamo.ConfigurationError{What: "equation", Name: s, Reason: "both sides empty"}
	}
	return eq, nil
}

func parseSide(side string) ([]Term, error) {
	side = strings.TrimSpace(side)
	if side == "" || side == "0" {
		return nil, nil
	}
	var out []Term
	seen := make(map[string]int)
	for _, raw := range strings.Split(side, "+") {
		t, err := parseTerm(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		if i, ok := seen[t.Species]; ok {
			out[i].Coeff += t.Coeff
			continue
		}
		seen[t.Species] = len(out)
		out = append(out, t)
	}
	return out, nil
}

func parseTerm(s string) (Term, error) {
	if s == "" {
		return Term{}, fmt.Errorf("empty term")
	}
	if f := strings.Fields(s); len(f) == 2 {
		c, err := strconv.ParseFloat(f[0], 64)
		if err != nil {
			return Term{}, fmt.Errorf("bad coefficient %q", f[0])
		}
		if !(c > 0) {
			return Term{}, fmt.Errorf("coefficient of %s must be positive", f[1])
		}
		return Term{Species: f[1], Coeff: c}, checkSpecies(f[1])
	} else if len(f) > 2 {
		return Term{}, fmt.Errorf("cannot parse term %q", s)
	}

	i := 0
	for i < len(s) && (unicode.IsDigit(rune(s[i])) || s[i] == '.') {
		i++
	}
	if i == 0 {
		return Term{Species: s, Coeff: 1}, checkSpecies(s)
	}
	if i == len(s) {
		return Term{}, fmt.Errorf("term %q has no species", s)
	}
	c, err := strconv.ParseFloat(s[:i], 64)
	if err != nil || !(c > 0) {
		return Term{}, fmt.Errorf("bad coefficient in %q", s)
	}
	return Term{Species: s[i:], Coeff: c}, checkSpecies(s[i:])
}

func checkSpecies(name string) error {
	for _, r := range name {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '\'') {
			return fmt.Errorf("invalid character %q in species %q", r, name)
		}
	}
	return nil
}

// NewReaction builds a reaction from its textual equation. backward must be
// set exactly when the equation is reversible.
func NewReaction(name, equation, forward, backward string) (Reaction, error) {
	eq, err := ParseEquation(equation)
	if err != nil {
		return nil, err
	}
	if forward == "" {
		return nil, &dynamo.ConfigurationError{What: "reaction", Name: name, Reason: "missing forward rate constant"}
	}
	if eq.Reversible {
		if backward == "" {
			return nil, &dynamo.ConfigurationError{What: "reaction", Name: name, Reason: "reversible equation needs a backward rate constant"}
		}
		return Reversible{Name: name, Reactants: eq.Reactants, Products: eq.Products, Forward: forward, Backward: backward}, nil
	}
	if backward != "" {
		return nil, &dynamo.ConfigurationError{What: "reaction", Name: name, Reason: "irreversible equation has a backward rate constant"}
	}
	return MassAction{Name: name, Reactants: eq.Reactants, Products: eq.Products, Rate: forward}, nil
}

// String renders the equation in the form ParseEquation accepts.
func (e Equation) String() string {
	arrow := " -> "
	if e.Reversible {
		arrow = " <=> "
	}
	return side(e.Reactants) + arrow + side(e.Products)
}

func side(terms []Term) string {
	if len(terms) == 0 {
		return "0"
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		if t.Coeff == 1 {
			parts[i] = t.Species
		} else {
			parts[i] = strconv.FormatFloat(t.Coeff, 'g', -1, 64) + " " + t.Species
		}
	}
	return strings.Join(parts, " + ")
}
