// Package params holds named fit parameters with bounds and fixed flags.
//
// A [Set] is an immutable value: every helper that changes a value returns a
// new Set, so a Set handed to a fit is never modified underneath it.
package params

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/san-kum/kinfit/internal/dynamo"
)

// InitialPrefix marks initial-condition parameters ("c0_A" is the starting
// concentration of species A).
const InitialPrefix = "c0_"

// SeriesSep separates a parameter name from the series it belongs to when a
// parameter is fitted independently per series ("k1@run2").
const SeriesSep = "@"

type Parameter struct {
	Name  string  `yaml:"name" json:"name"`
	Value float64 `yaml:"value" json:"value"`
	Min   float64 `yaml:"min" json:"min"`
	Max   float64 `yaml:"max" json:"max"`
	Fixed bool    `yaml:"fixed" json:"fixed"`
}

// Free returns an unbounded, varying parameter.
func Free(name string, value float64) Parameter {
	return Parameter{Name: name, Value: value, Min: math.Inf(-1), Max: math.Inf(1)}
}

// Bounded returns a varying parameter confined to [min, max].
func Bounded(name string, value, min, max float64) Parameter {
	return Parameter{Name: name, Value: value, Min: min, Max: max}
}

// Fixed returns a parameter held at value during the fit.
func Fixed(name string, value float64) Parameter {
	return Parameter{Name: name, Value: value, Min: math.Inf(-1), Max: math.Inf(1), Fixed: true}
}

func (p Parameter) Validate() error {
	if p.Name == "" {
		return &dynamo.ConfigurationError{What: "parameter", Reason: "empty name"}
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		return &dynamo.ConfigurationError{What: "parameter", Name: p.Name, Reason: "value must be finite"}
	}
	if math.IsNaN(p.Min) || math.IsNaN(p.Max) {
		return &dynamo.ConfigurationError{What: "parameter", Name: p.Name, Reason: "bounds must not be NaN"}
	}
	if p.Min >= p.Max {
		return &dynamo.ConfigurationError{What: "parameter", Name: p.Name, Reason: fmt.Sprintf("min %g is not below max %g", p.Min, p.Max)}
	}
	if p.Value < p.Min || p.Value > p.Max {
		return &dynamo.ConfigurationError{What: "parameter", Name: p.Name, Reason: fmt.Sprintf("value %g outside bounds [%g, %g]", p.Value, p.Min, p.Max)}
	}
	return nil
}

// Set is an ordered collection of parameters keyed by name.
type Set struct {
	order []string
	items map[string]Parameter
}

// NewSet validates every parameter and rejects duplicate names.
func NewSet(ps ...Parameter) (*Set, error) {
	s := &Set{order: make([]string, 0, len(ps)), items: make(map[string]Parameter, len(ps))}
	for _, p := range ps {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.items[p.Name]; dup {
			return nil, &dynamo.ConfigurationError{What: "parameter", Name: p.Name, Reason: "declared twice"}
		}
		s.order = append(s.order, p.Name)
		s.items[p.Name] = p
	}
	return s, nil
}

// MustSet is NewSet for literals in tests and presets.
func MustSet(ps ...Parameter) *Set {
	s, err := NewSet(ps...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Set) Len() int { return len(s.order) }

// Names returns parameter names in declaration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

func (s *Set) Get(name string) (Parameter, bool) {
	p, ok := s.items[name]
	return p, ok
}

// Value resolves name or returns a ConfigurationError listing what exists.
func (s *Set) Value(name string) (float64, error) {
	p, ok := s.items[name]
	if !ok {
		return 0, &dynamo.ConfigurationError{What: "parameter", Name: name, Reason: "not defined", Candidate: s.Names()}
	}
	return p.Value, nil
}

// Params returns a copy of all parameters in declaration order.
func (s *Set) Params() []Parameter {
	out := make([]Parameter, len(s.order))
	for i, n := range s.order {
		out[i] = s.items[n]
	}
	return out
}

// Values returns name -> value.
func (s *Set) Values() map[string]float64 {
	out := make(map[string]float64, len(s.items))
	for n, p := range s.items {
		out[n] = p.Value
	}
	return out
}

// With returns a copy of s with p added or replaced in place.
func (s *Set) With(p Parameter) (*Set, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	out := s.clone()
	if _, ok := out.items[p.Name]; !ok {
		out.order = append(out.order, p.Name)
	}
	out.items[p.Name] = p
	return out, nil
}

// Without returns a copy of s without the named parameters.
func (s *Set) Without(names ...string) *Set {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	out := &Set{items: make(map[string]Parameter, len(s.items))}
	for _, n := range s.order {
		if drop[n] {
			continue
		}
		out.order = append(out.order, n)
		out.items[n] = s.items[n]
	}
	return out
}

// WithValues returns a copy of s with values replaced. Values are taken as
// proposed by an optimizer and are not re-checked against bounds.
func (s *Set) WithValues(values map[string]float64) (*Set, error) {
	out := s.clone()
	for n, v := range values {
		p, ok := out.items[n]
		if !ok {
			return nil, &dynamo.ConfigurationError{What: "parameter", Name: n, Reason: "not defined", Candidate: s.Names()}
		}
		p.Value = v
		out.items[n] = p
	}
	return out, nil
}

// Varying returns the names of non-fixed parameters in declaration order.
func (s *Set) Varying() []string {
	out := make([]string, 0, len(s.order))
	for _, n := range s.order {
		if !s.items[n].Fixed {
			out = append(out, n)
		}
	}
	return out
}

// Merge returns a copy of s extended with every parameter of other that s
// does not already declare.
func (s *Set) Merge(other *Set) *Set {
	out := s.clone()
	for _, n := range other.order {
		if _, ok := out.items[n]; ok {
			continue
		}
		out.order = append(out.order, n)
		out.items[n] = other.items[n]
	}
	return out
}

func (s *Set) clone() *Set {
	out := &Set{order: append([]string(nil), s.order...), items: make(map[string]Parameter, len(s.items))}
	for n, p := range s.items {
		out.items[n] = p
	}
	return out
}

func (s *Set) String() string {
	names := s.Names()
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%g", n, s.items[n].Value)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// InitialName returns the initial-condition parameter name for a species.
func InitialName(species string) string { return InitialPrefix + species }

// Qualified returns the per-series name of a parameter.
func Qualified(name, series string) string { return name + SeriesSep + series }

// Split separates a qualified name into base name and series. Unqualified
// names return an empty series.
func Split(name string) (base, series string) {
	if i := strings.LastIndex(name, SeriesSep); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
