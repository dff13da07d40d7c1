// Package dataset holds the measured series a model is fitted against.
//
// A [Dataset] is validated once at construction and is read-only
// afterwards. Accessors hand out copies.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/observe"
	"github.com/san-kum/kinfit/internal/params"
)

// Column is one observed quantity sampled at the series times. Std is
// optional; when present it has one entry per sample. NaN values mark
// missing samples.
type Column struct {
	Name   string
	Values []float64
	Std    []float64
}

// Series is one experiment run.
type Series struct {
	Name  string
	Times []float64

	// Tracked holds one column per measured species, in the order their
	// residuals are emitted.
	Tracked []Column

	// Charge is the optional accumulated charge. ChargeTimes defaults to
	// Times when nil.
	Charge      *Column
	ChargeTimes []float64

	// Untracked species are simulated but not measured.
	Untracked []string

	// Offsets fix the starting concentration of species that have no c0_
	// parameter.
	Offsets map[string]float64
}

// Observables returns the observable names in residual order: tracked
// species, then charge.
func (s Series) Observables() []string {
	out := make([]string, 0, len(s.Tracked)+1)
	for _, c := range s.Tracked {
		out = append(out, c.Name)
	}
	if s.Charge != nil {
		out = append(out, observe.ChargeName)
	}
	return out
}

// TrackedNames returns the measured species names.
func (s Series) TrackedNames() []string {
	out := make([]string, len(s.Tracked))
	for i, c := range s.Tracked {
		out[i] = c.Name
	}
	return out
}

// Samples counts residual entries contributed by the series.
func (s Series) Samples() int {
	n := len(s.Times) * len(s.Tracked)
	if s.Charge != nil {
		n += len(s.chargeTimes())
	}
	return n
}

func (s Series) chargeTimes() []float64 {
	if s.ChargeTimes != nil {
		return s.ChargeTimes
	}
	return s.Times
}

// EffectiveChargeTimes returns the grid the charge column is sampled on.
func (s Series) EffectiveChargeTimes() []float64 {
	return append([]float64(nil), s.chargeTimes()...)
}

// Span returns the first and last time covered by any observable.
func (s Series) Span() (float64, float64) {
	lo, hi := s.Times[0], s.Times[len(s.Times)-1]
	if s.Charge != nil {
		ct := s.chargeTimes()
		lo, hi = math.Min(lo, ct[0]), math.Max(hi, ct[len(ct)-1])
	}
	return lo, hi
}

func (s Series) clone() Series {
	out := s
	out.Times = append([]float64(nil), s.Times...)
	out.Tracked = make([]Column, len(s.Tracked))
	for i, c := range s.Tracked {
		out.Tracked[i] = c.clone()
	}
	if s.Charge != nil {
		c := s.Charge.clone()
		out.Charge = &c
	}
	if s.ChargeTimes != nil {
		out.ChargeTimes = append([]float64(nil), s.ChargeTimes...)
	}
	out.Untracked = append([]string(nil), s.Untracked...)
	if s.Offsets != nil {
		out.Offsets = make(map[string]float64, len(s.Offsets))
		for k, v := range s.Offsets {
			out.Offsets[k] = v
		}
	}
	return out
}

func (c Column) clone() Column {
	out := Column{Name: c.Name, Values: append([]float64(nil), c.Values...)}
	if c.Std != nil {
		out.Std = append([]float64(nil), c.Std...)
	}
	return out
}

// Options controls how parameters are shared between series.
type Options struct {
	// PerSeries lists parameters fitted independently for every series.
	PerSeries []string
	// SharedInitial lists c0_ parameters shared by all series instead of
	// being fitted per series.
	SharedInitial []string
}

type Dataset struct {
	series    []Series
	perSeries map[string]bool
	sharedC0  map[string]bool
}

// New validates and copies the series.
func New(series []Series, opts Options) (*Dataset, error) {
	if len(series) == 0 {
		return nil, &dynamo.ConfigurationError{What: "dataset", Reason: "no series"}
	}
	ds := &Dataset{
		series:    make([]Series, 0, len(series)),
		perSeries: make(map[string]bool, len(opts.PerSeries)),
		sharedC0:  make(map[string]bool, len(opts.SharedInitial)),
	}
	seen := make(map[string]bool, len(series))
	for _, s := range series {
		if err := validateSeries(s); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, &dynamo.ConfigurationError{What: "series", Name: s.Name, Reason: "declared twice"}
		}
		seen[s.Name] = true
		ds.series = append(ds.series, s.clone())
	}
	for _, n := range opts.PerSeries {
		if strings.Contains(n, params.SeriesSep) {
			return nil, &dynamo.ConfigurationError{What: "per-series parameter", Name: n, Reason: "must be an unqualified name"}
		}
		ds.perSeries[n] = true
	}
	for _, n := range opts.SharedInitial {
		if !strings.HasPrefix(n, params.InitialPrefix) {
			return nil, &dynamo.ConfigurationError{What: "shared initial condition", Name: n, Reason: "must start with " + params.InitialPrefix}
		}
		ds.sharedC0[n] = true
	}
	return ds, nil
}

func validateSeries(s Series) error {
	bad := func(what, name, reason string) error {
		return &dynamo.ConfigurationError{What: what, Name: name, Series: s.Name, Reason: reason}
	}
	if s.Name == "" {
		return &dynamo.ConfigurationError{What: "series", Reason: "empty name"}
	}
	if strings.Contains(s.Name, params.SeriesSep) {
		return bad("series", s.Name, "name must not contain "+params.SeriesSep)
	}
	if err := checkTimes(s.Name, s.Times); err != nil {
		return err
	}
	if len(s.Tracked) == 0 && s.Charge == nil {
		return bad("series", s.Name, "no observables")
	}

	species := make(map[string]bool)
	for _, c := range s.Tracked {
		if c.Name == "" {
			return bad("tracked species", "", "empty name")
		}
		if species[c.Name] {
			return bad("tracked species", c.Name, "declared twice")
		}
		species[c.Name] = true
		if err := checkColumn(s.Name, c, len(s.Times)); err != nil {
			return err
		}
	}
	if s.Charge != nil {
		ct := s.chargeTimes()
		if s.ChargeTimes != nil {
			if err := checkTimes(s.Name, ct); err != nil {
				return err
			}
		}
		if err := checkColumn(s.Name, *s.Charge, len(ct)); err != nil {
			return err
		}
	}
	for _, u := range s.Untracked {
		if species[u] {
			return bad("untracked species", u, "also tracked")
		}
		species[u] = true
	}
	for sp, v := range s.Offsets {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return bad("offset", sp, "must be finite")
		}
	}
	return nil
}

func checkTimes(series string, times []float64) error {
	err := dynamo.CheckTimes(times)
	var cerr *dynamo.ConfigurationError
	if errors.As(err, &cerr) {
		out := *cerr
		out.Series = series
		return &out
	}
	return err
}

func checkColumn(series string, c Column, n int) error {
	if len(c.Values) != n {
		return &dynamo.ConfigurationError{What: "column", Name: c.Name, Series: series, Reason: fmt.Sprintf("has %d values for %d time points", len(c.Values), n)}
	}
	if c.Std == nil {
		return nil
	}
	if len(c.Std) != n {
		return &dynamo.ConfigurationError{What: "column", Name: c.Name, Series: series, Reason: fmt.Sprintf("has %d standard deviations for %d time points", len(c.Std), n)}
	}
	for i, sd := range c.Std {
		if sd < 0 || math.IsInf(sd, 0) {
			return &dynamo.ConfigurationError{What: "column", Name: c.Name, Series: series, Reason: fmt.Sprintf("invalid standard deviation %g at index %d", sd, i)}
		}
	}
	return nil
}

func (d *Dataset) Len() int { return len(d.series) }

// Series returns a copy of the i-th series.
func (d *Dataset) Series(i int) Series { return d.series[i].clone() }

// All returns copies of every series in dataset order.
func (d *Dataset) All() []Series {
	out := make([]Series, len(d.series))
	for i, s := range d.series {
		out[i] = s.clone()
	}
	return out
}

// Names returns the series names in dataset order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.series))
	for i, s := range d.series {
		out[i] = s.Name
	}
	return out
}

// Lookup finds a series by name.
func (d *Dataset) Lookup(name string) (Series, bool) {
	for _, s := range d.series {
		if s.Name == name {
			return s.clone(), true
		}
	}
	return Series{}, false
}

// Samples counts residual entries over all series.
func (d *Dataset) Samples() int {
	n := 0
	for _, s := range d.series {
		n += s.Samples()
	}
	return n
}

// IsPerSeries reports whether the parameter base name is fitted per series.
// Initial conditions are per series unless declared shared.
func (d *Dataset) IsPerSeries(base string) bool {
	if strings.HasPrefix(base, params.InitialPrefix) {
		return !d.sharedC0[base]
	}
	return d.perSeries[base]
}

// ParamName returns the name under which series looks up base. Per-series
// parameters are qualified only when the dataset has more than one series.
func (d *Dataset) ParamName(base, series string) string {
	if len(d.series) > 1 && d.IsPerSeries(base) {
		return params.Qualified(base, series)
	}
	return base
}

// Validate checks every species the series reference against the model
// species.
func (d *Dataset) Validate(species []string) error {
	known := make(map[string]bool, len(species))
	for _, s := range species {
		known[s] = true
	}
	for _, s := range d.series {
		check := func(what, name string) error {
			if known[name] {
				return nil
			}
			return &dynamo.ConfigurationError{What: what, Name: name, Series: s.Name, Reason: "not declared by the model", Candidate: species}
		}
		for _, c := range s.Tracked {
			if err := check("tracked species", c.Name); err != nil {
				return err
			}
		}
		for _, u := range s.Untracked {
			if err := check("untracked species", u); err != nil {
				return err
			}
		}
		for sp := range s.Offsets {
			if err := check("offset species", sp); err != nil {
				return err
			}
		}
	}
	return nil
}

// InitialGuesses returns a free c0_ parameter per tracked species and
// series, valued at the first observed sample. Species whose samples are
// all missing start at zero.
func (d *Dataset) InitialGuesses() []params.Parameter {
	var out []params.Parameter
	seen := make(map[string]bool)
	for _, s := range d.series {
		for _, c := range s.Tracked {
			name := d.ParamName(params.InitialName(c.Name), s.Name)
			if seen[name] {
				continue
			}
			seen[name] = true
			v := 0.0
			for _, x := range c.Values {
				if !math.IsNaN(x) {
					v = x
					break
				}
			}
			out = append(out, params.Free(name, v))
		}
	}
	return out
}

// Expand rewrites every per-series parameter of template into one copy per
// series. Shared parameters are kept once.
func (d *Dataset) Expand(template *params.Set) (*params.Set, error) {
	var out []params.Parameter
	for _, p := range template.Params() {
		base, series := params.Split(p.Name)
		if series != "" || !d.IsPerSeries(base) || len(d.series) == 1 {
			out = append(out, p)
			continue
		}
		for _, s := range d.series {
			q := p
			q.Name = d.ParamName(base, s.Name)
			if _, dup := template.Get(q.Name); dup {
				continue
			}
			out = append(out, q)
		}
	}
	return params.NewSet(out...)
}
