// Package residual turns a candidate parameter vector into the weighted
// differences between observed and simulated data.
package residual

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/integrators"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/observe"
	"github.com/san-kum/kinfit/internal/params"
)

type Mode string

const (
	// Weighted divides by the per-sample standard deviation where one is
	// given and positive. Samples without a usable deviation (missing, NaN,
	// zero or infinite) fall back to the plain difference obs − pred, so a
	// partly weighted column mixes both scales. Replicate averages commonly
	// have a zero deviation at t0 where every replicate starts from the same
	// value; the builder logs the count of such samples per column.
	Weighted Mode = "weighted"
	// Absolute ignores standard deviations.
	Absolute Mode = "absolute"
	// Relative is (obs − pred)/(obs + pred), zero when the denominator is.
	Relative Mode = "relative"
)

func Modes() []string { return []string{string(Weighted), string(Absolute), string(Relative)} }

type Options struct {
	Mode   Mode
	Solver integrators.Config
	// Charge is required when any series carries a charge column.
	Charge *observe.Charge
	Logger logr.Logger
}

// Entry locates one residual component.
type Entry struct {
	Series     string
	Observable string
	Time       float64
}

type c0Source struct {
	param  int // index into Builder.names, -1 when unused
	offset float64
}

type seriesPlan struct {
	name       string
	grid       []float64
	columns    []dataset.Column
	projectors []observe.Projector
	at         [][]int // per observable: grid index of each sample
	rates      []int   // per model parameter: index into Builder.names
	c0         []c0Source
}

// Builder evaluates residual vectors for one dataset and model. It is
// immutable after New and may be shared between goroutines.
type Builder struct {
	model    *kinetics.Model
	ds       *dataset.Dataset
	template *params.Set
	names    []string
	base     []float64
	free     []string
	freeIdx  []int
	plans    []seriesPlan
	layout   []Entry
	opts     Options
}

// New resolves every parameter and species reference the dataset makes
// against model and template. Per-series parameters in template may be
// given unqualified; they are expanded for each series.
func New(ds *dataset.Dataset, model *kinetics.Model, template *params.Set, opts Options) (*Builder, error) {
	if opts.Mode == "" {
		opts.Mode = Weighted
	}
	switch opts.Mode {
	case Weighted, Absolute, Relative:
	default:
		return nil, &dynamo.ConfigurationError{What: "residual mode", Name: string(opts.Mode), Reason: "unknown", Candidate: Modes()}
	}
	if opts.Solver.Method == "" {
		opts.Solver = integrators.DefaultConfig()
	}
	if err := opts.Solver.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}
	if err := ds.Validate(model.Species()); err != nil {
		return nil, err
	}
	if opts.Charge != nil {
		if err := opts.Charge.Validate(); err != nil {
			return nil, err
		}
		if err := opts.Charge.Check(model.Species()); err != nil {
			return nil, err
		}
	}

	set, err := ds.Expand(template)
	if err != nil {
		return nil, err
	}
	b := &Builder{model: model, ds: ds, template: set, opts: opts}
	b.names = set.Names()
	pos := make(map[string]int, len(b.names))
	for i, n := range b.names {
		pos[n] = i
		p, _ := set.Get(n)
		b.base = append(b.base, p.Value)
	}
	used := make([]bool, len(b.names))

	var tracked []string
	for _, s := range ds.All() {
		plan, err := b.plan(s, pos, used)
		if err != nil {
			return nil, err
		}
		b.plans = append(b.plans, plan)
		tracked = append(tracked, s.TrackedNames()...)
		if s.Charge != nil {
			for sp, n := range opts.Charge.Electrons {
				if n != 0 {
					tracked = append(tracked, sp)
				}
			}
		}
	}

	for i, n := range b.names {
		if base, series := params.Split(n); strings.HasPrefix(base, params.InitialPrefix) {
			sp := strings.TrimPrefix(base, params.InitialPrefix)
			if model.Index(sp) < 0 {
				return nil, &dynamo.ConfigurationError{What: "initial condition", Name: n, Series: series, Reason: "species " + sp + " is not in the model", Candidate: model.Species()}
			}
		}
		p, _ := set.Get(n)
		if p.Fixed {
			continue
		}
		if !used[i] {
			return nil, &dynamo.ConfigurationError{What: "parameter", Name: n, Reason: "varies but no series uses it"}
		}
		b.free = append(b.free, n)
		b.freeIdx = append(b.freeIdx, i)
	}
	if iso := model.Isolated(tracked); len(iso) > 0 {
		opts.Logger.Info("species not connected to any observable; their rate constants cannot be identified", "species", iso)
	}
	opts.Logger.V(logging.DEBUG).Info("residual builder ready", "series", ds.Len(), "residuals", len(b.layout), "free", len(b.free))
	return b, nil
}

func (b *Builder) plan(s dataset.Series, pos map[string]int, used []bool) (seriesPlan, error) {
	plan := seriesPlan{name: s.Name, columns: append([]dataset.Column(nil), s.Tracked...)}

	for _, k := range b.model.Parameters() {
		name := b.ds.ParamName(k, s.Name)
		i, ok := pos[name]
		if !ok {
			return plan, &dynamo.ConfigurationError{What: "parameter", Name: name, Series: s.Name, Reason: "not defined", Candidate: b.names}
		}
		used[i] = true
		plan.rates = append(plan.rates, i)
	}
	for _, sp := range b.model.Species() {
		name := b.ds.ParamName(params.InitialName(sp), s.Name)
		if i, ok := pos[name]; ok {
			used[i] = true
			plan.c0 = append(plan.c0, c0Source{param: i})
			continue
		}
		plan.c0 = append(plan.c0, c0Source{param: -1, offset: s.Offsets[sp]})
	}

	chargeTimes := s.EffectiveChargeTimes()
	if s.Charge == nil {
		chargeTimes = nil
	}
	plan.grid = merge(s.Times, chargeTimes)

	for _, c := range s.Tracked {
		b.logUnweighted(s.Name, c)
		plan.projectors = append(plan.projectors, observe.Species{Species: c.Name})
		plan.at = append(plan.at, locate(plan.grid, s.Times))
		for _, t := range s.Times {
			b.layout = append(b.layout, Entry{Series: s.Name, Observable: c.Name, Time: t})
		}
	}
	if s.Charge != nil {
		if b.opts.Charge == nil {
			return plan, &dynamo.ConfigurationError{What: "charge", Series: s.Name, Reason: "series has a charge column but no electron counts are configured"}
		}
		b.logUnweighted(s.Name, *s.Charge)
		plan.projectors = append(plan.projectors, *b.opts.Charge)
		plan.columns = append(plan.columns, *s.Charge)
		plan.at = append(plan.at, locate(plan.grid, chargeTimes))
		for _, t := range chargeTimes {
			b.layout = append(b.layout, Entry{Series: s.Name, Observable: observe.ChargeName, Time: t})
		}
	}
	return plan, nil
}

func usableStd(sd float64) bool { return sd > 0 && !math.IsInf(sd, 0) }

// logUnweighted reports weighted columns where some observed samples lack
// a usable deviation and so enter the residual unscaled.
func (b *Builder) logUnweighted(series string, c dataset.Column) {
	if b.opts.Mode != Weighted || c.Std == nil {
		return
	}
	n := 0
	for k, v := range c.Values {
		if !math.IsNaN(v) && !usableStd(c.Std[k]) {
			n++
		}
	}
	if n > 0 {
		b.opts.Logger.V(logging.VERBOSE).Info("samples without a usable standard deviation are not weighted",
			"series", series, "observable", c.Name, "samples", n, "of", len(c.Values))
	}
}

// merge returns the sorted union of two strictly increasing grids.
func merge(a, b []float64) []float64 {
	out := make([]float64, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j == len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i == len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func locate(grid, times []float64) []int {
	out := make([]int, len(times))
	g := 0
	for k, t := range times {
		for grid[g] != t {
			g++
		}
		out[k] = g
	}
	return out
}

// Free returns the varying parameter names in the order the candidate
// vector uses.
func (b *Builder) Free() []string { return append([]string(nil), b.free...) }

// Len is the residual vector length.
func (b *Builder) Len() int { return len(b.layout) }

// Layout describes every residual index.
func (b *Builder) Layout() []Entry { return append([]Entry(nil), b.layout...) }

// Template is the expanded parameter set the builder resolved against.
func (b *Builder) Template() *params.Set { return b.template }

func (b *Builder) Mode() Mode { return b.opts.Mode }

// Series returns copies of the dataset series in residual order.
func (b *Builder) Series() []dataset.Series { return b.ds.All() }

// Vector extracts the free parameter values of set in Free order.
func (b *Builder) Vector(set *params.Set) ([]float64, error) {
	out := make([]float64, len(b.free))
	for i, n := range b.free {
		v, err := set.Value(n)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Set returns the template with the free values replaced by vector.
func (b *Builder) Set(vector []float64) (*params.Set, error) {
	if len(vector) != len(b.free) {
		return nil, fmt.Errorf("residual: vector has %d values for %d free parameters", len(vector), len(b.free))
	}
	vals := make(map[string]float64, len(vector))
	for i, n := range b.free {
		vals[n] = vector[i]
	}
	return b.template.WithValues(vals)
}

func (b *Builder) values(vector []float64) []float64 {
	all := append([]float64(nil), b.base...)
	for i, idx := range b.freeIdx {
		all[idx] = vector[i]
	}
	return all
}

// Evaluate writes observed − predicted for every entry of Layout into dst.
// dst must have Len elements. Integration failures are returned as
// *dynamo.IntegrationError naming the series.
func (b *Builder) Evaluate(vector, dst []float64) error {
	if len(vector) != len(b.free) {
		return fmt.Errorf("residual: vector has %d values for %d free parameters", len(vector), len(b.free))
	}
	if len(dst) != len(b.layout) {
		return fmt.Errorf("residual: destination has %d slots for %d residuals", len(dst), len(b.layout))
	}
	all := b.values(vector)

	off := 0
	for pi := range b.plans {
		plan := &b.plans[pi]
		obs, err := b.simulate(plan, all, plan.grid)
		if err != nil {
			return err
		}
		for oi, col := range plan.columns {
			pred := obs[oi]
			for k, g := range plan.at[oi] {
				sd := math.NaN()
				if col.Std != nil {
					sd = col.Std[k]
				}
				dst[off] = b.component(col.Values[k], pred[g], sd)
				off++
			}
		}
	}
	return nil
}

func (b *Builder) component(obs, pred, sd float64) float64 {
	if math.IsNaN(obs) {
		return 0
	}
	switch b.opts.Mode {
	case Relative:
		d := obs + pred
		if d == 0 {
			return 0
		}
		return (obs - pred) / d
	case Weighted:
		if usableStd(sd) {
			return (obs - pred) / sd
		}
	}
	return obs - pred
}

func (b *Builder) simulate(plan *seriesPlan, all, times []float64) ([][]float64, error) {
	tr, err := b.trajectory(plan, all, times)
	if err != nil {
		return nil, err
	}
	return observe.ProjectAll(tr, plan.projectors)
}

func (b *Builder) trajectory(plan *seriesPlan, all, times []float64) (*dynamo.Trajectory, error) {
	k := make([]float64, len(plan.rates))
	for i, idx := range plan.rates {
		k[i] = all[idx]
	}
	sys, err := b.model.BindValues(k)
	if err != nil {
		return nil, err
	}
	x0 := make(dynamo.State, len(plan.c0))
	for i, src := range plan.c0 {
		if src.param >= 0 {
			x0[i] = all[src.param]
		} else {
			x0[i] = src.offset
		}
	}

	tr, err := integrators.Solve(sys, x0, times, b.opts.Solver)
	if err != nil {
		var ierr *dynamo.IntegrationError
		if errors.As(err, &ierr) {
			out := *ierr
			out.Series = plan.name
			return nil, &out
		}
		var cerr *dynamo.ConfigurationError
		if errors.As(err, &cerr) {
			out := *cerr
			out.Series = plan.name
			return nil, &out
		}
		return nil, fmt.Errorf("series %s: %w", plan.name, err)
	}
	tr.Species = b.model.Species()
	return tr, nil
}

// Simulation is a trajectory with its observables, for reporting.
type Simulation struct {
	Series      string
	Trajectory  *dynamo.Trajectory
	Observables []string
	Values      [][]float64
}

// Simulate integrates one series with set on arbitrary times. times[0] is
// taken as the time of the initial state.
func (b *Builder) Simulate(set *params.Set, series string, times []float64) (*Simulation, error) {
	var plan *seriesPlan
	for i := range b.plans {
		if b.plans[i].name == series {
			plan = &b.plans[i]
			break
		}
	}
	if plan == nil {
		return nil, &dynamo.ConfigurationError{What: "series", Name: series, Reason: "not in dataset", Candidate: b.ds.Names()}
	}
	all := make([]float64, len(b.names))
	for i, n := range b.names {
		v, err := set.Value(n)
		if err != nil {
			return nil, err
		}
		all[i] = v
	}
	tr, err := b.trajectory(plan, all, times)
	if err != nil {
		return nil, err
	}
	vals, err := observe.ProjectAll(tr, plan.projectors)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(plan.projectors))
	for i, p := range plan.projectors {
		names[i] = p.Name()
	}
	return &Simulation{Series: series, Trajectory: tr, Observables: names, Values: vals}, nil
}

// Stats splits the residual vector per series and observable and returns
// the standard deviation of each group, keyed "<series>/<observable>".
func (b *Builder) Stats(res []float64) map[string]float64 {
	groups := make(map[string][]float64)
	for i, e := range b.layout {
		if i >= len(res) {
			break
		}
		k := e.Series + "/" + e.Observable
		groups[k] = append(groups[k], res[i])
	}
	out := make(map[string]float64, len(groups))
	for k, g := range groups {
		out[k] = stddev(g)
	}
	return out
}

func stddev(v []float64) float64 {
	if len(v) < 2 {
		return math.NaN()
	}
	return stat.StdDev(v, nil)
}

// GroupKey splits a Stats key into series and observable.
func GroupKey(key string) (series, observable string) {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}
