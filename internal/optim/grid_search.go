// Package optim scans the chi-square surface of a fit over a grid of fixed
// parameter values. At every grid point the remaining free parameters are
// refitted, which gives a profile of the objective along the scanned
// parameters.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/fit"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/params"
)

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	// Logger reports skipped grid points.
	Logger logr.Logger
}

func NewGridSearch(names []string, ranges [][]float64) (*GridSearch, error) {
	if len(names) == 0 || len(names) != len(ranges) {
		return nil, &dynamo.ConfigurationError{What: "grid", Reason: fmt.Sprintf("%d parameters for %d ranges", len(names), len(ranges))}
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, &dynamo.ConfigurationError{What: "grid", Name: names[i], Reason: "empty range"}
		}
	}
	return &GridSearch{paramNames: append([]string(nil), names...), ranges: ranges, Logger: logr.Discard()}, nil
}

// Point is one evaluated grid point.
type Point struct {
	Values    map[string]float64
	ChiSquare float64
	Status    fit.Status
	Params    *params.Set
	Err       error
}

func (p Point) label() string {
	keys := make([]string, 0, len(p.Values))
	for k := range p.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%g", k, p.Values[k])
	}
	return strings.Join(parts, ",")
}

// Search fixes the grid parameters of set at every grid point and refits
// the others concurrently. Points come back in row-major grid order. A
// point whose value violates a parameter's bounds is skipped and logged; it
// and any failed refit keep their error and an infinite chi-square. best
// indexes the lowest chi-square, or is -1 when every point failed.
func (g *GridSearch) Search(ctx context.Context, cfg fit.Config, opts []fit.Option, ds *dataset.Dataset, model *kinetics.Model, set *params.Set) (points []Point, best int, err error) {
	for _, n := range g.paramNames {
		if _, ok := set.Get(n); !ok {
			return nil, -1, &dynamo.ConfigurationError{What: "grid parameter", Name: n, Reason: "not in parameter set", Candidate: set.Names()}
		}
	}

	var grid []map[string]float64
	g.searchRecursive(0, make(map[string]float64), &grid)

	var jobs []fit.Job
	var at []int
	points = make([]Point, len(grid))
	for i, values := range grid {
		points[i] = Point{Values: values, ChiSquare: math.Inf(1), Status: fit.StatusFailed}
		fixed, err := pin(set, values)
		if errors.Is(err, dynamo.ErrConfiguration) {
			g.Logger.Info("skipping grid point", "point", points[i].label(), "reason", err.Error())
			points[i].Err = err
			continue
		}
		if err != nil {
			return nil, -1, err
		}
		jobs = append(jobs, fit.Job{Name: points[i].label(), Dataset: ds, Model: model, Params: fixed})
		at = append(at, i)
	}

	// dense curves are not needed per grid point
	cfg.Points = 0
	outcomes, _ := fit.New(cfg, opts...).FitAll(ctx, jobs)

	for k, o := range outcomes {
		pt := &points[at[k]]
		pt.Status = o.Result.Status
		pt.Params = o.Result.Params
		pt.Err = o.Err
		if o.Err == nil {
			pt.ChiSquare = o.Result.ChiSquare
		}
	}
	best = -1
	for i := range points {
		if points[i].ChiSquare < math.Inf(1) && (best < 0 || points[i].ChiSquare < points[best].ChiSquare) {
			best = i
		}
	}
	return points, best, ctx.Err()
}

// pin fixes every parameter named in values at its grid value, keeping its
// bounds.
func pin(set *params.Set, values map[string]float64) (*params.Set, error) {
	fixed := set
	for name, v := range values {
		p, _ := fixed.Get(name)
		p.Value, p.Fixed = v, true
		var err error
		if fixed, err = fixed.With(p); err != nil {
			return nil, err
		}
	}
	return fixed, nil
}

func (g *GridSearch) searchRecursive(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		point := make(map[string]float64, len(current))
		for k, v := range current {
			point[k] = v
		}
		*out = append(*out, point)
		return
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		current[paramName] = val
		g.searchRecursive(depth+1, current, out)
	}
	delete(current, paramName)
}

// Linspace is a convenience for building evenly spaced ranges.
func Linspace(lo, hi float64, n int) []float64 { return fit.Linspace(lo, hi, n) }
