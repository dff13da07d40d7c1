package fit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/observe"
	"github.com/san-kum/kinfit/internal/params"
	"github.com/san-kum/kinfit/internal/residual"
)

type Fitter struct {
	cfg      Config
	log      logr.Logger
	observer func(Progress)
	charge   *observe.Charge
}

type Option func(*Fitter)

func WithLogger(log logr.Logger) Option {
	return func(f *Fitter) { f.log = log }
}

// WithObserver registers fn to receive one Progress per iteration. With
// FitAll, fn is called from several goroutines.
func WithObserver(fn func(Progress)) Option {
	return func(f *Fitter) { f.observer = fn }
}

// WithCharge supplies the electron counts used for series that carry a
// charge column.
func WithCharge(c observe.Charge) Option {
	return func(f *Fitter) { f.charge = &c }
}

func New(cfg Config, opts ...Option) *Fitter {
	f := &Fitter{cfg: cfg, log: logr.Discard()}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fitter) Config() Config { return f.cfg }

// Fit adjusts the free parameters of set until the simulated observables of
// model match ds. The returned Result is never nil.
func (f *Fitter) Fit(ctx context.Context, ds *dataset.Dataset, model *kinetics.Model, set *params.Set) (*Result, error) {
	start := time.Now()
	res := &Result{Method: f.cfg.Method, Status: StatusInitialized, Params: set, Initial: set, StdErr: map[string]float64{}}
	fail := func(msg string, err error) (*Result, error) {
		res.Status, res.Message, res.Err = StatusFailed, msg, err
		res.Elapsed = time.Since(start)
		f.log.Error(err, "fit failed", "message", msg)
		return res, err
	}

	if err := f.cfg.Validate(); err != nil {
		return fail("invalid fit configuration", err)
	}
	b, err := residual.New(ds, model, set, residual.Options{
		Mode:   residual.Mode(f.cfg.ResidualMode),
		Solver: f.cfg.Solver,
		Charge: f.charge,
		Logger: f.log,
	})
	if err != nil {
		return fail("invalid fit setup", err)
	}
	res.Initial, res.Params = b.Template(), b.Template()
	res.Free, res.NFree, res.NData = b.Free(), len(b.Free()), b.Len()
	res.Layout = b.Layout()

	p := newProblem(ctx, b, f.cfg, f.log)
	x0, err := b.Vector(b.Template())
	if err != nil {
		return fail("invalid fit setup", err)
	}
	r0 := make([]float64, b.Len())
	if err := p.residuals(x0, r0); err != nil {
		res.Evaluations = p.evals
		return fail("initial guess cannot be evaluated", err)
	}

	res.Status = StatusRunning
	f.log.V(logging.VERBOSE).Info("fit started", "method", f.cfg.Method, "free", res.NFree, "residuals", res.NData, "chi2", floats.Dot(r0, r0))

	var out outcome
	switch f.cfg.Method {
	case MethodNelderMead:
		out = f.nelderMead(p, x0, r0)
	default:
		out = f.levenbergMarquardt(p, x0, r0)
	}

	res.Iterations, res.Evaluations = out.iters, p.evals
	res.ChiSquare, res.Residuals = out.chi2, out.r
	res.ReducedChiSquare = math.NaN()
	if dof := res.NData - res.NFree; dof > 0 {
		res.ReducedChiSquare = out.chi2 / float64(dof)
	}
	if best, err := b.Set(out.x); err == nil {
		res.Params = best
	}
	for _, n := range res.Params.Names() {
		res.StdErr[n] = math.NaN()
	}
	if p.penalized > 0 {
		f.log.Info("some evaluations failed and were penalized", "count", p.penalized)
	}

	if out.status == StatusFailed {
		return fail(out.message, out.err)
	}
	res.Status, res.Message = out.status, out.message
	if out.status == StatusMaxIterations {
		res.Err = fmt.Errorf("%w: %s", dynamo.ErrConvergence, out.message)
	}

	cov, se, err := p.covariance(out.x, out.r, out.chi2)
	if err != nil {
		f.log.V(logging.VERBOSE).Info("standard errors undefined", "reason", err.Error())
	} else {
		res.Covariance, res.ErrorBars = cov, true
		for i, n := range res.Free {
			res.StdErr[n] = se[i]
		}
	}
	res.Evaluations = p.evals
	res.Fits = f.curves(b, res)
	res.Elapsed = time.Since(start)

	f.log.Info("fit finished", "status", res.Status.String(), "message", res.Message,
		"chi2", res.ChiSquare, "iterations", res.Iterations, "evaluations", res.Evaluations)
	return res, nil
}

// curves samples every series on a dense grid spanning its data.
func (f *Fitter) curves(b *residual.Builder, res *Result) []SeriesFit {
	stats := b.Stats(res.Residuals)
	var out []SeriesFit
	for _, s := range b.Series() {
		fit := SeriesFit{Series: s.Name, ResidualStd: map[string]float64{}}
		for key, sd := range stats {
			if series, obs := residual.GroupKey(key); series == s.Name {
				fit.ResidualStd[obs] = sd
			}
		}
		if f.cfg.Points > 0 {
			lo, hi := s.Span()
			sim, err := b.Simulate(res.Params, s.Name, Linspace(lo, hi, f.cfg.Points))
			if err != nil {
				f.log.Info("cannot sample fitted curve", "series", s.Name, "error", err.Error())
			} else {
				fit.Curve = sim
			}
		}
		out = append(out, fit)
	}
	return out
}

// Linspace returns n evenly spaced points from lo to hi. A degenerate span
// yields the single point lo.
func Linspace(lo, hi float64, n int) []float64 {
	if n < 2 || !(hi > lo) {
		return []float64{lo}
	}
	out := make([]float64, n)
	floats.Span(out, lo, hi)
	return out
}
