package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/san-kum/kinfit/internal/logging"
)

// stallIterations is how many major iterations the simplex may go without
// improving the sum of squares by more than FTol before it is considered
// converged.
const stallIterations = 50

type recorder func(loc *optimize.Location, st *optimize.Stats)

func (recorder) Init() error { return nil }

func (r recorder) Record(loc *optimize.Location, op optimize.Operation, st *optimize.Stats) error {
	if op&optimize.MajorIteration != 0 {
		r(loc, st)
	}
	return nil
}

// nelderMead minimizes the sum of squares with the gonum simplex method in
// internal coordinates.
func (f *Fitter) nelderMead(p *problem, x0, r0 []float64) outcome {
	best := outcome{x: append([]float64(nil), x0...), r: append([]float64(nil), r0...), chi2: p.chiSquare(r0)}
	if p.n() == 0 {
		best.status, best.message = StatusConverged, "no free parameters"
		return best
	}

	buf := make([]float64, p.m())
	var failure error
	prob := optimize.Problem{
		Func: func(u []float64) float64 {
			if failure != nil {
				return math.Inf(1)
			}
			x := p.external(u)
			if err := p.residuals(x, buf); err != nil {
				failure = err
				return math.Inf(1)
			}
			chi2 := p.chiSquare(buf)
			if chi2 < best.chi2 {
				best.x, best.chi2 = x, chi2
				best.r = append(best.r[:0], buf...)
			}
			return chi2
		},
		Status: func() (optimize.Status, error) {
			if failure != nil {
				return optimize.Failure, failure
			}
			if err := p.ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}

	settings := &optimize.Settings{
		MajorIterations: f.cfg.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-300,
			Relative:   f.cfg.FTol,
			Iterations: stallIterations,
		},
		Recorder: recorder(func(loc *optimize.Location, st *optimize.Stats) {
			p.log.V(logging.DEBUG).Info("nelder-mead iteration", "iteration", st.MajorIterations, "chi2", loc.F)
			if f.observer != nil {
				f.observer(p.progress(st.MajorIterations, loc.F, math.NaN(), p.external(loc.X)))
			}
		}),
	}

	res, err := optimize.Minimize(prob, p.internal(x0), settings, &optimize.NelderMead{})
	if res != nil {
		best.iters = res.Stats.MajorIterations
	}

	switch {
	case failure != nil:
		best.status, best.message, best.err = StatusFailed, "residual evaluation failed", failure
	case p.ctx.Err() != nil:
		best.status, best.message, best.err = StatusFailed, "cancelled", p.ctx.Err()
	case res == nil:
		best.status, best.message, best.err = StatusFailed, "minimizer failed", err
	case res.Status == optimize.IterationLimit || res.Status == optimize.FunctionEvaluationLimit:
		best.status, best.message = StatusMaxIterations, fmt.Sprintf("stopped after %d iterations", res.Stats.MajorIterations)
	case err != nil:
		best.status, best.message, best.err = StatusFailed, "minimizer failed", err
	default:
		best.status, best.message = StatusConverged, fmt.Sprintf("simplex converged (%s)", res.Status)
	}
	return best
}
