package fit

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-logr/logr"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/params"
	"github.com/san-kum/kinfit/internal/residual"
)

// problem is the state of one running fit. It is not shared between
// goroutines.
type problem struct {
	ctx     context.Context
	b       *residual.Builder
	free    []params.Parameter
	penalty *float64
	eps     float64
	log     logr.Logger

	evals     int
	penalized int
}

func newProblem(ctx context.Context, b *residual.Builder, cfg Config, log logr.Logger) *problem {
	tmpl := b.Template()
	p := &problem{ctx: ctx, b: b, penalty: cfg.FailurePenalty, log: log}
	for _, n := range b.Free() {
		par, _ := tmpl.Get(n)
		p.free = append(p.free, par)
	}
	p.eps = math.Sqrt(math.Max(cfg.Epsfcn, epsilon))
	return p
}

const epsilon = 2.220446049250313e-16

func (p *problem) n() int { return len(p.free) }
func (p *problem) m() int { return p.b.Len() }

func (p *problem) external(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, par := range p.free {
		x[i] = par.ToExternal(u[i])
	}
	return x
}

func (p *problem) internal(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, par := range p.free {
		u[i] = par.ToInternal(x[i])
	}
	return u
}

// residuals evaluates the builder at external coordinates x. With a failure
// penalty configured, integration failures fill dst with the penalty.
func (p *problem) residuals(x, dst []float64) error {
	p.evals++
	err := p.b.Evaluate(x, dst)
	if err == nil {
		for i, v := range dst {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				err = fmt.Errorf("%w: residual %d is %g", dynamo.ErrNonFinite, i, v)
				break
			}
		}
	}
	if err == nil {
		return nil
	}
	if p.penalty != nil && (errors.Is(err, dynamo.ErrIntegration) || errors.Is(err, dynamo.ErrNonFinite)) {
		p.penalized++
		p.log.V(logging.TRACE).Info("evaluation failed, applying penalty", "error", err.Error())
		for i := range dst {
			dst[i] = *p.penalty
		}
		return nil
	}
	return err
}

func (p *problem) chiSquare(r []float64) float64 { return floats.Dot(r, r) }

func (p *problem) progress(iter int, chi2, lambda float64, x []float64) Progress {
	return Progress{
		Iteration:   iter,
		Evaluations: p.evals,
		ChiSquare:   chi2,
		Lambda:      lambda,
		Free:        p.b.Free(),
		Values:      append([]float64(nil), x...),
	}
}

// outcome is what a minimizer hands back to the driver.
type outcome struct {
	x       []float64 // external coordinates
	r       []float64
	chi2    float64
	iters   int
	status  Status
	message string
	err     error
}
