package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/logging"
)

const (
	lambdaInit = 1e-3
	lambdaMin  = 1e-12
	lambdaMax  = 1e16
	lambdaUp   = 10.0
	lambdaDown = 10.0
)

// jacobian fills J (m×n) with forward differences of the residuals with
// respect to the internal coordinates u. r holds the residuals at u.
func (p *problem) jacobian(u, r []float64, J *mat.Dense) error {
	m := len(r)
	ut := append([]float64(nil), u...)
	rt := make([]float64, m)
	for j := range u {
		h := p.eps * math.Abs(u[j])
		if h == 0 {
			h = p.eps
		}
		ut[j] = u[j] + h
		if err := p.residuals(p.external(ut), rt); err != nil {
			return err
		}
		ut[j] = u[j]
		for i := 0; i < m; i++ {
			J.Set(i, j, (rt[i]-r[i])/h)
		}
	}
	return nil
}

// levenbergMarquardt minimizes the sum of squared residuals starting from
// the external coordinates x0. r0 holds the residuals at x0.
func (f *Fitter) levenbergMarquardt(p *problem, x0, r0 []float64) outcome {
	n, m := p.n(), p.m()
	u := p.internal(x0)
	x := append([]float64(nil), x0...)
	r := append([]float64(nil), r0...)
	chi2 := p.chiSquare(r)

	out := func(iters int, st Status, msg string, err error) outcome {
		return outcome{x: x, r: r, chi2: chi2, iters: iters, status: st, message: msg, err: err}
	}
	if n == 0 {
		return out(0, StatusConverged, "no free parameters", nil)
	}

	J := mat.NewDense(m, n, nil)
	A := mat.NewSymDense(n, nil)
	M := mat.NewSymDense(n, nil)
	g := mat.NewVecDense(n, nil)
	delta := mat.NewVecDense(n, nil)
	rhs := mat.NewVecDense(n, nil)
	jd := mat.NewVecDense(m, nil)
	rt := make([]float64, m)
	var chol mat.Cholesky

	lambda := lambdaInit
	for iter := 1; ; iter++ {
		if err := p.ctx.Err(); err != nil {
			return out(iter-1, StatusFailed, "cancelled", err)
		}
		if iter > f.cfg.MaxIterations {
			return out(iter-1, StatusMaxIterations, fmt.Sprintf("stopped after %d iterations", f.cfg.MaxIterations), nil)
		}
		if chi2 == 0 {
			return out(iter-1, StatusConverged, "residuals are exactly zero", nil)
		}

		if err := p.jacobian(u, r, J); err != nil {
			return out(iter-1, StatusFailed, "jacobian evaluation failed", err)
		}
		A.SymOuterK(1, J.T())
		g.MulVec(J.T(), mat.NewVecDense(m, r))

		if f.cfg.GTol > 0 {
			rn := math.Sqrt(chi2)
			gmax := 0.0
			for j := 0; j < n; j++ {
				if d := A.At(j, j); d > 0 {
					gmax = math.Max(gmax, math.Abs(g.AtVec(j))/(math.Sqrt(d)*rn))
				}
			}
			if gmax <= f.cfg.GTol {
				return out(iter-1, StatusConverged, "gradient orthogonal to residuals within gtol", nil)
			}
		}

		accepted := false
		for !accepted {
			var ok bool
			if lambda, ok = damp(&chol, A, M, g, rhs, delta, lambda); !ok {
				msg := "normal equations singular at every damping"
				return out(iter, StatusFailed, msg, fmt.Errorf("%w: %s", dynamo.ErrConvergence, msg))
			}

			ut := make([]float64, n)
			for j := range ut {
				ut[j] = u[j] + delta.AtVec(j)
			}
			xt := p.external(ut)
			if err := p.residuals(xt, rt); err != nil {
				return out(iter, StatusFailed, "residual evaluation failed", err)
			}
			chi2t := p.chiSquare(rt)

			if chi2t >= chi2 {
				lambda *= lambdaUp
				if lambda > lambdaMax {
					return out(iter, StatusConverged, "no further reduction possible", nil)
				}
				continue
			}
			accepted = true

			// predicted reduction of the linear model r + J·δ
			jd.MulVec(J, delta)
			pred := 0.0
			for i := 0; i < m; i++ {
				v := r[i] + jd.AtVec(i)
				pred += v * v
			}
			actred := (chi2 - chi2t) / chi2
			prered := (chi2 - pred) / chi2
			stepNorm := floats.Norm(delta.RawVector().Data, 2)
			uNorm := floats.Norm(u, 2)

			u, x = ut, xt
			copy(r, rt)
			chi2 = chi2t
			lambda = math.Max(lambda/lambdaDown, lambdaMin)

			p.log.V(logging.DEBUG).Info("leastsq iteration", "iteration", iter, "chi2", chi2, "lambda", lambda)
			if f.observer != nil {
				f.observer(p.progress(iter, chi2, lambda, x))
			}

			if f.cfg.FTol > 0 && math.Abs(actred) <= f.cfg.FTol && prered <= f.cfg.FTol {
				return out(iter, StatusConverged, "relative reduction in chi-square below ftol", nil)
			}
			if f.cfg.XTol > 0 && stepNorm <= f.cfg.XTol*(uNorm+f.cfg.XTol) {
				return out(iter, StatusConverged, "relative step below xtol", nil)
			}
		}
	}
}

// damp solves (A + λ·D)δ = −g into delta, D = diag(max(A_jj, lambdaMin)),
// raising λ until the system factorizes. It returns the λ used, and false
// once λ passes lambdaMax.
func damp(chol *mat.Cholesky, A, M *mat.SymDense, g, rhs, delta *mat.VecDense, lambda float64) (float64, bool) {
	n := A.SymmetricDim()
	for ; lambda <= lambdaMax; lambda *= lambdaUp {
		M.CopySym(A)
		for j := 0; j < n; j++ {
			d := math.Max(A.At(j, j), lambdaMin)
			M.SetSym(j, j, A.At(j, j)+lambda*d)
		}
		rhs.ScaleVec(-1, g)
		if chol.Factorize(M) && chol.SolveVecTo(delta, rhs) == nil {
			return lambda, true
		}
	}
	return lambda, false
}
