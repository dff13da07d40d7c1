package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxCond bounds the condition number of JᵀJ accepted for error bars.
const maxCond = 1e15

// covariance estimates the parameter covariance at the external point x
// from a forward-difference Jacobian in external coordinates, scaled by the
// reduced chi-square. A non-nil error explains why the estimate is
// undefined, including any evaluation that fell back to the failure
// penalty.
func (p *problem) covariance(x, r []float64, chi2 float64) (cov *mat.SymDense, stderr []float64, err error) {
	n, m := p.n(), p.m()
	if n == 0 {
		return nil, nil, fmt.Errorf("no free parameters")
	}
	if m <= n {
		return nil, nil, fmt.Errorf("%d residuals for %d free parameters", m, n)
	}

	// Differences against penalty rows carry no curvature information.
	before := p.penalized
	if p.penalty != nil {
		rb := make([]float64, m)
		if err := p.residuals(x, rb); err != nil {
			return nil, nil, err
		}
		if p.penalized > before {
			return nil, nil, fmt.Errorf("best point hit the failure penalty")
		}
		r = rb
	}

	J := mat.NewDense(m, n, nil)
	xt := append([]float64(nil), x...)
	rt := make([]float64, m)
	for j := range x {
		h := p.eps * math.Abs(x[j])
		if h == 0 {
			h = p.eps
		}
		if x[j]+h > p.free[j].Max {
			h = -h
		}
		xt[j] = x[j] + h
		if err := p.residuals(xt, rt); err != nil {
			return nil, nil, err
		}
		if p.penalized > before {
			return nil, nil, fmt.Errorf("step in %s hit the failure penalty", p.free[j].Name)
		}
		xt[j] = x[j]
		for i := 0; i < m; i++ {
			J.Set(i, j, (rt[i]-r[i])/h)
		}
	}

	A := mat.NewSymDense(n, nil)
	A.SymOuterK(1, J.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(A); !ok {
		return nil, nil, fmt.Errorf("JᵀJ is not positive definite")
	}
	if c := chol.Cond(); c > maxCond || math.IsNaN(c) {
		return nil, nil, fmt.Errorf("JᵀJ is ill-conditioned (condition number %.3g)", c)
	}
	cov = mat.NewSymDense(n, nil)
	if err := chol.InverseTo(cov); err != nil {
		return nil, nil, err
	}
	redchi := chi2 / float64(m-n)
	cov.ScaleSym(redchi, cov)

	stderr = make([]float64, n)
	for j := range stderr {
		v := cov.At(j, j)
		if !(v >= 0) || math.IsInf(v, 0) {
			return nil, nil, fmt.Errorf("variance of %s is %g", p.free[j].Name, v)
		}
		stderr[j] = math.Sqrt(v)
	}
	return cov, stderr, nil
}
