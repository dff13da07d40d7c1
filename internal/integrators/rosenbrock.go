package integrators

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/kinfit/internal/dynamo"
)

var (
	rosD   = 1.0 / (2.0 + math.Sqrt2)
	rosE32 = 6.0 + math.Sqrt2
	sqrtEp = math.Sqrt(2.220446049250313e-16)
)

// Rosenbrock23 is the linearly implicit second-order method with a
// third-order error estimate (Shampine & Reichelt). It is L-stable, which
// keeps step sizes reasonable when fast and slow reactions coexist.
//
// The Jacobian is built by forward differences at the start of every
// attempt.
type Rosenbrock23 struct {
	w  *mat.Dense
	lu mat.LU
}

func NewRosenbrock23() *Rosenbrock23 {
	return &Rosenbrock23{}
}

func (r *Rosenbrock23) Order() int { return 2 }

func (r *Rosenbrock23) Attempt(dyn dynamo.System, x dynamo.State, t, dt float64, tol dynamo.Tolerance) (dynamo.State, float64) {
	n := len(x)
	if n == 0 {
		return dynamo.State{}, 0
	}
	if r.w == nil || r.w.RawMatrix().Rows != n {
		r.w = mat.NewDense(n, n, nil)
	}

	f0 := dyn.Derive(x, t).Clone()

	// W = I - h d J
	xp := x.Clone()
	for j := 0; j < n; j++ {
		delta := sqrtEp * math.Max(math.Abs(x[j]), 1)
		xp[j] = x[j] + delta
		fj := dyn.Derive(xp, t)
		xp[j] = x[j]
		for i := 0; i < n; i++ {
			v := -dt * rosD * (fj[i] - f0[i]) / delta
			if i == j {
				v += 1
			}
			r.w.Set(i, j, v)
		}
	}

	dtT := sqrtEp * math.Max(math.Abs(t), 1)
	ft := dyn.Derive(x, t+dtT)
	hdT := make([]float64, n)
	for i := 0; i < n; i++ {
		hdT[i] = dt * rosD * (ft[i] - f0[i]) / dtT
	}

	r.lu.Factorize(r.w)
	if r.lu.Det() == 0 || math.IsInf(r.lu.Cond(), 1) {
		return x.Clone(), math.Inf(1)
	}

	solve := func(b []float64) ([]float64, bool) {
		dst := mat.NewVecDense(n, nil)
		if err := r.lu.SolveVecTo(dst, false, mat.NewVecDense(n, b)); err != nil {
			if _, ok := err.(mat.Condition); !ok {
				return nil, false
			}
		}
		return dst.RawVector().Data, true
	}

	rhs := make([]float64, n)
	for i := 0; i < n; i++ {
		rhs[i] = f0[i] + hdT[i]
	}
	k1, ok := solve(rhs)
	if !ok {
		return x.Clone(), math.Inf(1)
	}

	xs := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xs[i] = x[i] + 0.5*dt*k1[i]
	}
	f1 := dyn.Derive(xs, t+0.5*dt).Clone()

	for i := 0; i < n; i++ {
		rhs[i] = f1[i] - k1[i]
	}
	k2, ok := solve(rhs)
	if !ok {
		return x.Clone(), math.Inf(1)
	}
	for i := 0; i < n; i++ {
		k2[i] += k1[i]
	}

	xNew := make(dynamo.State, n)
	for i := 0; i < n; i++ {
		xNew[i] = x[i] + dt*k2[i]
	}
	f2 := dyn.Derive(xNew, t+dt)

	for i := 0; i < n; i++ {
		rhs[i] = f2[i] - rosE32*(k2[i]-f1[i]) - 2*(k1[i]-f0[i]) + hdT[i]
	}
	k3, ok := solve(rhs)
	if !ok {
		return x.Clone(), math.Inf(1)
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		errEst := dt / 6.0 * (k1[i] - 2*k2[i] + k3[i])
		scale := tol.Abs + tol.Rel*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		sum += (errEst / scale) * (errEst / scale)
	}

	return xNew, math.Sqrt(sum / float64(n))
}
