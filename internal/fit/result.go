package fit

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/kinfit/internal/params"
	"github.com/san-kum/kinfit/internal/residual"
)

// Progress is reported to the observer once per iteration.
type Progress struct {
	Iteration   int
	Evaluations int
	ChiSquare   float64
	Lambda      float64 // damping, leastsq only
	Free        []string
	Values      []float64 // external coordinates, Free order
}

// SeriesFit is the fitted model of one series on a dense time grid.
type SeriesFit struct {
	Series string
	Curve  *residual.Simulation
	// ResidualStd is the standard deviation of the residuals per observable.
	ResidualStd map[string]float64
}

// Result is created once per fit and is read-only afterwards.
type Result struct {
	Method  string
	Status  Status
	Message string
	Err     error

	Params  *params.Set
	Initial *params.Set
	Free    []string
	// StdErr holds one entry per parameter; NaN where undefined (fixed
	// parameters, ill-conditioned fits).
	StdErr     map[string]float64
	ErrorBars  bool
	Covariance *mat.SymDense // Free order, nil without error bars

	ChiSquare        float64
	ReducedChiSquare float64
	NData            int
	NFree            int
	Iterations       int
	Evaluations      int
	Elapsed          time.Duration

	Residuals []float64
	Layout    []residual.Entry
	Fits      []SeriesFit
}

// Success reports whether the minimizer met its convergence criteria.
func (r *Result) Success() bool { return r.Status == StatusConverged }

// RelativeError returns stderr/|value| in percent, NaN when undefined.
func (r *Result) RelativeError(name string) float64 {
	se, ok := r.StdErr[name]
	if !ok {
		return math.NaN()
	}
	v, err := r.Params.Value(name)
	if err != nil || v == 0 {
		return math.NaN()
	}
	return se / math.Abs(v) * 100
}

// Correlation returns the correlation coefficient of two free parameters.
func (r *Result) Correlation(a, b string) float64 {
	if r.Covariance == nil {
		return math.NaN()
	}
	ia, ib := -1, -1
	for i, n := range r.Free {
		if n == a {
			ia = i
		}
		if n == b {
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return math.NaN()
	}
	return r.Covariance.At(ia, ib) / math.Sqrt(r.Covariance.At(ia, ia)*r.Covariance.At(ib, ib))
}

// Fit returns the dense fitted curve of a series.
func (r *Result) Fit(series string) (SeriesFit, bool) {
	for _, f := range r.Fits {
		if f.Series == series {
			return f, true
		}
	}
	return SeriesFit{}, false
}
