package fit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/integrators"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/params"
	"github.com/san-kum/kinfit/internal/residual"
)

var sampleTimes = []float64{0, 0.5, 1, 1.5, 2, 3, 4, 6, 8, 10}

func presetModel(name string) *kinetics.Model {
	p, err := kinetics.GetPreset(name)
	Expect(err).NotTo(HaveOccurred())
	m, err := p.Model()
	Expect(err).NotTo(HaveOccurred())
	return m
}

// observed simulates exact data for the named species.
func observed(m *kinetics.Model, truth *params.Set, species ...string) []dataset.Column {
	tr, err := Evaluate(m, truth, sampleTimes, integrators.DefaultConfig())
	Expect(err).NotTo(HaveOccurred())
	cols := make([]dataset.Column, len(species))
	for i, s := range species {
		cols[i] = dataset.Column{Name: s, Values: tr.Column(tr.Index(s))}
	}
	return cols
}

func single(name string, cols []dataset.Column) *dataset.Dataset {
	ds, err := dataset.New([]dataset.Series{{Name: name, Times: sampleTimes, Tracked: cols}}, dataset.Options{})
	Expect(err).NotTo(HaveOccurred())
	return ds
}

func value(set *params.Set, name string) float64 {
	v, err := set.Value(name)
	Expect(err).NotTo(HaveOccurred())
	return v
}

var _ = Describe("Fitter", func() {
	var (
		ctx   context.Context
		chain *kinetics.Model
		truth *params.Set
	)

	BeforeEach(func() {
		ctx = context.Background()
		chain = presetModel("consecutive")
		truth = params.MustSet(params.Free("k1", 0.7), params.Free("k2", 0.3), params.Free("c0_A", 1))
	})

	Describe("leastsq", func() {
		It("recovers the parameters of noise-free data", func() {
			ds := single("run", observed(chain, truth, "A", "B", "C"))
			guess := params.MustSet(
				params.Bounded("k1", 0.3, 0, 10),
				params.Bounded("k2", 0.6, 0, 10),
				params.Bounded("c0_A", 0.8, 0, 5),
			)

			res, err := New(DefaultConfig(), WithLogger(logging.NewTestLogger())).Fit(ctx, ds, chain, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusConverged))
			Expect(res.Success()).To(BeTrue())
			Expect(res.Err).To(BeNil())

			Expect(value(res.Params, "k1")).To(BeNumerically("~", 0.7, 1e-5))
			Expect(value(res.Params, "k2")).To(BeNumerically("~", 0.3, 1e-5))
			Expect(value(res.Params, "c0_A")).To(BeNumerically("~", 1, 1e-5))
			Expect(res.ChiSquare).To(BeNumerically("<", 1e-10))
			Expect(value(res.Initial, "k1")).To(Equal(0.3))

			Expect(res.NData).To(Equal(3 * len(sampleTimes)))
			Expect(res.NFree).To(Equal(3))
			Expect(res.Residuals).To(HaveLen(res.NData))
			Expect(res.Iterations).To(BeNumerically(">", 0))
			Expect(res.Evaluations).To(BeNumerically(">", res.Iterations))

			Expect(res.ErrorBars).To(BeTrue())
			Expect(res.Covariance).NotTo(BeNil())
			Expect(res.StdErr["k1"]).To(BeNumerically(">=", 0))
			Expect(math.IsNaN(res.Correlation("k1", "k2"))).To(BeFalse())

			fit, ok := res.Fit("run")
			Expect(ok).To(BeTrue())
			Expect(fit.Curve.Trajectory.Times).To(HaveLen(DefaultPoints))
			Expect(fit.Curve.Trajectory.Times[0]).To(Equal(0.0))
			Expect(fit.Curve.Trajectory.Times[DefaultPoints-1]).To(BeNumerically("~", 10, 1e-12))
			Expect(fit.ResidualStd).To(HaveKey("B"))
		})

		It("stays inside parameter bounds", func() {
			ds := single("run", observed(chain, truth, "A", "B"))
			guess := params.MustSet(
				params.Bounded("k1", 0.2, 0.1, 0.5),
				params.Free("k2", 0.3),
				params.Fixed("c0_A", 1),
			)

			res, err := New(DefaultConfig()).Fit(ctx, ds, chain, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(value(res.Params, "k1")).To(BeNumerically("<=", 0.5))
			Expect(value(res.Params, "k1")).To(BeNumerically("~", 0.5, 1e-2))
			Expect(res.Free).To(Equal([]string{"k1", "k2"}))
			Expect(math.IsNaN(res.StdErr["c0_A"])).To(BeTrue())
		})

		It("fits shared rate constants with independent initial conditions regardless of series order", func() {
			low := observed(chain, truth, "A", "C")
			high := observed(chain, params.MustSet(params.Free("k1", 0.7), params.Free("k2", 0.3), params.Free("c0_A", 2)), "A", "C")
			guess := params.MustSet(
				params.Bounded("k1", 0.4, 0, 10),
				params.Bounded("k2", 0.4, 0, 10),
				params.Bounded("c0_A", 1.5, 0, 5),
			)

			fitOrder := func(series ...dataset.Series) *Result {
				ds, err := dataset.New(series, dataset.Options{})
				Expect(err).NotTo(HaveOccurred())
				res, err := New(DefaultConfig()).Fit(ctx, ds, chain, guess)
				Expect(err).NotTo(HaveOccurred())
				Expect(res.Status).To(Equal(StatusConverged))
				return res
			}
			a := dataset.Series{Name: "low", Times: sampleTimes, Tracked: low}
			b := dataset.Series{Name: "high", Times: sampleTimes, Tracked: high}

			forward := fitOrder(a, b)
			reverse := fitOrder(b, a)

			for _, res := range []*Result{forward, reverse} {
				Expect(res.Free).To(ConsistOf("k1", "k2", "c0_A@low", "c0_A@high"))
				Expect(value(res.Params, "c0_A@low")).To(BeNumerically("~", 1, 1e-5))
				Expect(value(res.Params, "c0_A@high")).To(BeNumerically("~", 2, 1e-5))
				Expect(value(res.Params, "k1")).To(BeNumerically("~", 0.7, 1e-5))
			}
			Expect(value(forward.Params, "k2")).To(BeNumerically("~", value(reverse.Params, "k2"), 1e-6))
		})

		It("reports max-iterations with best-effort parameters", func() {
			ds := single("run", observed(chain, truth, "A", "B"))
			cfg := DefaultConfig()
			cfg.MaxIterations = 1
			guess := params.MustSet(params.Free("k1", 0.1), params.Free("k2", 2), params.Fixed("c0_A", 1))

			res, err := New(cfg).Fit(ctx, ds, chain, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(Equal(StatusMaxIterations))
			Expect(res.Iterations).To(Equal(1))
			Expect(errors.Is(res.Err, dynamo.ErrConvergence)).To(BeTrue())
			Expect(res.Params).NotTo(BeNil())
			Expect(res.ChiSquare).To(BeNumerically("<", chiSquareAt(ds, chain, guess)))
		})

		It("leaves standard errors undefined without enough data", func() {
			ts := []float64{0, 1}
			ds, err := dataset.New([]dataset.Series{{
				Name:    "short",
				Times:   ts,
				Tracked: []dataset.Column{{Name: "A", Values: []float64{1, math.Exp(-0.7)}}},
			}}, dataset.Options{})
			Expect(err).NotTo(HaveOccurred())

			res, err := New(DefaultConfig()).Fit(ctx, ds, chain, truth)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ErrorBars).To(BeFalse())
			Expect(res.Covariance).To(BeNil())
			Expect(math.IsNaN(res.ReducedChiSquare)).To(BeTrue())
			for _, n := range res.Params.Names() {
				Expect(math.IsNaN(res.StdErr[n])).To(BeTrue(), n)
			}
			Expect(math.IsNaN(res.RelativeError("k1"))).To(BeTrue())
		})

		It("leaves standard errors undefined for unidentifiable parameters", func() {
			ds := single("run", observed(chain, truth, "A"))
			cfg := DefaultConfig()
			// a fixed step keeps A independent of k2 down to the last bit
			cfg.Solver = integrators.DefaultConfig()
			cfg.Solver.Method = integrators.MethodRK4
			cfg.Solver.FixedStep = 0.01

			res, err := New(cfg).Fit(ctx, ds, chain, truth)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.ErrorBars).To(BeFalse())
			Expect(math.IsNaN(res.StdErr["k2"])).To(BeTrue())
		})

		It("notifies the observer once per iteration", func() {
			ds := single("run", observed(chain, truth, "A", "B", "C"))
			guess := params.MustSet(params.Free("k1", 0.3), params.Free("k2", 0.6), params.Fixed("c0_A", 1))

			var seen []Progress
			res, err := New(DefaultConfig(), WithObserver(func(p Progress) { seen = append(seen, p) })).Fit(ctx, ds, chain, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(seen).NotTo(BeEmpty())
			Expect(len(seen)).To(BeNumerically("<=", res.Iterations))
			for i := 1; i < len(seen); i++ {
				Expect(seen[i].Iteration).To(BeNumerically(">", seen[i-1].Iteration))
				Expect(seen[i].ChiSquare).To(BeNumerically("<=", seen[i-1].ChiSquare))
			}
			Expect(seen[0].Free).To(Equal([]string{"k1", "k2"}))
		})
	})

	Describe("nelder-mead", func() {
		It("fits the reversible preset", func() {
			rev := presetModel("reversible")
			exact := params.MustSet(params.Free("k1", 2), params.Free("k2", 1), params.Free("c0_A", 1))
			ds := single("eq", observed(rev, exact, "A", "B"))

			cfg := DefaultConfig()
			cfg.Method = MethodNelderMead
			cfg.MaxIterations = 5000
			cfg.FTol = 1e-12
			guess := params.MustSet(params.Bounded("k1", 1, 0, 100), params.Bounded("k2", 2, 0, 100), params.Fixed("c0_A", 1))

			res, err := New(cfg).Fit(ctx, ds, rev, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).To(BeElementOf(StatusConverged, StatusMaxIterations))
			Expect(res.Method).To(Equal(MethodNelderMead))
			Expect(value(res.Params, "k1")).To(BeNumerically("~", 2, 2e-2))
			Expect(value(res.Params, "k2")).To(BeNumerically("~", 1, 2e-2))
		})
	})

	Describe("failures", func() {
		var (
			boom  *kinetics.Model
			guess *params.Set
			ds    *dataset.Dataset
		)

		BeforeEach(func() {
			var err error
			boom, err = kinetics.NewModel([]string{"A"}, kinetics.MassAction{
				Name: "autocatalysis", Reactants: []kinetics.Term{{Species: "A", Coeff: 2}},
				Products: []kinetics.Term{{Species: "A", Coeff: 3}}, Rate: "k",
			})
			Expect(err).NotTo(HaveOccurred())
			guess = params.MustSet(params.Free("k", 1), params.Free("c0_A", 1))
			ds, err = dataset.New([]dataset.Series{{
				Name:    "runaway",
				Times:   []float64{0, 2, 3},
				Tracked: []dataset.Column{{Name: "A", Values: []float64{1, 2, 3}}},
			}}, dataset.Options{})
			Expect(err).NotTo(HaveOccurred())
		})

		It("surfaces integration errors", func() {
			res, err := New(DefaultConfig()).Fit(ctx, ds, boom, guess)
			Expect(res).NotTo(BeNil())
			Expect(res.Status).To(Equal(StatusFailed))

			var ierr *dynamo.IntegrationError
			Expect(errors.As(err, &ierr)).To(BeTrue())
			Expect(ierr.Series).To(Equal("runaway"))
			Expect(errors.Is(err, dynamo.ErrIntegration)).To(BeTrue())
			Expect(res.Err).To(MatchError(err))
		})

		It("continues past failing evaluations with a failure penalty", func() {
			cfg := DefaultConfig()
			cfg.FailurePenalty = Penalty(1e3)
			res, err := New(cfg).Fit(ctx, ds, boom, guess)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status).NotTo(Equal(StatusFailed))
		})

		It("reports configuration errors before integrating", func() {
			res, err := New(DefaultConfig()).Fit(ctx, ds, boom, params.MustSet(params.Free("c0_A", 1)))
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
			Expect(res.Status).To(Equal(StatusFailed))
			Expect(res.Evaluations).To(BeZero())

			cfg := DefaultConfig()
			cfg.Method = "simulated-annealing"
			_, err = New(cfg).Fit(ctx, ds, boom, guess)
			Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
		})

		It("stops when the context is cancelled", func() {
			ds := single("run", observed(chain, truth, "A"))
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			res, err := New(DefaultConfig()).Fit(cctx, ds, chain, truth)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(res.Status).To(Equal(StatusFailed))
		})
	})

	Describe("FitAll", func() {
		It("runs independent fits concurrently and keeps job order", func() {
			rev := presetModel("reversible")
			exact := params.MustSet(params.Free("k1", 2), params.Free("k2", 1), params.Free("c0_A", 1))
			boom, err := kinetics.NewModel([]string{"A"}, kinetics.MassAction{
				Name: "autocatalysis", Reactants: []kinetics.Term{{Species: "A", Coeff: 2}},
				Products: []kinetics.Term{{Species: "A", Coeff: 3}}, Rate: "k",
			})
			Expect(err).NotTo(HaveOccurred())
			bad, err := dataset.New([]dataset.Series{{
				Name: "runaway", Times: []float64{0, 2}, Tracked: []dataset.Column{{Name: "A", Values: []float64{1, 2}}},
			}}, dataset.Options{})
			Expect(err).NotTo(HaveOccurred())

			var mu sync.Mutex
			calls := 0
			f := New(DefaultConfig(), WithObserver(func(Progress) {
				mu.Lock()
				calls++
				mu.Unlock()
			}))

			out, err := f.FitAll(ctx, []Job{
				{Name: "chain", Dataset: single("c", observed(chain, truth, "A", "B")), Model: chain, Params: params.MustSet(params.Free("k1", 0.5), params.Free("k2", 0.5), params.Fixed("c0_A", 1))},
				{Name: "runaway", Dataset: bad, Model: boom, Params: params.MustSet(params.Free("k", 1), params.Fixed("c0_A", 1))},
				{Name: "reversible", Dataset: single("r", observed(rev, exact, "A")), Model: rev, Params: params.MustSet(params.Free("k1", 1), params.Free("k2", 1), params.Fixed("c0_A", 1))},
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("job runaway"))
			Expect(out).To(HaveLen(3))
			Expect(out[0].Name).To(Equal("chain"))
			Expect(out[0].Err).NotTo(HaveOccurred())
			Expect(out[1].Result.Status).To(Equal(StatusFailed))
			Expect(out[2].Result.Status).To(Equal(StatusConverged))
			Expect(value(out[2].Result.Params, "k1")).To(BeNumerically("~", 2, 1e-4))
			Expect(calls).To(BeNumerically(">", 0))
		})

		It("finishes every job with a single worker", func() {
			cfg := DefaultConfig()
			cfg.Workers = 1
			ds := single("c", observed(chain, truth, "A", "B"))
			jobs := make([]Job, 4)
			for i := range jobs {
				jobs[i] = Job{Name: fmt.Sprintf("j%d", i), Dataset: ds, Model: chain, Params: params.MustSet(params.Free("k1", 0.5), params.Free("k2", 0.5), params.Fixed("c0_A", 1))}
			}
			out, err := New(cfg).FitAll(ctx, jobs)
			Expect(err).NotTo(HaveOccurred())
			for i, o := range out {
				Expect(o.Name).To(Equal(fmt.Sprintf("j%d", i)))
				Expect(o.Result.Status).To(Equal(StatusConverged))
			}
		})
	})
})

var _ = Describe("Evaluate", func() {
	It("keeps concentrations constant with zero rate constants", func() {
		m := presetModel("consecutive")
		set := params.MustSet(params.Fixed("k1", 0), params.Fixed("k2", 0), params.Fixed("c0_A", 2), params.Fixed("c0_C", 0.5))
		tr, err := Evaluate(m, set, []float64{0, 1, 5}, integrators.Config{})
		Expect(err).NotTo(HaveOccurred())
		for _, x := range tr.States {
			Expect([]float64(x)).To(Equal([]float64{2, 0, 0.5}))
		}
	})

	It("reaches the reversible equilibrium", func() {
		m := presetModel("reversible")
		set := params.MustSet(params.Free("k1", 2), params.Free("k2", 1), params.Free("c0_A", 3))
		tr, err := Evaluate(m, set, []float64{0, 50}, integrators.DefaultConfig())
		Expect(err).NotTo(HaveOccurred())
		final := tr.States[1]
		Expect(final[0]).To(BeNumerically("~", 1, 1e-6))
		Expect(final[1]).To(BeNumerically("~", 2, 1e-6))
	})

	It("rejects sets missing a rate constant", func() {
		_, err := Evaluate(presetModel("reversible"), params.MustSet(params.Free("k1", 1)), []float64{0, 1}, integrators.Config{})
		Expect(errors.Is(err, dynamo.ErrConfiguration)).To(BeTrue())
	})
})

var _ = Describe("Config", func() {
	It("validates", func() {
		Expect(DefaultConfig().Validate()).To(Succeed())

		cfg := DefaultConfig()
		cfg.MaxIterations = 0
		Expect(cfg.Validate()).To(MatchError(dynamo.ErrConfiguration))

		cfg = DefaultConfig()
		cfg.FailurePenalty = Penalty(math.Inf(1))
		Expect(cfg.Validate()).To(MatchError(dynamo.ErrConfiguration))
	})

	It("names statuses", func() {
		Expect(StatusConverged.String()).To(Equal("converged"))
		Expect(StatusMaxIterations.Done()).To(BeTrue())
		Expect(StatusRunning.Done()).To(BeFalse())
	})

	It("spaces points evenly", func() {
		Expect(Linspace(0, 1, 5)).To(Equal([]float64{0, 0.25, 0.5, 0.75, 1}))
		Expect(Linspace(2, 2, 10)).To(Equal([]float64{2}))
	})
})

var _ = Describe("damp", func() {
	var (
		chol          mat.Cholesky
		M             *mat.SymDense
		g, rhs, delta *mat.VecDense
	)

	BeforeEach(func() {
		M = mat.NewSymDense(2, nil)
		g = mat.NewVecDense(2, []float64{-2, -4})
		rhs = mat.NewVecDense(2, nil)
		delta = mat.NewVecDense(2, nil)
	})

	It("solves the damped normal equations", func() {
		A := mat.NewSymDense(2, []float64{1, 0, 0, 2})
		lambda, ok := damp(&chol, A, M, g, rhs, delta, 1)
		Expect(ok).To(BeTrue())
		Expect(lambda).To(Equal(1.0))
		Expect(delta.AtVec(0)).To(BeNumerically("~", 1, 1e-12))
		Expect(delta.AtVec(1)).To(BeNumerically("~", 1, 1e-12))
	})

	It("gives up when no damping makes the system factorizable", func() {
		A := mat.NewSymDense(2, []float64{-1e6, 0, 0, 1})
		lambda, ok := damp(&chol, A, M, g, rhs, delta, lambdaInit)
		Expect(ok).To(BeFalse())
		Expect(lambda).To(BeNumerically(">", lambdaMax))
	})
})

var _ = Describe("covariance", func() {
	// decay whose rate law turns NaN for rate constants above kmax
	capped := func(kmax float64) *kinetics.Model {
		m, err := kinetics.NewModel([]string{"A"}, kinetics.Custom{
			Name: "capped", Uses: []string{"A"}, Params: []string{"k"},
			Stoichiometry: []kinetics.Term{{Species: "A", Coeff: -1}},
			Rate: func(c, k []float64, _ float64) float64 {
				if k[0] > kmax {
					return math.NaN()
				}
				return k[0] * c[0]
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	stdErrAt := func(m *kinetics.Model, noisy bool) ([]float64, error) {
		exact := params.MustSet(params.Free("k", 1), params.Fixed("c0_A", 1))
		cols := observed(m, exact, "A")
		if noisy {
			for i := range cols[0].Values {
				cols[0].Values[i] += 0.01 * float64(i%3-1)
			}
		}
		b, err := residual.New(single("decay", cols), m, exact, residual.Options{})
		Expect(err).NotTo(HaveOccurred())

		cfg := DefaultConfig()
		cfg.FailurePenalty = Penalty(1e3)
		p := newProblem(context.Background(), b, cfg, logging.NewTestLogger())
		x := []float64{1}
		r := make([]float64, b.Len())
		Expect(p.residuals(x, r)).To(Succeed())
		_, se, err := p.covariance(x, r, floats.Dot(r, r))
		return se, err
	}

	It("estimates standard errors when every step evaluates", func() {
		se, err := stdErrAt(capped(10), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(se[0]).To(BeNumerically(">", 0))
	})

	It("leaves standard errors undefined when a step hits the failure penalty", func() {
		_, err := stdErrAt(capped(1), true)
		Expect(err).To(MatchError(ContainSubstring("failure penalty")))
	})
})

func chiSquareAt(ds *dataset.Dataset, m *kinetics.Model, set *params.Set) float64 {
	b, err := residual.New(ds, m, set, residual.Options{})
	Expect(err).NotTo(HaveOccurred())
	x, err := b.Vector(b.Template())
	Expect(err).NotTo(HaveOccurred())
	r := make([]float64, b.Len())
	Expect(b.Evaluate(x, r)).To(Succeed())
	return floats.Dot(r, r)
}
