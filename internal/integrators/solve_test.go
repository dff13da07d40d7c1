package integrators

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kinfit/internal/dynamo"
)

// consecutive models A -> B -> C with first-order steps.
type consecutive struct{ k1, k2 float64 }

func (c *consecutive) StateDim() int { return 3 }
func (c *consecutive) Derive(x dynamo.State, t float64) dynamo.State {
	r1 := c.k1 * x[0]
	r2 := c.k2 * x[1]
	return dynamo.State{-r1, r1 - r2, r2}
}

// explosive follows dx/dt = x^2, which diverges at t = 1/x0.
type explosive struct{}

func (e *explosive) StateDim() int { return 1 }
func (e *explosive) Derive(x dynamo.State, t float64) dynamo.State {
	return dynamo.State{x[0] * x[0]}
}

func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = a + (b-a)*float64(i)/float64(n-1)
	}
	return out
}

func TestSolve_FirstOrderDecay(t *testing.T) {
	methods := []struct {
		name   string
		relTol float64
		within float64
	}{
		{MethodRK45, 1e-9, 1e-6},
		{MethodRosenbrock23, 1e-7, 1e-4},
	}

	for _, m := range methods {
		for _, k := range []float64{0.01, 0.3, 1, 5} {
			t.Run(fmt.Sprintf("%s/k=%g", m.name, k), func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Method = m.name
				cfg.RelTol = m.relTol

				times := linspace(0, 10, 21)
				tr, err := Solve(&consecutive{k1: k, k2: 0}, dynamo.State{1, 0, 0}, times, cfg)
				require.NoError(t, err)
				require.Len(t, tr.States, len(times))

				for i, ti := range times {
					want := math.Exp(-k * ti)
					assert.InDelta(t, want, tr.States[i][0], m.within, "t=%g", ti)
					assert.InDelta(t, 1-want, tr.States[i][1], m.within, "t=%g", ti)
				}
			})
		}
	}
}

func TestSolve_ZeroRatesKeepInitialState(t *testing.T) {
	for _, method := range Methods() {
		t.Run(method, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Method = method
			cfg.FixedStep = 0.1

			x0 := dynamo.State{0.7, 0.2, 0.1}
			times := []float64{0, 0.5, 3, 100}
			tr, err := Solve(&consecutive{}, x0, times, cfg)
			require.NoError(t, err)

			for _, s := range tr.States {
				assert.Equal(t, x0, s)
			}
		})
	}
}

func TestSolve_PreservesRequestedTimes(t *testing.T) {
	times := []float64{0.5, 0.51, 0.8, 2, 2.000001, 7.25}
	tr, err := Solve(&consecutive{k1: 2, k2: 0.5}, dynamo.State{1, 0, 0}, times, DefaultConfig())
	require.NoError(t, err)

	assert.Equal(t, times, tr.Times)
	assert.Len(t, tr.States, len(times))
	assert.Equal(t, dynamo.State{1, 0, 0}, tr.States[0])

	total := tr.States[len(times)-1][0] + tr.States[len(times)-1][1] + tr.States[len(times)-1][2]
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestSolve_StiffNetwork(t *testing.T) {
	k1, k2 := 1e4, 1.0
	cfg := DefaultConfig()
	cfg.Method = MethodRosenbrock23
	cfg.RelTol = 1e-6
	cfg.AbsTol = 1e-10
	cfg.MaxSteps = 1000

	tr, err := Solve(&consecutive{k1: k1, k2: k2}, dynamo.State{1, 0, 0}, []float64{0, 1}, cfg)
	require.NoError(t, err)

	wantB := k1 / (k2 - k1) * (math.Exp(-k1) - math.Exp(-k2))
	assert.InEpsilon(t, wantB, tr.States[1][1], 1e-3)
}

func TestSolve_RK4FixedStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Method = MethodRK4
	cfg.FixedStep = 0.01

	tr, err := Solve(&consecutive{k1: 1}, dynamo.State{1, 0, 0}, []float64{0, 1}, cfg)
	require.NoError(t, err)
	assert.InDelta(t, math.Exp(-1), tr.States[1][0], 1e-8)
}

func TestSolve_Divergence(t *testing.T) {
	_, err := Solve(&explosive{}, dynamo.State{1}, []float64{0, 0.5, 2}, DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dynamo.ErrIntegration))

	var ie *dynamo.IntegrationError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, 0.5, ie.From)
	assert.Equal(t, 2.0, ie.To)
	assert.Less(t, ie.Reached, 1.0)
}

func TestSolve_StepBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSteps = 3

	_, err := Solve(&consecutive{k1: 50, k2: 1}, dynamo.State{1, 0, 0}, []float64{0, 10}, cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, dynamo.ErrStepBudget)
	assert.ErrorIs(t, err, dynamo.ErrIntegration)
}

func TestSolve_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		x0    dynamo.State
		times []float64
		cfg   func(*Config)
	}{
		{"unknown method", dynamo.State{1, 0, 0}, []float64{0, 1}, func(c *Config) { c.Method = "lsoda" }},
		{"zero tolerance", dynamo.State{1, 0, 0}, []float64{0, 1}, func(c *Config) { c.RelTol = 0 }},
		{"rk4 without step", dynamo.State{1, 0, 0}, []float64{0, 1}, func(c *Config) { c.Method = MethodRK4 }},
		{"dimension mismatch", dynamo.State{1, 0}, []float64{0, 1}, func(c *Config) {}},
		{"unordered times", dynamo.State{1, 0, 0}, []float64{0, 2, 1}, func(c *Config) {}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.cfg(&cfg)
			_, err := Solve(&consecutive{k1: 1}, tt.x0, tt.times, cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestNew_UnknownMethod(t *testing.T) {
	_, err := New("euler")
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Equal(t, []string{MethodRK45, MethodRK4, MethodRosenbrock23}, Methods())
}
