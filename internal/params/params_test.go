package params

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kinfit/internal/dynamo"
)

func TestNewSet(t *testing.T) {
	s, err := NewSet(Free("k1", 0.5), Bounded("k2", 1, 0, 10), Fixed("kx", 3))
	require.NoError(t, err)

	assert.Equal(t, []string{"k1", "k2", "kx"}, s.Names())
	assert.Equal(t, []string{"k1", "k2"}, s.Varying())

	v, err := s.Value("k2")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	_, err = s.Value("k9")
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Contains(t, err.Error(), "k1, k2, kx")
}

func TestNewSet_Invalid(t *testing.T) {
	tests := []struct {
		name string
		p    []Parameter
	}{
		{"duplicate", []Parameter{Free("k", 1), Free("k", 2)}},
		{"outside bounds", []Parameter{Bounded("k", 11, 0, 10)}},
		{"inverted bounds", []Parameter{Bounded("k", 1, 2, 0)}},
		{"nan value", []Parameter{Free("k", math.NaN())}},
		{"empty name", []Parameter{Free("", 1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSet(tt.p...)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestSet_Immutable(t *testing.T) {
	orig := MustSet(Free("k1", 0.5), Free("k2", 2))

	updated, err := orig.WithValues(map[string]float64{"k1": 9})
	require.NoError(t, err)
	assert.Equal(t, 9.0, updated.Values()["k1"])
	assert.Equal(t, 0.5, orig.Values()["k1"])

	added, err := orig.With(Fixed("k3", 1))
	require.NoError(t, err)
	assert.Equal(t, 3, added.Len())
	assert.Equal(t, 2, orig.Len())

	dropped := added.Without("k1")
	assert.Equal(t, []string{"k2", "k3"}, dropped.Names())
	assert.Equal(t, 3, added.Len())

	_, err = orig.WithValues(map[string]float64{"nope": 1})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestSet_Merge(t *testing.T) {
	a := MustSet(Free("k1", 1))
	b := MustSet(Free("k1", 5), Free("c0_A", 2))

	m := a.Merge(b)
	assert.Equal(t, []string{"k1", "c0_A"}, m.Names())
	assert.Equal(t, 1.0, m.Values()["k1"])
}

func TestNames(t *testing.T) {
	assert.Equal(t, "c0_HMF", InitialName("HMF"))
	assert.Equal(t, "k1@run2", Qualified("k1", "run2"))

	base, series := Split("c0_A@run1")
	assert.Equal(t, "c0_A", base)
	assert.Equal(t, "run1", series)

	base, series = Split("k1")
	assert.Equal(t, "k1", base)
	assert.Empty(t, series)
}

func TestBoundsTransformRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		p    Parameter
		vals []float64
	}{
		{"free", Free("k", 0), []float64{-3, 0, 2.5}},
		{"two sided", Bounded("k", 0.5, 0, 1), []float64{0, 0.1, 0.5, 0.99, 1}},
		{"lower only", Parameter{Name: "k", Min: 0, Max: math.Inf(1)}, []float64{0, 1e-3, 2, 100}},
		{"upper only", Parameter{Name: "k", Min: math.Inf(-1), Max: 5}, []float64{-10, 0, 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.vals {
				u := tt.p.ToInternal(v)
				assert.InDelta(t, v, tt.p.ToExternal(u), 1e-9*math.Max(1, math.Abs(v)))
			}
			for _, u := range []float64{-50, -1, 0, 1, 50} {
				x := tt.p.ToExternal(u)
				assert.GreaterOrEqual(t, x, tt.p.Min)
				assert.LessOrEqual(t, x, tt.p.Max)
			}
		})
	}
}
