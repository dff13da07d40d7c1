package observe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kinfit/internal/dynamo"
)

func sample() *dynamo.Trajectory {
	return &dynamo.Trajectory{
		Species: []string{"A", "B", "C"},
		Times:   []float64{0, 1, 2},
		States: []dynamo.State{
			{10, 0, 1},
			{6, 3, 1},
			{2, 6, 3},
		},
	}
}

func TestSpecies(t *testing.T) {
	got, err := Species{"B"}.Project(sample())
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 3, 6}, got)

	_, err = Species{"Z"}.Project(sample())
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestCharge(t *testing.T) {
	c := Charge{Electrons: map[string]float64{"B": 2, "C": 4}, Volume: 0.1, Unit: 1e-6}
	got, err := c.Project(sample())
	require.NoError(t, err)

	scale := Faraday * 0.1 * 1e-6
	require.Len(t, got, 3)
	assert.Equal(t, 0.0, got[0])
	assert.InEpsilon(t, scale*(2*3+4*0), got[1], 1e-12)
	assert.InEpsilon(t, scale*(2*6+4*2), got[2], 1e-12)
	assert.InEpsilon(t, 96485.33212, Faraday, 1e-9)
}

func TestCharge_Invalid(t *testing.T) {
	tests := []struct {
		name string
		c    Charge
	}{
		{"zero volume", Charge{Electrons: map[string]float64{"A": 1}, Unit: 1}},
		{"zero unit", Charge{Electrons: map[string]float64{"A": 1}, Volume: 1}},
		{"no electrons", Charge{Volume: 1, Unit: 1}},
		{"unknown species", Charge{Electrons: map[string]float64{"X": 1}, Volume: 1, Unit: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.c.Project(sample())
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestProjectAll(t *testing.T) {
	ps := []Projector{Species{"C"}, Species{"A"}}
	got, err := ProjectAll(sample(), ps)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 1, 3}, {10, 6, 2}}, got)

	_, err = ProjectAll(sample(), []Projector{Species{"A"}, Species{"nope"}})
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Contains(t, err.Error(), "observable nope")
}
