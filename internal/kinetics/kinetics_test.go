package kinetics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/params"
)

func TestModel_Derive(t *testing.T) {
	m, err := NewModel([]string{"A", "B", "C"},
		Reversible{Name: "ab", Reactants: Terms("A"), Products: Terms("B"), Forward: "k1", Backward: "k2"},
		MassAction{Name: "dim", Reactants: []Term{{"B", 2}}, Products: Terms("C"), Rate: "k3"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"k1", "k2", "k3"}, m.Parameters())

	sys, err := m.Bind(params.MustSet(params.Free("k1", 2), params.Free("k2", 0.5), params.Free("k3", 0.1)))
	require.NoError(t, err)

	x := dynamo.State{1, 3, 0}
	dx := sys.Derive(x, 0)
	// r1 = 2*1 - 0.5*3 = 0.5, r2 = 0.1*9 = 0.9
	assert.InDelta(t, -0.5, dx[0], 1e-12)
	assert.InDelta(t, 0.5-2*0.9, dx[1], 1e-12)
	assert.InDelta(t, 0.9, dx[2], 1e-12)
	assert.Equal(t, dynamo.State{1, 3, 0}, x, "input state must not change")
}

func TestModel_Custom(t *testing.T) {
	mm := Custom{
		Name:          "mm",
		Uses:          []string{"S"},
		Params:        []string{"vmax", "km"},
		Stoichiometry: []Term{{"S", -1}, {"P", 1}},
		Rate: func(c, k []float64, _ float64) float64 {
			return k[0] * c[0] / (k[1] + c[0])
		},
	}
	m, err := NewModel([]string{"S", "P"}, mm)
	require.NoError(t, err)

	dx, err := m.Derivatives(dynamo.State{2, 0}, params.MustSet(params.Free("vmax", 3), params.Free("km", 1)))
	require.NoError(t, err)
	assert.InDelta(t, -2.0, dx[0], 1e-12)
	assert.InDelta(t, 2.0, dx[1], 1e-12)
}

func TestNewModel_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		species   []string
		reactions []Reaction
	}{
		{"no species", nil, nil},
		{"duplicate species", []string{"A", "A"}, nil},
		{"unknown species", []string{"A"}, []Reaction{MassAction{Name: "r", Reactants: Terms("A"), Products: Terms("Z"), Rate: "k"}}},
		{"zero coefficient", []string{"A", "B"}, []Reaction{MassAction{Name: "r", Reactants: []Term{{"A", 0}}, Products: Terms("B"), Rate: "k"}}},
		{"negative coefficient", []string{"A", "B"}, []Reaction{MassAction{Name: "r", Reactants: []Term{{"A", -1}}, Products: Terms("B"), Rate: "k"}}},
		{"duplicate reaction", []string{"A", "B"}, []Reaction{
			MassAction{Name: "r", Reactants: Terms("A"), Products: Terms("B"), Rate: "k"},
			MassAction{Name: "r", Reactants: Terms("B"), Products: Terms("A"), Rate: "k2"},
		}},
		{"missing rate name", []string{"A", "B"}, []Reaction{MassAction{Name: "r", Reactants: Terms("A"), Products: Terms("B")}}},
		{"reversible without products", []string{"A"}, []Reaction{Reversible{Name: "r", Reactants: Terms("A"), Forward: "k1", Backward: "k2"}}},
		{"custom without rate", []string{"A"}, []Reaction{Custom{Name: "r", Stoichiometry: []Term{{"A", -1}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.species, tt.reactions...)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestModel_BindMissing(t *testing.T) {
	p, err := GetPreset("reversible")
	require.NoError(t, err)
	m, err := p.Model()
	require.NoError(t, err)

	_, err = m.Bind(params.MustSet(params.Free("k1", 1)))
	var cerr *dynamo.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "k2", cerr.Name)
}

func TestParseEquation(t *testing.T) {
	tests := []struct {
		in   string
		want Equation
	}{
		{"A -> B", Equation{Reactants: Terms("A"), Products: Terms("B")}},
		{"2 A + B <=> C", Equation{Reactants: []Term{{"A", 2}, {"B", 1}}, Products: Terms("C"), Reversible: true}},
		{"2A->B", Equation{Reactants: []Term{{"A", 2}}, Products: Terms("B")}},
		{"A + A -> A2", Equation{Reactants: []Term{{"A", 2}}, Products: Terms("A2")}},
		{"0 -> H_HMF", Equation{Products: Terms("H_HMF")}},
		{"FDCA -> 0", Equation{Reactants: Terms("FDCA")}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEquation(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseEquation_Invalid(t *testing.T) {
	for _, in := range []string{"A B", "A -> B -> C", "0 -> 0", "-1 A -> B", "A + -> B", "A -> B$", "2 -> B"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseEquation(in)
			assert.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestEquation_String(t *testing.T) {
	eq, err := ParseEquation("2 A + B <=> C")
	require.NoError(t, err)
	assert.Equal(t, "2 A + B <=> C", eq.String())

	again, err := ParseEquation(eq.String())
	require.NoError(t, err)
	assert.Equal(t, eq, again)
}

func TestNewReaction(t *testing.T) {
	r, err := NewReaction("r1", "A <=> B", "kf", "kb")
	require.NoError(t, err)
	assert.IsType(t, Reversible{}, r)
	assert.Equal(t, []string{"kf", "kb"}, r.Parameters())

	r, err = NewReaction("r2", "A -> B", "k", "")
	require.NoError(t, err)
	assert.IsType(t, MassAction{}, r)

	_, err = NewReaction("r3", "A <=> B", "kf", "")
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	_, err = NewReaction("r4", "A -> B", "kf", "kb")
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestModel_Isolated(t *testing.T) {
	m, err := NewModel([]string{"A", "B", "C", "D", "E"},
		MassAction{Name: "r1", Reactants: Terms("A"), Products: Terms("B"), Rate: "k1"},
		MassAction{Name: "r2", Reactants: Terms("C"), Products: Terms("D"), Rate: "k2"},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"C", "D", "E"}, m.Isolated([]string{"A"}))
	assert.Equal(t, []string{"E"}, m.Isolated([]string{"B", "D"}))
	assert.Empty(t, m.Isolated([]string{"A", "C", "E"}))
}

func TestPreset_HMF(t *testing.T) {
	p, err := GetPreset("hmf")
	require.NoError(t, err)
	require.Len(t, p.Species, 15)

	m, err := p.Model()
	require.NoError(t, err)
	set, err := p.Parameters()
	require.NoError(t, err)
	assert.ElementsMatch(t, set.Names(), m.Parameters())
	assert.Empty(t, m.Isolated(p.Tracked))

	assert.Equal(t, 0.0, p.Electrons["HMF"])
	assert.Equal(t, 8.0, p.Electrons["FDCA"])
	assert.Equal(t, 2.0, p.Electrons["H_HMF"])
	assert.Equal(t, 12.0, p.Electrons["Hx_FDCA"])

	vals := map[string]float64{
		"k11": 1, "k12": 2, "k21": 3, "k22": 4, "k3": 5,
		"kH1": 0.1, "kH21": 0.2, "kH22": 0.3, "kH3": 0.4, "kH4": 0.5, "kHx": 0.7,
	}
	set, err = set.WithValues(vals)
	require.NoError(t, err)
	sys, err := m.Bind(set)
	require.NoError(t, err)

	x := make(dynamo.State, 15)
	for i := range x {
		x[i] = float64(i + 1)
	}
	c := func(s string) float64 { return x[m.Index(s)] }
	dx := sys.Derive(x, 0)
	d := func(s string) float64 { return dx[m.Index(s)] }

	assert.InDelta(t, -(1+2+0.1)*c("HMF"), d("HMF"), 1e-9)
	assert.InDelta(t, 1*c("HMF")-(3+0.2)*c("DFF"), d("DFF"), 1e-9)
	assert.InDelta(t, 2*c("HMF")-(4+0.3)*c("HMFCA"), d("HMFCA"), 1e-9)
	assert.InDelta(t, 3*c("DFF")+4*c("HMFCA")-(5+0.4)*c("FFCA"), d("FFCA"), 1e-9)
	assert.InDelta(t, 5*c("FFCA")-0.5*c("FDCA"), d("FDCA"), 1e-9)
	assert.InDelta(t, 0.4*c("FFCA")-0.7*c("H_FFCA"), d("H_FFCA"), 1e-9)
	assert.InDelta(t, 0.7*c("H_DFF"), d("Hx_DFF"), 1e-9)

	var total float64
	for _, v := range dx {
		total += v
	}
	assert.InDelta(t, 0, total, 1e-9, "first-order network conserves mass")
}

func TestGetPreset_Unknown(t *testing.T) {
	_, err := GetPreset("nope")
	assert.ErrorIs(t, err, dynamo.ErrConfiguration)
	assert.Equal(t, []string{"consecutive", "hmf", "reversible"}, PresetNames())
}
