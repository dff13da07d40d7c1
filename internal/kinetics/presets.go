package kinetics

import (
	"fmt"
	"sort"

	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/params"
)

// Preset is a ready-made network with starting guesses for its rate
// constants and, where the chemistry defines one, electron counts for the
// charge observable.
type Preset struct {
	Name        string
	Description string
	Species     []string
	Tracked     []string
	Reactions   []Reaction
	Guesses     []params.Parameter

	Electrons map[string]float64
	Volume    float64
	Unit      float64
}

// Model builds the preset network.
func (p Preset) Model() (*Model, error) {
	return NewModel(p.Species, p.Reactions...)
}

// Parameters returns the preset rate-constant guesses as a set.
func (p Preset) Parameters() (*params.Set, error) {
	return params.NewSet(p.Guesses...)
}

var presets = map[string]func() Preset{
	"reversible":  reversiblePreset,
	"consecutive": consecutivePreset,
	"hmf":         hmfPreset,
}

// GetPreset returns a fresh copy of a named preset.
func GetPreset(name string) (Preset, error) {
	f, ok := presets[name]
	if !ok {
		return Preset{}, &dynamo.ConfigurationError{What: "preset", Name: name, Reason: "unknown", Candidate: PresetNames()}
	}
	return f(), nil
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func reversiblePreset() Preset {
	return Preset{
		Name:        "reversible",
		Description: "A <=> B with forward k1 and backward k2",
		Species:     []string{"A", "B"},
		Tracked:     []string{"A", "B"},
		Reactions: []Reaction{
			Reversible{Name: "r1", Reactants: Terms("A"), Products: Terms("B"), Forward: "k1", Backward: "k2"},
		},
		Guesses: []params.Parameter{
			params.Bounded("k1", 1, 0, 1e3),
			params.Bounded("k2", 1, 0, 1e3),
		},
	}
}

func consecutivePreset() Preset {
	return Preset{
		Name:        "consecutive",
		Description: "A -> B -> C first-order chain",
		Species:     []string{"A", "B", "C"},
		Tracked:     []string{"A", "B", "C"},
		Reactions: []Reaction{
			MassAction{Name: "r1", Reactants: Terms("A"), Products: Terms("B"), Rate: "k1"},
			MassAction{Name: "r2", Reactants: Terms("B"), Products: Terms("C"), Rate: "k2"},
		},
		Guesses: []params.Parameter{
			params.Bounded("k1", 0.1, 0, 1e3),
			params.Bounded("k2", 0.1, 0, 1e3),
		},
	}
}

var hmfMeasured = []string{"HMF", "DFF", "HMFCA", "FFCA", "FDCA"}

// hmfPreset is the electrochemical oxidation of HMF to FDCA through the DFF
// and HMFCA branches. Every measured species also degrades to a humin
// H_<x>, which in turn ages to Hx_<x> with a shared rate kHx.
func hmfPreset() Preset {
	species := append([]string(nil), hmfMeasured...)
	for _, s := range hmfMeasured {
		species = append(species, "H_"+s)
	}
	for _, s := range hmfMeasured {
		species = append(species, "Hx_"+s)
	}

	step := func(name, from, to, k string) Reaction {
		return MassAction{Name: name, Reactants: Terms(from), Products: Terms(to), Rate: k}
	}
	reactions := []Reaction{
		step("hmf_dff", "HMF", "DFF", "k11"),
		step("hmf_hmfca", "HMF", "HMFCA", "k12"),
		step("dff_ffca", "DFF", "FFCA", "k21"),
		step("hmfca_ffca", "HMFCA", "FFCA", "k22"),
		step("ffca_fdca", "FFCA", "FDCA", "k3"),
		step("humin_hmf", "HMF", "H_HMF", "kH1"),
		step("humin_dff", "DFF", "H_DFF", "kH21"),
		step("humin_hmfca", "HMFCA", "H_HMFCA", "kH22"),
		step("humin_ffca", "FFCA", "H_FFCA", "kH3"),
		step("humin_fdca", "FDCA", "H_FDCA", "kH4"),
	}
	for _, s := range hmfMeasured {
		reactions = append(reactions, step("aging_"+s, "H_"+s, "Hx_"+s, "kHx"))
	}

	var guesses []params.Parameter
	for _, k := range []string{"k11", "k12", "k21", "k22", "k3", "kH1", "kH21", "kH22", "kH3", "kH4", "kHx"} {
		guesses = append(guesses, params.Bounded(k, 1e-4, 0, 1))
	}

	electrons := make(map[string]float64, len(species))
	for i, s := range species {
		electrons[s] = float64(2 * (i%5 + i/5))
	}

	return Preset{
		Name:        "hmf",
		Description: fmt.Sprintf("HMF oxidation with humin side products (%d species)", len(species)),
		Species:     species,
		Tracked:     append([]string(nil), hmfMeasured...),
		Reactions:   reactions,
		Guesses:     guesses,
		Electrons:   electrons,
		Volume:      0.1,
		Unit:        1e-6,
	}
}
