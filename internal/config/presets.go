package config

import (
	"sort"

	"github.com/san-kum/kinfit/internal/fit"
	"github.com/san-kum/kinfit/internal/integrators"
	"github.com/san-kum/kinfit/internal/residual"
)

// Presets holds ready-made run settings per network. They carry no series;
// a run file or the CLI adds the data.
var Presets = map[string]map[string]func() *Config{
	"reversible": {
		"default": func() *Config { return preset("reversible", nil) },
		"simplex": func() *Config {
			return preset("reversible", func(c *Config) {
				c.Fit.Method = fit.MethodNelderMead
				c.Fit.MaxIterations = 5000
			})
		},
	},
	"consecutive": {
		"default": func() *Config { return preset("consecutive", nil) },
		"stiff": func() *Config {
			return preset("consecutive", func(c *Config) {
				c.Fit.Solver.Method = integrators.MethodRosenbrock23
				c.Fit.Solver.RelTol = 1e-6
				c.Fit.Solver.AbsTol = 1e-9
			})
		},
	},
	"hmf": {
		"default": func() *Config {
			return preset("hmf", func(c *Config) {
				c.GuessInitial = true
				c.Fit.ResidualMode = string(residual.Relative)
				c.Fit.Solver.Method = integrators.MethodRosenbrock23
				c.Simulate.Duration = 3600
				c.Simulate.Initial = map[string]float64{"HMF": 10}
			})
		},
		"weighted": func() *Config {
			return preset("hmf", func(c *Config) {
				c.GuessInitial = true
				c.Fit.Solver.Method = integrators.MethodRosenbrock23
				c.Simulate.Duration = 3600
				c.Simulate.Initial = map[string]float64{"HMF": 10}
			})
		},
	},
}

func preset(model string, tweak func(*Config)) *Config {
	cfg := DefaultConfig()
	cfg.Model = ModelConfig{Preset: model}
	cfg.Name = model
	cfg.Simulate.Initial = map[string]float64{"A": 1}
	if tweak != nil {
		tweak(cfg)
	}
	return cfg
}

// GetPreset returns a fresh copy of the named run preset, or nil.
func GetPreset(model, name string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	fn, ok := modelPresets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
