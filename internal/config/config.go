// Package config reads and writes kinfit run files.
//
// A run file names the reaction network, the starting parameters, the
// measured series and the fit settings. The builders on Config turn it into
// the values the fit engine consumes.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/dynamo"
	"github.com/san-kum/kinfit/internal/fit"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/loader"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/observe"
	"github.com/san-kum/kinfit/internal/params"
)

const (
	DefaultPreset   = "reversible"
	DefaultDuration = 10.0
	DefaultPoints   = 101
	DefaultStoreDir = "runs"
	DefaultVolume   = 0.1
	DefaultUnit     = 1e-6
)

type Config struct {
	Name       string        `yaml:"name,omitempty"`
	Model      ModelConfig   `yaml:"model"`
	Parameters []ParamConfig `yaml:"parameters,omitempty"`
	// GuessInitial adds a free c0_ parameter for every tracked species the
	// run file does not declare, valued at its first observed sample.
	GuessInitial  bool           `yaml:"guess_initial"`
	Series        []SeriesConfig `yaml:"series,omitempty"`
	PerSeries     []string       `yaml:"per_series,omitempty"`
	SharedInitial []string       `yaml:"shared_initial,omitempty"`
	Charge        *ChargeConfig  `yaml:"charge,omitempty"`
	Fit           fit.Config     `yaml:"fit"`
	Simulate      SimulateConfig `yaml:"simulate"`
	LogLevel      string         `yaml:"log_level"`
	StoreDir      string         `yaml:"store_dir"`

	// BaseDir resolves relative data paths. Load sets it to the run file's
	// directory.
	BaseDir string `yaml:"-"`
}

// ModelConfig selects a preset network or declares one inline.
type ModelConfig struct {
	Preset    string           `yaml:"preset,omitempty"`
	Species   []string         `yaml:"species,omitempty"`
	Reactions []ReactionConfig `yaml:"reactions,omitempty"`
}

type ReactionConfig struct {
	Name     string `yaml:"name"`
	Equation string `yaml:"equation"`
	Rate     string `yaml:"rate"`
	Backward string `yaml:"backward,omitempty"`
}

// ParamConfig is one parameter entry. Missing bounds mean unbounded.
type ParamConfig struct {
	Name  string   `yaml:"name"`
	Value float64  `yaml:"value"`
	Min   *float64 `yaml:"min,omitempty"`
	Max   *float64 `yaml:"max,omitempty"`
	Fixed bool     `yaml:"fixed,omitempty"`
}

type SeriesConfig struct {
	Name          string             `yaml:"name"`
	Concentration []string           `yaml:"concentration,omitempty"`
	Charge        []string           `yaml:"charge,omitempty"`
	Untracked     []string           `yaml:"untracked,omitempty"`
	Offsets       map[string]float64 `yaml:"offsets,omitempty"`
}

type ChargeConfig struct {
	Electrons map[string]float64 `yaml:"electrons,omitempty"`
	Volume    float64            `yaml:"volume"`
	Unit      float64            `yaml:"unit"`
}

// SimulateConfig drives forward simulation without data.
type SimulateConfig struct {
	Duration float64            `yaml:"duration"`
	Points   int                `yaml:"points"`
	Initial  map[string]float64 `yaml:"initial,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Model:    ModelConfig{Preset: DefaultPreset},
		Fit:      fit.DefaultConfig(),
		Simulate: SimulateConfig{Duration: DefaultDuration, Points: DefaultPoints},
		LogLevel: "info",
		StoreDir: DefaultStoreDir,
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.BaseDir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the parts of the run file that can be checked without
// reading data.
func (c *Config) Validate() error {
	if c.Model.Preset != "" && len(c.Model.Species) > 0 {
		return &dynamo.ConfigurationError{What: "model", Reason: "declare either a preset or species and reactions, not both"}
	}
	if _, err := c.BuildModel(); err != nil {
		return err
	}
	if _, err := c.templateParams(); err != nil {
		return err
	}
	if err := c.Fit.Validate(); err != nil {
		return err
	}
	if _, err := logging.Level(c.LogLevel); err != nil {
		return &dynamo.ConfigurationError{What: "log_level", Name: c.LogLevel, Reason: "unknown"}
	}
	if c.Simulate.Duration <= 0 || c.Simulate.Points < 2 {
		return &dynamo.ConfigurationError{What: "simulate", Reason: "duration must be positive and points at least 2"}
	}
	seen := make(map[string]bool, len(c.Series))
	for _, s := range c.Series {
		if seen[s.Name] {
			return &dynamo.ConfigurationError{What: "series", Name: s.Name, Reason: "declared twice"}
		}
		seen[s.Name] = true
		if len(s.Concentration) == 0 && len(s.Charge) == 0 {
			return &dynamo.ConfigurationError{What: "series", Name: s.Name, Reason: "no data files"}
		}
	}
	return nil
}

// Verbosity returns the logging verbosity for LogLevel.
func (c *Config) Verbosity() int {
	v, _ := logging.Level(c.LogLevel)
	return v
}

func (c *Config) preset() (kinetics.Preset, bool, error) {
	if c.Model.Preset == "" {
		return kinetics.Preset{}, false, nil
	}
	p, err := kinetics.GetPreset(c.Model.Preset)
	return p, err == nil, err
}

// ModelName is the preset name or "custom".
func (c *Config) ModelName() string {
	if c.Model.Preset != "" {
		return c.Model.Preset
	}
	return "custom"
}

// BuildModel returns the preset network or compiles the inline one.
func (c *Config) BuildModel() (*kinetics.Model, error) {
	p, ok, err := c.preset()
	if err != nil {
		return nil, err
	}
	if ok {
		return p.Model()
	}
	if len(c.Model.Species) == 0 {
		return nil, &dynamo.ConfigurationError{What: "model", Reason: "no preset and no species declared", Candidate: kinetics.PresetNames()}
	}
	reactions := make([]kinetics.Reaction, 0, len(c.Model.Reactions))
	for i, rc := range c.Model.Reactions {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("r%d", i+1)
		}
		r, err := kinetics.NewReaction(name, rc.Equation, rc.Rate, rc.Backward)
		if err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return kinetics.NewModel(c.Model.Species, reactions...)
}

func (pc ParamConfig) parameter() params.Parameter {
	p := params.Parameter{Name: pc.Name, Value: pc.Value, Min: math.Inf(-1), Max: math.Inf(1), Fixed: pc.Fixed}
	if pc.Min != nil {
		p.Min = *pc.Min
	}
	if pc.Max != nil {
		p.Max = *pc.Max
	}
	return p
}

// templateParams is the declared parameters followed by preset guesses
// the run file does not override.
func (c *Config) templateParams() (*params.Set, error) {
	declared := make([]params.Parameter, 0, len(c.Parameters))
	for _, pc := range c.Parameters {
		declared = append(declared, pc.parameter())
	}
	set, err := params.NewSet(declared...)
	if err != nil {
		return nil, err
	}
	p, ok, err := c.preset()
	if err != nil {
		return nil, err
	}
	if ok {
		guesses, err := p.Parameters()
		if err != nil {
			return nil, err
		}
		set = set.Merge(guesses)
	}
	return set, nil
}

// BuildParams returns the starting parameter set. With GuessInitial and a
// dataset, c0_ parameters the run file leaves out are guessed from the data.
func (c *Config) BuildParams(ds *dataset.Dataset) (*params.Set, error) {
	set, err := c.templateParams()
	if err != nil {
		return nil, err
	}
	if !c.GuessInitial || ds == nil {
		return set, nil
	}
	declared := make(map[string]bool, set.Len())
	for _, n := range set.Names() {
		base, _ := params.Split(n)
		declared[base] = true
	}
	var guesses []params.Parameter
	for _, g := range ds.InitialGuesses() {
		base, _ := params.Split(g.Name)
		if declared[base] {
			continue
		}
		guesses = append(guesses, g)
	}
	extra, err := params.NewSet(guesses...)
	if err != nil {
		return nil, err
	}
	return set.Merge(extra), nil
}

func (c *Config) path(p string) string {
	if filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// BuildDataset reads and averages the data files of every series.
func (c *Config) BuildDataset() (*dataset.Dataset, error) {
	if len(c.Series) == 0 {
		return nil, &dynamo.ConfigurationError{What: "dataset", Reason: "run file declares no series"}
	}
	series := make([]dataset.Series, 0, len(c.Series))
	for _, sc := range c.Series {
		files := loader.Files{}
		for _, f := range sc.Concentration {
			files.Concentration = append(files.Concentration, c.path(f))
		}
		for _, f := range sc.Charge {
			files.Charge = append(files.Charge, c.path(f))
		}
		s, err := loader.LoadSeries(sc.Name, files)
		if err != nil {
			return nil, err
		}
		s.Untracked = append([]string(nil), sc.Untracked...)
		s.Offsets = sc.Offsets
		series = append(series, s)
	}
	return dataset.New(series, dataset.Options{PerSeries: c.PerSeries, SharedInitial: c.SharedInitial})
}

// BuildCharge returns the charge projector. Electron counts come from the
// run file, or from the preset when the run file gives none. ok is false
// when neither defines them.
func (c *Config) BuildCharge() (charge observe.Charge, ok bool, err error) {
	charge = observe.Charge{Volume: DefaultVolume, Unit: DefaultUnit}
	p, hasPreset, err := c.preset()
	if err != nil {
		return observe.Charge{}, false, err
	}
	if hasPreset && len(p.Electrons) > 0 {
		charge.Electrons = p.Electrons
		charge.Volume, charge.Unit = p.Volume, p.Unit
	}
	if c.Charge != nil {
		if len(c.Charge.Electrons) > 0 {
			charge.Electrons = c.Charge.Electrons
		}
		if c.Charge.Volume != 0 {
			charge.Volume = c.Charge.Volume
		}
		if c.Charge.Unit != 0 {
			charge.Unit = c.Charge.Unit
		}
	}
	if len(charge.Electrons) == 0 {
		return observe.Charge{}, false, nil
	}
	if err := charge.Validate(); err != nil {
		return observe.Charge{}, false, err
	}
	return charge, true, nil
}

// Times returns the forward-simulation grid.
func (c *Config) Times() []float64 {
	return fit.Linspace(0, c.Simulate.Duration, c.Simulate.Points)
}

// InitialParams adds the simulate initial concentrations as fixed c0_
// parameters to set.
func (c *Config) InitialParams(set *params.Set) (*params.Set, error) {
	species := make([]string, 0, len(c.Simulate.Initial))
	for sp := range c.Simulate.Initial {
		species = append(species, sp)
	}
	sort.Strings(species)
	out := set
	for _, sp := range species {
		var err error
		if out, err = out.With(params.Fixed(params.InitialName(sp), c.Simulate.Initial[sp])); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Describe is a one-line summary used by the CLI.
func (c *Config) Describe() string {
	names := make([]string, len(c.Series))
	for i, s := range c.Series {
		names[i] = s.Name
	}
	return fmt.Sprintf("model=%s method=%s series=[%s]", c.ModelName(), c.Fit.Method, strings.Join(names, ","))
}
