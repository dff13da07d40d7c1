// Package storage keeps fit runs on disk: one directory per run holding
// metadata.json and the zstd-compressed data and fitted curves.
package storage

import (
	"encoding/binary"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/fit"
	"github.com/san-kum/kinfit/internal/observe"
)

const (
	metadataFile = "metadata.json"
	curvesFile   = "curves.csv.zst"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// Number is a float64 that survives JSON: NaN encodes as null and the
// infinities as strings.
type Number float64

func (n Number) MarshalJSON() ([]byte, error) {
	v := float64(n)
	switch {
	case math.IsNaN(v):
		return []byte("null"), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (n *Number) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "null":
		*n = Number(math.NaN())
		return nil
	case `"+Inf"`:
		*n = Number(math.Inf(1))
		return nil
	case `"-Inf"`:
		*n = Number(math.Inf(-1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*n = Number(v)
	return nil
}

type ParamRecord struct {
	Name    string `json:"name"`
	Value   Number `json:"value"`
	StdErr  Number `json:"stderr"`
	Initial Number `json:"initial"`
	Min     Number `json:"min"`
	Max     Number `json:"max"`
	Fixed   bool   `json:"fixed"`
}

type RunMetadata struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Model       string    `json:"model"`
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Error       string    `json:"error,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	Series      []string  `json:"series"`

	ChiSquare        Number `json:"chi2"`
	ReducedChiSquare Number `json:"redchi"`
	NData            int    `json:"ndata"`
	NFree            int    `json:"nfree"`
	Iterations       int    `json:"iterations"`
	Evaluations      int    `json:"evaluations"`
	ElapsedMS        int64  `json:"elapsed_ms"`

	Params []ParamRecord `json:"params"`
	// ResidualStd is keyed "<series>/<observable>".
	ResidualStd map[string]Number `json:"residual_std"`
}

// Param looks up a parameter record by name.
func (m *RunMetadata) Param(name string) (ParamRecord, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamRecord{}, false
}

const (
	KindData = "data"
	KindFit  = "fit"
)

// Curve is one observable of one series, either measured or fitted.
type Curve struct {
	Series     string
	Observable string
	Kind       string
	Times      []float64
	Values     []float64
}

// Fingerprint hashes series names, times and observations so a stored run
// can be matched to the data it was fitted on.
func Fingerprint(ds *dataset.Dataset) string {
	d := xxhash.New()
	var buf [8]byte
	put := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		_, _ = d.Write(buf[:])
	}
	putAll := func(vs []float64) {
		for _, v := range vs {
			put(v)
		}
	}
	for _, s := range ds.All() {
		_, _ = d.WriteString(s.Name)
		putAll(s.Times)
		for _, c := range s.Tracked {
			_, _ = d.WriteString(c.Name)
			putAll(c.Values)
			putAll(c.Std)
		}
		if s.Charge != nil {
			_, _ = d.WriteString(s.Charge.Name)
			putAll(s.EffectiveChargeTimes())
			putAll(s.Charge.Values)
			putAll(s.Charge.Std)
		}
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

// Curves collects the measured data and the fitted curves of a result in
// series order.
func Curves(ds *dataset.Dataset, res *fit.Result) []Curve {
	var out []Curve
	for _, s := range ds.All() {
		for _, c := range s.Tracked {
			out = append(out, Curve{Series: s.Name, Observable: c.Name, Kind: KindData, Times: s.Times, Values: c.Values})
		}
		if s.Charge != nil {
			out = append(out, Curve{Series: s.Name, Observable: observe.ChargeName, Kind: KindData, Times: s.EffectiveChargeTimes(), Values: s.Charge.Values})
		}
		sf, ok := res.Fit(s.Name)
		if !ok || sf.Curve == nil {
			continue
		}
		for j, obs := range sf.Curve.Observables {
			out = append(out, Curve{Series: s.Name, Observable: obs, Kind: KindFit, Times: sf.Curve.Trajectory.Times, Values: sf.Curve.Values[j]})
		}
	}
	return out
}

// Metadata summarizes a result for storage.
func Metadata(name, model string, ds *dataset.Dataset, res *fit.Result) RunMetadata {
	meta := RunMetadata{
		Name:             name,
		Model:            model,
		Method:           res.Method,
		Status:           res.Status.String(),
		Message:          res.Message,
		Fingerprint:      Fingerprint(ds),
		Series:           ds.Names(),
		ChiSquare:        Number(res.ChiSquare),
		ReducedChiSquare: Number(res.ReducedChiSquare),
		NData:            res.NData,
		NFree:            res.NFree,
		Iterations:       res.Iterations,
		Evaluations:      res.Evaluations,
		ElapsedMS:        res.Elapsed.Milliseconds(),
		ResidualStd:      make(map[string]Number),
	}
	if res.Err != nil {
		meta.Error = res.Err.Error()
	}
	for _, p := range res.Params.Params() {
		rec := ParamRecord{
			Name: p.Name, Value: Number(p.Value), StdErr: Number(math.NaN()),
			Initial: Number(math.NaN()), Min: Number(p.Min), Max: Number(p.Max), Fixed: p.Fixed,
		}
		if se, ok := res.StdErr[p.Name]; ok {
			rec.StdErr = Number(se)
		}
		if res.Initial != nil {
			if v, err := res.Initial.Value(p.Name); err == nil {
				rec.Initial = Number(v)
			}
		}
		meta.Params = append(meta.Params, rec)
	}
	for _, sf := range res.Fits {
		for obs, sd := range sf.ResidualStd {
			meta.ResidualStd[sf.Series+"/"+obs] = Number(sd)
		}
	}
	return meta
}

// Save writes a fit run and returns its id.
func (s *Store) Save(name, model string, ds *dataset.Dataset, res *fit.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", model, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := Metadata(name, model, ds, res)
	meta.ID = runID
	meta.Timestamp = now

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeCurves(filepath.Join(runDir, curvesFile), Curves(ds, res)); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// writeCurves stores curves in long format: series, observable, kind,
// time, value.
func writeCurves(path string, curves []Curve) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	w := csv.NewWriter(zw)
	if err := w.Write([]string{"series", "observable", "kind", "time", "value"}); err != nil {
		return err
	}
	for _, c := range curves {
		for i, t := range c.Times {
			row := []string{c.Series, c.Observable, c.Kind, formatFloat(t), formatFloat(c.Values[i])}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return zw.Close()
}

func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

// LoadCurves reads the curves of a run back in the order they were saved.
func (s *Store) LoadCurves(runID string) ([]Curve, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, curvesFile))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	r := csv.NewReader(zr)
	r.FieldsPerRecord = 5
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	var out []Curve
	for i, rec := range records {
		if i == 0 {
			continue
		}
		t, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		v, err := strconv.ParseFloat(rec[4], 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: line %d: %w", runID, i+1, err)
		}
		n := len(out)
		if n == 0 || out[n-1].Series != rec[0] || out[n-1].Observable != rec[1] || out[n-1].Kind != rec[2] {
			out = append(out, Curve{Series: rec[0], Observable: rec[1], Kind: rec[2]})
			n++
		}
		out[n-1].Times = append(out[n-1].Times, t)
		out[n-1].Values = append(out[n-1].Values, v)
	}
	return out, nil
}

// Select returns the curves of one series and kind.
func Select(curves []Curve, series, kind string) []Curve {
	var out []Curve
	for _, c := range curves {
		if c.Series == series && c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}
