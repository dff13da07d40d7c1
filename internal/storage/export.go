package storage

import (
	"encoding/json"
	"io"
	"os"
)

type ExportCurve struct {
	Series     string   `json:"series"`
	Observable string   `json:"observable"`
	Kind       string   `json:"kind"`
	Times      []Number `json:"times"`
	Values     []Number `json:"values"`
}

type ExportData struct {
	Run    RunMetadata   `json:"run"`
	Curves []ExportCurve `json:"curves"`
}

func numbers(v []float64) []Number {
	out := make([]Number, len(v))
	for i, x := range v {
		out[i] = Number(x)
	}
	return out
}

// NewExport bundles run metadata with its curves.
func NewExport(meta RunMetadata, curves []Curve) *ExportData {
	data := &ExportData{Run: meta, Curves: make([]ExportCurve, len(curves))}
	for i, c := range curves {
		data.Curves[i] = ExportCurve{
			Series:     c.Series,
			Observable: c.Observable,
			Kind:       c.Kind,
			Times:      numbers(c.Times),
			Values:     numbers(c.Values),
		}
	}
	return data
}

// Export loads a stored run as one JSON document.
func (s *Store) Export(runID string) (*ExportData, error) {
	meta, err := s.Load(runID)
	if err != nil {
		return nil, err
	}
	curves, err := s.LoadCurves(runID)
	if err != nil {
		return nil, err
	}
	return NewExport(*meta, curves), nil
}

func WriteJSON(w io.Writer, data *ExportData) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func ExportJSON(path string, data *ExportData) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteJSON(file, data)
}
