// Package loader reads measurement CSV files into dataset series.
//
// Files carry a header row; the first column is time, the others are
// observables. Replicate files of one measurement must share header and row
// count and are averaged row by row into a mean and a sample standard
// deviation table.
package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/observe"
)

// Table is a numeric CSV: Header[0] names the time column.
type Table struct {
	Header []string
	Rows   [][]float64
}

// Column returns the values of a named column.
func (t *Table) Column(name string) ([]float64, bool) {
	for j, h := range t.Header {
		if h == name {
			return t.col(j), true
		}
	}
	return nil, false
}

func (t *Table) col(j int) []float64 {
	out := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		out[i] = row[j]
	}
	return out
}

// Times returns the first column.
func (t *Table) Times() []float64 { return t.col(0) }

// Names returns every header after the time column.
func (t *Table) Names() []string { return append([]string(nil), t.Header[1:]...) }

// Read parses one CSV table. Empty cells and "nan" mark missing values.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	records, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("loader: empty file")
	}
	header := make([]string, len(records[0]))
	for j, h := range records[0] {
		header[j] = strings.TrimSpace(h)
		if header[j] == "" {
			return nil, fmt.Errorf("loader: empty header in column %d", j+1)
		}
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("loader: need a time column and at least one observable")
	}

	t := &Table{Header: header, Rows: make([][]float64, 0, len(records)-1)}
	for i, rec := range records[1:] {
		row := make([]float64, len(header))
		for j, cell := range rec {
			cell = strings.TrimSpace(cell)
			if cell == "" || strings.EqualFold(cell, "nan") {
				row[j] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("loader: row %d, column %s: %w", i+2, header[j], err)
			}
			row[j] = v
		}
		if math.IsNaN(row[0]) {
			return nil, fmt.Errorf("loader: row %d has no time", i+2)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile parses the CSV file at path.
func ReadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Average combines replicate tables cell by cell, skipping missing values.
// std is nil for a single replicate.
func Average(tables ...*Table) (mean, std *Table, err error) {
	if len(tables) == 0 {
		return nil, nil, fmt.Errorf("loader: no tables to average")
	}
	first := tables[0]
	for k, t := range tables[1:] {
		if strings.Join(t.Header, ",") != strings.Join(first.Header, ",") {
			return nil, nil, fmt.Errorf("loader: replicate %d header %v differs from %v", k+2, t.Header, first.Header)
		}
		if len(t.Rows) != len(first.Rows) {
			return nil, nil, fmt.Errorf("loader: replicate %d has %d rows, want %d", k+2, len(t.Rows), len(first.Rows))
		}
	}

	mean = &Table{Header: append([]string(nil), first.Header...)}
	if len(tables) > 1 {
		std = &Table{Header: append([]string(nil), first.Header...)}
	}
	cell := make([]float64, 0, len(tables))
	for i := range first.Rows {
		mrow := make([]float64, len(first.Header))
		var srow []float64
		if std != nil {
			srow = make([]float64, len(first.Header))
		}
		for j := range first.Header {
			cell = cell[:0]
			for _, t := range tables {
				if v := t.Rows[i][j]; !math.IsNaN(v) {
					cell = append(cell, v)
				}
			}
			m, s := math.NaN(), math.NaN()
			switch len(cell) {
			case 0:
			case 1:
				m = cell[0]
			default:
				m, s = stat.MeanStdDev(cell, nil)
			}
			mrow[j] = m
			if srow != nil {
				srow[j] = s
			}
		}
		mean.Rows = append(mean.Rows, mrow)
		if std != nil {
			std.Rows = append(std.Rows, srow)
		}
	}
	return mean, std, nil
}

// Load reads and averages replicate files.
func Load(paths ...string) (mean, std *Table, err error) {
	tables := make([]*Table, 0, len(paths))
	for _, p := range paths {
		t, err := ReadFile(p)
		if err != nil {
			return nil, nil, err
		}
		tables = append(tables, t)
	}
	return Average(tables...)
}

// Files names the replicate files of one series.
type Files struct {
	Concentration []string
	Charge        []string
}

// Series builds a dataset series from averaged tables. Every non-time
// column of conc becomes a tracked species. The first observable of charge,
// if given, becomes the charge column on its own time grid, named after the
// charge projector whatever its header says.
func Series(name string, conc, concStd, charge, chargeStd *Table) dataset.Series {
	s := dataset.Series{Name: name}
	if conc != nil {
		s.Times = conc.Times()
		for j, h := range conc.Header[1:] {
			c := dataset.Column{Name: h, Values: conc.col(j + 1)}
			if concStd != nil {
				c.Std = stdColumn(concStd.col(j + 1))
			}
			s.Tracked = append(s.Tracked, c)
		}
	}
	if charge != nil {
		c := dataset.Column{Name: observe.ChargeName, Values: charge.col(1)}
		if chargeStd != nil {
			c.Std = stdColumn(chargeStd.col(1))
		}
		s.Charge = &c
		s.ChargeTimes = charge.Times()
		if s.Times == nil {
			s.Times = s.ChargeTimes
		}
	}
	return s
}

// stdColumn drops undefined deviations to zero, which the residual
// builder treats as unweighted.
func stdColumn(v []float64) []float64 {
	for i, x := range v {
		if math.IsNaN(x) {
			v[i] = 0
		}
	}
	return v
}

// LoadSeries reads, averages and assembles one series.
func LoadSeries(name string, files Files) (dataset.Series, error) {
	var conc, concStd, charge, chargeStd *Table
	var err error
	if len(files.Concentration) > 0 {
		if conc, concStd, err = Load(files.Concentration...); err != nil {
			return dataset.Series{}, fmt.Errorf("series %s: %w", name, err)
		}
	}
	if len(files.Charge) > 0 {
		if charge, chargeStd, err = Load(files.Charge...); err != nil {
			return dataset.Series{}, fmt.Errorf("series %s: %w", name, err)
		}
	}
	if conc == nil && charge == nil {
		return dataset.Series{}, fmt.Errorf("series %s: no data files", name)
	}
	return Series(name, conc, concStd, charge, chargeStd), nil
}
