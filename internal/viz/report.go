package viz

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/san-kum/kinfit/internal/fit"
)

// Row is one parameter line of a fit report.
type Row struct {
	Name    string
	Value   float64
	StdErr  float64
	Initial float64
	Min     float64
	Max     float64
	Vary    bool
}

// RelativeError is the standard error in percent of |Value|; NaN when
// either is undefined.
func (r Row) RelativeError() float64 {
	if r.Value == 0 || math.IsNaN(r.StdErr) {
		return math.NaN()
	}
	return 100 * r.StdErr / math.Abs(r.Value)
}

// Summary is the header of a fit report.
type Summary struct {
	Title            string
	Method           string
	Status           string
	Message          string
	ChiSquare        float64
	ReducedChiSquare float64
	NData            int
	NFree            int
	Iterations       int
	Evaluations      int
}

// RowsFromResult lists every parameter of res in set order.
func RowsFromResult(res *fit.Result) []Row {
	var rows []Row
	for _, p := range res.Params.Params() {
		row := Row{Name: p.Name, Value: p.Value, StdErr: math.NaN(), Initial: math.NaN(), Min: p.Min, Max: p.Max, Vary: !p.Fixed}
		if se, ok := res.StdErr[p.Name]; ok {
			row.StdErr = se
		}
		if res.Initial != nil {
			if v, err := res.Initial.Value(p.Name); err == nil {
				row.Initial = v
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// SummaryFromResult fills a report header from res.
func SummaryFromResult(title string, res *fit.Result) Summary {
	return Summary{
		Title:            title,
		Method:           res.Method,
		Status:           res.Status.String(),
		Message:          res.Message,
		ChiSquare:        res.ChiSquare,
		ReducedChiSquare: res.ReducedChiSquare,
		NData:            res.NData,
		NFree:            res.NFree,
		Iterations:       res.Iterations,
		Evaluations:      res.Evaluations,
	}
}

func num(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsInf(v, -1) {
		return "-inf"
	}
	return fmt.Sprintf("%.6g", v)
}

// Report renders the summary followed by the parameter table: value,
// stderr, stderr %, initial value, vary, min and max.
func Report(s Summary, rows []Row) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(s.Title) + "\n")
	b.WriteString(Metric("status", StatusStyle(s.Status).Render(s.Status)) + "\n")
	if s.Message != "" {
		b.WriteString(Metric("message", s.Message) + "\n")
	}
	b.WriteString(Metric("method", s.Method) + "\n")
	b.WriteString(Metric("chi-square", num(s.ChiSquare)) + "\n")
	b.WriteString(Metric("reduced chi2", num(s.ReducedChiSquare)) + "\n")
	b.WriteString(Metric("data points", fmt.Sprint(s.NData)) + "\n")
	b.WriteString(Metric("variables", fmt.Sprint(s.NFree)) + "\n")
	b.WriteString(Metric("iterations", fmt.Sprintf("%d (%d evaluations)", s.Iterations, s.Evaluations)) + "\n\n")

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(Subtle).
		Headers("name", "value", "stderr", "stderr %", "init", "vary", "min", "max").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return lipgloss.NewStyle().Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, r := range rows {
		rel := "n/a"
		if e := r.RelativeError(); !math.IsNaN(e) {
			rel = fmt.Sprintf("%.2f%%", e)
		}
		t.Row(r.Name, num(r.Value), num(r.StdErr), rel, num(r.Initial), fmt.Sprint(r.Vary), num(r.Min), num(r.Max))
	}
	b.WriteString(t.Render())
	b.WriteString("\n")
	return b.String()
}
