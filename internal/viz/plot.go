package viz

import (
	"math"

	"github.com/guptarohit/asciigraph"
	"gonum.org/v1/gonum/interp"
)

const (
	DefaultChartWidth  = 72
	DefaultChartHeight = 12
)

// Line is a sampled curve. Values may hold NaN for missing samples.
type Line struct {
	Name   string
	Times  []float64
	Values []float64
}

func (l Line) empty() bool {
	for _, v := range l.Values {
		if !math.IsNaN(v) {
			return false
		}
	}
	return true
}

// Chart overlays measured samples on a fitted curve over a shared time
// axis. Either line may be empty.
func Chart(caption string, data, fitted Line, width, height int) string {
	if width < 2 {
		width = DefaultChartWidth
	}
	if height < 1 {
		height = DefaultChartHeight
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, l := range []Line{data, fitted} {
		if len(l.Times) == 0 {
			continue
		}
		lo = math.Min(lo, l.Times[0])
		hi = math.Max(hi, l.Times[len(l.Times)-1])
	}
	if !(hi > lo) {
		return caption + ": nothing to plot\n"
	}

	var series [][]float64
	var legends []string
	var colors []asciigraph.AnsiColor
	if !fitted.empty() {
		series = append(series, resample(fitted, lo, hi, width))
		legends = append(legends, fitted.Name)
		colors = append(colors, asciigraph.Green)
	}
	if !data.empty() {
		series = append(series, scatter(data, lo, hi, width))
		legends = append(legends, data.Name)
		colors = append(colors, asciigraph.Red)
	}
	if len(series) == 0 {
		return caption + ": nothing to plot\n"
	}
	return asciigraph.PlotMany(series,
		asciigraph.Height(height),
		asciigraph.Precision(3),
		asciigraph.SeriesColors(colors...),
		asciigraph.SeriesLegends(legends...),
		asciigraph.Caption(caption),
	) + "\n"
}

// resample interpolates l linearly onto n evenly spaced times.
func resample(l Line, lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	var xs, ys []float64
	for i, v := range l.Values {
		if !math.IsNaN(v) {
			xs, ys = append(xs, l.Times[i]), append(ys, v)
		}
	}
	if len(xs) == 1 {
		for i := range out {
			out[i] = ys[0]
		}
		return out
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	for i := range out {
		t := lo + (hi-lo)*float64(i)/float64(n-1)
		if t < xs[0] || t > xs[len(xs)-1] {
			out[i] = math.NaN()
			continue
		}
		out[i] = pl.Predict(t)
	}
	return out
}

// scatter places every sample in its nearest column and leaves the rest
// empty.
func scatter(l Line, lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	for i, v := range l.Values {
		if math.IsNaN(v) {
			continue
		}
		j := int(math.Round((l.Times[i] - lo) / (hi - lo) * float64(n-1)))
		if j >= 0 && j < n {
			out[j] = v
		}
	}
	return out
}
