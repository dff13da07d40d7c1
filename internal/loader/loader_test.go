package loader

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/observe"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRead(t *testing.T) {
	tab, err := Read(strings.NewReader("t, HMF, DFF\n0, 10, 0\n60, 8.5,\n# comment\n120, 7, nan\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"t", "HMF", "DFF"}, tab.Header)
	assert.Equal(t, []float64{0, 60, 120}, tab.Times())
	assert.Equal(t, []string{"HMF", "DFF"}, tab.Names())

	dff, ok := tab.Column("DFF")
	require.True(t, ok)
	assert.Equal(t, 0.0, dff[0])
	assert.True(t, math.IsNaN(dff[1]))
	assert.True(t, math.IsNaN(dff[2]))

	_, ok = tab.Column("FDCA")
	assert.False(t, ok)
}

func TestRead_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"empty":        "",
		"time only":    "t\n0\n",
		"bad number":   "t,A\n0,x\n",
		"missing time": "t,A\n,1\n",
		"ragged":       "t,A\n0,1,2\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(body))
			assert.Error(t, err)
		})
	}
}

func TestAverage(t *testing.T) {
	a, err := Read(strings.NewReader("t,A\n0,1\n1,2\n2,\n"))
	require.NoError(t, err)
	b, err := Read(strings.NewReader("t,A\n0,3\n1,2\n2,5\n"))
	require.NoError(t, err)

	mean, std, err := Average(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2, 5}, mean.col(1))

	sd := std.col(1)
	assert.InDelta(t, math.Sqrt2, sd[0], 1e-12)
	assert.Equal(t, 0.0, sd[1])
	assert.True(t, math.IsNaN(sd[2]), "single sample has no deviation")

	single, none, err := Average(a)
	require.NoError(t, err)
	assert.Nil(t, none)
	assert.Equal(t, a.Rows[1], single.Rows[1])

	c, err := Read(strings.NewReader("t,B\n0,1\n1,2\n2,3\n"))
	require.NoError(t, err)
	_, _, err = Average(a, c)
	assert.Error(t, err)

	d, err := Read(strings.NewReader("t,A\n0,1\n"))
	require.NoError(t, err)
	_, _, err = Average(a, d)
	assert.Error(t, err)
}

func TestLoadSeries(t *testing.T) {
	dir := t.TempDir()
	c1 := write(t, dir, "c1.csv", "t,A,B\n0,1,0\n10,0.5,0.5\n20,0.25,0.75\n")
	c2 := write(t, dir, "c2.csv", "t,A,B\n0,1,0\n10,0.7,0.3\n20,0.25,0.75\n")
	q := write(t, dir, "q.csv", "t,Q\n0,0\n5,0.1\n20,0.4\n")

	s, err := LoadSeries("run1", Files{Concentration: []string{c1, c2}, Charge: []string{q}})
	require.NoError(t, err)

	assert.Equal(t, "run1", s.Name)
	assert.Equal(t, []float64{0, 10, 20}, s.Times)
	require.Len(t, s.Tracked, 2)
	assert.Equal(t, "A", s.Tracked[0].Name)
	assert.InDelta(t, 0.6, s.Tracked[0].Values[1], 1e-12)
	assert.Equal(t, 0.0, s.Tracked[0].Std[0])
	assert.Greater(t, s.Tracked[0].Std[1], 0.0)

	require.NotNil(t, s.Charge)
	assert.Nil(t, s.Charge.Std)
	assert.Equal(t, []float64{0, 5, 20}, s.ChargeTimes)

	ds, err := dataset.New([]dataset.Series{s}, dataset.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2*3+3, ds.Samples())

	_, err = LoadSeries("none", Files{})
	assert.Error(t, err)
	_, err = LoadSeries("missing", Files{Concentration: []string{filepath.Join(dir, "nope.csv")}})
	assert.Error(t, err)
}

func TestLoadSeries_ChargeHeader(t *testing.T) {
	dir := t.TempDir()
	q := write(t, dir, "q.csv", "t,charge\n0,0\n5,0.1\n20,0.4\n")

	s, err := LoadSeries("run1", Files{Charge: []string{q}})
	require.NoError(t, err)
	require.NotNil(t, s.Charge)
	assert.Equal(t, observe.ChargeName, s.Charge.Name)
	assert.Equal(t, []string{observe.ChargeName}, s.Observables())
}
