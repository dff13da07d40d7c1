package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/san-kum/kinfit/internal/config"
	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/fit"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/logging"
	"github.com/san-kum/kinfit/internal/observe"
	"github.com/san-kum/kinfit/internal/optim"
	"github.com/san-kum/kinfit/internal/params"
	"github.com/san-kum/kinfit/internal/storage"
	"github.com/san-kum/kinfit/internal/viz"
)

var (
	dataDir  string
	logLevel string
	// fit
	live        bool
	noSave      bool
	independent bool
	method      string
	// simulate and init
	model     string
	preset    string
	duration  float64
	points    int
	initial   map[string]string
	showPlots bool
	// export
	outFile string
	// plot
	plotWidth  int
	plotHeight int
	// profile
	profileParam string
	profileFrom  float64
	profileTo    float64
	profileSteps int
	workers      int
)

// main registers the kinfit commands and executes the root command. It exits
// with status 1 when a command fails.
func main() {
	rootCmd := &cobra.Command{
		Use:          "kinfit",
		Short:        "fit reaction kinetics models to time-series data",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "run store directory (default: store_dir of the run file, or "+config.DefaultStoreDir+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "info, verbose, debug or trace (overrides the run file)")

	fitCmd := &cobra.Command{
		Use:   "fit [run.yaml]",
		Short: "fit the model of a run file to its data",
		Args:  cobra.ExactArgs(1),
		RunE:  runFit,
	}
	fitCmd.Flags().BoolVar(&live, "live", false, "follow the fit in a live terminal view")
	fitCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	fitCmd.Flags().BoolVar(&independent, "independent", false, "fit every series on its own, concurrently")
	fitCmd.Flags().StringVar(&method, "method", "", "override the fit method ("+strings.Join(fit.Methods(), ", ")+")")

	simulateCmd := &cobra.Command{
		Use:   "simulate [run.yaml]",
		Short: "integrate a model forward without fitting",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulate,
	}
	simulateCmd.Flags().StringVar(&model, "model", "", "network preset (ignored with a run file)")
	simulateCmd.Flags().StringVar(&preset, "preset", "default", "run preset for --model")
	simulateCmd.Flags().Float64Var(&duration, "time", 0, "simulated duration")
	simulateCmd.Flags().IntVar(&points, "points", 0, "number of output points")
	simulateCmd.Flags().StringToStringVar(&initial, "init", nil, "initial concentrations, e.g. A=1,B=0")
	simulateCmd.Flags().BoolVar(&showPlots, "plot", true, "plot every species")

	initCmd := &cobra.Command{
		Use:   "init [run.yaml]",
		Short: "write a run file template",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}
	initCmd.Flags().StringVar(&model, "model", config.DefaultPreset, "network preset")
	initCmd.Flags().StringVar(&preset, "preset", "default", "run preset")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list stored fits",
		RunE:  listRuns,
	}

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "print the fit report of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot measured data against the fitted curves",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotWidth, "width", viz.DefaultChartWidth, "plot width")
	plotCmd.Flags().IntVar(&plotHeight, "height", viz.DefaultChartHeight, "plot height")

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export a stored run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&outFile, "output", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list network presets, or the run presets of one network",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	profileCmd := &cobra.Command{
		Use:   "profile [run.yaml]",
		Short: "scan chi-square over one parameter, refitting the others",
		Args:  cobra.ExactArgs(1),
		RunE:  runProfile,
	}
	profileCmd.Flags().StringVar(&profileParam, "param", "", "parameter to scan")
	profileCmd.Flags().Float64Var(&profileFrom, "from", 0, "first value")
	profileCmd.Flags().Float64Var(&profileTo, "to", 1, "last value")
	profileCmd.Flags().IntVar(&profileSteps, "steps", 11, "number of grid points")
	profileCmd.Flags().IntVar(&workers, "workers", 0, "concurrent refits (default: fit.workers of the run file, or one per CPU)")
	_ = profileCmd.MarkFlagRequired("param")

	rootCmd.AddCommand(fitCmd, simulateCmd, initCmd, listCmd, showCmd, plotCmd, exportCmd, presetsCmd, profileCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) (logr.Logger, error) {
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	v, err := logging.Level(level)
	if err != nil {
		return logr.Discard(), err
	}
	return logging.NewLogger(v)
}

func store(cfg *config.Config) *storage.Store {
	switch {
	case dataDir != "":
		return storage.New(dataDir)
	case cfg != nil && cfg.StoreDir != "":
		return storage.New(cfg.StoreDir)
	}
	return storage.New(config.DefaultStoreDir)
}

// setup is everything a fit needs, built from a run file.
type setup struct {
	cfg    *config.Config
	model  *kinetics.Model
	ds     *dataset.Dataset
	params *params.Set
	charge *observe.Charge
}

func loadSetup(path string) (*setup, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if method != "" {
		cfg.Fit.Method = method
	}
	s := &setup{cfg: cfg}
	if s.model, err = cfg.BuildModel(); err != nil {
		return nil, err
	}
	if s.ds, err = cfg.BuildDataset(); err != nil {
		return nil, err
	}
	if s.params, err = cfg.BuildParams(s.ds); err != nil {
		return nil, err
	}
	charge, ok, err := cfg.BuildCharge()
	if err != nil {
		return nil, err
	}
	if ok {
		s.charge = &charge
	}
	return s, nil
}

func (s *setup) options(log logr.Logger) []fit.Option {
	opts := []fit.Option{fit.WithLogger(log)}
	if s.charge != nil {
		opts = append(opts, fit.WithCharge(*s.charge))
	}
	return opts
}

func runFit(cmd *cobra.Command, args []string) error {
	s, err := loadSetup(args[0])
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if independent {
		return fitIndependent(ctx, s)
	}

	title := s.cfg.Name
	if title == "" {
		title = s.cfg.ModelName()
	}

	var res *fit.Result
	var fitErr error
	if live {
		res, fitErr = viz.RunLive(ctx, title, func(ctx context.Context, observer func(fit.Progress)) (*fit.Result, error) {
			opts := append(s.options(logr.Discard()), fit.WithObserver(observer))
			return fit.New(s.cfg.Fit, opts...).Fit(ctx, s.ds, s.model, s.params)
		})
		if res == nil {
			return fitErr
		}
	} else {
		log, err := newLogger(s.cfg)
		if err != nil {
			return err
		}
		log.Info("fitting", "run", s.cfg.Describe(), "parameters", s.params.Len(), "samples", s.ds.Samples())
		res, fitErr = fit.New(s.cfg.Fit, s.options(log)...).Fit(ctx, s.ds, s.model, s.params)
	}

	fmt.Print(viz.Report(viz.SummaryFromResult(title, res), viz.RowsFromResult(res)))
	if res.Err != nil && fitErr == nil {
		fmt.Printf("warning: %v\n", res.Err)
	}
	if err := saveRun(s, title, res); err != nil {
		return err
	}
	return fitErr
}

func saveRun(s *setup, title string, res *fit.Result) error {
	if noSave {
		return nil
	}
	st := store(s.cfg)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(title, s.cfg.ModelName(), s.ds, res)
	if err != nil {
		return err
	}
	fmt.Printf("saved run: %s\n", runID)
	return nil
}

// fitIndependent fits every series as its own dataset and prints one row
// per series.
func fitIndependent(ctx context.Context, s *setup) error {
	log, err := newLogger(s.cfg)
	if err != nil {
		return err
	}
	var jobs []fit.Job
	for _, series := range s.ds.All() {
		ds, err := dataset.New([]dataset.Series{series}, dataset.Options{PerSeries: s.cfg.PerSeries, SharedInitial: s.cfg.SharedInitial})
		if err != nil {
			return err
		}
		set, err := s.cfg.BuildParams(ds)
		if err != nil {
			return err
		}
		jobs = append(jobs, fit.Job{Name: series.Name, Dataset: ds, Model: s.model, Params: set})
	}

	outcomes, fitErr := fit.New(s.cfg.Fit, s.options(log)...).FitAll(ctx, jobs)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SERIES\tSTATUS\tCHI2\tITER\tPARAMETERS")
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s\t%s\t%.4g\t%d\t%s\n", o.Name, o.Result.Status, o.Result.ChiSquare, o.Result.Iterations, o.Result.Params)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for i, o := range outcomes {
		if o.Result.Status == fit.StatusFailed {
			continue
		}
		name := o.Name
		if s.cfg.Name != "" {
			name = s.cfg.Name + "/" + o.Name
		}
		if err := saveRun(&setup{cfg: s.cfg, ds: jobs[i].Dataset}, name, o.Result); err != nil {
			return err
		}
	}
	return fitErr
}

func runProfile(cmd *cobra.Command, args []string) error {
	s, err := loadSetup(args[0])
	if err != nil {
		return err
	}
	log, err := newLogger(s.cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if cmd.Flags().Changed("workers") {
		s.cfg.Fit.Workers = workers
	}
	grid, err := optim.NewGridSearch([]string{profileParam}, [][]float64{optim.Linspace(profileFrom, profileTo, profileSteps)})
	if err != nil {
		return err
	}
	grid.Logger = log
	points, best, err := grid.Search(ctx, s.cfg.Fit, s.options(log), s.ds, s.model, s.params)
	if err != nil {
		return err
	}

	chi2 := make([]float64, len(points))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tCHI2\tSTATUS\n", strings.ToUpper(profileParam))
	for i, p := range points {
		chi2[i] = p.ChiSquare
		mark := ""
		if i == best {
			mark = " *"
		}
		status := p.Status.String()
		if p.Err != nil {
			status = p.Err.Error()
		}
		fmt.Fprintf(w, "%.6g\t%.6g%s\t%s\n", p.Values[profileParam], p.ChiSquare, mark, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	vals := make([]float64, len(points))
	for i, p := range points {
		vals[i] = p.Values[profileParam]
	}
	fmt.Println()
	fmt.Println(viz.Chart("chi-square vs "+profileParam, viz.Line{}, viz.Line{Name: "chi2", Times: vals, Values: finite(chi2)}, viz.DefaultChartWidth, viz.DefaultChartHeight))
	return nil
}

// finite maps infinite values to NaN so charts skip them.
func finite(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if math.IsInf(x, 0) {
			x = math.NaN()
		}
		out[i] = x
	}
	return out
}

func parseInitial(raw map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(raw))
	for sp, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("--init %s: %w", sp, err)
		}
		out[sp] = f
	}
	return out, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	var cfg *config.Config
	switch {
	case len(args) == 1:
		var err error
		if cfg, err = config.Load(args[0]); err != nil {
			return err
		}
	case model != "":
		cfg = config.GetPreset(model, preset)
		if cfg == nil {
			return fmt.Errorf("unknown preset %s/%s (available: %v)", model, preset, config.ListPresets(model))
		}
	default:
		cfg = config.DefaultConfig()
	}
	if cmd.Flags().Changed("time") {
		cfg.Simulate.Duration = duration
	}
	if cmd.Flags().Changed("points") {
		cfg.Simulate.Points = points
	}
	if len(initial) > 0 {
		conc, err := parseInitial(initial)
		if err != nil {
			return err
		}
		cfg.Simulate.Initial = conc
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m, err := cfg.BuildModel()
	if err != nil {
		return err
	}
	set, err := cfg.BuildParams(nil)
	if err != nil {
		return err
	}
	if set, err = cfg.InitialParams(set); err != nil {
		return err
	}
	tr, err := fit.Evaluate(m, set, cfg.Times(), cfg.Fit.Solver)
	if err != nil {
		return err
	}

	fmt.Printf("model: %s\n", cfg.ModelName())
	fmt.Printf("parameters: %s\n", set)
	fmt.Printf("samples: %d\n\n", tr.Len())

	if showPlots {
		for i, sp := range tr.Species {
			line := viz.Line{Name: sp, Times: tr.Times, Values: tr.Column(i)}
			fmt.Println(viz.Chart(sp, viz.Line{}, line, viz.DefaultChartWidth, viz.DefaultChartHeight))
		}
		if charge, ok, err := cfg.BuildCharge(); err != nil {
			return err
		} else if ok {
			q, err := charge.Project(tr)
			if err != nil {
				return err
			}
			line := viz.Line{Name: observe.ChargeName, Times: tr.Times, Values: q}
			fmt.Println(viz.Chart("charge (C)", viz.Line{}, line, viz.DefaultChartWidth, viz.DefaultChartHeight))
		}
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPECIES\tINITIAL\tFINAL")
	last := tr.Len() - 1
	for i, sp := range tr.Species {
		fmt.Fprintf(w, "%s\t%.6g\t%.6g\n", sp, tr.States[0][i], tr.States[last][i])
	}
	return w.Flush()
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.GetPreset(model, preset)
	if cfg == nil {
		return fmt.Errorf("unknown preset %s/%s (available: %v)", model, preset, config.ListPresets(model))
	}
	p, err := kinetics.GetPreset(model)
	if err != nil {
		return err
	}
	for _, g := range p.Guesses {
		pc := config.ParamConfig{Name: g.Name, Value: g.Value, Fixed: g.Fixed}
		if !math.IsInf(g.Min, -1) {
			pc.Min = &g.Min
		}
		if !math.IsInf(g.Max, 1) {
			pc.Max = &g.Max
		}
		cfg.Parameters = append(cfg.Parameters, pc)
	}
	cfg.GuessInitial = true
	cfg.Series = []config.SeriesConfig{{Name: "run1", Concentration: []string{"run1.csv"}}}
	if err := config.Save(args[0], cfg); err != nil {
		return err
	}
	fmt.Printf("wrote %s (tracked species: %s)\n", args[0], strings.Join(p.Tracked, ", "))
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := store(nil).List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tTIME\tMETHOD\tSTATUS\tCHI2\tSERIES")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%.4g\t%s\n",
			run.ID,
			run.Name,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Method,
			run.Status,
			float64(run.ChiSquare),
			strings.Join(run.Series, ","),
		)
	}

	return w.Flush()
}

func showRun(cmd *cobra.Command, args []string) error {
	meta, err := store(nil).Load(args[0])
	if err != nil {
		return err
	}
	summary := viz.Summary{
		Title:            fmt.Sprintf("%s (%s)", meta.Name, meta.ID),
		Method:           meta.Method,
		Status:           meta.Status,
		Message:          meta.Message,
		ChiSquare:        float64(meta.ChiSquare),
		ReducedChiSquare: float64(meta.ReducedChiSquare),
		NData:            meta.NData,
		NFree:            meta.NFree,
		Iterations:       meta.Iterations,
		Evaluations:      meta.Evaluations,
	}
	rows := make([]viz.Row, len(meta.Params))
	for i, p := range meta.Params {
		rows[i] = viz.Row{
			Name: p.Name, Value: float64(p.Value), StdErr: float64(p.StdErr), Initial: float64(p.Initial),
			Min: float64(p.Min), Max: float64(p.Max), Vary: !p.Fixed,
		}
	}
	fmt.Print(viz.Report(summary, rows))
	if meta.Error != "" {
		fmt.Printf("error: %s\n", meta.Error)
	}

	keys := make([]string, 0, len(meta.ResidualStd))
	for k := range meta.ResidualStd {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "\nSERIES/OBSERVABLE\tRESIDUAL STD")
		for _, k := range keys {
			fmt.Fprintf(w, "%s\t%.4g\n", k, float64(meta.ResidualStd[k]))
		}
		return w.Flush()
	}
	return nil
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := store(nil)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	curves, err := st.LoadCurves(runID)
	if err != nil {
		return err
	}
	if len(curves) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n", meta.Model)
	fmt.Printf("status: %s\n\n", meta.Status)

	for _, series := range meta.Series {
		fitted := make(map[string]storage.Curve)
		for _, c := range storage.Select(curves, series, storage.KindFit) {
			fitted[c.Observable] = c
		}
		for _, data := range storage.Select(curves, series, storage.KindData) {
			f := fitted[data.Observable]
			caption := fmt.Sprintf("%s / %s", series, data.Observable)
			if sd, ok := meta.ResidualStd[series+"/"+data.Observable]; ok && !math.IsNaN(float64(sd)) {
				caption += fmt.Sprintf("  (residual std %.3g)", float64(sd))
			}
			fmt.Println(viz.Chart(caption,
				viz.Line{Name: "data", Times: data.Times, Values: data.Values},
				viz.Line{Name: "fit", Times: f.Times, Values: f.Values},
				plotWidth, plotHeight,
			))
		}
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	data, err := store(nil).Export(args[0])
	if err != nil {
		return err
	}
	if outFile != "" {
		return storage.ExportJSON(outFile, data)
	}
	return storage.WriteJSON(os.Stdout, data)
}

func listPresets(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		presets := config.ListPresets(args[0])
		if len(presets) == 0 {
			fmt.Printf("no presets for model: %s\n", args[0])
			return nil
		}
		fmt.Printf("presets for %s:\n", args[0])
		for _, p := range presets {
			fmt.Printf("  %s\n", p)
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tSPECIES\tPARAMETERS\tRUN PRESETS\tDESCRIPTION")
	for _, name := range kinetics.PresetNames() {
		p, err := kinetics.GetPreset(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", name, len(p.Species), len(p.Guesses),
			strings.Join(config.ListPresets(name), ","), p.Description)
	}
	return w.Flush()
}
