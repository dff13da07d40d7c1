package fit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/san-kum/kinfit/internal/dataset"
	"github.com/san-kum/kinfit/internal/kinetics"
	"github.com/san-kum/kinfit/internal/params"
)

// Job is one independent fit. Jobs must not share a Dataset or Set that
// anyone mutates; both types are immutable, so sharing read-only values is
// fine.
type Job struct {
	Name    string
	Dataset *dataset.Dataset
	Model   *kinetics.Model
	Params  *params.Set
}

type Outcome struct {
	Name   string
	Result *Result
	Err    error
}

// FitAll runs the jobs concurrently, at most Config.Workers at a time, and
// returns outcomes in job order. The returned error joins the errors of all
// failed jobs.
func (f *Fitter) FitAll(ctx context.Context, jobs []Job) ([]Outcome, error) {
	out := make([]Outcome, len(jobs))

	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	slots := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			slots <- struct{}{}
			defer func() { <-slots }()
			j := jobs[idx]
			log := f.log.WithValues("job", j.Name)
			sub := &Fitter{cfg: f.cfg, log: log, observer: f.observer, charge: f.charge}
			res, err := sub.Fit(ctx, j.Dataset, j.Model, j.Params)
			out[idx] = Outcome{Name: j.Name, Result: res, Err: err}
		}(i)
	}
	wg.Wait()

	var errs []error
	for _, o := range out {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("job %s: %w", o.Name, o.Err))
		}
	}
	return out, errors.Join(errs...)
}
