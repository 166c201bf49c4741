package sim

import (
	"context"
	"runtime"

	"github.com/san-kum/kitesim/internal/dynamo"
	"golang.org/x/sync/errgroup"
)

// Job is one independent run. Jobs must not share a Plant: the model keeps
// per-evaluation buffers.
type Job struct {
	Name string
	Sim  *Simulator
	Y0   dynamo.State
	YD0  dynamo.State
	Cfg  dynamo.Config
}

type JobResult struct {
	Name   string
	Result *dynamo.Result
	Err    error
}

// RunAll runs the jobs on at most workers goroutines (GOMAXPROCS when
// workers < 1). A failing job does not stop the others; its error is kept
// in its JobResult. The returned error is only set when ctx ends.
func RunAll(ctx context.Context, jobs []Job, workers int) ([]JobResult, error) {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]JobResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		g.Go(func() error {
			res, err := job.Sim.Run(ctx, job.Y0, job.YD0, job.Cfg)
			results[i] = JobResult{Name: job.Name, Result: res, Err: err}
			if IsCanceled(err) {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	return results, err
}
