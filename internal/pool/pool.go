// Package pool runs configured discovery jobs. Each job prepares its input
// once, fans ExecuteJob out over async_cores workers, and summarizes strictly
// after every worker has returned. Workers share nothing in-process; the
// store's transactions are the only cross-worker serialization.
package pool

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quarrymath/quarry/internal/engine"
)

// Job pairs a job identifier with its configuration.
type Job struct {
	Name       string
	Args       engine.Args
	RunAsync   bool
	AsyncCores int
}

// Result is the per-job outcome. Timings is nil when the job failed to
// start; otherwise it holds one elapsed-time measurement per worker.
type Result struct {
	Name    string
	Timings []time.Duration
	Summary engine.Summary
	Err     error
}

// DepsFactory builds one engine.Deps per worker, so each worker gets its own
// store connection, plus a release function for whatever the deps hold open.
// The worker index is informational; release may be nil when there is
// nothing to let go of.
type DepsFactory func(jobName string, worker int) (engine.Deps, func() error, error)

// Pool executes jobs sequentially; parallelism lives inside each job.
type Pool struct {
	Logger *log.Logger
	Deps   DepsFactory
}

// Start runs every job and returns one Result per job, in input order. A job
// that fails to start is reported with nil Timings and its error; it never
// aborts the remaining jobs.
func (p *Pool) Start(ctx context.Context, jobs []Job) []Result {
	results := make([]Result, 0, len(jobs))
	for _, job := range jobs {
		res := p.runJob(ctx, job)
		if res.Err != nil {
			p.Logger.Printf("error: job %s didn't run: %v", job.Name, res.Err)
		}
		results = append(results, res)
	}
	return results
}

func (p *Pool) runJob(ctx context.Context, job Job) Result {
	cores := 1
	if job.RunAsync && job.AsyncCores > 1 {
		cores = job.AsyncCores
	}

	queryDeps, releaseQuery, err := p.Deps(job.Name, 0)
	if err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("build deps: %w", err)}
	}
	defer p.release(job.Name, releaseQuery)
	qd, err := engine.RunQuery(ctx, queryDeps, job.Args, cores)
	if err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("run query: %w", err)}
	}
	if len(qd.Partitions) == 0 {
		p.Logger.Printf("warn: job %s produced no partitions, nothing to do", job.Name)
		return Result{Name: job.Name, Timings: []time.Duration{}}
	}

	// ExecuteJob never returns an error to the group: worker failures are
	// values inside PartialResult, consumed by the aggregator.
	partials := make([]engine.PartialResult, len(qd.Partitions))
	releases := make([]func() error, 0, len(qd.Partitions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cores)
	for i, part := range qd.Partitions {
		i, part := i, part
		deps, releaseDeps, err := p.Deps(job.Name, i)
		if err != nil {
			partials[i] = engine.PartialResult{Err: fmt.Errorf("build worker deps: %w", err)}
			continue
		}
		releases = append(releases, releaseDeps)
		g.Go(func() error {
			partials[i] = engine.ExecuteJob(gctx, deps, part, job.Args)
			return nil
		})
	}
	_ = g.Wait() // workers never error the group; Wait is the completion barrier
	for _, r := range releases {
		p.release(job.Name, r)
	}

	summary, err := engine.SummarizeResults(ctx, queryDeps, partials, job.Args)
	if err != nil {
		return Result{Name: job.Name, Err: fmt.Errorf("summarize: %w", err)}
	}

	timings := make([]time.Duration, len(partials))
	for i, pr := range partials {
		timings[i] = pr.Elapsed
	}
	p.logTimings(job.Name, timings)
	return Result{Name: job.Name, Timings: timings, Summary: summary}
}

func (p *Pool) release(name string, release func() error) {
	if release == nil {
		return
	}
	if err := release(); err != nil {
		p.Logger.Printf("warn: job %s: releasing deps: %v", name, err)
	}
}

func (p *Pool) logTimings(name string, timings []time.Duration) {
	if len(timings) == 0 {
		return
	}
	minT, maxT := timings[0], timings[0]
	for _, t := range timings[1:] {
		if t < minT {
			minT = t
		}
		if t > maxT {
			maxT = t
		}
	}
	p.Logger.Printf("job %s worker times: min %s, max %s over %d workers", name, minT, maxT, len(timings))
}
