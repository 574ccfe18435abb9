// Package engine is the relation-discovery core: it filters the catalog,
// samples candidate constant tuples, gates them through the novelty check,
// drives the numeric kernel, and persists accepted relations. The three
// entry points (RunQuery, ExecuteJob, SummarizeResults) form the job module
// contract consumed by the worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"time"

	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/pslq"
	"github.com/quarrymath/quarry/internal/relation"
	"github.com/quarrymath/quarry/internal/telemetry"
)

// Strategy selects how candidate tuples are drawn from the eligible pools.
type Strategy string

const (
	// StrategyRefill keeps a bounded working set topped up from a backlog,
	// evicting one constant per found relation.
	StrategyRefill Strategy = "refill"
	// StrategyBatch enumerates per-kind combinations and tests their
	// Cartesian product exhaustively.
	StrategyBatch Strategy = "batch"
)

// ErrBatchNeedsFilters: the batch strategy has nothing to combine without
// per-type filters, so their absence is a fatal configuration error for the
// job (the refill strategy merely loses eviction logging).
var ErrBatchNeedsFilters = errors.New("batch strategy requires per-type filters")

// Args is the explicit job configuration; no module-level defaults table is
// consulted beyond the immutable values applied by withDefaults.
type Args struct {
	Degree           int
	Order            int
	Bulk             int
	MinPrecision     int
	MinROI           float64
	TestingPrecision int
	Strategy         Strategy
	Filters          catalog.Filters
	HasFilters       bool
}

func (a Args) withDefaults() Args {
	if a.Degree == 0 {
		a.Degree = 2
	}
	if a.Order == 0 {
		a.Order = 1
	}
	if a.Bulk == 0 {
		a.Bulk = 10
	}
	if a.MinPrecision == 0 {
		a.MinPrecision = 50
	}
	if a.MinROI == 0 {
		a.MinROI = 2
	}
	if a.TestingPrecision == 0 {
		a.TestingPrecision = a.MinPrecision
	}
	if a.Strategy == "" {
		a.Strategy = StrategyRefill
	}
	if a.Filters.Global.MinPrecision == 0 {
		a.Filters.Global.MinPrecision = a.MinPrecision
	}
	return a
}

// RelationStore is the relation side of the store as the engine consumes it.
type RelationStore interface {
	AllRelations(ctx context.Context) ([]relation.Relation, error)
	AppendRelations(ctx context.Context, rels []relation.Relation) error
}

// Deps carries the engine's external collaborators. Workers must not share a
// Deps value; each holds its own store connection.
type Deps struct {
	Source    catalog.Source
	Relations RelationStore
	Tester    pslq.Tester
	Logger    *log.Logger
	JobName   string
}

func (d Deps) logf(format string, args ...interface{}) {
	if d.Logger != nil {
		d.Logger.Printf(format, args...)
	}
}

// Partition is one worker's share of the sampled constants.
type Partition struct {
	// Pools feeds the batch strategy: eligible constants per anchoring kind.
	Pools catalog.Pools
	// Flat feeds the refill strategy: eligible constants in catalog order.
	Flat []catalog.Constant
}

// QueryData is the output of RunQuery: one partition per worker.
type QueryData struct {
	Partitions []Partition
}

// PartialResult is one worker's outcome, a value rather than a propagated
// panic: either Relations (possibly empty) or Err.
type PartialResult struct {
	Relations []relation.Relation
	Elapsed   time.Duration
	Err       error
}

// Failed reports whether the sub-job produced no usable result.
func (p PartialResult) Failed() bool { return p.Err != nil }

// Summary is the final accounting across all sub-jobs of a run.
type Summary struct {
	Found         int
	FailedWorkers int
	TotalWorkers  int
}

// RunQuery prepares and partitions a job's input. It runs once,
// single-threaded, before any worker starts. An empty filter set aborts the
// job with zero partitions for the batch strategy; the refill strategy falls
// back to every workable constant carrying a usable extension.
func RunQuery(ctx context.Context, deps Deps, args Args, cores int) (QueryData, error) {
	args = args.withDefaults()
	if cores < 1 {
		cores = 1
	}

	switch args.Strategy {
	case StrategyBatch:
		if !args.HasFilters || args.Filters.Empty() {
			return QueryData{}, ErrBatchNeedsFilters
		}
		pools, err := catalog.Eligible(ctx, deps.Source, args.Filters, args.TestingPrecision, args.MinROI, deps.Logger)
		if err != nil {
			return QueryData{}, err
		}
		return QueryData{Partitions: partitionPools(pools, cores)}, nil

	case StrategyRefill:
		flat, err := refillEligible(ctx, deps, args)
		if err != nil {
			if errors.Is(err, catalog.ErrNoFilters) {
				deps.logf("error: refill job has no usable filter set and no fallback pool")
				return QueryData{}, nil
			}
			return QueryData{}, err
		}
		parts := make([]Partition, cores)
		for i, c := range flat {
			parts[i%cores].Flat = append(parts[i%cores].Flat, c)
		}
		return QueryData{Partitions: parts}, nil

	default:
		return QueryData{}, fmt.Errorf("unknown sampling strategy %q", args.Strategy)
	}
}

// refillEligible builds the refill backlog. With per-type filters configured
// it merges the filtered pools back into catalog order; a job with no filters
// key at all admits every workable constant carrying a usable extension
// (rational continued fractions never qualify). A filters key whose entries
// were all dropped during parsing is a configuration error: the job aborts
// with an empty result.
func refillEligible(ctx context.Context, deps Deps, args Args) ([]catalog.Constant, error) {
	if args.HasFilters {
		if args.Filters.Empty() {
			return nil, catalog.ErrNoFilters
		}
		pools, err := catalog.Eligible(ctx, deps.Source, args.Filters, args.TestingPrecision, args.MinROI, deps.Logger)
		if err != nil {
			return nil, err
		}
		var flat []catalog.Constant
		for _, pool := range pools {
			flat = append(flat, pool...)
		}
		sort.Slice(flat, func(i, j int) bool { return flat[i].ID.String() < flat[j].ID.String() })
		return flat, nil
	}

	consts, err := deps.Source.ConstantsByMinPrecision(ctx, args.Filters.Global.MinPrecision, args.Filters.Global.Sample)
	if err != nil {
		return nil, fmt.Errorf("load constants: %w", err)
	}
	var flat []catalog.Constant
	for _, c := range consts {
		c := c
		if !c.HasRelationContent() || !catalog.IsWorkable(c.Value, args.TestingPrecision, args.MinROI) {
			continue
		}
		flat = append(flat, c)
	}
	return flat, nil
}

// partitionPools deals each pool round-robin so every partition sees every
// kind; cross-partition combinations are deliberately not enumerated (bulk
// partitioning is heuristic, completeness is a non-goal).
func partitionPools(pools catalog.Pools, cores int) []Partition {
	parts := make([]Partition, cores)
	for i := range parts {
		parts[i].Pools = make(catalog.Pools)
	}
	for kind, pool := range pools {
		for i, c := range pool {
			p := &parts[i%cores]
			p.Pools[kind] = append(p.Pools[kind], c)
		}
	}
	return parts
}

// ExecuteJob runs one worker over its partition. It never panics: internal
// failures are recovered, logged with a stack, and surfaced as a failure
// result for the aggregator.
func ExecuteJob(ctx context.Context, deps Deps, part Partition, args Args) (result PartialResult) {
	args = args.withDefaults()
	start := time.Now()
	defer func() {
		result.Elapsed = time.Since(start)
		if r := recover(); r != nil {
			deps.logf("error: worker panicked: %v\n%s", r, debug.Stack())
			result = PartialResult{Elapsed: time.Since(start), Err: fmt.Errorf("worker panic: %v", r)}
			telemetry.SubJobFailures.WithLabelValues(deps.JobName).Inc()
		}
	}()

	known, err := deps.Relations.AllRelations(ctx)
	if err != nil {
		deps.logf("error: load known relations: %v", err)
		telemetry.SubJobFailures.WithLabelValues(deps.JobName).Inc()
		return PartialResult{Err: err}
	}

	var found []relation.Relation
	switch args.Strategy {
	case StrategyBatch:
		found, err = runBatch(ctx, deps, part.Pools, args, known)
	case StrategyRefill:
		found, err = runRefill(ctx, deps, part.Flat, args, known)
	default:
		err = fmt.Errorf("unknown sampling strategy %q", args.Strategy)
	}
	if err != nil {
		deps.logf("error: worker failed: %v", err)
		telemetry.SubJobFailures.WithLabelValues(deps.JobName).Inc()
		return PartialResult{Err: err}
	}
	return PartialResult{Relations: found}
}

// SummarizeResults merges the partial results of all sub-jobs, re-applies the
// novelty check across sub-job boundaries against the persisted set, commits
// the deduplicated delta, and reports what actually happened — including how
// many sub-jobs failed.
func SummarizeResults(ctx context.Context, deps Deps, results []PartialResult, args Args) (Summary, error) {
	args = args.withDefaults()
	summary := Summary{TotalWorkers: len(results)}

	persisted, err := deps.Relations.AllRelations(ctx)
	if err != nil {
		return summary, fmt.Errorf("load persisted relations: %w", err)
	}

	// Deduplicate the union of sub-job discoveries against each other first:
	// two workers may have independently found overlapping relations.
	var discovered []relation.Relation
	for _, res := range results {
		if res.Failed() {
			summary.FailedWorkers++
			continue
		}
		for _, r := range res.Relations {
			if relation.IsNew(r.ConstantIDs, r.Degree, r.Order, discovered) {
				discovered = append(discovered, r)
			}
		}
	}
	summary.Found = len(discovered)

	// Workers commit per round, so most of the union is already persisted.
	// What remains is anything whose commit exhausted its retries.
	var delta []relation.Relation
	for _, r := range discovered {
		if relation.IsNew(r.ConstantIDs, r.Degree, r.Order, append(persisted, delta...)) {
			delta = append(delta, r)
		}
	}
	if len(delta) > 0 {
		if committed := persistWithRetry(ctx, deps, delta); committed {
			telemetry.RelationsCommitted.WithLabelValues(deps.JobName).Add(float64(len(delta)))
		}
	}
	deps.logf("in total found %d relations across %d sub-jobs (%d failed)",
		summary.Found, summary.TotalWorkers, summary.FailedWorkers)
	return summary, nil
}
