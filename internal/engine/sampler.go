package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/poly"
	"github.com/quarrymath/quarry/internal/pslq"
	"github.com/quarrymath/quarry/internal/relation"
	"github.com/quarrymath/quarry/internal/telemetry"
)

// testTuple gates one candidate tuple through the novelty check, invokes the
// kernel, maps accepted relations back onto Relation records using the same
// constant ordering that was supplied, commits them, and grows the known set
// optimistically after a successful commit only.
func testTuple(ctx context.Context, deps Deps, tuple []catalog.Constant, args Args, known *[]relation.Relation) ([]relation.Relation, error) {
	if len(tuple) == 0 {
		return nil, nil
	}
	degree, adjusted := poly.Clamp(args.Degree, len(tuple), args.Order)
	if adjusted {
		deps.logf("warn: degree %d exceeds %d variables at order %d, clamped to %d",
			args.Degree, len(tuple), args.Order, degree)
	}

	ids := make([]uuid.UUID, len(tuple))
	inputs := make([]pslq.Input, len(tuple))
	for i, c := range tuple {
		ids[i] = c.ID
		inputs[i] = pslq.Input{ID: c.ID, Decimal: c.Decimal, Precision: c.Precision}
	}

	if !relation.IsNew(ids, degree, args.Order, *known) {
		telemetry.NoveltySkips.WithLabelValues(deps.JobName).Inc()
		return nil, nil
	}

	telemetry.KernelInvocations.WithLabelValues(deps.JobName).Inc()
	start := time.Now()
	founds, err := deps.Tester.Test(ctx, inputs, degree, args.Order, args.TestingPrecision, args.MinROI)
	telemetry.KernelDuration.WithLabelValues(deps.JobName).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	var accepted []relation.Relation
	for _, f := range founds {
		subset := make([]uuid.UUID, len(f.Indices))
		ok := true
		for i, idx := range f.Indices {
			if idx < 0 || idx >= len(tuple) {
				deps.logf("warn: kernel reported out-of-range constant index %d, relation dropped", idx)
				ok = false
				break
			}
			subset[i] = tuple[idx].ID
		}
		if !ok {
			continue
		}
		subDegree, _ := poly.Clamp(degree, len(subset), args.Order)
		r := relation.Relation{
			ID:           uuid.New(),
			Algorithm:    relation.AlgorithmPolyPSLQ,
			Precision:    f.Precision,
			Degree:       subDegree,
			Order:        args.Order,
			Coefficients: f.Coefficients,
			ConstantIDs:  subset,
		}
		if err := r.Validate(); err != nil {
			deps.logf("warn: kernel result rejected: %v", err)
			continue
		}
		// the kernel may confirm a sub-combination a previous round already
		// explained; those are not new discoveries
		if !relation.IsNew(r.ConstantIDs, r.Degree, r.Order, append(*known, accepted...)) {
			continue
		}
		accepted = append(accepted, r)
	}
	if len(accepted) == 0 {
		return nil, nil
	}

	telemetry.RelationsFound.WithLabelValues(deps.JobName).Add(float64(len(accepted)))
	if persistWithRetry(ctx, deps, accepted) {
		*known = append(*known, accepted...)
	}
	return accepted, nil
}

// runBatch enumerates, per eligible kind, every combination of the size its
// filter requires, flattens the Cartesian product across kinds into candidate
// tuples, and tests each one.
func runBatch(ctx context.Context, deps Deps, pools catalog.Pools, args Args, known []relation.Relation) ([]relation.Relation, error) {
	kinds := args.Filters.Kinds()
	groups := make([][][]catalog.Constant, 0, len(kinds))
	for _, kind := range kinds {
		combos := combinations(pools[kind], args.Filters.Count(kind))
		if len(combos) == 0 {
			deps.logf("warn: pool for %s smaller than required count %d, no candidates", kind, args.Filters.Count(kind))
			return nil, nil
		}
		groups = append(groups, combos)
	}

	var found []relation.Relation
	var walk func(depth int, tuple []catalog.Constant) error
	walk = func(depth int, tuple []catalog.Constant) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if depth == len(groups) {
			rels, err := testTuple(ctx, deps, tuple, args, &known)
			if err != nil {
				return err
			}
			found = append(found, rels...)
			return nil
		}
		for _, combo := range groups[depth] {
			next := make([]catalog.Constant, 0, len(tuple)+len(combo))
			next = append(append(next, tuple...), combo...)
			if err := walk(depth+1, next); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(0, nil); err != nil {
		return nil, err
	}
	return found, nil
}

// runRefill keeps a working set bounded by args.Bulk topped up from the
// backlog. The whole working set is tested as one candidate tuple; every
// found relation evicts its lowest-priority participant so rarer kinds stay
// in the pool, then the set is re-tested without refilling. A round with no
// find requests a refill; the loop ends when a refill is requested and the
// backlog is empty.
func runRefill(ctx context.Context, deps Deps, backlog []catalog.Constant, args Args, known []relation.Relation) ([]relation.Relation, error) {
	var working []catalog.Constant
	var found []relation.Relation
	refill := true

	logEvictions := args.HasFilters && !args.Filters.Empty()

	for !(refill && len(backlog) == 0) {
		if err := ctx.Err(); err != nil {
			return found, err
		}
		if refill {
			// top up to the bulk size; a set already at bulk grows by a
			// further bulk so a no-find round always makes progress
			take := args.Bulk - len(working)
			if take <= 0 {
				take = args.Bulk
			}
			if take > len(backlog) {
				take = len(backlog)
			}
			working = append(working, backlog[:take]...)
			backlog = backlog[take:]
			refill = false
		}

		rels, err := testTuple(ctx, deps, working, args, &known)
		if err != nil {
			return found, err
		}
		if len(rels) == 0 {
			refill = true
			continue
		}
		found = append(found, rels...)
		for _, r := range rels {
			evicted, ok := evictLowestPriority(&working, r.ConstantIDs)
			if ok && logEvictions {
				deps.logf("evicted %s from working set (relation %s)", evicted, r.ID)
			}
		}
	}
	return found, nil
}

// evictLowestPriority removes from the working set the relation participant
// with the lowest extension-kind priority, ties broken by earliest TimeAdded.
func evictLowestPriority(working *[]catalog.Constant, participants []uuid.UUID) (uuid.UUID, bool) {
	inRelation := make(map[uuid.UUID]bool, len(participants))
	for _, id := range participants {
		inRelation[id] = true
	}

	victim := -1
	var victimKind catalog.Kind
	var victimTime time.Time
	for i, c := range *working {
		if !inRelation[c.ID] {
			continue
		}
		kind, _ := c.Priority()
		if victim == -1 || kind < victimKind || (kind == victimKind && c.TimeAdded.Before(victimTime)) {
			victim = i
			victimKind = kind
			victimTime = c.TimeAdded
		}
	}
	if victim == -1 {
		return uuid.UUID{}, false
	}
	id := (*working)[victim].ID
	*working = append((*working)[:victim], (*working)[victim+1:]...)
	return id, true
}

// combinations returns every size-k selection from pool, order-independent,
// in enumeration order. k <= 0 or k > len(pool) yields nothing.
func combinations(pool []catalog.Constant, k int) [][]catalog.Constant {
	if k <= 0 || k > len(pool) {
		return nil
	}
	var out [][]catalog.Constant
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]catalog.Constant, k)
		for i, j := range idx {
			combo[i] = pool[j]
		}
		out = append(out, combo)

		i := k - 1
		for i >= 0 && idx[i] == len(pool)-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}
