package pool

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/quarrymath/quarry/internal/catalog"
	"github.com/quarrymath/quarry/internal/engine"
	"github.com/quarrymath/quarry/internal/pslq"
	"github.com/quarrymath/quarry/internal/relation"
)

type memStore struct {
	mu   sync.Mutex
	rels []relation.Relation
}

func (s *memStore) AllRelations(context.Context) ([]relation.Relation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]relation.Relation, len(s.rels))
	copy(out, s.rels)
	return out, nil
}

func (s *memStore) AppendRelations(_ context.Context, rels []relation.Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rels = append(s.rels, rels...)
	return nil
}

type memSource struct{ consts []catalog.Constant }

func (s memSource) ConstantsByMinPrecision(_ context.Context, minPrecision, _ int) ([]catalog.Constant, error) {
	var out []catalog.Constant
	for _, c := range s.consts {
		if c.Precision >= minPrecision {
			out = append(out, c)
		}
	}
	return out, nil
}

type noFindTester struct{}

func (noFindTester) Test(context.Context, []pslq.Input, int, int, int, float64) ([]pslq.Found, error) {
	return nil, nil
}

type failingTester struct{}

func (failingTester) Test(context.Context, []pslq.Input, int, int, int, float64) ([]pslq.Found, error) {
	return nil, errors.New("kernel unavailable")
}

func constants(n int) []catalog.Constant {
	out := make([]catalog.Constant, n)
	for i := range out {
		v, _, _ := big.ParseFloat("2.718", 10, 64, big.ToNearestEven)
		out[i] = catalog.Constant{
			ID: uuid.New(), Value: v, Decimal: "2.718", Precision: 60,
			TimeAdded: time.Now().Add(time.Duration(i) * time.Second),
			Exts:      []catalog.Extension{{Kind: catalog.KindNamed, Name: "c"}},
		}
	}
	return out
}

func testPool(st *memStore, src memSource, tester pslq.Tester) *Pool {
	logger := log.New(os.Stderr, "[POOL] ", 0)
	if !testing.Verbose() {
		logger.SetOutput(discard{})
	}
	return &Pool{
		Logger: logger,
		Deps: func(jobName string, _ int) (engine.Deps, func() error, error) {
			return engine.Deps{Source: src, Relations: st, Tester: tester, Logger: logger, JobName: jobName}, nil, nil
		},
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestStartRunsAsyncWorkers(t *testing.T) {
	st := &memStore{}
	pool := testPool(st, memSource{constants(8)}, noFindTester{})

	results := pool.Start(context.Background(), []Job{{
		Name:       "poly_pslq",
		Args:       engine.Args{Degree: 2, Order: 1, Bulk: 2, MinPrecision: 50, Strategy: engine.StrategyRefill},
		RunAsync:   true,
		AsyncCores: 4,
	}})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Err != nil {
		t.Fatalf("job failed: %v", r.Err)
	}
	if len(r.Timings) != 4 {
		t.Fatalf("expected 4 worker timings, got %d", len(r.Timings))
	}
	if r.Summary.TotalWorkers != 4 || r.Summary.FailedWorkers != 0 {
		t.Fatalf("unexpected summary: %+v", r.Summary)
	}
}

func TestStartReleasesEveryDeps(t *testing.T) {
	st := &memStore{}
	src := memSource{constants(8)}
	logger := log.New(discard{}, "", 0)

	var mu sync.Mutex
	released := 0
	pool := &Pool{
		Logger: logger,
		Deps: func(jobName string, _ int) (engine.Deps, func() error, error) {
			return engine.Deps{Source: src, Relations: st, Tester: noFindTester{}, Logger: logger, JobName: jobName},
				func() error {
					mu.Lock()
					released++
					mu.Unlock()
					return nil
				}, nil
		},
	}

	pool.Start(context.Background(), []Job{{
		Name:       "poly_pslq",
		Args:       engine.Args{Degree: 2, Order: 1, Bulk: 2, MinPrecision: 50, Strategy: engine.StrategyRefill},
		RunAsync:   true,
		AsyncCores: 4,
	}})

	// one deps per worker plus the query deps
	if released != 5 {
		t.Fatalf("expected 5 deps released, got %d", released)
	}
}

func TestStartReportsFailedStart(t *testing.T) {
	st := &memStore{}
	pool := testPool(st, memSource{}, noFindTester{})

	// batch without filters cannot start
	results := pool.Start(context.Background(), []Job{
		{Name: "bad", Args: engine.Args{Strategy: engine.StrategyBatch}},
		{Name: "good", Args: engine.Args{Degree: 2, Order: 1, Bulk: 2, Strategy: engine.StrategyRefill}},
	})
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Err == nil || results[0].Timings != nil {
		t.Fatalf("failed job must report nil timings and an error: %+v", results[0])
	}
	if results[1].Err != nil {
		t.Fatalf("failing job must not abort the rest: %v", results[1].Err)
	}
}

func TestWorkerFailuresSurfaceInSummary(t *testing.T) {
	st := &memStore{}
	pool := testPool(st, memSource{constants(4)}, failingTester{})

	results := pool.Start(context.Background(), []Job{{
		Name:       "poly_pslq",
		Args:       engine.Args{Degree: 2, Order: 1, Bulk: 2, MinPrecision: 50, Strategy: engine.StrategyRefill},
		RunAsync:   true,
		AsyncCores: 2,
	}})
	r := results[0]
	if r.Err != nil {
		t.Fatalf("job should run to summary: %v", r.Err)
	}
	if r.Summary.FailedWorkers != 2 {
		t.Fatalf("both workers should fail, summary: %+v", r.Summary)
	}
}
