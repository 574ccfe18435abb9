package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/quarrymath/quarry/internal/pool"
)

// ScheduledJob pairs a pool job with its cron schedule.
type ScheduledJob struct {
	Job      pool.Job
	Schedule string
}

// Scheduler fires scheduled jobs when due. Jobs for a tick run sequentially
// through the pool (each job parallelizes internally); the next tick skips
// jobs still running from a previous one.
type Scheduler struct {
	Pool   *pool.Pool
	Jobs   []ScheduledJob
	Rdb    *redis.Client // optional duplicate-fire lock across instances
	Logger *log.Logger

	mu       sync.Mutex
	lastRun  map[string]time.Time
	inFlight map[string]bool
}

// Start ticks every minute until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.lastRun = make(map[string]time.Time)
	s.inFlight = make(map[string]bool)
	ticker := time.NewTicker(time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	for _, sj := range s.Jobs {
		s.mu.Lock()
		last, ran := s.lastRun[sj.Job.Name]
		running := s.inFlight[sj.Job.Name]
		s.mu.Unlock()

		var lastPtr *time.Time
		if ran {
			lastPtr = &last
		}
		if running || !isDue(sj.Schedule, lastPtr) {
			continue
		}

		if s.Rdb != nil {
			// distributed lock to avoid duplicate fires across instances
			lockKey := "quarry:sched:lock:" + sj.Job.Name
			ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if err != nil {
				s.Logger.Printf("warn: scheduler lock for %s failed: %v", sj.Job.Name, err)
			}
			if !ok {
				continue
			}
		}

		s.mu.Lock()
		s.inFlight[sj.Job.Name] = true
		s.lastRun[sj.Job.Name] = time.Now()
		s.mu.Unlock()

		go func(job pool.Job) {
			defer func() {
				s.mu.Lock()
				s.inFlight[job.Name] = false
				s.mu.Unlock()
			}()
			results := s.Pool.Start(ctx, []pool.Job{job})
			for _, r := range results {
				if r.Err != nil {
					s.Logger.Printf("error: scheduled job %s failed: %v", r.Name, r.Err)
					continue
				}
				s.Logger.Printf("scheduled job %s found %d relations (%d/%d workers failed)",
					r.Name, r.Summary.Found, r.Summary.FailedWorkers, r.Summary.TotalWorkers)
			}
		}(sj.Job)
	}
}

// isDue determines whether a job with the given cron spec should run now,
// based on its last run time. Supports "@daily", "@hourly", and standard
// 5-field cron expressions; an invalid expression degrades to @daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
